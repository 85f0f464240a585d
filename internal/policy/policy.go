// Package policy decides how each plugin is isolated: native in-process,
// thread mode, or a sandboxed worker process, plus the resource and network
// limits the sandbox runs under.
package policy

import (
	"time"

	"github.com/castellanhq/castellan/internal/config"
	"github.com/castellanhq/castellan/internal/manifest"
)

// NetworkEnforcement describes how a network denial is carried out.
type NetworkEnforcement string

const (
	// NetworkEnforced means the worker is launched inside an OS network
	// namespace and genuinely cannot reach the network.
	NetworkEnforced NetworkEnforcement = "enforced"
	// NetworkAdvisory means proxy environment variables are stripped and a
	// no-network marker is set. This is a convention, not a security
	// boundary, and is surfaced to operators as such.
	NetworkAdvisory NetworkEnforcement = "advisory"
	// NetworkAllowed means the plugin may use the network.
	NetworkAllowed NetworkEnforcement = "allowed"
)

// Limits are the per-plugin resource ceilings handed to the worker.
type Limits struct {
	Timeout       time.Duration
	MemoryLimitMB int
	CPUTimeLimit  time.Duration
}

// Decision is the outcome of the policy engine for one plugin.
type Decision struct {
	Isolated bool
	Mode     manifest.IsolationMode
	Limits   Limits
	Network  NetworkEnforcement
	// NetnsCommand is the wrapper prefix prepended to the worker command
	// when Network is NetworkEnforced.
	NetnsCommand []string
}

// Engine computes isolation decisions from the global sandbox defaults.
type Engine struct {
	cfg        config.SandboxConfig
	privileged bool
}

// New creates a policy engine. privileged reports whether the host can set
// up OS network namespaces (effective uid 0).
func New(cfg config.SandboxConfig, privileged bool) *Engine {
	return &Engine{cfg: cfg, privileged: privileged}
}

// Decide applies the policy rules in order:
//  1. no manifest: native unless the global policy forces sandboxing
//  2. manifest isolate=false: native, regardless of force_isolation
//  3. otherwise isolated; mode from manifest if valid, else global default
//  4. limits default from global config, overridden per field by manifest
//  5. network allowed only if the global policy or the manifest allows it
func (e *Engine) Decide(m *manifest.Manifest) Decision {
	d := Decision{
		Mode:   manifest.IsolationMode(e.cfg.DefaultMode),
		Limits: e.defaultLimits(),
	}

	if m == nil {
		d.Isolated = e.cfg.ForceIsolation
		if d.Isolated {
			d.Network = e.networkPlan(e.cfg.AllowNetwork)
		} else {
			d.Network = NetworkAllowed
		}
		return d
	}

	// An explicit isolate=false always wins, even under force_isolation:
	// forcing applies only to plugins that never declared a preference.
	if !m.Isolated() {
		d.Isolated = false
		d.Network = NetworkAllowed
		return d
	}

	d.Isolated = true
	if m.IsolationMode.Valid() {
		d.Mode = m.IsolationMode
	}

	if m.Timeout > 0 {
		d.Limits.Timeout = m.Timeout.D()
	}
	if m.MemoryLimitMB > 0 {
		d.Limits.MemoryLimitMB = m.MemoryLimitMB
	}
	if m.CPUTimeLimit > 0 {
		d.Limits.CPUTimeLimit = m.CPUTimeLimit.D()
	}

	d.Network = e.networkPlan(e.cfg.AllowNetwork || m.AllowNetwork)
	if d.Network == NetworkEnforced {
		d.NetnsCommand = append([]string(nil), e.cfg.NetnsCommand...)
	}

	return d
}

func (e *Engine) defaultLimits() Limits {
	return Limits{
		Timeout:       e.cfg.Timeout.D(),
		MemoryLimitMB: e.cfg.MemoryLimitMB,
		CPUTimeLimit:  e.cfg.CPUTimeLimit.D(),
	}
}

// networkPlan picks the denial mechanism when network access is not allowed.
// Namespace isolation needs both a configured wrapper command and privilege;
// otherwise the host falls back to the advisory convention.
func (e *Engine) networkPlan(allowed bool) NetworkEnforcement {
	if allowed {
		return NetworkAllowed
	}
	if len(e.cfg.NetnsCommand) > 0 && e.privileged {
		return NetworkEnforced
	}
	return NetworkAdvisory
}
