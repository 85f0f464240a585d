package policy

import (
	"testing"
	"time"

	"github.com/castellanhq/castellan/internal/config"
	"github.com/castellanhq/castellan/internal/manifest"
)

func sandboxDefaults() config.SandboxConfig {
	return config.SandboxConfig{
		ForceIsolation: false,
		DefaultMode:    "process",
		Timeout:        config.Duration(30 * time.Second),
		MemoryLimitMB:  256,
		CPUTimeLimit:   config.Duration(30 * time.Second),
		AllowNetwork:   false,
	}
}

func boolPtr(b bool) *bool { return &b }

func TestDecideNoManifest(t *testing.T) {
	e := New(sandboxDefaults(), false)

	d := e.Decide(nil)
	if d.Isolated {
		t.Error("no manifest should run native when isolation is not forced")
	}
	if d.Network != NetworkAllowed {
		t.Errorf("native plugins are not network-restricted, got %s", d.Network)
	}
}

func TestDecideNoManifestForced(t *testing.T) {
	cfg := sandboxDefaults()
	cfg.ForceIsolation = true
	e := New(cfg, false)

	d := e.Decide(nil)
	if !d.Isolated {
		t.Error("force_isolation should sandbox unmanifested plugins")
	}
	if d.Mode != manifest.ModeProcess {
		t.Errorf("mode = %q, want global default process", d.Mode)
	}
}

func TestDecideIsolateFalseNeverIsolated(t *testing.T) {
	// Property: isolate=false manifests never come back isolated, not even
	// under force_isolation.
	for _, forced := range []bool{false, true} {
		cfg := sandboxDefaults()
		cfg.ForceIsolation = forced
		e := New(cfg, false)

		modes := []manifest.IsolationMode{"", manifest.ModeThread, manifest.ModeProcess}
		for _, mode := range modes {
			m := &manifest.Manifest{Name: "native", Isolate: boolPtr(false), IsolationMode: mode}
			d := e.Decide(m)
			if d.Isolated {
				t.Errorf("isolate=false with mode %q, forced=%t returned isolated=true", mode, forced)
			}
			if d.Network != NetworkAllowed {
				t.Errorf("unisolated plugin got network %s, forced=%t", d.Network, forced)
			}
		}
	}
}

func TestDecideModeSelection(t *testing.T) {
	e := New(sandboxDefaults(), false)

	tests := []struct {
		name string
		mode manifest.IsolationMode
		want manifest.IsolationMode
	}{
		{"explicit process", manifest.ModeProcess, manifest.ModeProcess},
		{"explicit thread", manifest.ModeThread, manifest.ModeThread},
		{"absent falls back to global default", "", manifest.ModeProcess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &manifest.Manifest{Name: "p", IsolationMode: tt.mode}
			d := e.Decide(m)
			if !d.Isolated {
				t.Fatal("expected isolated")
			}
			if d.Mode != tt.want {
				t.Errorf("mode = %q, want %q", d.Mode, tt.want)
			}
		})
	}
}

func TestDecideLimitOverrides(t *testing.T) {
	e := New(sandboxDefaults(), false)

	m := &manifest.Manifest{
		Name:          "p",
		Timeout:       config.Duration(10 * time.Second),
		MemoryLimitMB: 64,
	}
	d := e.Decide(m)

	if d.Limits.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want manifest override 10s", d.Limits.Timeout)
	}
	if d.Limits.MemoryLimitMB != 64 {
		t.Errorf("memory = %d, want manifest override 64", d.Limits.MemoryLimitMB)
	}
	// CPU limit not set in manifest: global default applies.
	if d.Limits.CPUTimeLimit != 30*time.Second {
		t.Errorf("cpu = %v, want global default 30s", d.Limits.CPUTimeLimit)
	}
}

func TestDecideNetwork(t *testing.T) {
	tests := []struct {
		name         string
		globalAllow  bool
		manifestAllow bool
		netns        []string
		privileged   bool
		want         NetworkEnforcement
	}{
		{"manifest allows", false, true, nil, false, NetworkAllowed},
		{"global allows", true, false, nil, false, NetworkAllowed},
		{"denied, namespace available", false, false, []string{"unshare", "-n"}, true, NetworkEnforced},
		{"denied, wrapper but unprivileged", false, false, []string{"unshare", "-n"}, false, NetworkAdvisory},
		{"denied, no wrapper", false, false, nil, true, NetworkAdvisory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sandboxDefaults()
			cfg.AllowNetwork = tt.globalAllow
			cfg.NetnsCommand = tt.netns
			e := New(cfg, tt.privileged)

			m := &manifest.Manifest{Name: "p", AllowNetwork: tt.manifestAllow}
			d := e.Decide(m)
			if d.Network != tt.want {
				t.Errorf("network = %s, want %s", d.Network, tt.want)
			}
			if tt.want == NetworkEnforced && len(d.NetnsCommand) == 0 {
				t.Error("enforced denial should carry the wrapper command")
			}
		})
	}
}
