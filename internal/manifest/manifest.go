// Package manifest loads and validates the optional sidecar descriptor that
// declares a plugin's isolation mode and resource limits. A plugin file
// foo.py pairs with foo.manifest.yaml in the same directory.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/castellanhq/castellan/internal/config"
)

// IsolationMode selects where an isolated plugin runs.
type IsolationMode string

const (
	ModeThread  IsolationMode = "thread"
	ModeProcess IsolationMode = "process"
)

// Valid reports whether the mode is a recognized value.
func (m IsolationMode) Valid() bool {
	return m == ModeThread || m == ModeProcess
}

// Manifest is a plugin's sidecar descriptor. Loaded once at discovery,
// immutable thereafter.
type Manifest struct {
	Name          string          `yaml:"name"`
	Isolate       *bool           `yaml:"isolate,omitempty"` // default true
	IsolationMode IsolationMode   `yaml:"isolation_mode,omitempty"`
	Timeout       config.Duration `yaml:"timeout,omitempty"`
	MemoryLimitMB int             `yaml:"memory_limit_mb,omitempty"`
	CPUTimeLimit  config.Duration `yaml:"cpu_time_limit,omitempty"`
	AllowNetwork  bool            `yaml:"allow_network,omitempty"`
	Requirements  []string        `yaml:"requirements,omitempty"`
	RunAsUser     string          `yaml:"run_as_user,omitempty"`
}

// Isolated reports whether the manifest requests sandboxing. Absent field
// defaults to true.
func (m *Manifest) Isolated() bool {
	if m.Isolate == nil {
		return true
	}
	return *m.Isolate
}

// SidecarPath returns the expected descriptor path for a plugin file:
// same directory, same stem, ".manifest.yaml" suffix.
func SidecarPath(pluginPath string) string {
	stem := strings.TrimSuffix(pluginPath, filepath.Ext(pluginPath))
	return stem + ".manifest.yaml"
}

// Load reads and validates the sidecar descriptor for a plugin file.
// A missing sidecar returns (nil, nil): validation is skipped fail-open and
// the caller decides what an unmanifested plugin means.
func Load(pluginPath string) (*Manifest, error) {
	sidecar := SidecarPath(pluginPath)

	data, err := os.ReadFile(sidecar)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := Validate(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	return &m, nil
}

// Validate checks manifest fields against the schema. A violation rejects
// that plugin only; it is never fatal to the host.
func Validate(m *Manifest) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}

	if m.IsolationMode != "" && !m.IsolationMode.Valid() {
		return fmt.Errorf("invalid isolation_mode %q (valid: thread, process)", m.IsolationMode)
	}

	if m.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if m.MemoryLimitMB < 0 {
		return fmt.Errorf("memory_limit_mb must be positive")
	}
	if m.CPUTimeLimit < 0 {
		return fmt.Errorf("cpu_time_limit must be positive")
	}

	for i, req := range m.Requirements {
		if strings.TrimSpace(req) == "" {
			return fmt.Errorf("requirements[%d] is empty", i)
		}
	}

	return nil
}
