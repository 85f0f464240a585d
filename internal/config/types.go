package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "20s" or "5m" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"20s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config represents the complete castellan configuration.
type Config struct {
	Service    ServiceConfig         `yaml:"service"`
	State      StateConfig           `yaml:"state"`
	API        APIConfig             `yaml:"api,omitempty"`
	PluginsDir string                `yaml:"plugins_dir"`
	Worker     WorkerConfig          `yaml:"worker"`
	Sandbox    SandboxConfig         `yaml:"sandbox"`
	Plugins    map[string]PluginConf `yaml:"plugins,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name           string   `yaml:"name"`
	LogLevel       string   `yaml:"log_level"`
	HealthInterval Duration `yaml:"health_interval"`
	RetryLimit     int      `yaml:"retry_limit"`
}

// StateConfig defines where the health/restart audit log lives.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// WorkerConfig defines how sandboxed workers are launched and called.
// The spawn command is `<runtime> <entrypoint> <plugin-path>`; when Runtime
// is empty the plugin file is executed directly.
type WorkerConfig struct {
	Runtime     string   `yaml:"runtime,omitempty"`
	Entrypoint  string   `yaml:"entrypoint,omitempty"`
	CallTimeout Duration `yaml:"call_timeout"`
	RunTimeout  Duration `yaml:"run_timeout"`
	StopTimeout Duration `yaml:"stop_timeout"`
}

// SandboxConfig holds the global isolation policy defaults. Per-plugin
// manifests override individual fields.
type SandboxConfig struct {
	ForceIsolation bool     `yaml:"force_isolation"`
	DefaultMode    string   `yaml:"default_mode"` // thread | process
	Timeout        Duration `yaml:"timeout"`
	MemoryLimitMB  int      `yaml:"memory_limit_mb"`
	CPUTimeLimit   Duration `yaml:"cpu_time_limit"`
	AllowNetwork   bool     `yaml:"allow_network"`
	// NetnsCommand is the wrapper prefix used to enforce network denial
	// (e.g. ["unshare", "-n"]). Requires elevated privilege.
	NetnsCommand []string `yaml:"netns_command,omitempty"`
}

// PluginConf defines per-plugin host-side overrides.
type PluginConf struct {
	Enabled    *bool    `yaml:"enabled,omitempty"`
	RunTimeout Duration `yaml:"run_timeout,omitempty"`
}

// ChecksumManifest is the persisted .checksums file format.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:           "castellan",
			LogLevel:       "info",
			HealthInterval: Duration(20 * time.Second),
			RetryLimit:     3,
		},
		State: StateConfig{
			Path: "./data/castellan.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		PluginsDir: "./plugins",
		Worker: WorkerConfig{
			CallTimeout: Duration(5 * time.Second),
			RunTimeout:  Duration(30 * time.Second),
			StopTimeout: Duration(3 * time.Second),
		},
		Sandbox: SandboxConfig{
			ForceIsolation: false,
			DefaultMode:    "process",
			Timeout:        Duration(30 * time.Second),
			MemoryLimitMB:  256,
			CPUTimeLimit:   Duration(30 * time.Second),
			AllowNetwork:   false,
		},
		Plugins: make(map[string]PluginConf),
	}
}

// Enabled reports whether a plugin is enabled, defaulting to true when the
// plugin has no config entry.
func (c *Config) PluginEnabled(name string) bool {
	pc, ok := c.Plugins[name]
	if !ok || pc.Enabled == nil {
		return true
	}
	return *pc.Enabled
}

// RunTimeoutFor returns the run timeout for a plugin, falling back to the
// worker default.
func (c *Config) RunTimeoutFor(name string) time.Duration {
	if pc, ok := c.Plugins[name]; ok && pc.RunTimeout > 0 {
		return pc.RunTimeout.D()
	}
	return c.Worker.RunTimeout.D()
}
