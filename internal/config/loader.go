package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory containing
// config.yaml. Missing fields pick up defaults; the result is validated.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Hash-verify the config file when a .checksums manifest is present.
	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverConfigDir finds the config directory by checking standard locations.
// Priority order: $CASTELLAN_CONFIG_DIR, ~/.config/castellan, /etc/castellan,
// ./config.yaml (legacy).
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("CASTELLAN_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "castellan")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/castellan"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	legacyConfigPath := "./config.yaml"
	if _, err := os.Stat(legacyConfigPath); err == nil {
		return legacyConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $CASTELLAN_CONFIG_DIR, ~/.config/castellan, /etc/castellan, ./config.yaml)")
}

// interpolateEnv substitutes ${VAR} references with environment values.
// Unset variables are replaced with the empty string.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// validate checks the loaded configuration for structural errors.
func validate(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if cfg.Service.HealthInterval <= 0 {
		return fmt.Errorf("service.health_interval must be positive")
	}
	if cfg.Service.RetryLimit < 0 {
		return fmt.Errorf("service.retry_limit must not be negative")
	}
	if cfg.PluginsDir == "" {
		return fmt.Errorf("plugins_dir is required")
	}
	if cfg.Worker.CallTimeout <= 0 {
		return fmt.Errorf("worker.call_timeout must be positive")
	}
	if cfg.Worker.RunTimeout <= 0 {
		return fmt.Errorf("worker.run_timeout must be positive")
	}
	switch cfg.Sandbox.DefaultMode {
	case "thread", "process":
	default:
		return fmt.Errorf("sandbox.default_mode must be \"thread\" or \"process\", got %q", cfg.Sandbox.DefaultMode)
	}
	if cfg.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive")
	}
	if cfg.Sandbox.MemoryLimitMB <= 0 {
		return fmt.Errorf("sandbox.memory_limit_mb must be positive")
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled is true")
	}
	return nil
}
