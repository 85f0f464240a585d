package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/castellanhq/castellan/internal/api"
	"github.com/castellanhq/castellan/internal/config"
	"github.com/castellanhq/castellan/internal/events"
	"github.com/castellanhq/castellan/internal/history"
	"github.com/castellanhq/castellan/internal/host"
	"github.com/castellanhq/castellan/internal/lock"
	"github.com/castellanhq/castellan/internal/log"
	"github.com/castellanhq/castellan/internal/manifest"
	"github.com/castellanhq/castellan/internal/policy"
	"github.com/castellanhq/castellan/internal/storage"
	"github.com/castellanhq/castellan/internal/tui"
	"github.com/castellanhq/castellan/internal/watchdog"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "plugin":
		return runPluginNoun(args)

	// --- ROOT VERBS ---
	case "start":
		return runStart(args)
	case "ask":
		return runAsk(args)
	case "version", "--version":
		fmt.Println("castellan " + version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`castellan - Sandboxed plugin host with health supervision

Usage:
  castellan <noun> <action> [flags]

Core Resources (Nouns):
  system    Host lifecycle and monitoring
  config    Configuration and integrity
  plugin    Plugin inventory and management

System Commands:
  system start      Start the plugin host in foreground
  system watch      Real-time monitoring TUI

Config Commands:
  config check      Validate configuration and plugin manifests
  config lock       Authorize current config (update integrity hashes)

Plugin Commands:
  plugin list             Show registered plugins (running host)
  plugin restart <name>   Restart a plugin manually
  plugin history <name>   Show health and restart audit log

Queries:
  ask <query>       Route a query to the matching plugin

General:
  version           Show version information
  help              Show this help message
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: castellan system <start|watch>")
		return 1
	}
	switch args[0] {
	case "start":
		return runStart(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: castellan config <check|lock>")
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	case "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runPluginNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: castellan plugin <list|restart|history>")
		return 1
	}
	switch args[0] {
	case "list":
		return runPluginList(args[1:])
	case "restart":
		return runPluginRestart(args[1:])
	case "history":
		return runPluginHistory(args[1:])
	case "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugin action: %s\n", args[0])
		return 1
	}
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("castellan starting", "version", version, "config", *configPath)

	pidLockPath := filepath.Join(filepath.Dir(cfg.State.Path), "castellan.lock")
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	hist := history.New(db)
	hub := events.NewHub(256)

	privileged := os.Geteuid() == 0
	engine := policy.New(cfg.Sandbox, privileged)
	if len(cfg.Sandbox.NetnsCommand) > 0 && !privileged {
		logger.Warn("netns wrapper configured but host is unprivileged, network denial is advisory only")
	}

	h := host.New(cfg, engine, hub)
	if err := h.Load(ctx); err != nil {
		logger.Error("plugin load failed", "plugins_dir", cfg.PluginsDir, "error", err)
		return 1
	}

	wd := watchdog.New(watchdog.Options{
		Interval:     cfg.Service.HealthInterval.D(),
		RetryLimit:   cfg.Service.RetryLimit,
		CheckTimeout: cfg.Worker.CallTimeout.D(),
	}, h, hist, hub, log.Get())
	wd.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go func() {
		if err := h.Watch(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("plugin watcher: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
		}, &supervisedHost{Host: h, wd: wd}, hist, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("castellan running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exitCode = 1
	}

	cancel()
	wd.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	h.Shutdown(shutdownCtx)

	logger.Info("castellan stopped")
	return exitCode
}

// supervisedHost routes API restarts through the watchdog so a manual
// restart also restores the plugin's retry budget.
type supervisedHost struct {
	*host.Host
	wd *watchdog.Watchdog
}

func (s *supervisedHost) Restart(ctx context.Context, name string) error {
	return s.wd.RestartPlugin(ctx, name)
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Host API URL")
	apiKey := fs.String("api-key", os.Getenv("CASTELLAN_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or CASTELLAN_API_KEY env var.")
		return 1
	}

	m := tui.NewMonitor(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL config: %v\n", err)
		return 1
	}
	fmt.Println("OK   config: syntax, integrity and values valid")

	if cfg.Worker.Runtime != "" {
		if _, err := exec.LookPath(cfg.Worker.Runtime); err != nil {
			fmt.Printf("WARN worker runtime %q not found in PATH\n", cfg.Worker.Runtime)
		} else {
			fmt.Printf("OK   worker runtime: %s\n", cfg.Worker.Runtime)
		}
	}
	if len(cfg.Sandbox.NetnsCommand) > 0 {
		if _, err := exec.LookPath(cfg.Sandbox.NetnsCommand[0]); err != nil {
			fmt.Printf("WARN netns wrapper %q not found in PATH\n", cfg.Sandbox.NetnsCommand[0])
		} else {
			fmt.Printf("OK   netns wrapper: %s\n", strings.Join(cfg.Sandbox.NetnsCommand, " "))
		}
	}

	// Validate every plugin sidecar manifest without loading plugins.
	entries, err := os.ReadDir(cfg.PluginsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL plugins: %v\n", err)
		return 1
	}

	bad := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".manifest.yaml") {
			continue
		}
		path := filepath.Join(cfg.PluginsDir, name)
		m, err := manifest.Load(path)
		switch {
		case err != nil:
			fmt.Printf("FAIL plugin %s: %v\n", name, err)
			bad++
		case m == nil:
			fmt.Printf("WARN plugin %s: no manifest, will load with defaults\n", name)
		default:
			fmt.Printf("OK   plugin %s (isolate=%t mode=%s)\n", name, m.Isolated(), m.IsolationMode)
		}
	}

	if bad > 0 {
		fmt.Fprintf(os.Stderr, "%d plugin manifest(s) invalid\n", bad)
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
	}

	dir := *configPath
	if stat, err := os.Stat(dir); err == nil && !stat.IsDir() {
		dir = filepath.Dir(dir)
	}

	m, err := config.GenerateChecksums(dir, []string{"config.yaml"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate checksums: %v\n", err)
		return 1
	}
	fmt.Printf("Locked %d file(s) in %s\n", len(m.Hashes), dir)
	return 0
}

// --- API CLIENT VERBS ---

func apiClientFlags(fs *flag.FlagSet) (apiURL, apiKey *string) {
	apiURL = fs.String("api-url", "http://localhost:8080", "Host API URL")
	apiKey = fs.String("api-key", os.Getenv("CASTELLAN_API_KEY"), "API Bearer Token")
	return
}

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	apiURL, apiKey := apiClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var plugins []api.PluginInfo
	if err := callAPI(*apiURL, *apiKey, http.MethodGet, "/plugins", nil, &plugins); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if len(plugins) == 0 {
		fmt.Println("No plugins registered.")
		return 0
	}
	fmt.Printf("%-20s %-9s %-9s %-10s %s\n", "NAME", "ISOLATED", "NETWORK", "HEALTH", "KEYWORDS")
	for _, p := range plugins {
		fmt.Printf("%-20s %-9t %-9s %-10s %s\n", p.Name, p.Isolated, p.Network, p.HealthStatus, strings.Join(p.Keywords, ","))
	}
	return 0
}

func runPluginRestart(args []string) int {
	fs := flag.NewFlagSet("restart", flag.ExitOnError)
	apiURL, apiKey := apiClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: castellan plugin restart <name>")
		return 1
	}
	name := fs.Arg(0)

	var resp map[string]string
	if err := callAPI(*apiURL, *apiKey, http.MethodPost, "/plugins/"+name+"/restart", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Plugin %s restarted.\n", name)
	return 0
}

func runPluginHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	apiURL, apiKey := apiClientFlags(fs)
	limit := fs.Int("limit", 20, "Maximum entries per section")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: castellan plugin history <name>")
		return 1
	}
	name := fs.Arg(0)

	var resp api.PluginHistoryResponse
	path := fmt.Sprintf("/plugins/%s/history?limit=%d", name, *limit)
	if err := callAPI(*apiURL, *apiKey, http.MethodGet, path, nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("Health history for %s:\n", name)
	for _, h := range resp.Health {
		fmt.Printf("  %s  %-10s %s\n", h.ObservedAt.Format(time.RFC3339), h.Status, h.Detail)
	}
	fmt.Printf("Restart history for %s:\n", name)
	for _, r := range resp.Restarts {
		fmt.Printf("  %s  attempt %d  %-10s %s\n", r.OccurredAt.Format(time.RFC3339), r.Attempt, r.Outcome, r.Reason)
	}
	return 0
}

func runAsk(args []string) int {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	apiURL, apiKey := apiClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: castellan ask <query>")
		return 1
	}
	query := strings.Join(fs.Args(), " ")

	body, _ := json.Marshal(api.AskRequest{Query: query})
	var result map[string]any
	if err := callAPI(*apiURL, *apiKey, http.MethodPost, "/ask", body, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	return 0
}

func callAPI(apiURL, apiKey, method, path string, body []byte, out any) error {
	if apiKey == "" {
		return fmt.Errorf("API key required (use --api-key or CASTELLAN_API_KEY)")
	}

	req, err := http.NewRequest(method, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
