// Package worker runs a plugin in a separate OS process and exposes the
// capability contract over a newline-delimited JSON protocol on the child's
// stdin/stdout. All IPC plumbing is hidden behind the Proxy type.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/castellanhq/castellan/internal/capability"
	"github.com/castellanhq/castellan/internal/log"
	"github.com/castellanhq/castellan/internal/policy"
)

const (
	// maxLineBytes caps a single protocol line from the child.
	maxLineBytes = 1 << 20

	// NoNetworkEnv is the advisory no-network marker. Workers that honor the
	// convention refuse outbound connections when it is set. It is not a
	// security boundary.
	NoNetworkEnv = "CASTELLAN_NO_NETWORK"

	memoryLimitEnv = "CASTELLAN_MEMORY_LIMIT_MB"
	cpuLimitEnv    = "CASTELLAN_CPU_TIME_LIMIT_SECS"
)

// proxyEnvVars are stripped from the child environment under advisory
// network denial.
var proxyEnvVars = []string{
	"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "FTP_PROXY", "NO_PROXY",
	"http_proxy", "https_proxy", "all_proxy", "ftp_proxy", "no_proxy",
}

// Options configures a worker process.
type Options struct {
	// PluginName is the best-known identifier at spawn time (file stem until
	// the first get_name round trip). Used for logging and errors.
	PluginName string
	// PluginPath is the plugin file handed to the worker entrypoint.
	PluginPath string
	// Runtime and Entrypoint form the spawn command
	// `<runtime> <entrypoint> <plugin-path>`. Empty Runtime executes the
	// plugin file directly.
	Runtime    string
	Entrypoint string

	CallTimeout time.Duration
	RunTimeout  time.Duration
	StopTimeout time.Duration

	Limits       policy.Limits
	Network      policy.NetworkEnforcement
	NetnsCommand []string

	Logger *slog.Logger
}

// Proxy is the in-process representative of a sandboxed plugin. It satisfies
// the capability contract; concurrent callers are safe, responses are
// correlated by id, and a timed-out call never receives another caller's
// response.
type Proxy struct {
	opts   Options
	logger *slog.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *Response
	stopped bool

	readerDone chan struct{}
	stderrDone chan struct{}
}

// Spawn starts the worker subprocess and its reader/drainer goroutines.
// A failure to start is a SpawnError local to this plugin.
func Spawn(opts Options) (*Proxy, error) {
	if opts.Logger == nil {
		opts.Logger = log.WithPlugin(opts.PluginName)
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 30 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 3 * time.Second
	}

	argv := buildArgv(opts)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = buildEnv(opts)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &capability.SpawnError{Plugin: opts.PluginName, Err: fmt.Errorf("create stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &capability.SpawnError{Plugin: opts.PluginName, Err: fmt.Errorf("create stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &capability.SpawnError{Plugin: opts.PluginName, Err: fmt.Errorf("create stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &capability.SpawnError{Plugin: opts.PluginName, Err: err}
	}

	p := &Proxy{
		opts:       opts,
		logger:     opts.Logger,
		cmd:        cmd,
		stdin:      stdin,
		pending:    make(map[int64]chan *Response),
		readerDone: make(chan struct{}),
		stderrDone: make(chan struct{}),
	}

	p.logger.Info("worker started", "pid", cmd.Process.Pid, "argv", strings.Join(argv, " "), "network", string(opts.Network))

	go p.readLoop(stdout)
	go p.drainStderr(stderr)

	return p, nil
}

// buildArgv assembles the spawn command, optionally prefixed by the
// network-namespace wrapper.
func buildArgv(opts Options) []string {
	var argv []string
	if opts.Network == policy.NetworkEnforced && len(opts.NetnsCommand) > 0 {
		argv = append(argv, opts.NetnsCommand...)
	}
	if opts.Runtime != "" {
		argv = append(argv, opts.Runtime)
		if opts.Entrypoint != "" {
			argv = append(argv, opts.Entrypoint)
		}
	}
	argv = append(argv, opts.PluginPath)
	return argv
}

// buildEnv assembles the child environment: resource limits are exported as
// advisory values, and advisory network denial strips proxy variables and
// sets the no-network marker.
func buildEnv(opts Options) []string {
	env := os.Environ()

	if opts.Network == policy.NetworkAdvisory {
		filtered := env[:0]
		for _, kv := range env {
			name, _, _ := strings.Cut(kv, "=")
			drop := false
			for _, proxyVar := range proxyEnvVars {
				if name == proxyVar {
					drop = true
					break
				}
			}
			if !drop {
				filtered = append(filtered, kv)
			}
		}
		env = append(filtered, NoNetworkEnv+"=1")
	}

	if opts.Limits.MemoryLimitMB > 0 {
		env = append(env, memoryLimitEnv+"="+strconv.Itoa(opts.Limits.MemoryLimitMB))
	}
	if opts.Limits.CPUTimeLimit > 0 {
		env = append(env, cpuLimitEnv+"="+strconv.Itoa(int(opts.Limits.CPUTimeLimit.Seconds())))
	}

	return env
}

// readLoop parses stdout lines for the process's lifetime and hands each
// response to the waiting caller. Ends only when stdout closes; on exit all
// outstanding calls are failed so nobody waits on a dead worker.
func (p *Proxy) readLoop(stdout io.Reader) {
	defer close(p.readerDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		resp, err := DecodeResponse(line)
		if err != nil {
			// Non-protocol chatter must never kill the reader.
			p.logger.Warn("skipping non-protocol output", "error", err, "line", truncate(string(line), 200))
			continue
		}

		p.mu.Lock()
		ch, ok := p.pending[resp.ID]
		if ok {
			delete(p.pending, resp.ID)
		}
		p.mu.Unlock()

		if !ok {
			// The caller gave up; the one-shot slot is already freed.
			p.logger.Debug("dropping orphaned response", "id", resp.ID)
			continue
		}
		ch <- resp
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("stdout reader ended with error", "error", err)
	}

	p.failPending("worker stdout closed")
}

// drainStderr forwards the child's stderr line by line to the logging sink.
func (p *Proxy) drainStderr(stderr io.Reader) {
	defer close(p.stderrDone)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		p.logger.Info("worker stderr", "line", scanner.Text())
	}
}

// failPending delivers an error to every outstanding caller.
func (p *Proxy) failPending(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.pending {
		ch <- &Response{ID: id, Error: reason}
		delete(p.pending, id)
	}
}

// call performs one synchronous RPC round trip. The write lock covers id
// assignment and the stdin write so requests never interleave; the wait is
// lock-free on a one-shot channel keyed by the id, so a late response to an
// abandoned call is dropped by the reader rather than accumulating.
func (p *Proxy) call(ctx context.Context, method string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, fmt.Errorf("worker for %s is stopped", p.opts.PluginName)
	}
	p.nextID++
	id := p.nextID
	ch := make(chan *Response, 1)
	p.pending[id] = ch

	err := EncodeRequest(p.stdin, &Request{ID: id, Method: method, Params: params})
	p.mu.Unlock()

	if err != nil {
		p.forget(id)
		return nil, fmt.Errorf("write %s request to worker %s: %w", method, p.opts.PluginName, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, &capability.RemoteError{Plugin: p.opts.PluginName, Method: method, Message: resp.Error}
		}
		return resp.Result, nil
	case <-timer.C:
		p.forget(id)
		return nil, &capability.TimeoutError{Plugin: p.opts.PluginName, Method: method, Timeout: timeout.String()}
	case <-ctx.Done():
		p.forget(id)
		return nil, ctx.Err()
	}
}

// forget frees the pending slot for an abandoned call. The id itself is
// never reused.
func (p *Proxy) forget(id int64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// Name asks the worker for its unique identifier.
func (p *Proxy) Name(ctx context.Context) (string, error) {
	raw, err := p.call(ctx, "get_name", nil, p.opts.CallTimeout)
	if err != nil {
		return "", err
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", fmt.Errorf("worker %s returned non-string name: %w", p.opts.PluginName, err)
	}
	return name, nil
}

// Keywords asks the worker for its routing hints.
func (p *Proxy) Keywords(ctx context.Context) ([]string, error) {
	raw, err := p.call(ctx, "get_keywords", nil, p.opts.CallTimeout)
	if err != nil {
		return nil, err
	}
	var keywords []string
	if err := json.Unmarshal(raw, &keywords); err != nil {
		return nil, fmt.Errorf("worker %s returned invalid keywords: %w", p.opts.PluginName, err)
	}
	return keywords, nil
}

// Run invokes the plugin against a query. Uses the long run timeout; a hung
// worker is abandoned, not interrupted, and stays alive until the watchdog
// deals with it.
func (p *Proxy) Run(ctx context.Context, query string) (*capability.Result, error) {
	timeout := p.opts.RunTimeout
	if p.opts.Limits.Timeout > 0 && p.opts.Limits.Timeout < timeout {
		timeout = p.opts.Limits.Timeout
	}

	raw, err := p.call(ctx, "run", map[string]any{"query": query}, timeout)
	if err != nil {
		return nil, err
	}

	var result capability.Result
	if err := json.Unmarshal(raw, &result); err == nil && (result.Type != "" || result.Tool != "") {
		return &result, nil
	}

	// Workers may return a bare payload; wrap it in the conventional shape.
	var content any
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("worker %s returned invalid run result: %w", p.opts.PluginName, err)
	}
	return &capability.Result{Type: "result", Tool: p.opts.PluginName, Content: content}, nil
}

// Health asks the worker for its condition. A worker without a health probe
// reports unknown; transport failures surface as errors for the watchdog to
// classify.
func (p *Proxy) Health(ctx context.Context) (capability.HealthRecord, error) {
	raw, err := p.call(ctx, "health", nil, p.opts.CallTimeout)
	if err != nil {
		return capability.HealthRecord{}, err
	}

	var payload struct {
		Status string `json:"status"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return capability.HealthRecord{}, fmt.Errorf("worker %s returned invalid health payload: %w", p.opts.PluginName, err)
	}

	status := capability.Status(payload.Status)
	if status == "" {
		status = capability.StatusUnknown
	}
	return capability.HealthRecord{Status: status, Detail: payload.Detail, Timestamp: time.Now().UTC()}, nil
}

// Stop sends a best-effort stop RPC, then unconditionally kills the OS
// process. Never blocks indefinitely on an unresponsive child.
func (p *Proxy) Stop(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, p.opts.StopTimeout)
	defer cancel()

	_, rpcErr := p.call(stopCtx, "stop", nil, p.opts.StopTimeout)
	if rpcErr != nil {
		p.logger.Debug("stop RPC failed, killing worker", "error", rpcErr)
	}

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}

	// Reap the child; bounded so a wedged wait cannot hang shutdown.
	waitErr := make(chan error, 1)
	go func() { waitErr <- p.cmd.Wait() }()
	select {
	case <-waitErr:
	case <-time.After(p.opts.StopTimeout):
		p.logger.Warn("worker did not exit after kill within stop timeout")
	}

	p.logger.Info("worker stopped")
	return nil
}

// Pid returns the worker's OS process id, or 0 when not running.
func (p *Proxy) Pid() int {
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
