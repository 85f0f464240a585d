package capability

import "fmt"

// LoadError marks a plugin that failed validation or loading. The failure is
// local to that plugin and never fatal to the host.
type LoadError struct {
	Plugin string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load %s: %s: %v", e.Plugin, e.Reason, e.Err)
	}
	return fmt.Sprintf("load %s: %s", e.Plugin, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SpawnError marks a worker subprocess that failed to start.
type SpawnError struct {
	Plugin string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker for %s: %v", e.Plugin, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError marks an RPC that exceeded its method timeout. The proxy
// survives; only the specific caller sees the failure.
type TimeoutError struct {
	Plugin  string
	Method  string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s timed out after %s", e.Plugin, e.Method, e.Timeout)
}

// RemoteError carries an error payload returned by a worker over the wire.
type RemoteError struct {
	Plugin  string
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s failed remotely: %s", e.Plugin, e.Method, e.Message)
}

// RestartExhausted marks a plugin permanently removed after the watchdog's
// retry budget ran out. Requires operator intervention.
type RestartExhausted struct {
	Plugin   string
	Attempts int
}

func (e *RestartExhausted) Error() string {
	return fmt.Sprintf("plugin %s removed after %d failed restarts", e.Plugin, e.Attempts)
}
