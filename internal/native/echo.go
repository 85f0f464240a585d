package native

import (
	"context"
	"time"

	"github.com/castellanhq/castellan/internal/capability"
)

func init() {
	Register("echo-native", func() (capability.Plugin, error) {
		return &echoPlugin{}, nil
	})
}

// echoPlugin is the reference in-process plugin. It mirrors the query back
// and is mostly useful for smoke-testing routing and the watchdog without a
// worker subprocess.
type echoPlugin struct{}

func (p *echoPlugin) Name(ctx context.Context) (string, error) { return "echo-native", nil }

func (p *echoPlugin) Keywords(ctx context.Context) ([]string, error) {
	return []string{"echo-native"}, nil
}

func (p *echoPlugin) Run(ctx context.Context, query string) (*capability.Result, error) {
	return &capability.Result{Type: "result", Tool: "echo-native", Content: query}, nil
}

func (p *echoPlugin) Health(ctx context.Context) (capability.HealthRecord, error) {
	return capability.HealthRecord{Status: capability.StatusOK, Timestamp: time.Now().UTC()}, nil
}

func (p *echoPlugin) Stop(ctx context.Context) error { return nil }
