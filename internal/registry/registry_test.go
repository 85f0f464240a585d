package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/castellanhq/castellan/internal/capability"
)

// fakePlugin is a minimal in-process capability implementation for routing
// tests.
type fakePlugin struct {
	name     string
	keywords []string
	runErr   error
}

func (f *fakePlugin) Name(ctx context.Context) (string, error)      { return f.name, nil }
func (f *fakePlugin) Keywords(ctx context.Context) ([]string, error) { return f.keywords, nil }
func (f *fakePlugin) Health(ctx context.Context) (capability.HealthRecord, error) {
	return capability.Unknown(), nil
}
func (f *fakePlugin) Stop(ctx context.Context) error { return nil }
func (f *fakePlugin) Run(ctx context.Context, query string) (*capability.Result, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &capability.Result{Type: "result", Tool: f.name, Content: "ran: " + query}, nil
}

func addFake(t *testing.T, r *Registry, name string, keywords ...string) {
	t.Helper()
	err := r.Add(&Handle{
		Name:     name,
		Keywords: keywords,
		Plugin:   &fakePlugin{name: name, keywords: keywords},
	})
	if err != nil {
		t.Fatalf("Add(%s) failed: %v", name, err)
	}
}

func TestAddRejectsDuplicates(t *testing.T) {
	r := New()
	addFake(t, r, "weather", "weather")

	err := r.Add(&Handle{Name: "weather", Plugin: &fakePlugin{name: "weather"}})
	if err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}

func TestRemove(t *testing.T) {
	r := New()
	addFake(t, r, "weather", "weather")
	addFake(t, r, "calc", "calculate")

	h, ok := r.Remove("weather")
	if !ok || h.Name != "weather" {
		t.Fatalf("Remove returned %v, %v", h, ok)
	}
	if _, ok := r.Get("weather"); ok {
		t.Errorf("removed plugin still retrievable")
	}
	if _, ok := r.Remove("weather"); ok {
		t.Errorf("second remove should be a no-op")
	}

	list := r.List()
	if len(list) != 1 || list[0].Name != "calc" {
		t.Errorf("list after remove = %v", names(list))
	}
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		want     string
		wantMiss bool
	}{
		{name: "exact keyword", query: "weather in oslo", want: "weather"},
		{name: "case insensitive", query: "What Is The WEATHER like", want: "weather"},
		{name: "keyword inside word", query: "check forecasting", want: "forecast"},
		{name: "first registered wins on overlap", query: "weather forecast today", want: "weather"},
		{name: "no match", query: "play some music", wantMiss: true},
		{name: "empty query", query: "", wantMiss: true},
	}

	r := New()
	addFake(t, r, "weather", "weather", "temperature")
	addFake(t, r, "forecast", "forecast")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ok := r.Route(tt.query)
			if tt.wantMiss {
				if ok {
					t.Fatalf("Route(%q) matched %s, want no match", tt.query, h.Name)
				}
				return
			}
			if !ok {
				t.Fatalf("Route(%q) found no match", tt.query)
			}
			if h.Name != tt.want {
				t.Errorf("Route(%q) = %s, want %s", tt.query, h.Name, tt.want)
			}
		})
	}
}

func TestRouteOrderSurvivesRemove(t *testing.T) {
	r := New()
	addFake(t, r, "weather", "check")
	addFake(t, r, "calc", "check")

	r.Remove("weather")
	h, ok := r.Route("check this")
	if !ok || h.Name != "calc" {
		t.Fatalf("after removing first match, Route = %v, %v", h, ok)
	}
}

func TestDispatch(t *testing.T) {
	r := New()
	addFake(t, r, "echo", "echo")

	result, err := r.Dispatch(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if result.Tool != "echo" {
		t.Errorf("result tool = %q", result.Tool)
	}

	if _, err := r.Dispatch(context.Background(), "unrelated"); err == nil {
		t.Fatalf("expected no-match error")
	}
}

func TestReplaceKeepsOrder(t *testing.T) {
	r := New()
	addFake(t, r, "weather", "weather")
	addFake(t, r, "calc", "calc")

	replacement := &fakePlugin{name: "weather", keywords: []string{"meteo"}}
	if err := r.Replace("weather", replacement, replacement.keywords); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	list := r.List()
	if list[0].Name != "weather" {
		t.Errorf("replaced plugin lost its registration slot: %v", names(list))
	}
	if h, _ := r.Get("weather"); h.Keywords[0] != "meteo" {
		t.Errorf("keywords not updated: %v", h.Keywords)
	}

	if err := r.Replace("missing", replacement, nil); err == nil {
		t.Errorf("Replace of unknown plugin should fail")
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	addFake(t, r, "anchor", "anchor")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("plugin-%d", i)
			_ = r.Add(&Handle{Name: name, Keywords: []string{name}, Plugin: &fakePlugin{name: name}})
		}()
		go func() {
			defer wg.Done()
			r.Route("anchor query")
			r.List()
			r.RecordHealth("anchor", capability.HealthRecord{Status: capability.StatusOK})
		}()
	}
	wg.Wait()

	if r.Len() != 21 {
		t.Errorf("len = %d, want 21", r.Len())
	}
	if h, ok := r.Route("anchor query"); !ok || h.Name != "anchor" {
		t.Errorf("anchor no longer routable")
	}
}

func names(handles []*Handle) []string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = h.Name
	}
	return out
}
