package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/castellanhq/castellan/internal/capability"
	"github.com/castellanhq/castellan/internal/events"
	"github.com/castellanhq/castellan/internal/history"
	"github.com/castellanhq/castellan/internal/policy"
	"github.com/castellanhq/castellan/internal/registry"
)

// mockHost implements PluginService for testing.
type mockHost struct {
	plugins    []*registry.Handle
	askFunc    func(ctx context.Context, query string) (*capability.Result, error)
	restartErr error
	restarted  []string
}

func (m *mockHost) Plugins() []*registry.Handle { return m.plugins }

func (m *mockHost) Ask(ctx context.Context, query string) (*capability.Result, error) {
	if m.askFunc == nil {
		return nil, errors.New("no ask handler")
	}
	return m.askFunc(ctx, query)
}

func (m *mockHost) Restart(ctx context.Context, name string) error {
	m.restarted = append(m.restarted, name)
	return m.restartErr
}

// mockHistory implements HistoryReader for testing.
type mockHistory struct {
	health   []history.HealthEntry
	restarts []history.RestartEntry
}

func (m *mockHistory) RecentHealth(ctx context.Context, plugin string, limit int) ([]history.HealthEntry, error) {
	return m.health, nil
}

func (m *mockHistory) Restarts(ctx context.Context, plugin string, limit int) ([]history.RestartEntry, error) {
	return m.restarts, nil
}

const testKey = "test-api-key"

func newTestServer(host *mockHost, hist *mockHistory, hub *events.Hub) *Server {
	if hub == nil {
		hub = events.NewHub(32)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(Config{Listen: "127.0.0.1:0", APIKey: testKey}, host, hist, hub, logger)
}

func doRequest(s *Server, method, path string, body []byte, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if authed {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthzNoAuth(t *testing.T) {
	s := newTestServer(&mockHost{plugins: []*registry.Handle{{Name: "echo"}}}, &mockHistory{}, nil)

	rec := doRequest(s, http.MethodGet, "/healthz", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp HealthzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.PluginsLoaded != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestProtectedEndpointsRequireAuth(t *testing.T) {
	s := newTestServer(&mockHost{}, &mockHistory{}, nil)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/plugins"},
		{http.MethodPost, "/plugins/echo/restart"},
		{http.MethodGet, "/plugins/echo/history"},
		{http.MethodPost, "/ask"},
		{http.MethodGet, "/events"},
	}
	for _, p := range paths {
		rec := doRequest(s, p.method, p.path, nil, false)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without auth: status = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestListPlugins(t *testing.T) {
	host := &mockHost{plugins: []*registry.Handle{
		{
			Name:     "weather",
			Keywords: []string{"weather", "temperature"},
			Decision: policy.Decision{Isolated: true, Network: policy.NetworkAdvisory},
			LastHealth: capability.HealthRecord{
				Status:    capability.StatusOK,
				Timestamp: time.Now().UTC(),
			},
			LoadedAt: time.Now().UTC(),
		},
	}}
	s := newTestServer(host, &mockHistory{}, nil)

	rec := doRequest(s, http.MethodGet, "/plugins", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var list []PluginInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d plugins", len(list))
	}
	if list[0].Name != "weather" || !list[0].Isolated || list[0].Network != "advisory" {
		t.Errorf("plugin info = %+v", list[0])
	}
}

func TestRestartPlugin(t *testing.T) {
	host := &mockHost{}
	s := newTestServer(host, &mockHistory{}, nil)

	rec := doRequest(s, http.MethodPost, "/plugins/weather/restart", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(host.restarted) != 1 || host.restarted[0] != "weather" {
		t.Errorf("restarted = %v", host.restarted)
	}
}

func TestRestartPluginFailure(t *testing.T) {
	host := &mockHost{restartErr: errors.New("plugin \"weather\" not registered")}
	s := newTestServer(host, &mockHistory{}, nil)

	rec := doRequest(s, http.MethodPost, "/plugins/weather/restart", nil, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestAsk(t *testing.T) {
	host := &mockHost{askFunc: func(ctx context.Context, query string) (*capability.Result, error) {
		return &capability.Result{Type: "result", Tool: "weather", Content: "sunny"}, nil
	}}
	s := newTestServer(host, &mockHistory{}, nil)

	body, _ := json.Marshal(AskRequest{Query: "weather in oslo"})
	rec := doRequest(s, http.MethodPost, "/ask", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result capability.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Tool != "weather" || result.Content != "sunny" {
		t.Errorf("result = %+v", result)
	}
}

func TestAskValidation(t *testing.T) {
	s := newTestServer(&mockHost{}, &mockHistory{}, nil)

	rec := doRequest(s, http.MethodPost, "/ask", []byte("{not json"), true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d", rec.Code)
	}

	body, _ := json.Marshal(AskRequest{Query: ""})
	rec = doRequest(s, http.MethodPost, "/ask", body, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query: status = %d", rec.Code)
	}
}

func TestAskNoMatch(t *testing.T) {
	host := &mockHost{askFunc: func(ctx context.Context, query string) (*capability.Result, error) {
		return nil, errors.New("no plugin matches query")
	}}
	s := newTestServer(host, &mockHistory{}, nil)

	body, _ := json.Marshal(AskRequest{Query: "anything"})
	rec := doRequest(s, http.MethodPost, "/ask", body, true)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestPluginHistory(t *testing.T) {
	hist := &mockHistory{
		health:   []history.HealthEntry{{ID: "h1", Plugin: "weather", Status: "ok"}},
		restarts: []history.RestartEntry{{ID: "r1", Plugin: "weather", Attempt: 1, Outcome: "recovered"}},
	}
	s := newTestServer(&mockHost{}, hist, nil)

	rec := doRequest(s, http.MethodGet, "/plugins/weather/history?limit=5", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp PluginHistoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Plugin != "weather" || len(resp.Health) != 1 || len(resp.Restarts) != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestEventsSince(t *testing.T) {
	hub := events.NewHub(32)
	hub.Publish(events.TypePluginLoaded, "weather", nil)
	hub.Publish(events.TypePluginHealth, "weather", nil)
	hub.Publish(events.TypePluginRemoved, "weather", nil)

	s := newTestServer(&mockHost{}, &mockHistory{}, hub)

	rec := doRequest(s, http.MethodGet, "/events?since=1", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var evs []events.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &evs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	if evs[0].Type != events.TypePluginHealth || evs[1].Type != events.TypePluginRemoved {
		t.Errorf("events = %+v", evs)
	}
}
