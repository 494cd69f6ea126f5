package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entity"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry/entrytest"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/host"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/nextdns"
)

func TestServer_handleHealth(t *testing.T) {
	s := New(0)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", resp.Status)
	}
}

func TestServer_handleReady_NoCheckers(t *testing.T) {
	s := New(0)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "ready" {
		t.Errorf("expected status 'ready', got %q", resp.Status)
	}
}

func TestServer_handleReady_SomeUnhealthy(t *testing.T) {
	s := New(0)

	s.RegisterChecker("entry:healthy", func(ctx context.Context) error {
		return nil
	})
	s.RegisterChecker("entry:unhealthy", func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got %q", resp.Status)
	}

	if len(resp.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(resp.Components))
	}
	// Components are sorted by name.
	if !resp.Components[0].Healthy || resp.Components[1].Healthy {
		t.Errorf("unexpected component health: %+v", resp.Components)
	}
	if resp.Components[1].Error != "connection refused" {
		t.Errorf("expected error 'connection refused', got %q", resp.Components[1].Error)
	}
}

func TestServer_handleReady_Degraded(t *testing.T) {
	s := New(0)

	s.RegisterChecker("ok", func(ctx context.Context) error { return nil })
	s.RegisterDegradedChecker("partial", func(ctx context.Context) (bool, string) {
		return true, "one coordinator degraded"
	})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != StatusDegraded {
		t.Errorf("expected status 'degraded', got %q", resp.Status)
	}
	if len(resp.Degraded) != 1 || resp.Degraded[0].Message != "one coordinator degraded" {
		t.Errorf("unexpected degraded list: %+v", resp.Degraded)
	}
}

func TestServer_handleReady_Timeout(t *testing.T) {
	s := New(0, WithTimeout(50*time.Millisecond))

	s.RegisterChecker("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
			return nil
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestServer_RegisterChecker(t *testing.T) {
	s := New(0)

	s.RegisterChecker("test", func(ctx context.Context) error { return nil })

	if len(s.checkers) != 1 {
		t.Errorf("expected 1 checker, got %d", len(s.checkers))
	}

	if _, ok := s.checkers["test"]; !ok {
		t.Error("expected checker 'test' to be registered")
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := httptest.NewServer(New(0).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected Go runtime metrics")
	}
}

// testEnv wires a host manager and entity registry around a fake API.
type testEnv struct {
	api      *entrytest.FakeAPI
	manager  *host.Manager
	registry *entity.Registry
	server   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	api := entrytest.NewFakeAPI()
	m := host.NewManager(func(ctx context.Context, cred entry.Credential) (*entry.Handle, error) {
		return entry.Setup(ctx, cred, api.SetupOptions()...)
	}, host.WithManagerLogger(entrytest.QuietLogger()))
	r := entity.NewRegistry(entrytest.QuietLogger())
	m.OnReady(r.Attach)
	m.OnUnload(r.Detach)
	t.Cleanup(m.UnloadAll)

	s := New(0,
		WithLogger(entrytest.QuietLogger()),
		WithEntries(m),
		WithEntities(r),
	)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{api: api, manager: m, registry: r, server: ts}
}

func (e *testEnv) setup(t *testing.T) *entry.Handle {
	t.Helper()
	h, err := e.manager.Setup(context.Background(), "home", entrytest.Credential)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return h
}

func (e *testEnv) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func TestAPI_Entries(t *testing.T) {
	env := newTestEnv(t)
	h := env.setup(t)

	resp, body := env.do(t, http.MethodGet, "/api/entries")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var statuses []host.EntryStatus
	if err := json.Unmarshal(body, &statuses); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(statuses) != 1 || statuses[0].EntryID != h.ID() || !statuses[0].Ready {
		t.Errorf("unexpected statuses: %+v", statuses)
	}
}

func TestAPI_Diagnostics(t *testing.T) {
	env := newTestEnv(t)
	h := env.setup(t)

	resp, body := env.do(t, http.MethodGet, "/api/entries/"+h.ID()+"/diagnostics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if strings.Contains(string(body), entrytest.Credential.APIKey) {
		t.Error("diagnostics must not contain the API key")
	}
	if !strings.Contains(string(body), entry.Redacted) {
		t.Error("expected redacted API key")
	}

	resp, _ = env.do(t, http.MethodGet, "/api/entries/missing/diagnostics")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", resp.StatusCode)
	}
}

func TestAPI_Refresh(t *testing.T) {
	env := newTestEnv(t)
	env.setup(t)
	before := env.api.CallCount(entry.KindStatus)

	resp, _ := env.do(t, http.MethodPost, "/api/entries/home/refresh")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if env.api.CallCount(entry.KindStatus) != before+1 {
		t.Errorf("expected one more status fetch, got %d", env.api.CallCount(entry.KindStatus)-before)
	}

	env.api.SetFetchError(entry.KindStatus, nextdns.ErrConnection)
	resp, _ = env.do(t, http.MethodPost, "/api/entries/home/refresh")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", resp.StatusCode)
	}
}

func TestAPI_Entities(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, http.MethodGet, "/api/entities")
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("expected empty list, got %s", body)
	}

	env.setup(t)
	_, body = env.do(t, http.MethodGet, "/api/entities")

	var states []entity.State
	if err := json.Unmarshal(body, &states); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(states) != len(entity.All()) {
		t.Errorf("expected %d entities, got %d", len(entity.All()), len(states))
	}
}

func TestAPI_Actions(t *testing.T) {
	env := newTestEnv(t)
	env.setup(t)

	tests := []struct {
		name      string
		path      string
		setResult bool
		want      int
	}{
		{"press button", "/api/entities/abc123-clear_logs/press", true, http.StatusOK},
		{"turn on switch", "/api/entities/abc123-web3/turn_on", true, http.StatusOK},
		{"turn off switch", "/api/entities/abc123-web3/turn_off", true, http.StatusOK},
		{"change not confirmed", "/api/entities/abc123-logs/turn_on", false, http.StatusConflict},
		{"press sensor", "/api/entities/abc123-all_queries/press", true, http.StatusBadRequest},
		{"unknown entity", "/api/entities/abc123-nope/press", true, http.StatusNotFound},
		{"unknown action", "/api/entities/abc123-web3/toggle", true, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.api.Lock()
			env.api.SetResult = tt.setResult
			env.api.Unlock()

			resp, body := env.do(t, http.MethodPost, tt.path)
			if resp.StatusCode != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, resp.StatusCode, body)
			}
		})
	}

	e, _ := env.registry.Entity("abc123-web3")
	if v := e.State().Value; v != false {
		t.Errorf("expected web3 off after turn_off, got %v", v)
	}
	e, _ = env.registry.Entity("abc123-logs")
	if v := e.State().Value; v != false {
		t.Errorf("expected logs unchanged, got %v", v)
	}
}

func TestAPI_ReadyFollowsEntries(t *testing.T) {
	env := newTestEnv(t)
	env.setup(t)

	resp, _ := env.do(t, http.MethodGet, "/ready")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	h, _ := env.manager.Handle("home")
	res, _ := h.Get(entry.KindConnection)
	env.api.SetFetchError(entry.KindConnection, nextdns.ErrTimeout)
	_ = res.Trigger(context.Background())

	var ready Response
	resp, body := env.do(t, http.MethodGet, "/ready")
	if err := json.Unmarshal(body, &ready); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.StatusCode != http.StatusOK || ready.Status != StatusDegraded {
		t.Errorf("expected degraded, got %d %q", resp.StatusCode, ready.Status)
	}

	env.api.SetFetchError(entry.KindConnection, nextdns.ErrInvalidAPIKey)
	_ = res.Trigger(context.Background())

	resp, body = env.do(t, http.MethodGet, "/ready")
	if err := json.Unmarshal(body, &ready); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable || ready.Status != StatusNotReady {
		t.Errorf("expected not ready, got %d %q", resp.StatusCode, ready.Status)
	}
}

func TestAPI_ReadyWithPendingEntry(t *testing.T) {
	env := newTestEnv(t)
	env.api.SetFetchError(entry.KindStatus, nextdns.ErrConnection)
	_, _ = env.manager.Setup(context.Background(), "home", entrytest.Credential)

	resp, body := env.do(t, http.MethodGet, "/ready")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "pending") {
		t.Errorf("expected pending entry in response, got %s", body)
	}
}
