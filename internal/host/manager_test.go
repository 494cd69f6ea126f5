package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry/entrytest"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/coordinator"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/nextdns"
)

func fastConfig() ManagerConfig {
	return ManagerConfig{
		InitialRetryInterval:   10 * time.Millisecond,
		MaxRetryInterval:       40 * time.Millisecond,
		RetryBackoffMultiplier: 2.0,
		CheckInterval:          5 * time.Millisecond,
	}
}

func setupWith(api *entrytest.FakeAPI) SetupFunc {
	return func(ctx context.Context, cred entry.Credential) (*entry.Handle, error) {
		return entry.Setup(ctx, cred, api.SetupOptions()...)
	}
}

func newTestManager(api *entrytest.FakeAPI) *Manager {
	return NewManager(setupWith(api),
		WithManagerConfig(fastConfig()),
		WithManagerLogger(entrytest.QuietLogger()),
	)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDefaultManagerConfig(t *testing.T) {
	cfg := DefaultManagerConfig()

	if cfg.InitialRetryInterval != 5*time.Second {
		t.Errorf("expected 5s initial retry, got %v", cfg.InitialRetryInterval)
	}
	if cfg.MaxRetryInterval != 5*time.Minute {
		t.Errorf("expected 5m max retry, got %v", cfg.MaxRetryInterval)
	}
	if cfg.RetryBackoffMultiplier != 2.0 {
		t.Errorf("expected multiplier 2.0, got %v", cfg.RetryBackoffMultiplier)
	}
}

func TestManager_SetupReady(t *testing.T) {
	api := entrytest.NewFakeAPI()
	m := newTestManager(api)
	defer m.UnloadAll()

	var readyName atomic.Value
	m.OnReady(func(name string, h *entry.Handle) { readyName.Store(name) })

	h, err := m.Setup(context.Background(), "home", entrytest.Credential)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if h == nil {
		t.Fatal("expected a handle")
	}
	if readyName.Load() != "home" {
		t.Errorf("expected OnReady for home, got %v", readyName.Load())
	}
	if m.ReadyCount() != 1 || m.PendingCount() != 0 {
		t.Errorf("expected 1 ready 0 pending, got %d/%d", m.ReadyCount(), m.PendingCount())
	}

	got, ok := m.Handle(h.ID())
	if !ok || got != h {
		t.Error("expected lookup by entry id")
	}
	got, ok = m.Handle("home")
	if !ok || got != h {
		t.Error("expected lookup by name")
	}
}

func TestManager_SetupIdempotent(t *testing.T) {
	api := entrytest.NewFakeAPI()
	m := newTestManager(api)
	defer m.UnloadAll()

	h1, err := m.Setup(context.Background(), "home", entrytest.Credential)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	h2, err := m.Setup(context.Background(), "home", entrytest.Credential)
	if err != nil {
		t.Fatalf("second Setup failed: %v", err)
	}
	if h1 != h2 {
		t.Error("repeated Setup should return the existing handle")
	}
	if api.CallCount(entry.KindStatus) != 1 {
		t.Errorf("repeated Setup must not fetch again, got %d", api.CallCount(entry.KindStatus))
	}
}

func TestManager_ConfigErrorNotQueued(t *testing.T) {
	api := entrytest.NewFakeAPI()
	m := newTestManager(api)

	_, err := m.Setup(context.Background(), "bad", entry.Credential{ProfileID: "abc123"})
	if !errors.Is(err, entry.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}

	_, err = m.Setup(context.Background(), "unknown", entry.Credential{APIKey: "k", ProfileID: "nope"})
	if !errors.Is(err, entry.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}

	if m.PendingCount() != 0 {
		t.Errorf("configuration errors must not be retried, got %d pending", m.PendingCount())
	}
}

func TestManager_NotReadyRetriedUntilReady(t *testing.T) {
	api := entrytest.NewFakeAPI()
	api.SetFetchError(entry.KindConnection, nextdns.ErrConnection)
	m := newTestManager(api)
	defer m.UnloadAll()

	readyCh := make(chan *entry.Handle, 1)
	m.OnReady(func(name string, h *entry.Handle) { readyCh <- h })

	_, err := m.Setup(context.Background(), "home", entrytest.Credential)
	if !coordinator.IsNotReady(err) {
		t.Fatalf("expected not ready, got %v", err)
	}
	if m.PendingCount() != 1 {
		t.Fatalf("expected 1 pending, got %d", m.PendingCount())
	}
	if m.IsFullyReady() {
		t.Error("expected not fully ready")
	}

	// Repeated Setup while pending is a no-op.
	if h, err := m.Setup(context.Background(), "home", entrytest.Credential); h != nil || err != nil {
		t.Errorf("expected no-op for pending entry, got %v, %v", h, err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, func() bool {
		for _, s := range m.Statuses() {
			if s.AttemptCount >= 2 {
				return true
			}
		}
		return false
	})

	api.SetFetchError(entry.KindConnection, nil)

	select {
	case h := <-readyCh:
		if h.Credential().ProfileID != "abc123" {
			t.Errorf("unexpected handle: %s", h.Credential())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("entry never became ready")
	}

	if m.PendingCount() != 0 || m.ReadyCount() != 1 {
		t.Errorf("expected 1 ready 0 pending, got %d/%d", m.ReadyCount(), m.PendingCount())
	}
}

func TestManager_BackoffCapped(t *testing.T) {
	api := entrytest.NewFakeAPI()
	api.SetFetchError(entry.KindStatus, nextdns.ErrTimeout)
	m := newTestManager(api)

	_, _ = m.Setup(context.Background(), "home", entrytest.Credential)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		p := m.pending["home"]
		return p != nil && p.AttemptCount >= 4
	})

	m.mu.RLock()
	interval := m.pending["home"].RetryInterval
	m.mu.RUnlock()
	if interval != fastConfig().MaxRetryInterval {
		t.Errorf("expected interval capped at %v, got %v", fastConfig().MaxRetryInterval, interval)
	}
}

func TestManager_Unload(t *testing.T) {
	api := entrytest.NewFakeAPI()
	m := newTestManager(api)

	var unloaded []string
	var mu sync.Mutex
	m.OnUnload(func(name string, h *entry.Handle) {
		mu.Lock()
		unloaded = append(unloaded, name)
		mu.Unlock()
	})

	h, err := m.Setup(context.Background(), "home", entrytest.Credential)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if !m.Unload("home") {
		t.Error("expected first Unload to return true")
	}
	if m.Unload("home") {
		t.Error("expected second Unload to return false")
	}
	if !h.TornDown() {
		t.Error("expected handle to be torn down")
	}
	if m.ReadyCount() != 0 {
		t.Errorf("expected 0 ready, got %d", m.ReadyCount())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(unloaded) != 1 || unloaded[0] != "home" {
		t.Errorf("expected OnUnload for home once, got %v", unloaded)
	}
}

func TestManager_UnloadPending(t *testing.T) {
	api := entrytest.NewFakeAPI()
	api.SetFetchError(entry.KindStatus, nextdns.ErrConnection)
	m := newTestManager(api)

	_, _ = m.Setup(context.Background(), "home", entrytest.Credential)
	if !m.Unload("home") {
		t.Error("expected pending entry to be dropped")
	}
	if m.PendingCount() != 0 {
		t.Errorf("expected 0 pending, got %d", m.PendingCount())
	}
}

func TestManager_UnloadDuringSetup(t *testing.T) {
	api := entrytest.NewFakeAPI()
	started := make(chan struct{})
	release := make(chan struct{})
	var built atomic.Pointer[entry.Handle]

	setup := func(ctx context.Context, cred entry.Credential) (*entry.Handle, error) {
		close(started)
		<-release
		h, err := entry.Setup(ctx, cred, api.SetupOptions()...)
		built.Store(h)
		return h, err
	}
	m := NewManager(setup,
		WithManagerConfig(fastConfig()),
		WithManagerLogger(entrytest.QuietLogger()),
	)

	var readyCalls atomic.Int32
	m.OnReady(func(name string, h *entry.Handle) { readyCalls.Add(1) })

	type result struct {
		h   *entry.Handle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := m.Setup(context.Background(), "home", entrytest.Credential)
		done <- result{h, err}
	}()

	<-started
	if !m.Unload("home") {
		t.Error("expected Unload of an entry being set up to return true")
	}
	if m.Unload("home") {
		t.Error("expected second Unload to return false")
	}
	close(release)

	var r result
	select {
	case r = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Setup did not return")
	}

	if !errors.Is(r.err, ErrUnloaded) {
		t.Errorf("expected ErrUnloaded, got %v", r.err)
	}
	if r.h != nil {
		t.Error("expected no handle for an unloaded entry")
	}
	if m.ReadyCount() != 0 || m.PendingCount() != 0 {
		t.Errorf("expected 0 ready 0 pending, got %d/%d", m.ReadyCount(), m.PendingCount())
	}
	if readyCalls.Load() != 0 {
		t.Errorf("expected no OnReady callbacks, got %d", readyCalls.Load())
	}
	if h := built.Load(); h == nil || !h.TornDown() {
		t.Error("expected the handle built by setup to be torn down")
	}
}

func TestManager_ConfigErrorOnRetryDropsEntry(t *testing.T) {
	api := entrytest.NewFakeAPI()
	api.SetFetchError(entry.KindStatus, nextdns.ErrConnection)
	m := newTestManager(api)
	defer m.UnloadAll()

	_, err := m.Setup(context.Background(), "home", entrytest.Credential)
	if !coordinator.IsNotReady(err) {
		t.Fatalf("expected not ready, got %v", err)
	}

	// The profile disappears from the account before the retry.
	api.Lock()
	api.ProfilesList = nil
	api.Unlock()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	waitFor(t, func() bool { return m.PendingCount() == 0 })

	if m.ReadyCount() != 0 {
		t.Errorf("expected 0 ready, got %d", m.ReadyCount())
	}
	if n := api.CallCount(entry.KindStatus); n != 1 {
		t.Errorf("expected no fetches after the profile vanished, got %d", n)
	}
}

func TestManager_StartTwice(t *testing.T) {
	m := newTestManager(entrytest.NewFakeAPI())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	if err := m.Start(context.Background()); err == nil {
		t.Error("expected error starting twice")
	}
}

func TestManager_StopWithoutStart(t *testing.T) {
	m := newTestManager(entrytest.NewFakeAPI())
	m.Stop()
}

func TestManager_Statuses(t *testing.T) {
	api := entrytest.NewFakeAPI()
	api.ProfilesList = append(api.ProfilesList, nextdns.ProfileInfo{ID: "def456", Name: "Office"})
	m := newTestManager(api)
	defer m.UnloadAll()

	if _, err := m.Setup(context.Background(), "b-home", entrytest.Credential); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	api.SetFetchError(entry.KindDNSSEC, nextdns.ErrConnection)
	_, _ = m.Setup(context.Background(), "a-office", entry.Credential{APIKey: "k", ProfileID: "def456"})

	statuses := m.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "a-office" || statuses[0].Ready {
		t.Errorf("unexpected first status: %+v", statuses[0])
	}
	if statuses[0].LastError == "" {
		t.Error("expected last error for pending entry")
	}
	if statuses[1].Name != "b-home" || !statuses[1].Ready {
		t.Errorf("unexpected second status: %+v", statuses[1])
	}
	if len(statuses[1].Coordinators) != len(entry.AllKinds()) {
		t.Errorf("expected coordinator infos for ready entry, got %d", len(statuses[1].Coordinators))
	}

	handles := m.Handles()
	if len(handles) != 1 {
		t.Errorf("expected 1 handle, got %d", len(handles))
	}
}
