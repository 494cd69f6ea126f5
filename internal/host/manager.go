// Package host runs the configured entries: it sets them up, retries the
// ones that are not ready yet with exponential backoff, and unloads them.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/metrics"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/coordinator"
)

// ErrUnloaded is returned by Setup when the entry was unloaded while its
// setup was running.
var ErrUnloaded = errors.New("entry unloaded during setup")

// ManagerConfig holds configuration for the entry manager.
type ManagerConfig struct {
	// InitialRetryInterval is the delay before the first retry of an entry
	// that was not ready. Default: 5 seconds.
	InitialRetryInterval time.Duration

	// MaxRetryInterval caps exponential backoff. Default: 5 minutes.
	MaxRetryInterval time.Duration

	// RetryBackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2.0.
	RetryBackoffMultiplier float64

	// CheckInterval is how often pending entries are checked. Default: 1 second.
	CheckInterval time.Duration
}

// DefaultManagerConfig returns a ManagerConfig with sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		InitialRetryInterval:   5 * time.Second,
		MaxRetryInterval:       5 * time.Minute,
		RetryBackoffMultiplier: 2.0,
		CheckInterval:          time.Second,
	}
}

// SetupFunc sets up one entry.
type SetupFunc func(ctx context.Context, cred entry.Credential) (*entry.Handle, error)

// Callback is notified about an entry's handle.
type Callback func(name string, h *entry.Handle)

// PendingEntry holds the state of an entry waiting for a setup retry.
type PendingEntry struct {
	Name          string
	Credential    entry.Credential
	LastError     error
	LastAttempt   time.Time
	AttemptCount  int
	NextRetryAt   time.Time
	RetryInterval time.Duration
}

// Manager owns every configured entry.
type Manager struct {
	setup  SetupFunc
	config ManagerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	ready    map[string]*entry.Handle
	pending  map[string]*PendingEntry
	inflight map[string]bool
	unloaded map[string]bool
	onReady  []Callback
	onUnload []Callback
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// ManagerOption is a functional option for configuring the Manager.
type ManagerOption func(*Manager)

// WithManagerConfig sets the manager configuration.
func WithManagerConfig(cfg ManagerConfig) ManagerOption {
	return func(m *Manager) {
		m.config = cfg
	}
}

// WithManagerLogger sets a custom logger for the manager.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager that sets entries up with setup. A nil setup
// uses entry.Setup with default options.
func NewManager(setup SetupFunc, opts ...ManagerOption) *Manager {
	if setup == nil {
		setup = func(ctx context.Context, cred entry.Credential) (*entry.Handle, error) {
			return entry.Setup(ctx, cred)
		}
	}

	m := &Manager{
		setup:    setup,
		config:   DefaultManagerConfig(),
		logger:   slog.Default(),
		ready:    make(map[string]*entry.Handle),
		pending:  make(map[string]*PendingEntry),
		inflight: make(map[string]bool),
		unloaded: make(map[string]bool),
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.config.CheckInterval <= 0 {
		m.config.CheckInterval = time.Second
	}

	return m
}

// OnReady registers a callback run whenever an entry becomes ready,
// including after a retry.
func (m *Manager) OnReady(fn Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReady = append(m.onReady, fn)
}

// OnUnload registers a callback run before an entry is torn down.
func (m *Manager) OnUnload(fn Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnload = append(m.onUnload, fn)
}

// Setup sets up the named entry. If the entry is not ready it is queued for
// retry and the not-ready error is returned. Configuration errors are
// returned without queuing. Calling Setup for an entry that is already
// ready, pending or being set up returns the current handle (possibly nil)
// and no error.
func (m *Manager) Setup(ctx context.Context, name string, cred entry.Credential) (*entry.Handle, error) {
	if err := cred.Validate(); err != nil {
		return nil, fmt.Errorf("invalid entry %q: %w", name, err)
	}

	m.mu.Lock()
	if h, ok := m.ready[name]; ok {
		m.mu.Unlock()
		return h, nil
	}
	if _, ok := m.pending[name]; ok || m.inflight[name] {
		m.mu.Unlock()
		return nil, nil
	}
	m.inflight[name] = true
	m.mu.Unlock()

	h, err := m.setup(ctx, cred)

	m.mu.Lock()
	delete(m.inflight, name)

	if m.unloaded[name] {
		delete(m.unloaded, name)
		m.mu.Unlock()
		if h != nil {
			h.Teardown()
		}
		m.logger.Info("entry unloaded during setup", slog.String("entry", name))
		return nil, ErrUnloaded
	}

	if err == nil {
		m.ready[name] = h
		callbacks := append([]Callback(nil), m.onReady...)
		metrics.EntrySetupAttemptsTotal.WithLabelValues(cred.ProfileID, "success").Inc()
		m.updateCountMetricsLocked()
		m.mu.Unlock()

		m.logger.Info("entry ready",
			slog.String("entry", name),
			slog.String("profile", h.Credential().ProfileID),
		)
		for _, fn := range callbacks {
			fn(name, h)
		}
		return h, nil
	}

	if !coordinator.IsNotReady(err) {
		metrics.EntrySetupAttemptsTotal.WithLabelValues(cred.ProfileID, "error").Inc()
		m.mu.Unlock()
		return nil, fmt.Errorf("setting up entry %q: %w", name, err)
	}

	now := time.Now()
	m.pending[name] = &PendingEntry{
		Name:          name,
		Credential:    cred,
		LastError:     err,
		LastAttempt:   now,
		AttemptCount:  1,
		NextRetryAt:   now.Add(m.config.InitialRetryInterval),
		RetryInterval: m.config.InitialRetryInterval,
	}
	metrics.EntrySetupAttemptsTotal.WithLabelValues(cred.ProfileID, "not_ready").Inc()
	m.updateCountMetricsLocked()
	m.mu.Unlock()

	m.logger.Warn("entry not ready, will retry",
		slog.String("entry", name),
		slog.String("error", err.Error()),
		slog.Duration("retry_in", m.config.InitialRetryInterval),
	)

	return nil, err
}

// Unload tears down a ready entry or drops a pending one. An entry whose
// first setup is still running is torn down as soon as that setup returns.
// It returns false if the entry is unknown or was already unloaded.
func (m *Manager) Unload(name string) bool {
	m.mu.Lock()
	if m.inflight[name] && m.pending[name] == nil {
		if m.unloaded[name] {
			m.mu.Unlock()
			return false
		}
		m.unloaded[name] = true
		m.mu.Unlock()
		m.logger.Info("entry unload requested during setup", slog.String("entry", name))
		return true
	}
	if _, ok := m.pending[name]; ok {
		delete(m.pending, name)
		m.updateCountMetricsLocked()
		m.mu.Unlock()
		m.logger.Info("pending entry dropped", slog.String("entry", name))
		return true
	}

	h, ok := m.ready[name]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.ready, name)
	callbacks := append([]Callback(nil), m.onUnload...)
	m.updateCountMetricsLocked()
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(name, h)
	}
	return h.Teardown()
}

// UnloadAll unloads every entry.
func (m *Manager) UnloadAll() {
	m.mu.RLock()
	names := make([]string, 0, len(m.ready)+len(m.pending))
	for name := range m.ready {
		names = append(names, name)
	}
	for name := range m.pending {
		names = append(names, name)
	}
	for name := range m.inflight {
		if m.pending[name] == nil {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.Unload(name)
	}
}

// Start begins the background retry loop for pending entries.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("entry manager already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.retryLoop(ctx)

	m.logger.Info("entry manager started",
		slog.Int("ready_entries", m.ReadyCount()),
		slog.Int("pending_entries", m.PendingCount()),
	)

	return nil
}

// Stop shuts down the retry loop. It does not unload entries.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	<-m.doneCh
	m.logger.Info("entry manager stopped")
}

func (m *Manager) retryLoop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.retryPending(ctx)
		}
	}
}

// retryPending retries every entry that is due.
func (m *Manager) retryPending(ctx context.Context) {
	m.mu.Lock()
	var due []*PendingEntry
	now := time.Now()
	for name, pending := range m.pending {
		if m.inflight[name] {
			continue
		}
		if !now.Before(pending.NextRetryAt) {
			m.inflight[name] = true
			due = append(due, pending)
		}
	}
	m.mu.Unlock()

	for _, pending := range due {
		m.retryEntry(ctx, pending)
	}
}

func (m *Manager) retryEntry(ctx context.Context, pending *PendingEntry) {
	m.logger.Debug("retrying entry setup",
		slog.String("entry", pending.Name),
		slog.Int("attempt", pending.AttemptCount+1),
	)

	h, err := m.setup(ctx, pending.Credential)

	m.mu.Lock()
	delete(m.inflight, pending.Name)

	if m.pending[pending.Name] != pending {
		// Unloaded while the attempt was running.
		m.mu.Unlock()
		if h != nil {
			h.Teardown()
		}
		return
	}

	if err == nil {
		delete(m.pending, pending.Name)
		m.ready[pending.Name] = h
		callbacks := append([]Callback(nil), m.onReady...)
		metrics.EntrySetupAttemptsTotal.WithLabelValues(pending.Credential.ProfileID, "success").Inc()
		m.updateCountMetricsLocked()
		m.mu.Unlock()

		m.logger.Info("entry ready after retry",
			slog.String("entry", pending.Name),
			slog.Int("attempts", pending.AttemptCount+1),
		)
		for _, fn := range callbacks {
			fn(pending.Name, h)
		}
		return
	}

	if !coordinator.IsNotReady(err) {
		delete(m.pending, pending.Name)
		metrics.EntrySetupAttemptsTotal.WithLabelValues(pending.Credential.ProfileID, "error").Inc()
		m.updateCountMetricsLocked()
		m.mu.Unlock()

		m.logger.Error("entry retry failed permanently, giving up",
			slog.String("entry", pending.Name),
			slog.String("error", err.Error()),
			slog.Int("attempts", pending.AttemptCount+1),
		)
		return
	}
	defer m.mu.Unlock()

	pending.LastError = err
	pending.LastAttempt = time.Now()
	pending.AttemptCount++

	newInterval := time.Duration(float64(pending.RetryInterval) * m.config.RetryBackoffMultiplier)
	if newInterval > m.config.MaxRetryInterval {
		newInterval = m.config.MaxRetryInterval
	}
	pending.RetryInterval = newInterval
	pending.NextRetryAt = time.Now().Add(newInterval)

	metrics.EntrySetupAttemptsTotal.WithLabelValues(pending.Credential.ProfileID, "not_ready").Inc()

	m.logger.Warn("entry retry failed",
		slog.String("entry", pending.Name),
		slog.String("error", err.Error()),
		slog.Int("attempt", pending.AttemptCount),
		slog.Duration("next_retry_in", newInterval),
	)
}

// updateCountMetricsLocked updates the ready and pending gauges.
// Caller must hold at least a read lock.
func (m *Manager) updateCountMetricsLocked() {
	metrics.EntriesReady.Set(float64(len(m.ready)))
	metrics.EntriesPending.Set(float64(len(m.pending)))
}

// Handle returns a ready entry by configured name or entry id.
func (m *Manager) Handle(nameOrID string) (*entry.Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if h, ok := m.ready[nameOrID]; ok {
		return h, true
	}
	for _, h := range m.ready {
		if h.ID() == nameOrID {
			return h, true
		}
	}
	return nil, false
}

// Handles returns every ready entry, ordered by name.
func (m *Manager) Handles() []*entry.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.ready))
	for name := range m.ready {
		names = append(names, name)
	}
	sort.Strings(names)

	handles := make([]*entry.Handle, 0, len(names))
	for _, name := range names {
		handles = append(handles, m.ready[name])
	}
	return handles
}

// PendingCount returns the number of entries waiting for a retry.
func (m *Manager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

// ReadyCount returns the number of ready entries.
func (m *Manager) ReadyCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ready)
}

// IsFullyReady returns true if no entry is waiting for a retry.
func (m *Manager) IsFullyReady() bool {
	return m.PendingCount() == 0
}

// EntryStatus describes one configured entry.
type EntryStatus struct {
	Name         string             `json:"name"`
	EntryID      string             `json:"entry_id,omitempty"`
	ProfileID    string             `json:"profile_id"`
	ProfileName  string             `json:"profile_name,omitempty"`
	Ready        bool               `json:"ready"`
	AttemptCount int                `json:"attempt_count,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	NextRetryAt  time.Time          `json:"next_retry_at,omitzero"`
	Coordinators []coordinator.Info `json:"coordinators,omitempty"`
}

// Statuses returns the status of every entry, ready and pending, ordered
// by name.
func (m *Manager) Statuses() []EntryStatus {
	m.mu.RLock()
	statuses := make([]EntryStatus, 0, len(m.ready)+len(m.pending))
	for name, h := range m.ready {
		cred := h.Credential()
		statuses = append(statuses, EntryStatus{
			Name:         name,
			EntryID:      h.ID(),
			ProfileID:    cred.ProfileID,
			ProfileName:  cred.ProfileName,
			Ready:        true,
			Coordinators: h.Infos(),
		})
	}
	for name, p := range m.pending {
		statuses = append(statuses, EntryStatus{
			Name:         name,
			ProfileID:    p.Credential.ProfileID,
			ProfileName:  p.Credential.ProfileName,
			AttemptCount: p.AttemptCount,
			LastError:    p.LastError.Error(),
			NextRetryAt:  p.NextRetryAt,
		})
	}
	m.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}
