// Package entry manages the lifecycle of one configured account+profile
// pair: it authenticates once, builds a coordinator for every polled
// resource, gates readiness on every first refresh succeeding, and tears
// everything down together.
package entry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/coordinator"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/nextdns"
)

// DefaultHandshakeTimeout bounds client construction and authentication.
const DefaultHandshakeTimeout = 10 * time.Second

// Connector builds an authenticated API client.
type Connector func(ctx context.Context, apiKey string) (API, error)

// NextDNSConnector returns a Connector backed by nextdns.New.
func NextDNSConnector(opts ...nextdns.ClientOption) Connector {
	return func(ctx context.Context, apiKey string) (API, error) {
		client, err := nextdns.New(ctx, apiKey, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

type options struct {
	logger           *slog.Logger
	connect          Connector
	handshakeTimeout time.Duration
	fetchTimeout     time.Duration
	intervals        map[Kind]time.Duration
	clock            clockwork.Clock
}

// Option is a functional option for Setup.
type Option func(*options)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConnector replaces the default NextDNS connector.
func WithConnector(c Connector) Option {
	return func(o *options) {
		if c != nil {
			o.connect = c
		}
	}
}

// WithHandshakeTimeout bounds client construction.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithFetchTimeout bounds every coordinator fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fetchTimeout = d
		}
	}
}

// WithInterval overrides the polling interval of one kind.
func WithInterval(kind Kind, d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.intervals[kind] = d
		}
	}
}

// WithClock sets the clock used by every coordinator (useful for testing).
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// Handle is a ready entry. It is returned by Setup and passed explicitly to
// everything that needs the entry's coordinators.
type Handle struct {
	id     string
	cred   Credential
	device Device
	client API
	logger *slog.Logger
	kinds  []Kind

	mu        sync.RWMutex
	resources map[Kind]coordinator.Resource
	tornDown  bool
}

// Setup authenticates, builds every coordinator and waits for all first
// refreshes. Incomplete credentials and unknown profiles fail with a
// configuration error. Everything else that goes wrong fails with an error
// matching coordinator.ErrNotReady, and nothing is left running.
func Setup(ctx context.Context, cred Credential, opts ...Option) (*Handle, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	o := options{
		logger:           slog.Default(),
		handshakeTimeout: DefaultHandshakeTimeout,
		fetchTimeout:     coordinator.DefaultTimeout,
		intervals:        make(map[Kind]time.Duration),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.connect == nil {
		o.connect = NextDNSConnector(nextdns.WithLogger(o.logger))
	}

	hctx, cancel := context.WithTimeout(ctx, o.handshakeTimeout)
	client, err := o.connect(hctx, cred.APIKey)
	cancel()
	if err != nil {
		return nil, &coordinator.NotReadyError{Name: "handshake", Err: err}
	}

	profile, ok := client.FindProfile(cred.ProfileID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, cred.ProfileID)
	}
	resolved := Credential{
		APIKey:      cred.APIKey,
		ProfileID:   profile.ID,
		ProfileName: cred.ProfileName,
	}
	if resolved.ProfileName == "" {
		resolved.ProfileName = profile.Name
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating entry id: %w", err)
	}

	logger := o.logger.With(slog.String("profile", resolved.ProfileID))
	h := &Handle{
		id:        id.String(),
		cred:      resolved,
		device:    NewDevice(resolved.ProfileID, resolved.ProfileName),
		client:    client,
		logger:    logger,
		resources: make(map[Kind]coordinator.Resource),
	}

	for _, spec := range resourceTable(client) {
		interval := spec.interval
		if d, ok := o.intervals[spec.kind]; ok {
			interval = d
		}
		copts := []coordinator.Option{
			coordinator.WithInterval(interval),
			coordinator.WithTimeout(o.fetchTimeout),
			coordinator.WithLogger(logger),
			coordinator.WithClassifier(classify),
		}
		if o.clock != nil {
			copts = append(copts, coordinator.WithClock(o.clock))
		}
		name := resolved.ProfileID + "/" + string(spec.kind)
		h.resources[spec.kind] = spec.build(name, resolved.ProfileID, copts)
		h.kinds = append(h.kinds, spec.kind)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range h.kinds {
		res := h.resources[kind]
		g.Go(func() error {
			return res.FirstRefresh(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		h.stopAll()
		logger.Warn("entry setup failed", slog.String("error", err.Error()))
		if !coordinator.IsNotReady(err) {
			err = &coordinator.NotReadyError{Name: resolved.ProfileID, Err: err}
		}
		return nil, err
	}

	for _, kind := range h.kinds {
		h.resources[kind].Start(context.Background())
	}

	logger.Info("entry ready",
		slog.String("entry", h.id),
		slog.String("name", resolved.ProfileName),
		slog.Int("resources", len(h.kinds)),
	)

	return h, nil
}

// ID returns the entry's unique id.
func (h *Handle) ID() string {
	return h.id
}

// Credential returns the resolved credential.
func (h *Handle) Credential() Credential {
	return h.cred
}

// Device returns the device identity of the entry.
func (h *Handle) Device() Device {
	return h.device.clone()
}

// Client returns the shared API client.
func (h *Handle) Client() API {
	return h.client
}

// Kinds returns the polled resource kinds in table order.
func (h *Handle) Kinds() []Kind {
	return append([]Kind(nil), h.kinds...)
}

// Get returns the coordinator of a resource kind.
func (h *Handle) Get(kind Kind) (coordinator.Resource, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.tornDown {
		return nil, ErrTornDown
	}
	res, ok := h.resources[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return res, nil
}

// Lookup returns the typed coordinator of a resource kind.
func Lookup[T any](h *Handle, kind Kind) (*coordinator.Coordinator[T], error) {
	res, err := h.Get(kind)
	if err != nil {
		return nil, err
	}
	c, ok := res.(*coordinator.Coordinator[T])
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKindMismatch, kind)
	}
	return c, nil
}

// Refresh refreshes every resource concurrently and returns the first error.
func (h *Handle) Refresh(ctx context.Context) error {
	h.mu.RLock()
	if h.tornDown {
		h.mu.RUnlock()
		return ErrTornDown
	}
	resources := make([]coordinator.Resource, 0, len(h.kinds))
	for _, kind := range h.kinds {
		resources = append(resources, h.resources[kind])
	}
	h.mu.RUnlock()

	var g errgroup.Group
	for _, res := range resources {
		g.Go(func() error {
			return res.Trigger(ctx)
		})
	}
	return g.Wait()
}

// Infos returns the state of every coordinator in table order.
func (h *Handle) Infos() []coordinator.Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]coordinator.Info, 0, len(h.kinds))
	for _, kind := range h.kinds {
		infos = append(infos, h.resources[kind].Info())
	}
	return infos
}

// Teardown stops every coordinator. It returns false if the entry was
// already torn down.
func (h *Handle) Teardown() bool {
	h.mu.Lock()
	if h.tornDown {
		h.mu.Unlock()
		return false
	}
	h.tornDown = true
	h.mu.Unlock()

	h.stopAll()
	h.logger.Info("entry unloaded", slog.String("entry", h.id))
	return true
}

// TornDown reports whether Teardown has been called.
func (h *Handle) TornDown() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tornDown
}

func (h *Handle) stopAll() {
	var wg sync.WaitGroup
	for _, res := range h.resources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Stop()
		}()
	}
	wg.Wait()
}
