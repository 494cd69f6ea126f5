// Package coordinator implements a generic polling coordinator.
//
// A Coordinator periodically fetches one remote resource, keeps the last
// successful result as an immutable snapshot and fans every result out to
// its listeners. Concurrent refreshes share a single in-flight fetch.
//
// Lifecycle:
//
//	Unstarted -> Healthy <-> Degraded -> Failed
//
// FirstRefresh gates setup: a failed FirstRefresh leaves the coordinator
// Unstarted. Once the polling loop runs, a fatal error (as decided by the
// Classifier) moves it to Failed and stops polling for good.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/metrics"
)

// FetchFunc retrieves one snapshot of a resource. ctx carries the fetch
// timeout and is cancelled by Stop.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Resource is the type-erased view of a Coordinator, used by code that
// manages coordinators of different snapshot types together.
type Resource interface {
	Name() string
	Start(ctx context.Context)
	FirstRefresh(ctx context.Context) error
	Trigger(ctx context.Context) error
	Value() (any, bool)
	Watch(fn func(Info)) (unsubscribe func())
	Info() Info
	Stop()
}

// subscription wraps a listener so it can be removed by identity.
type subscription[T any] struct {
	fn Listener[T]
}

// Coordinator polls one resource and shares its latest snapshot.
type Coordinator[T any] struct {
	name  string
	fetch FetchFunc[T]
	opts  options

	cur   atomic.Pointer[snapshot[T]]
	group singleflight.Group

	// ctx bounds every fetch; cancel is called by Stop.
	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool

	mu        sync.Mutex
	listeners []*subscription[T]
	started   bool
	done      chan struct{}
}

// New creates a coordinator. It does not fetch anything until FirstRefresh,
// Start or Refresh is called.
func New[T any](name string, fetch FetchFunc[T], opts ...Option) *Coordinator[T] {
	o := options{
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		classify: defaultClassifier,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator[T]{
		name:   name,
		fetch:  fetch,
		opts:   o,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.opts.logger = o.logger.With(slog.String("coordinator", name))
	c.cur.Store(&snapshot[T]{state: StateUnstarted})
	metrics.CoordinatorState.WithLabelValues(name).Set(float64(StateUnstarted))

	return c
}

// Name returns the coordinator's name.
func (c *Coordinator[T]) Name() string {
	return c.name
}

// Interval returns the polling interval.
func (c *Coordinator[T]) Interval() time.Duration {
	return c.opts.interval
}

// Snapshot returns the last successful result. The boolean is false until
// the first fetch succeeds. It never blocks.
func (c *Coordinator[T]) Snapshot() (T, bool) {
	s := c.cur.Load()
	return s.data, s.hasData
}

// Value is Snapshot with the data boxed.
func (c *Coordinator[T]) Value() (any, bool) {
	s := c.cur.Load()
	if !s.hasData {
		return nil, false
	}
	return s.data, true
}

// State returns the current lifecycle state.
func (c *Coordinator[T]) State() State {
	return c.cur.Load().state
}

// Info returns a summary of the coordinator's current state.
func (c *Coordinator[T]) Info() Info {
	s := c.cur.Load()
	info := Info{
		Name:        c.name,
		State:       s.state,
		Interval:    c.opts.interval,
		HasData:     s.hasData,
		LastUpdate:  s.lastUpdate,
		LastAttempt: s.lastAttempt,
		Failures:    s.failures,
	}
	if s.err != nil {
		info.LastError = s.err.Error()
	}
	return info
}

// Subscribe registers a listener. Listeners are called in registration
// order after every completed fetch. The returned function removes the
// listener and may be called more than once.
func (c *Coordinator[T]) Subscribe(fn Listener[T]) (unsubscribe func()) {
	sub := &subscription[T]{fn: fn}

	c.mu.Lock()
	c.listeners = append(c.listeners, sub)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.listeners {
				if s == sub {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Watch subscribes a listener that only needs the coordinator's Info.
func (c *Coordinator[T]) Watch(fn func(Info)) (unsubscribe func()) {
	return c.Subscribe(func(Update[T]) {
		fn(c.Info())
	})
}

// FirstRefresh performs one fetch and waits for it. Any failure is
// returned as a *NotReadyError and leaves the coordinator Unstarted.
func (c *Coordinator[T]) FirstRefresh(ctx context.Context) error {
	if _, err := c.Refresh(ctx); err != nil {
		return &NotReadyError{Name: c.name, Err: err}
	}
	return nil
}

// Trigger is Refresh without the result.
func (c *Coordinator[T]) Trigger(ctx context.Context) error {
	_, err := c.Refresh(ctx)
	return err
}

// Refresh fetches the resource now. If a fetch is already in flight the
// call waits for that fetch instead of starting another, and every waiting
// caller gets the same result. Cancelling ctx stops the wait, not the fetch.
func (c *Coordinator[T]) Refresh(ctx context.Context) (T, error) {
	var zero T

	if c.stopped.Load() {
		return zero, ErrStopped
	}
	if c.cur.Load().state == StateFailed {
		return zero, ErrFailed
	}

	ch := c.group.DoChan("fetch", func() (any, error) {
		return c.fetchAndApply()
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// fetchAndApply runs one fetch, publishes the resulting state and notifies
// listeners. It only ever runs inside the single-flight group, so updates
// are published and delivered in fetch order.
func (c *Coordinator[T]) fetchAndApply() (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.timeout)
	defer cancel()

	start := c.opts.clock.Now()
	data, err := c.fetch(ctx)
	elapsed := c.opts.clock.Since(start)

	if c.stopped.Load() {
		return zero, ErrStopped
	}

	prev := c.cur.Load()
	next := *prev
	next.lastAttempt = start

	result := "success"
	if err == nil {
		next.data = data
		next.hasData = true
		next.state = StateHealthy
		next.lastUpdate = c.opts.clock.Now()
		next.failures = 0
		next.err = nil
	} else {
		kind, fatal := c.opts.classify(err)
		result = kind
		next.failures++
		next.err = err
		switch {
		case prev.state == StateUnstarted && !c.running():
			// Setup decides what happens next.
		case fatal:
			next.state = StateFailed
		default:
			next.state = StateDegraded
		}
	}

	c.cur.Store(&next)

	metrics.CoordinatorFetchesTotal.WithLabelValues(c.name, result).Inc()
	metrics.CoordinatorFetchDuration.WithLabelValues(c.name).Observe(elapsed.Seconds())
	metrics.CoordinatorState.WithLabelValues(c.name).Set(float64(next.state))
	metrics.CoordinatorConsecutiveFailures.WithLabelValues(c.name).Set(float64(next.failures))

	c.logTransition(prev, &next, result, elapsed)

	c.notify(Update[T]{
		Name:    c.name,
		Data:    next.data,
		HasData: next.hasData,
		State:   next.state,
		Err:     err,
	})

	if err != nil {
		return zero, err
	}
	return data, nil
}

// running reports whether the polling loop was started.
func (c *Coordinator[T]) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Coordinator[T]) logTransition(prev, next *snapshot[T], result string, elapsed time.Duration) {
	logger := c.opts.logger

	switch {
	case next.err == nil && prev.state == StateDegraded:
		logger.Info("fetch recovered",
			slog.Int("failures", prev.failures),
			slog.Duration("duration", elapsed),
		)
	case next.err == nil:
		logger.Debug("fetch succeeded", slog.Duration("duration", elapsed))
	case next.state == StateFailed:
		logger.Error("fetch failed fatally, polling stopped",
			slog.String("kind", result),
			slog.String("error", next.err.Error()),
		)
	default:
		logger.Warn("fetch failed",
			slog.String("kind", result),
			slog.Int("failures", next.failures),
			slog.String("error", next.err.Error()),
		)
	}
}

// notify calls every listener in registration order. A panicking listener
// is logged and skipped.
func (c *Coordinator[T]) notify(u Update[T]) {
	c.mu.Lock()
	subs := make([]*subscription[T], len(c.listeners))
	copy(subs, c.listeners)
	c.mu.Unlock()

	for _, s := range subs {
		c.call(s.fn, u)
	}
}

func (c *Coordinator[T]) call(fn Listener[T], u Update[T]) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerPanicsTotal.WithLabelValues(c.name).Inc()
			c.opts.logger.Error("listener panicked",
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn(u)
}

// Start begins polling in the background until ctx is cancelled or Stop is
// called. After a successful FirstRefresh the first tick comes one interval
// after that fetch started; otherwise it is immediate. Calling Start more
// than once has no effect.
func (c *Coordinator[T]) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.stopped.Load() {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	s := c.cur.Load()
	first := c.opts.clock.Now()
	if s.hasData {
		first = s.lastAttempt.Add(c.opts.interval)
	}

	loopCtx, cancel := context.WithCancel(c.ctx)
	stopAfter := context.AfterFunc(ctx, cancel)

	go func() {
		defer close(c.done)
		defer cancel()
		defer stopAfter()
		c.run(loopCtx, first)
	}()

	c.opts.logger.Debug("coordinator started",
		slog.Duration("interval", c.opts.interval),
	)
}

// run is the polling loop. Each tick is scheduled one interval after the
// previous tick started; a tick that overran its interval is followed
// immediately by the next one.
func (c *Coordinator[T]) run(ctx context.Context, next time.Time) {
	for {
		if wait := next.Sub(c.opts.clock.Now()); wait > 0 {
			timer := c.opts.clock.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.Chan():
			}
		} else if ctx.Err() != nil {
			return
		}

		start := c.opts.clock.Now()
		_, err := c.Refresh(ctx)
		switch {
		case errors.Is(err, ErrStopped), errors.Is(err, ErrFailed):
			return
		case c.State() == StateFailed:
			return
		}
		next = start.Add(c.opts.interval)
	}
}

// Stop cancels polling and any in-flight fetch, and waits for the polling
// goroutine to exit. Results that arrive afterwards are discarded. Stop is
// idempotent.
func (c *Coordinator[T]) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.cancel()

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if started {
		<-c.done
	}

	c.opts.logger.Debug("coordinator stopped")
}

var _ Resource = (*Coordinator[int])(nil)
