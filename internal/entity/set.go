package entity

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/coordinator"
)

// ErrDuplicateUniqueID is returned when two entries would expose the same
// entity.
var ErrDuplicateUniqueID = errors.New("duplicate entity unique id")

// Publisher receives entity state changes.
type Publisher interface {
	Publish(State)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(State)

// Publish calls f.
func (f PublisherFunc) Publish(s State) { f(s) }

// Observer is a Publisher that also tracks entity sets as entries come and go.
type Observer interface {
	Publisher
	Attached(*Set)
	Detached(*Set)
}

// Set holds the entities of one entry and keeps them in sync with the
// entry's coordinators.
type Set struct {
	handle   *entry.Handle
	entities []*Entity
	byID     map[string]*Entity
	logger   *slog.Logger
	out      Publisher

	mu     sync.Mutex
	unsubs []func()
	closed bool
}

// NewSet builds every entity of h and subscribes to its coordinators.
// Changes are sent to out, which may be nil.
func NewSet(h *entry.Handle, out Publisher, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Set{
		handle: h,
		byID:   make(map[string]*Entity),
		logger: logger,
		out:    out,
	}

	byKind := make(map[entry.Kind][]*Entity)
	for _, desc := range All() {
		res, err := h.Get(desc.Kind)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", desc.Key, err)
		}
		e := newEntity(h, desc, res, logger, s.publish)
		s.entities = append(s.entities, e)
		s.byID[e.UniqueID()] = e
		byKind[desc.Kind] = append(byKind[desc.Kind], e)
	}

	for _, kind := range h.Kinds() {
		entities := byKind[kind]
		if len(entities) == 0 {
			continue
		}
		res, err := h.Get(kind)
		if err != nil {
			s.Close()
			return nil, err
		}
		unsub := res.Watch(func(info coordinator.Info) {
			for _, e := range entities {
				e.refresh(info)
				s.publish(e.State())
			}
		})
		s.unsubs = append(s.unsubs, unsub)
	}

	return s, nil
}

func (s *Set) publish(state State) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.out == nil {
		return
	}
	s.out.Publish(state)
}

// Handle returns the owning entry.
func (s *Set) Handle() *entry.Handle {
	return s.handle
}

// Entities returns the entities in description order.
func (s *Set) Entities() []*Entity {
	return append([]*Entity(nil), s.entities...)
}

// Entity returns an entity by unique id.
func (s *Set) Entity(uniqueID string) (*Entity, bool) {
	e, ok := s.byID[uniqueID]
	return e, ok
}

// States returns the current state of every entity.
func (s *Set) States() []State {
	states := make([]State, 0, len(s.entities))
	for _, e := range s.entities {
		states = append(states, e.State())
	}
	return states
}

// Close unsubscribes from the coordinators. No state is published after
// Close returns.
func (s *Set) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// Registry tracks the entity sets of every ready entry and fans state
// changes out to publishers.
type Registry struct {
	logger *slog.Logger

	mu         sync.RWMutex
	sets       map[string]*Set
	names      map[string]string
	owners     map[string]string
	publishers []Publisher
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		sets:   make(map[string]*Set),
		names:  make(map[string]string),
		owners: make(map[string]string),
	}
}

// Add builds and registers the entity set of an entry.
func (r *Registry) Add(name string, h *entry.Handle) (*Set, error) {
	s, err := NewSet(h, r, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	for _, e := range s.entities {
		if owner, ok := r.owners[e.UniqueID()]; ok && owner != h.ID() {
			r.mu.Unlock()
			s.Close()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUniqueID, e.UniqueID())
		}
	}
	r.sets[h.ID()] = s
	r.names[name] = h.ID()
	for _, e := range s.entities {
		r.owners[e.UniqueID()] = h.ID()
	}
	publishers := append([]Publisher(nil), r.publishers...)
	r.mu.Unlock()

	for _, p := range publishers {
		if o, ok := p.(Observer); ok {
			o.Attached(s)
		}
		for _, state := range s.States() {
			p.Publish(state)
		}
	}

	r.logger.Info("entities registered",
		slog.String("entry", h.ID()),
		slog.Int("count", len(s.entities)),
	)
	return s, nil
}

// Remove unregisters an entry's entities. It returns false if the entry was
// not registered.
func (r *Registry) Remove(h *entry.Handle) bool {
	r.mu.Lock()
	s, ok := r.sets[h.ID()]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sets, h.ID())
	for name, id := range r.names {
		if id == h.ID() {
			delete(r.names, name)
		}
	}
	for _, e := range s.entities {
		delete(r.owners, e.UniqueID())
	}
	publishers := append([]Publisher(nil), r.publishers...)
	r.mu.Unlock()

	s.Close()
	for _, p := range publishers {
		if o, ok := p.(Observer); ok {
			o.Detached(s)
		}
	}
	return true
}

// Attach registers the entities of a ready entry. It has the shape of a host
// ready callback and logs failures.
func (r *Registry) Attach(name string, h *entry.Handle) {
	if _, err := r.Add(name, h); err != nil {
		r.logger.Error("registering entities failed",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}

// Detach unregisters the entities of an unloaded entry.
func (r *Registry) Detach(_ string, h *entry.Handle) {
	r.Remove(h)
}

// AddPublisher adds p and brings it up to date with every registered set.
func (r *Registry) AddPublisher(p Publisher) {
	r.mu.Lock()
	r.publishers = append(r.publishers, p)
	sets := r.sortedSetsLocked()
	r.mu.Unlock()

	for _, s := range sets {
		if o, ok := p.(Observer); ok {
			o.Attached(s)
		}
		for _, state := range s.States() {
			p.Publish(state)
		}
	}
}

// Publish fans a state out to every publisher.
func (r *Registry) Publish(state State) {
	r.mu.RLock()
	publishers := append([]Publisher(nil), r.publishers...)
	r.mu.RUnlock()

	for _, p := range publishers {
		p.Publish(state)
	}
}

// Set returns the entity set of an entry by entry id or name.
func (r *Registry) Set(idOrName string) (*Set, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.sets[idOrName]; ok {
		return s, true
	}
	if id, ok := r.names[idOrName]; ok {
		s, ok := r.sets[id]
		return s, ok
	}
	return nil, false
}

// Sets returns every registered set ordered by entry id.
func (r *Registry) Sets() []*Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedSetsLocked()
}

func (r *Registry) sortedSetsLocked() []*Set {
	ids := make([]string, 0, len(r.sets))
	for id := range r.sets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sets := make([]*Set, 0, len(ids))
	for _, id := range ids {
		sets = append(sets, r.sets[id])
	}
	return sets
}

// Entity finds an entity by unique id across every set.
func (r *Registry) Entity(uniqueID string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.owners[uniqueID]
	if !ok {
		return nil, false
	}
	return r.sets[id].Entity(uniqueID)
}

// States returns the state of every registered entity.
func (r *Registry) States() []State {
	var states []State
	for _, s := range r.Sets() {
		states = append(states, s.States()...)
	}
	return states
}
