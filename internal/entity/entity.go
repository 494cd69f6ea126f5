// Package entity projects coordinator snapshots into the sensors, binary
// sensors, buttons and switches exposed for a profile.
package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/metrics"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/coordinator"
)

var (
	// ErrNotSupported is returned when an action does not apply to the
	// entity's platform.
	ErrNotSupported = errors.New("action not supported by entity")

	// ErrNotApplied is returned when the API did not confirm an action.
	ErrNotApplied = errors.New("change not confirmed by API")
)

// State is the published state of one entity.
type State struct {
	UniqueID  string    `json:"unique_id"`
	EntryID   string    `json:"entry_id"`
	ProfileID string    `json:"profile_id"`
	Key       string    `json:"key"`
	Platform  Platform  `json:"platform"`
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	Available bool      `json:"available"`
	Updated   time.Time `json:"last_updated,omitzero"`
}

// UniqueID returns the stable identifier of an entity of a profile.
func UniqueID(profileID, key string) string {
	return profileID + "-" + key
}

// Entity is one projection of a coordinator snapshot.
type Entity struct {
	desc      Description
	uniqueID  string
	name      string
	entryID   string
	profileID string
	res       coordinator.Resource
	client    entry.API
	logger    *slog.Logger
	emit      func(State)

	mu        sync.RWMutex
	value     any
	available bool
	updated   time.Time
}

func newEntity(h *entry.Handle, desc Description, res coordinator.Resource, logger *slog.Logger, emit func(State)) *Entity {
	cred := h.Credential()
	e := &Entity{
		desc:      desc,
		uniqueID:  UniqueID(cred.ProfileID, desc.Key),
		name:      desc.FormatName(cred.ProfileName),
		entryID:   h.ID(),
		profileID: cred.ProfileID,
		res:       res,
		client:    h.Client(),
		logger:    logger,
		emit:      emit,
	}
	e.refresh(res.Info())
	return e
}

// Description returns the entity's description.
func (e *Entity) Description() Description {
	return e.desc
}

// UniqueID returns "{profile_id}-{key}".
func (e *Entity) UniqueID() string {
	return e.uniqueID
}

// Name returns the display name.
func (e *Entity) Name() string {
	return e.name
}

// EntryID returns the id of the owning entry.
func (e *Entity) EntryID() string {
	return e.entryID
}

// Available reports whether the backing coordinator has usable data.
func (e *Entity) Available() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.available
}

// State returns the current state.
func (e *Entity) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return State{
		UniqueID:  e.uniqueID,
		EntryID:   e.entryID,
		ProfileID: e.profileID,
		Key:       e.desc.Key,
		Platform:  e.desc.Platform,
		Name:      e.name,
		Value:     e.value,
		Available: e.available,
		Updated:   e.updated,
	}
}

// refresh re-reads availability and value from the coordinator. A failed
// refresh keeps the last value.
func (e *Entity) refresh(info coordinator.Info) {
	var (
		value any
		ok    bool
	)
	if e.desc.value != nil {
		if snapshot, has := e.res.Value(); has {
			value, ok = e.desc.value(snapshot, e.profileID)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = info.Available()
	if ok {
		e.value = value
	}
	if !info.LastUpdate.IsZero() {
		e.updated = info.LastUpdate
	}
}

// Press runs a button's action.
func (e *Entity) Press(ctx context.Context) error {
	if e.desc.Platform != PlatformButton {
		return fmt.Errorf("%w: press on %s", ErrNotSupported, e.desc.Platform)
	}

	ok, err := e.client.ClearLogs(ctx, e.profileID)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues("press", "error").Inc()
		e.logger.Warn("button press failed",
			slog.String("entity", e.uniqueID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("pressing %s: %w", e.uniqueID, err)
	}
	if !ok {
		metrics.ActionsTotal.WithLabelValues("press", "rejected").Inc()
		e.logger.Warn("button press not confirmed", slog.String("entity", e.uniqueID))
		return fmt.Errorf("pressing %s: %w", e.uniqueID, ErrNotApplied)
	}

	metrics.ActionsTotal.WithLabelValues("press", "success").Inc()
	e.logger.Info("button pressed", slog.String("entity", e.uniqueID))
	return nil
}

// TurnOn enables a switch's setting.
func (e *Entity) TurnOn(ctx context.Context) error {
	return e.turn(ctx, true)
}

// TurnOff disables a switch's setting.
func (e *Entity) TurnOff(ctx context.Context) error {
	return e.turn(ctx, false)
}

// turn writes the setting and updates the displayed state only when the API
// confirms the change.
func (e *Entity) turn(ctx context.Context, on bool) error {
	action := "turn_off"
	if on {
		action = "turn_on"
	}
	if e.desc.Platform != PlatformSwitch {
		return fmt.Errorf("%w: %s on %s", ErrNotSupported, action, e.desc.Platform)
	}

	ok, err := e.client.SetSetting(ctx, e.profileID, e.desc.Key, on)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(action, "error").Inc()
		e.logger.Warn("switch change failed",
			slog.String("entity", e.uniqueID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s %s: %w", action, e.uniqueID, err)
	}
	if !ok {
		metrics.ActionsTotal.WithLabelValues(action, "rejected").Inc()
		return fmt.Errorf("%s %s: %w", action, e.uniqueID, ErrNotApplied)
	}

	e.mu.Lock()
	e.value = on
	e.updated = time.Now()
	e.mu.Unlock()

	metrics.ActionsTotal.WithLabelValues(action, "success").Inc()
	e.logger.Info("switch changed",
		slog.String("entity", e.uniqueID),
		slog.Bool("on", on),
	)
	if e.emit != nil {
		e.emit(e.State())
	}
	return nil
}
