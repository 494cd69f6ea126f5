package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entity"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/host"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/coordinator"
)

// Entries is the view of the entry lifecycle the server needs.
type Entries interface {
	Statuses() []host.EntryStatus
	Handle(nameOrID string) (*entry.Handle, bool)
}

// Entities is the view of the entity registry the server needs.
type Entities interface {
	States() []entity.State
	Entity(uniqueID string) (*entity.Entity, bool)
}

var (
	_ Entries  = (*host.Manager)(nil)
	_ Entities = (*entity.Registry)(nil)
)

// ErrorResponse is returned by failing API calls.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EntriesChecker fails while any entry is pending or has a Failed coordinator.
func EntriesChecker(entries Entries) HealthChecker {
	return func(ctx context.Context) error {
		var problems []string
		for _, st := range entries.Statuses() {
			if !st.Ready {
				problems = append(problems, fmt.Sprintf("%s: pending (%s)", st.Name, st.LastError))
				continue
			}
			for _, info := range st.Coordinators {
				if info.State == coordinator.StateFailed {
					problems = append(problems, fmt.Sprintf("%s: %s failed (%s)", st.Name, info.Name, info.LastError))
				}
			}
		}
		if len(problems) > 0 {
			return errors.New(strings.Join(problems, "; "))
		}
		return nil
	}
}

// CoordinatorsDegradedChecker reports Degraded coordinators.
func CoordinatorsDegradedChecker(entries Entries) DegradedChecker {
	return func(ctx context.Context) (bool, string) {
		var names []string
		for _, st := range entries.Statuses() {
			for _, info := range st.Coordinators {
				if info.State == coordinator.StateDegraded {
					names = append(names, info.Name)
				}
			}
		}
		if len(names) == 0 {
			return false, ""
		}
		return true, "degraded: " + strings.Join(names, ", ")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

func (s *Server) handleEntries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.entries.Statuses())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	h, ok := s.entries.Handle(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("entry %q not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, h.Diagnostics())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	h, ok := s.entries.Handle(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("entry %q not found", r.PathValue("id")))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := h.Refresh(ctx); err != nil {
		s.logger.Warn("manual refresh failed",
			slog.String("entry", h.ID()),
			slog.String("error", err.Error()),
		)
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Infos())
}

func (s *Server) handleEntities(w http.ResponseWriter, _ *http.Request) {
	states := s.entities.States()
	if states == nil {
		states = []entity.State{}
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := s.entities.Entity(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("entity %q not found", id))
		return
	}

	var action func(context.Context) error
	switch r.PathValue("action") {
	case "press":
		action = e.Press
	case "turn_on":
		action = e.TurnOn
	case "turn_off":
		action = e.TurnOff
	default:
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown action %q", r.PathValue("action")))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := action(ctx); err != nil {
		switch {
		case errors.Is(err, entity.ErrNotSupported):
			s.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, entity.ErrNotApplied):
			s.writeError(w, http.StatusConflict, err)
		default:
			s.writeError(w, http.StatusBadGateway, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, e.State())
}
