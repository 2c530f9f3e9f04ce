// Package api provides HTTP handlers for the classroom API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/classroom-labs/internal/discussion"
	"github.com/ashureev/classroom-labs/internal/domain"
	"github.com/ashureev/classroom-labs/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo   store.Repository
	sm     *discussion.SessionManager
	roster *domain.Roster
}

// NewHandler creates a new Handler with common dependencies. repo may be nil
// when the transcript archive is disabled.
func NewHandler(repo store.Repository, sm *discussion.SessionManager, roster *domain.Roster) *Handler {
	return &Handler{
		repo:   repo,
		sm:     sm,
		roster: roster,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the status and roster routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.Status)
	r.Get("/ready", h.Ready)
	r.Get("/api/roster", h.Roster)
}

type statusResponse struct {
	Status           string                  `json:"status"`
	DiscussionActive bool                    `json:"discussion_active"`
	Session          *discussion.SessionInfo `json:"session,omitempty"`
}

// Status reports whether a discussion is running.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Status: "running"}
	if s := h.sm.Active(); s != nil {
		info := s.Info()
		resp.DiscussionActive = true
		resp.Session = &info
	}
	JSON(w, http.StatusOK, resp)
}

// Ready checks the transcript database, when one is configured.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			Error(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type participantResponse struct {
	Name        string      `json:"name"`
	Role        domain.Role `json:"role"`
	Description string      `json:"description,omitempty"`
}

// Roster lists the participants in speaking-order registration.
func (h *Handler) Roster(w http.ResponseWriter, _ *http.Request) {
	participants := h.roster.Participants()
	out := make([]participantResponse, 0, len(participants))
	for _, p := range participants {
		out = append(out, participantResponse{
			Name:        p.Name,
			Role:        p.Role,
			Description: p.Persona.Description,
		})
	}
	JSON(w, http.StatusOK, out)
}
