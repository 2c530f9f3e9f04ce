package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/classroom-labs/internal/identity"
	"github.com/ashureev/classroom-labs/internal/store"
)

const maxListLimit = 200

// DiscussionHandler serves archived transcripts to the client that
// produced them.
type DiscussionHandler struct {
	*Handler
}

// NewDiscussionHandler creates a transcript handler.
func NewDiscussionHandler(base *Handler) *DiscussionHandler {
	return &DiscussionHandler{Handler: base}
}

// RegisterRoutes registers transcript routes.
func (h *DiscussionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/discussions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
	})
}

// List returns the caller's transcripts, newest first, without utterances.
func (h *DiscussionHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusNotFound, "transcripts disabled")
		return
	}
	clientID := identity.ClientIDFromContext(r.Context())
	if clientID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := h.repo.ListDiscussions(r.Context(), store.ListOptions{Limit: limit, ClientID: clientID})
	if err != nil {
		slog.Error("Failed to list discussions", "error", err, "client_id", clientID)
		Error(w, http.StatusInternalServerError, "failed to list discussions")
		return
	}
	JSON(w, http.StatusOK, list)
}

// Get returns one transcript with its utterances. Transcripts of other
// clients are reported as missing.
func (h *DiscussionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusNotFound, "transcripts disabled")
		return
	}
	clientID := identity.ClientIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	t, err := h.repo.GetDiscussion(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get discussion", "error", err, "discussion_id", id)
		Error(w, http.StatusInternalServerError, "failed to get discussion")
		return
	}
	if t == nil || t.ClientID != clientID {
		Error(w, http.StatusNotFound, "discussion not found")
		return
	}
	JSON(w, http.StatusOK, t)
}
