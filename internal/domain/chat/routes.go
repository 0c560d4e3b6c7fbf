package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns chat router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	// All routes require authentication
	r.Use(authMiddleware)

	r.Get("/messages", h.Messages)
	r.Post("/messages/{id}/reactions", h.ToggleReaction)
	r.Get("/messages/{id}/reactions", h.ReactionCounts)

	r.Put("/typing", h.SetTyping)
	r.Get("/ban", h.BanStatus)

	return r
}
