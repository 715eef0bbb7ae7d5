package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter builds the control-plane router.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Post("/api/create-room", h.CreateRoom)
	r.Get("/api/list-rooms", h.ListRooms)
	r.Post("/api/join-room", h.JoinRoom)
	r.Post("/api/heartbeat", h.Heartbeat)
	r.Get("/healthz", h.Healthz)

	return r
}
