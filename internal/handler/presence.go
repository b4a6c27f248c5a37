package handler

import (
	"net/http"

	"github.com/chatsync/internal/presence"
)

type PresenceHandler struct {
	registry *presence.Registry
}

func NewPresenceHandler(registry *presence.Registry) *PresenceHandler {
	return &PresenceHandler{registry: registry}
}

// Snapshot: GET /api/presence: последнее известное состояние всех пользователей.
func (h *PresenceHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	users, err := h.registry.Snapshot(r.Context())
	if err != nil {
		writeServiceError(w, "presence.Snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}
