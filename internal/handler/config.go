package handler

import (
	"net/http"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/model"
)

// ConfigHandler отдаёт клиенту параметры, нужные для оптимистичного UI.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

type syncConfigResponse struct {
	EditWindowSeconds int                 `json:"edit_window_seconds"`
	PinCapacity       int                 `json:"pin_capacity"`
	PinDurations      []model.PinDuration `json:"pin_durations"`
	MaxPageSize       int                 `json:"max_page_size"`
}

// GetSyncConfig: GET /api/config/sync (без авторизации).
func (h *ConfigHandler) GetSyncConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, syncConfigResponse{
		EditWindowSeconds: int(h.cfg.Sync.EditWindow.Seconds()),
		PinCapacity:       h.cfg.Sync.PinCapacity,
		PinDurations:      []model.PinDuration{model.PinDay, model.PinWeek, model.PinMonth},
		MaxPageSize:       h.cfg.Sync.MaxPageSize,
	})
}
