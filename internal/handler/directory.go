package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/presence"
	"github.com/chatsync/internal/storage"
)

// DirectoryHandler: служебные ручки справочника: профили и состав групп.
// Изменение состава сразу переносит живые сессии пользователя в комнату группы или из неё.
type DirectoryHandler struct {
	dir      storage.DirectoryAdmin
	registry *presence.Registry
}

func NewDirectoryHandler(dir storage.DirectoryAdmin, registry *presence.Registry) *DirectoryHandler {
	return &DirectoryHandler{dir: dir, registry: registry}
}

type upsertUserRequest struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// UpsertUser: PUT /api/users/{id}.
func (h *DirectoryHandler) UpsertUser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req upsertUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if id == "" || strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "id and username are required")
		return
	}
	u := model.UserPublic{ID: id, Username: strings.TrimSpace(req.Username), AvatarURL: req.AvatarURL}
	if err := h.dir.Upsert(r.Context(), u); err != nil {
		writeServiceError(w, "directory.UpsertUser", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GetUser: GET /api/users/{id}.
func (h *DirectoryHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.dir.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "directory.GetUser", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type memberRequest struct {
	UserID string `json:"userId"`
}

// AddMember: POST /api/groups/{id}/members.
func (h *DirectoryHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	groupID := strings.TrimSpace(chi.URLParam(r, "id"))
	var req memberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if groupID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "group id and userId are required")
		return
	}
	if err := h.dir.AddMember(r.Context(), groupID, req.UserID); err != nil {
		writeServiceError(w, "directory.AddMember", err)
		return
	}
	h.registry.JoinRoom(req.UserID, presence.GroupRoom(groupID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RemoveMember: DELETE /api/groups/{id}/members/{userId}.
func (h *DirectoryHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	userID := chi.URLParam(r, "userId")
	if err := h.dir.RemoveMember(r.Context(), groupID, userID); err != nil {
		writeServiceError(w, "directory.RemoveMember", err)
		return
	}
	h.registry.LeaveRoom(userID, presence.GroupRoom(groupID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
