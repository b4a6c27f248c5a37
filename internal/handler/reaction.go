package handler

import (
	"net/http"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/service"
)

type ReactionHandler struct {
	reactions *service.ReactionService
}

func NewReactionHandler(reactions *service.ReactionService) *ReactionHandler {
	return &ReactionHandler{reactions: reactions}
}

type toggleReactionRequest struct {
	MessageID int64  `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

// Toggle: POST /api/reaction: повторная та же реакция снимает её.
func (h *ReactionHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleReactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, ok := actorID(w, r, req.UserID)
	if !ok {
		return
	}
	res, err := h.reactions.Toggle(r.Context(), req.MessageID, userID, req.Emoji)
	if err != nil {
		writeServiceError(w, "reaction.Toggle", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reactionsResponse struct {
	Reactions []model.Reaction      `json:"reactions"`
	Groups    []model.ReactionGroup `json:"groups"`
}

// List: GET /api/message/{id}/reactions.
func (h *ReactionHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := messageIDParam(w, r)
	if !ok {
		return
	}
	userID, ok := actorID(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}
	rs, err := h.reactions.ReactionsFor(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, "reaction.List", err)
		return
	}
	if rs == nil {
		rs = []model.Reaction{}
	}
	writeJSON(w, http.StatusOK, reactionsResponse{Reactions: rs, Groups: model.GroupReactions(rs)})
}
