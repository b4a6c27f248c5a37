package handler

import (
	"net/http"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/service"
)

type MessageHandler struct {
	messages *service.MessageService
}

func NewMessageHandler(messages *service.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

type createMessageRequest struct {
	ConversationRef model.ConversationRef `json:"conversationRef"`
	UserID          string                `json:"userId"`
	Body            string                `json:"body"`
	Attachments     []model.Attachment    `json:"attachments"`
}

// Create: POST /api/messages.
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, ok := actorID(w, r, req.UserID)
	if !ok {
		return
	}
	msg, err := h.messages.Append(r.Context(), req.ConversationRef, userID, req.Body, req.Attachments)
	if err != nil {
		writeServiceError(w, "message.Create", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// List: GET /api/messages?conversationRef=&userId=&limit=&before=; новые первыми.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	conv, ok := queryConversation(w, r)
	if !ok {
		return
	}
	userID, ok := actorID(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}
	msgs, err := h.messages.Conversation(r.Context(), conv, userID, queryInt64(r, "before"), queryInt(r, "limit", 0))
	if err != nil {
		writeServiceError(w, "message.List", err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type editMessageRequest struct {
	UserID  string `json:"userId"`
	NewBody string `json:"newBody"`
}

// Edit: PUT /api/message/{id}/edit.
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, ok := messageIDParam(w, r)
	if !ok {
		return
	}
	var req editMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, ok := actorID(w, r, req.UserID)
	if !ok {
		return
	}
	msg, err := h.messages.Edit(r.Context(), id, userID, req.NewBody)
	if err != nil {
		writeServiceError(w, "message.Edit", err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type userRequest struct {
	UserID string `json:"userId"`
}

// Delete: PUT /api/message/{id}/delete (мягкое удаление).
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.setDeleted(w, r, true)
}

// Undo: PUT /api/message/{id}/undo.
func (h *MessageHandler) Undo(w http.ResponseWriter, r *http.Request) {
	h.setDeleted(w, r, false)
}

func (h *MessageHandler) setDeleted(w http.ResponseWriter, r *http.Request, deleted bool) {
	id, ok := messageIDParam(w, r)
	if !ok {
		return
	}
	var req userRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, ok := actorID(w, r, req.UserID)
	if !ok {
		return
	}
	var (
		msg *model.Message
		err error
	)
	if deleted {
		msg, err = h.messages.SoftDelete(r.Context(), id, userID)
	} else {
		msg, err = h.messages.UndoDelete(r.Context(), id, userID)
	}
	if err != nil {
		writeServiceError(w, "message.SetDeleted", err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// History: GET /api/message/{id}/history, старые правки первыми.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := messageIDParam(w, r)
	if !ok {
		return
	}
	userID, ok := actorID(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}
	entries, err := h.messages.History(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, "message.History", err)
		return
	}
	if entries == nil {
		entries = []model.EditHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type seenRequest struct {
	ConversationRef model.ConversationRef `json:"conversationRef"`
	UserID          string                `json:"userId"`
	UpToMessageID   int64                 `json:"upToMessageId"`
}

type seenResponse struct {
	MessageIDs []int64 `json:"messageIds"`
}

// Seen: POST /api/seen.
func (h *MessageHandler) Seen(w http.ResponseWriter, r *http.Request) {
	var req seenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, ok := actorID(w, r, req.UserID)
	if !ok {
		return
	}
	ids, err := h.messages.MarkSeen(r.Context(), req.ConversationRef, userID, req.UpToMessageID)
	if err != nil {
		writeServiceError(w, "message.Seen", err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, seenResponse{MessageIDs: ids})
}
