package handler

import (
	"net/http"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/service"
)

type PinHandler struct {
	pins *service.PinService
}

func NewPinHandler(pins *service.PinService) *PinHandler {
	return &PinHandler{pins: pins}
}

type pinRequest struct {
	ConversationRef model.ConversationRef `json:"conversationRef"`
	MessageID       int64                 `json:"messageId"`
	OldMessageID    int64                 `json:"oldMessageId"`
	NewMessageID    int64                 `json:"newMessageId"`
	UserID          string                `json:"userId"`
	Duration        string                `json:"duration"`
}

func (req pinRequest) duration() (model.PinDuration, error) {
	d, err := model.ParsePinDuration(req.Duration)
	if err != nil {
		return "", service.ErrInvalidDuration
	}
	return d, nil
}

// Pin: POST /api/pin. 409 с активными закреплениями, если мест нет.
func (h *PinHandler) Pin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, ok := actorID(w, r, req.UserID)
	if !ok {
		return
	}
	d, err := req.duration()
	if err != nil {
		writeServiceError(w, "pin.Pin", err)
		return
	}
	pin, err := h.pins.RequestPin(r.Context(), req.ConversationRef, req.MessageID, userID, d)
	if err != nil {
		writeServiceError(w, "pin.Pin", err)
		return
	}
	writeJSON(w, http.StatusOK, pin)
}

// Replace: POST /api/pin/replace: снять oldMessageId и закрепить newMessageId атомарно.
func (h *PinHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, ok := actorID(w, r, req.UserID)
	if !ok {
		return
	}
	d, err := req.duration()
	if err != nil {
		writeServiceError(w, "pin.Replace", err)
		return
	}
	pin, err := h.pins.ReplacePin(r.Context(), req.ConversationRef, req.OldMessageID, req.NewMessageID, userID, d)
	if err != nil {
		writeServiceError(w, "pin.Replace", err)
		return
	}
	writeJSON(w, http.StatusOK, pin)
}

// Unpin: POST /api/unpin.
func (h *PinHandler) Unpin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, ok := actorID(w, r, req.UserID)
	if !ok {
		return
	}
	if err := h.pins.Unpin(r.Context(), req.ConversationRef, req.MessageID, userID); err != nil {
		writeServiceError(w, "pin.Unpin", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// List: GET /api/pins?conversationRef=, старые первыми.
func (h *PinHandler) List(w http.ResponseWriter, r *http.Request) {
	conv, ok := queryConversation(w, r)
	if !ok {
		return
	}
	userID, ok := actorID(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}
	pins, err := h.pins.ActivePins(r.Context(), conv, userID)
	if err != nil {
		writeServiceError(w, "pin.List", err)
		return
	}
	if pins == nil {
		pins = []model.Pin{}
	}
	writeJSON(w, http.StatusOK, pins)
}
