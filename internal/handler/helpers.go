package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/service"
)

const maxBodySize = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

// capacityResponse: 409 на запрос закрепления при заполненном наборе: клиент выбирает, что заменить.
type capacityResponse struct {
	Error string      `json:"error"`
	Pins  []model.Pin `json:"pins"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError переводит ошибку сервиса в HTTP-статус. Внутренние ошибки только в лог.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var capErr *service.PinCapacityError
	switch {
	case errors.As(err, &capErr):
		writeJSON(w, http.StatusConflict, capacityResponse{Error: service.ErrPinCapacityReached.Error(), Pins: capErr.Pins})
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrEditWindowExpired),
		errors.Is(err, service.ErrAlreadyDeleted),
		errors.Is(err, service.ErrNotDeleted),
		errors.Is(err, service.ErrPinCapacityReached):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidDuration),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, model.ErrInvalidConversation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// actorID: кто выполняет действие. Аутентифицированный user_id из контекста главнее;
// userId из тела допустим без него (dev, доверенная сеть) и должен с ним совпадать.
func actorID(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	authed := middleware.GetUserID(r.Context())
	switch {
	case authed == "" && claimed == "":
		writeError(w, http.StatusBadRequest, "userId is required")
		return "", false
	case authed == "":
		return claimed, true
	case claimed != "" && claimed != authed:
		writeError(w, http.StatusForbidden, "userId does not match the authenticated user")
		return "", false
	}
	return authed, true
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func queryInt64(r *http.Request, key string) int64 {
	n, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return n
}

func queryConversation(w http.ResponseWriter, r *http.Request) (model.ConversationRef, bool) {
	conv, err := model.ParseConversation(r.URL.Query().Get("conversationRef"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return model.ConversationRef{}, false
	}
	return conv, true
}

func messageIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return 0, false
	}
	return id, true
}
