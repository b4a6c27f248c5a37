package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	TimestampSkew = 30 * time.Second
	// MaxSignedBody: тело читается целиком для подписи, поэтому ограничено тем же лимитом, что и JSON-ручки.
	MaxSignedBody = 64 << 10
)

// TrustedUser берёт user_id из X-User-Id (или ?user_id= для WebSocket).
// Только за шлюзом, который сам аутентифицирует клиента.
func TrustedUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if userID == "" {
			userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
		}
		if userID != "" {
			r = r.WithContext(WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// SignedUser проверяет X-User-Id + X-Timestamp + X-Signature, где
// signature = hex(HMAC-SHA256(secret, method + path + body + timestamp + user_id)).
// Для WebSocket параметры можно передать в query.
func SignedUser(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := headerOrQuery(r, "X-User-Id", "user_id")
			timestampStr := headerOrQuery(r, "X-Timestamp", "timestamp")
			signature := headerOrQuery(r, "X-Signature", "signature")
			if userID == "" || timestampStr == "" || signature == "" {
				writeUnauthorized(w)
				return
			}
			ts, err := strconv.ParseInt(timestampStr, 10, 64)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			reqTime := time.Unix(ts, 0)
			if time.Since(reqTime) > TimestampSkew || time.Until(reqTime) > TimestampSkew {
				writeUnauthorized(w)
				return
			}
			var body []byte
			if r.Body != nil {
				body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, MaxSignedBody))
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
					return
				}
				if err != nil {
					http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
			expected := Sign(secret, r.Method, r.URL.Path, body, timestampStr, userID)
			if !hmac.Equal([]byte(signature), []byte(expected)) {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// Sign считает подпись запроса так же, как её проверяет SignedUser.
func Sign(secret []byte, method, path string, body []byte, timestamp, userID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(method + path))
	mac.Write(body)
	mac.Write([]byte(timestamp + userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func headerOrQuery(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}
