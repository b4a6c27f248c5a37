package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestTrustedUser(t *testing.T) {
	h := TrustedUser(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/api/presence", nil)
	req.Header.Set("X-User-Id", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "alice", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/ws?user_id=bob", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "bob", rec.Body.String())
}

func signedRequest(secret []byte, userID string, ts time.Time, body string) *http.Request {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body))
	req.Header.Set("X-User-Id", userID)
	req.Header.Set("X-Timestamp", stamp)
	req.Header.Set("X-Signature", Sign(secret, http.MethodPost, "/api/messages", []byte(body), stamp, userID))
	return req
}

func TestSignedUser(t *testing.T) {
	secret := []byte("s3cret")
	h := SignedUser(secret)(echoUser())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(secret, "alice", time.Now(), `{"body":"hi"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	t.Run("wrong secret", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedRequest([]byte("other"), "alice", time.Now(), `{}`))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("stale timestamp", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedRequest(secret, "alice", time.Now().Add(-time.Minute), `{}`))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("impersonation", func(t *testing.T) {
		req := signedRequest(secret, "alice", time.Now(), `{}`)
		req.Header.Set("X-User-Id", "mallory")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("missing headers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pins", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("oversized body", func(t *testing.T) {
		big := `{"body":"` + strings.Repeat("x", MaxSignedBody) + `"}`
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedRequest(secret, "alice", time.Now(), big))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
	t.Run("body at the limit", func(t *testing.T) {
		body := strings.Repeat("x", MaxSignedBody)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedRequest(secret, "alice", time.Now(), body))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAuthServiceValidate(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/internal/validate", r.URL.Path)
		if req["token"] != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"user_id": "carol"})
	}))
	defer auth.Close()

	h := AuthServiceValidate(auth.URL, auth.Client())(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/api/pins", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/ws?token=bad", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInternalOnly(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := InternalOnly("k")(ok)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "8.8.8.8:5555"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.Header.Set("X-Internal-Secret", "k")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimitByIP(t *testing.T) {
	h := RateLimit(1, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/pins", nil)
		req.Header.Set("X-Real-Ip", "10.0.0.9")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// другой IP: свой bucket
	req := httptest.NewRequest(http.MethodGet, "/api/pins", nil)
	req.Header.Set("X-Real-Ip", "10.0.0.10")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLimiterPoolEvictsIdle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := newLimiterPool(1, 1)
	p.now = func() time.Time { return now }

	assert.True(t, p.allow("a"))
	assert.False(t, p.allow("a"))
	now = now.Add(limiterTTL + 2*time.Minute)
	assert.True(t, p.allow("b"))
	_, kept := p.m["a"]
	assert.False(t, kept)
}

func TestRecoverJSON(t *testing.T) {
	h := RequestLog(RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/presence", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRecoverJSONAfterWrite(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", bytes.NewReader(nil)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}
