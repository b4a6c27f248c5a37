package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issue(t *testing.T, method jwt.SigningMethod, key any, claims TokenClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestJWTUser(t *testing.T) {
	secret := []byte("jwt-secret")
	h := JWTUser(secret)(echoUser())
	valid := TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/presence", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, jwt.SigningMethodHS256, secret, valid))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	t.Run("user_id claim wins over sub", func(t *testing.T) {
		c := valid
		c.UserID = "bob"
		req := httptest.NewRequest(http.MethodGet, "/ws?token="+issue(t, jwt.SigningMethodHS256, secret, c), nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bob", rec.Body.String())
	})

	cases := map[string]string{
		"missing":      "",
		"wrong secret": "Bearer " + issue(t, jwt.SigningMethodHS256, []byte("other"), valid),
		"expired": "Bearer " + issue(t, jwt.SigningMethodHS256, secret, TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}}),
		"no expiry":  "Bearer " + issue(t, jwt.SigningMethodHS256, secret, TokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}}),
		"no subject": "Bearer " + issue(t, jwt.SigningMethodHS256, secret, TokenClaims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: valid.ExpiresAt}}),
		"basic auth": "Basic YWxpY2U6cHc=",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/presence", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}
