package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Nil(t, NewAuth("", logger))

	auth := NewAuth("hangar-door", logger)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := auth.Require(ok)

	valid := sign(t, jwt.SigningMethodHS256, []byte("hangar-door"), jwt.MapClaims{
		"sub": "pilot",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	for name, test := range map[string]struct {
		header, query string
		want          int
	}{
		"no token":   {want: http.StatusUnauthorized},
		"header":     {header: "Bearer " + valid, want: http.StatusOK},
		"query":      {query: "?token=" + valid, want: http.StatusOK},
		"basic auth": {header: "Basic cGlsb3Q6cGlsb3Q=", want: http.StatusUnauthorized},
		"wrong key": {header: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("garage-door"), jwt.MapClaims{
			"sub": "pilot",
		}), want: http.StatusUnauthorized},
		"expired": {header: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("hangar-door"), jwt.MapClaims{
			"sub": "pilot",
			"exp": time.Now().Add(-time.Hour).Unix(),
		}), want: http.StatusUnauthorized},
		"none alg": {header: "Bearer " + sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{
			"sub": "pilot",
		}), want: http.StatusUnauthorized},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/command"+test.query, nil)
			if test.header != "" {
				req.Header.Set("Authorization", test.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, test.want, rec.Code)
		})
	}
}

func TestStatusIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.auth = NewAuth("hangar-door", srv.logger)
	h := srv.Handler(t.TempDir())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/loglevel", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
