package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Auth checks HS256 bearer tokens. A nil Auth lets every request through.
type Auth struct {
	secret []byte
	logger *slog.Logger
}

func NewAuth(secret string, logger *slog.Logger) *Auth {
	if secret == "" {
		return nil
	}
	return &Auth{secret: []byte(secret), logger: logger}
}

// token reads the Authorization header, or the token query parameter since
// browsers cannot set headers on websocket requests.
func token(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		t, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return "", errors.New("authorization is not a bearer token")
		}
		return t, nil
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}
	return "", errors.New("no token")
}

func (a *Auth) verify(tokenString string) (string, error) {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	return sub, nil
}

func (a *Auth) Require(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t, err := token(r)
		if err == nil {
			var sub string
			if sub, err = a.verify(t); err == nil {
				a.logger.Debug("authorized", slog.String("sub", sub), slog.String("path", r.URL.Path))
				next.ServeHTTP(w, r)
				return
			}
		}
		a.logger.Warn("unauthorized request", slog.String("path", r.URL.Path), slog.String("remote", r.RemoteAddr), slog.Any("err", err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}
