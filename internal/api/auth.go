package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidToken      = errors.New("invalid token")
)

// AuthMiddleware authenticates callers against a static bearer token. The
// token's hash doubles as the rate-limit client id so logs never carry the
// secret itself.
type AuthMiddleware struct {
	token string
}

func NewAuthMiddleware(token string) *AuthMiddleware {
	return &AuthMiddleware{token: token}
}

func (am *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No token configured: auth disabled (local development).
		if am.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, ErrMissingAuthHeader.Error())
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(am.token)) != 1 {
			writeError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyClientID, clientID(token))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
