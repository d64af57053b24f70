package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
)

// tokenAuth checks bearer tokens against a bcrypt hash. The digest of
// the last accepted token is remembered so that steady polling does not
// pay the bcrypt cost on every request.
type tokenAuth struct {
	hash     []byte
	accepted atomic.Pointer[[sha256.Size]byte]
}

func newTokenAuth(hash string) (*tokenAuth, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("api token_hash is not a bcrypt hash: %w", err)
	}
	return &tokenAuth{hash: []byte(hash)}, nil
}

// HashToken returns a bcrypt hash suitable for api.token_hash.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(h), nil
}

func (a *tokenAuth) check(token string) bool {
	if token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	if prev := a.accepted.Load(); prev != nil && subtle.ConstantTimeCompare(prev[:], sum[:]) == 1 {
		return true
	}
	if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
		return false
	}
	a.accepted.Store(&sum)
	return true
}

// requestToken extracts the bearer token. Browsers cannot set headers on
// WebSocket upgrades, so an access_token query parameter is accepted as
// well.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

func (a *tokenAuth) middleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.check(requestToken(r)) {
			logger.Warn("unauthorized request", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Bearer realm="envnode"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"}, logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}
