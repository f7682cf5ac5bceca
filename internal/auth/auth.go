// Package auth resolves the local credential and identity. The backend
// owns token verification; the client only decodes the claims it needs.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken indicates no credential is available. An anonymous user
// simply has no live channel; callers treat this as "do nothing", not as
// a failure.
var ErrNoToken = errors.New("no auth token available")

// Session holds the bearer token and the identity derived from it.
// Identity resolution can lag behind token availability, so UserID is
// re-derived lazily.
type Session struct {
	mu     sync.RWMutex
	token  string
	userID int64
}

// NewSession creates a session around a token. An empty token is allowed;
// the session then represents an anonymous user.
func NewSession(token string) *Session {
	s := &Session{}
	s.SetToken(token)
	return s
}

// SetToken replaces the credential and re-derives the identity.
func (s *Session) SetToken(token string) {
	id, _ := UserIDFromToken(token)
	s.mu.Lock()
	s.token = token
	s.userID = id
	s.mu.Unlock()
}

// Token returns the current bearer token, empty for anonymous sessions.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// UserID returns the local user's id, or 0 if unknown.
func (s *Session) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Authenticated reports whether a credential is present.
func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// UserIDFromToken decodes the user id from the JWT claims without
// verifying the signature. Verification is the backend's job; the client
// only needs to know who it is talking as. Supported claims, in order:
// "userId", "uid", numeric "sub".
func UserIDFromToken(token string) (int64, error) {
	if token == "" {
		return 0, ErrNoToken
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("decode token: %w", err)
	}

	for _, key := range []string{"userId", "uid"} {
		if v, ok := claims[key]; ok {
			if id, ok := claimInt64(v); ok && id > 0 {
				return id, nil
			}
		}
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		if id, err := strconv.ParseInt(sub, 10, 64); err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, errors.New("token carries no user id claim")
}

func claimInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}

// TokenFromEnv loads the bearer token from CRAFTCHAT_TOKEN, or from the
// file named by CRAFTCHAT_TOKEN_FILE.
func TokenFromEnv() string {
	if tok := os.Getenv("CRAFTCHAT_TOKEN"); tok != "" {
		return tok
	}
	if path := os.Getenv("CRAFTCHAT_TOKEN_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(raw))
		}
	}
	return ""
}
