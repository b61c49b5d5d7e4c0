// Package auth issues and verifies the short-lived session tokens that gate
// the network entry point.
package auth

import (
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/bobarin/storyforge/internal/storyerr"
	"github.com/google/uuid"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 5 * time.Minute

// SessionToken is an opaque credential proving a prior successful login.
type SessionToken struct {
	Value     string
	ExpiresAt time.Time
}

// Clock returns the current time.
type Clock func() time.Time

// TokenSource produces a fresh opaque token value.
type TokenSource func() (string, error)

// SessionStore maps issued token values to their expiry. Expired entries are
// never purged; validity is decided at lookup time. Only successful logins
// insert, so the map cannot be grown by failed attempts.
type SessionStore struct {
	username string
	password string
	ttl      time.Duration
	now      Clock
	newToken TokenSource

	mu     sync.Mutex
	tokens map[string]time.Time
}

// Option customizes a SessionStore.
type Option func(*SessionStore)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *SessionStore) { s.now = c }
}

// WithTokenSource replaces the random token generator.
func WithTokenSource(src TokenSource) Option {
	return func(s *SessionStore) { s.newToken = src }
}

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *SessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewSessionStore creates a store that accepts exactly one credential pair.
// If either credential is empty every login fails.
func NewSessionStore(username, password string, opts ...Option) *SessionStore {
	s := &SessionStore{
		username: username,
		password: password,
		ttl:      DefaultTTL,
		now:      time.Now,
		newToken: randomToken,
		tokens:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login issues a token when username and password match the configured pair
// exactly.
func (s *SessionStore) Login(username, password string) (SessionToken, error) {
	if !s.credentialsMatch(username, password) {
		return SessionToken{}, storyerr.New(storyerr.KindInvalidCredentials, "login", nil)
	}

	value, err := s.newToken()
	if err != nil {
		return SessionToken{}, fmt.Errorf("failed to generate session token: %w", err)
	}

	tok := SessionToken{Value: value, ExpiresAt: s.now().Add(s.ttl)}

	s.mu.Lock()
	s.tokens[tok.Value] = tok.ExpiresAt
	s.mu.Unlock()

	return tok, nil
}

// Authorize fails unless token was issued by Login and has not yet expired.
// A token is expired from the instant now reaches its expiry.
func (s *SessionStore) Authorize(token string) error {
	s.mu.Lock()
	expiry, ok := s.tokens[token]
	s.mu.Unlock()

	if !ok || !s.now().Before(expiry) {
		return storyerr.New(storyerr.KindInvalidOrExpiredToken, "authorize", nil)
	}
	return nil
}

func (s *SessionStore) credentialsMatch(username, password string) bool {
	if s.username == "" || s.password == "" {
		return false
	}
	// Evaluate both comparisons so timing does not reveal which field differed.
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password))
	return userOK&passOK == 1
}

func randomToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
