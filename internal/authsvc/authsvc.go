// Package authsvc implements the hub's single-shared-bearer-token
// auth model (spec.md §4.3.1, "Auth model" design note): a request is
// authorized by the configured bearer token or an unexpired session
// cookie minted on first successful token use. The auth-session table
// is a process-local singleton with a single-writer zone, matching
// spec.md §5's "Shared state policy".
package authsvc

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"
)

// IdleTimeout is the auth-session idle eviction window (spec.md §3,
// 24h).
const IdleTimeout = 24 * time.Hour

// Session is one minted auth session.
type Session struct {
	Token    string
	Created  time.Time
	LastSeen time.Time
}

// Table is the in-memory auth-session store.
type Table struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewTable returns an empty auth-session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// CheckToken reports whether candidate matches token using a
// constant-time comparison, guarding against timing side-channels the
// same way the webhook HMAC check does (spec.md §4.3).
func CheckToken(candidate, token string) bool {
	if len(candidate) != len(token) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1
}

// Mint creates a new 256-bit session token and stores it.
func (t *Table) Mint() (*Session, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	sess := &Session{
		Token:    hex.EncodeToString(buf),
		Created:  time.Now(),
		LastSeen: time.Now(),
	}

	t.mu.Lock()
	t.sessions[sess.Token] = sess
	t.mu.Unlock()
	return sess, nil
}

// Touch validates token and, if it's a live session, extends LastSeen
// and reports true.
func (t *Table) Touch(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[token]
	if !ok {
		return false
	}
	if time.Since(sess.LastSeen) > IdleTimeout {
		delete(t.sessions, token)
		return false
	}
	sess.LastSeen = time.Now()
	return true
}

// Sweep evicts sessions idle for longer than IdleTimeout. Run hourly
// (spec.md §5).
func (t *Table) Sweep() {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for token, sess := range t.sessions {
		if now.Sub(sess.LastSeen) > IdleTimeout {
			delete(t.sessions, token)
		}
	}
}

// Count returns the number of live sessions (test/diagnostic use).
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
