package seedr

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// SessionCookie is the cookie whose value doubles as the bearer token
const SessionCookie = "RSESS_session"

// Credential is the opaque session material relayed to the backend
type Credential struct {
	Cookies []string // name=value pairs, attributes stripped
	Token   string
}

// Empty reports whether there is anything to relay
func (c Credential) Empty() bool {
	return len(c.Cookies) == 0 && c.Token == ""
}

// CookieHeader renders the cookies as a single Cookie header value
func (c Credential) CookieHeader() string {
	return strings.Join(c.Cookies, "; ")
}

// Key identifies the session without exposing it
func (c Credential) Key() string {
	sum := sha256.Sum256([]byte(c.CookieHeader() + "|" + c.Token))
	return hex.EncodeToString(sum[:])
}

// CredentialFromSetCookies builds a credential from raw Set-Cookie lines,
// keeping only each line's name=value pair.
func CredentialFromSetCookies(lines []string) Credential {
	var cred Credential
	for _, line := range lines {
		pair := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		if pair == "" || !strings.Contains(pair, "=") {
			continue
		}
		cred.Cookies = append(cred.Cookies, pair)
		if name, value, _ := strings.Cut(pair, "="); name == SessionCookie && value != "" {
			cred.Token = value
		}
	}
	return cred
}

// ParseCookieHeader builds a credential from a "a=1; b=2" string
func ParseCookieHeader(header string) Credential {
	return CredentialFromSetCookies(strings.Split(header, ";"))
}

// SessionStore holds the active credential. Invalidate is called by the
// client on 401/403 and notifies every subscriber.
type SessionStore interface {
	Credential() (Credential, bool)
	Invalidate(cause error)
	Subscribe(fn func(cause error)) (unsubscribe func())
}

// MemoryStore is a process-local SessionStore
type MemoryStore struct {
	mu    sync.Mutex
	cred  Credential
	valid bool
	subs  map[int]func(error)
	next  int
}

// NewMemoryStore creates a store holding cred
func NewMemoryStore(cred Credential) *MemoryStore {
	return &MemoryStore{
		cred:  cred,
		valid: !cred.Empty(),
		subs:  make(map[int]func(error)),
	}
}

// Credential returns the credential and whether it is still usable
func (s *MemoryStore) Credential() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, s.valid
}

// Set replaces the credential, e.g. after a fresh login
func (s *MemoryStore) Set(cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	s.valid = !cred.Empty()
}

// Invalidate marks the credential unusable. Subscribers are notified once
// per transition, outside the lock.
func (s *MemoryStore) Invalidate(cause error) {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return
	}
	s.valid = false
	subs := make([]func(error), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(cause)
	}
}

// Subscribe registers fn for invalidation notifications
func (s *MemoryStore) Subscribe(fn func(cause error)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
