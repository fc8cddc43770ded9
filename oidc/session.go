// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is the authentication state of a session.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusPendingCallback Status = "pending_callback"
	StatusAuthenticated   Status = "authenticated"
	StatusLoggedOut       Status = "logged_out"
)

// Session is the per-user state the Authenticator reads and writes through a
// SessionStore. A session is only ever replaced as a whole, so it's never
// half authenticated.
type Session struct {
	// FlowState is the pending authorization code flow, if any.
	FlowState *FlowState

	// Principal is the authenticated user, if any.
	Principal *Principal

	// Tokens are the authenticated user's tokens, if any.
	Tokens *TokenSet

	// LoggedOut marks a tombstone left by Logout or a failed refresh.
	LoggedOut bool

	UpdatedAt time.Time
}

// Status derives the session's Status.
func (s *Session) Status() Status {
	switch {
	case s == nil:
		return StatusIdle
	case s.FlowState != nil:
		return StatusPendingCallback
	case s.LoggedOut:
		return StatusLoggedOut
	case s.Principal != nil && s.Tokens != nil:
		return StatusAuthenticated
	default:
		return StatusIdle
	}
}

// Copy returns a deep copy of the Session.
func (s *Session) Copy() *Session {
	if s == nil {
		return nil
	}
	return &Session{
		FlowState: s.FlowState.Copy(),
		Principal: s.Principal.Copy(),
		Tokens:    s.Tokens.Copy(),
		LoggedOut: s.LoggedOut,
		UpdatedAt: s.UpdatedAt,
	}
}

// SessionStore is an opaque key/value store of sessions, keyed by an opaque
// session id. Implementations must be safe for concurrent use, and each Put
// must replace the stored session atomically.
type SessionStore interface {
	// Get returns the session, or ErrNotFound when there isn't one.
	Get(ctx context.Context, id string) (*Session, error)

	// Put stores the session, replacing any existing session.
	Put(ctx context.Context, id string, s *Session) error

	// Delete removes the session. Deleting a missing session isn't an error.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory SessionStore. It stores copies, so sessions
// returned by Get can't be used to modify the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ SessionStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*Session{}}
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	const op = "MemoryStore.Get"
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: session %q: %w", op, id, ErrNotFound)
	}
	return s.Copy(), nil
}

// Put stores a copy of the session.
func (m *MemoryStore) Put(_ context.Context, id string, s *Session) error {
	const op = "MemoryStore.Put"
	switch {
	case id == "":
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	case s == nil:
		return fmt.Errorf("%s: session is nil: %w", op, ErrNilParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = s.Copy()
	return nil
}

// Delete removes the session.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// keyedMutex serialises work per key. Locks for different keys never block
// each other.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock locks key and returns the func that unlocks it.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*keyedLock{}
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
