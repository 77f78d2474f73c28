// Package memstore provides in-memory session and user stores for development mode and tests.
package memstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/ports"
)

var (
	_ ports.SessionStore = (*SessionStore)(nil)
	_ ports.UserStore    = (*UserStore)(nil)
)

// SessionStore keeps sessions in a map guarded by a RWMutex. Every Save sweeps
// other sessions past their expiry, like a TTL would in Redis.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domainauth.Session
	now      func() time.Time
}

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domainauth.Session), now: time.Now}
}

func (s *SessionStore) Save(_ context.Context, sess domainauth.Session) error {
	if sess.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, old := range s.sessions {
		if id != sess.ID && old.Expired(now) {
			delete(s.sessions, id)
		}
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (domainauth.Session, error) {
	if id == "" {
		return domainauth.Session{}, ports.ErrNotFound
	}
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return domainauth.Session{}, ports.ErrNotFound
	}
	return sess, nil
}

func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len returns the number of stored sessions. Expired ones not yet swept are counted.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// UserStore keeps accounts keyed by id with a lower-cased email index.
type UserStore struct {
	mu      sync.RWMutex
	byID    map[string]domainauth.User
	byEmail map[string]string
	now     func() time.Time
}

// NewUserStore creates an empty in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[string]domainauth.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (domainauth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domainauth.User{}, ports.ErrNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *UserStore) GetByID(_ context.Context, id string) (domainauth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return domainauth.User{}, ports.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *UserStore) Create(_ context.Context, in ports.CreateUserInput) (domainauth.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return domainauth.User{}, errors.New("email is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return domainauth.User{}, ports.ErrConflict
	}
	now := s.now().UTC()
	u := domainauth.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         in.Name,
		Roles:        append([]domainauth.Role(nil), in.Roles...),
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[u.ID] = u
	s.byEmail[email] = u.ID
	return cloneUser(u), nil
}

func (s *UserStore) UpdateLastUsedPortal(_ context.Context, id string, portal domainauth.Portal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ports.ErrNotFound
	}
	u.LastUsedPortal = portal
	u.UpdatedAt = s.now().UTC()
	s.byID[id] = u
	return nil
}

// SetDisabled toggles the disabled flag. Used by admin tooling and tests.
func (s *UserStore) SetDisabled(id string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ports.ErrNotFound
	}
	u.Disabled = disabled
	s.byID[id] = u
	return nil
}

// SetRoles replaces the stored role set.
func (s *UserStore) SetRoles(id string, roles []domainauth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ports.ErrNotFound
	}
	u.Roles = append([]domainauth.Role(nil), roles...)
	s.byID[id] = u
	return nil
}

func cloneUser(u domainauth.User) domainauth.User {
	u.Roles = append([]domainauth.Role(nil), u.Roles...)
	return u
}
