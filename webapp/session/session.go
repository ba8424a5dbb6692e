// Package session holds the in-memory authentication state of a running
// front-end: the signed-in user, their token pair and resolved permissions.
package session

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/edulane/shule/core/user"
)

var ErrPartialSession = errors.New("session requires both a user and an access token")

// Session is an immutable snapshot of the authenticated state. A zero
// Session means signed out.
type Session struct {
	User         *user.User `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	Permissions  []string   `json:"permissions"`
}

func (s Session) IsAuthenticated() bool {
	return s.User != nil && s.AccessToken != ""
}

// Role returns the session role, or "" when signed out.
func (s Session) Role() user.Role {
	if s.User == nil {
		return ""
	}
	return s.User.Role
}

// HasPermission reports whether the session carries the given permission.
// Falls back to the user's own grant when the server sent no permission list.
func (s Session) HasPermission(perm string) bool {
	if s.User == nil {
		return false
	}
	if s.Permissions == nil {
		return s.User.HasPermission(perm)
	}
	for _, p := range s.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Store is the single source of truth for the current Session. Safe for
// concurrent use.
type Store struct {
	mu   sync.RWMutex
	cur  Session
	subs []func(Session)
}

func NewStore() *Store {
	return &Store{}
}

// Get returns a snapshot of the current session.
func (st *Store) Get() Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.cur
}

// Set replaces the current session. The user and the access token go
// together; a half-set session is rejected so observers never see a user
// without credentials or credentials without a user.
func (st *Store) Set(sess Session) error {
	if (sess.User == nil) != (sess.AccessToken == "") {
		return ErrPartialSession
	}
	if sess.Permissions != nil {
		perms := make([]string, len(sess.Permissions))
		copy(perms, sess.Permissions)
		sort.Strings(perms)
		sess.Permissions = perms
	}

	st.mu.Lock()
	st.cur = sess
	subs := st.subs
	st.mu.Unlock()

	for _, fn := range subs {
		fn(sess)
	}
	return nil
}

// Clear signs the session out.
func (st *Store) Clear() {
	_ = st.Set(Session{})
}

// Subscribe registers fn to run after every session change, including
// Clear. The callback receives the new snapshot.
func (st *Store) Subscribe(fn func(Session)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.subs = append(st.subs, fn)
}
