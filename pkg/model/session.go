package model

import "github.com/google/uuid"

// Session is the per-connection authentication state. It is owned by the
// connection's worker goroutine and never shared.
type Session struct {
	ID         string // connection ID, unique per accepted connection
	RemoteAddr string
	Username   string // empty while anonymous
	IsAdmin    bool

	authenticated bool
}

// NewSession creates an anonymous session with a fresh connection ID.
func NewSession(remoteAddr string) *Session {
	return &Session{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
	}
}

// Authenticated reports whether the session is in the Authenticated state.
func (s *Session) Authenticated() bool {
	return s.authenticated
}

// Role returns the session's permission level. Anonymous sessions hold RoleUser
// but are rejected before any permission check.
func (s *Session) Role() Role {
	return RoleFor(s.IsAdmin)
}

// Login moves the session to Authenticated.
func (s *Session) Login(username string, isAdmin bool) {
	s.authenticated = true
	s.Username = username
	s.IsAdmin = isAdmin
}

// Logout moves the session back to Anonymous.
func (s *Session) Logout() {
	s.authenticated = false
	s.Username = ""
	s.IsAdmin = false
}
