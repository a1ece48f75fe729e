// Package session holds the per-client credential state: the upstream bearer
// token after a completed login, or the pending two-factor ticket between the
// two login steps. A session never holds both.
package session

import (
	"sync"
	"time"
)

// State is the authentication state of a session.
type State int

const (
	Anonymous State = iota
	AwaitingVerification
	Authenticated
)

func (s State) String() string {
	switch s {
	case AwaitingVerification:
		return "AWAITING_VERIFICATION"
	case Authenticated:
		return "AUTHENTICATED"
	default:
		return "ANONYMOUS"
	}
}

// Session is safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	token     string
	ticket    string
	hasTicket bool // an empty ticket is still a pending verification
	account   string
	lastSeen  time.Time
}

// New returns an anonymous session.
func New(id string, now time.Time) *Session {
	return &Session{ID: id, CreatedAt: now, lastSeen: now}
}

// SetToken stores the bearer token and drops any pending ticket.
// An empty token leaves the session anonymous.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.ticket = ""
	s.hasTicket = false
}

// Token returns the bearer token, if any.
func (s *Session) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// BeginVerification records the ticket returned by the first login step and
// the account it belongs to. Any previous token is dropped.
func (s *Session) BeginVerification(ticket, account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.ticket = ticket
	s.hasTicket = true
	s.account = account
}

// PendingTicket returns the two-factor ticket; ok is true even when the ticket is "".
func (s *Session) PendingTicket() (ticket string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticket, s.hasTicket
}

// Account returns the account identifier of the last login attempt.
func (s *Session) Account() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// SetAccount records the account identifier without touching credentials.
func (s *Session) SetAccount(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = account
}

// Clear drops token, ticket and account. It reports whether anything was held.
func (s *Session) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.token != "" || s.hasTicket
	s.token = ""
	s.ticket = ""
	s.hasTicket = false
	s.account = ""
	return had
}

// State derives the authentication state from the held credentials.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.token != "":
		return Authenticated
	case s.hasTicket:
		return AwaitingVerification
	default:
		return Anonymous
	}
}

// Touch records activity for idle expiry.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen returns the time of the last recorded activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
