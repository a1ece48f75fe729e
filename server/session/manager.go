package session

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

const (
	DefaultCookieName = "bambuwatch_session"
	DefaultMaxAge     = 30 * 24 * time.Hour

	signingKeySize = 32
)

var hkdfInfoCookie = []byte("bambuwatch.session.cookie.v1")

// Options configures a Manager.
type Options struct {
	// Secret is the input key material for cookie signing. When empty a random
	// secret is generated, so cookies do not survive a restart.
	Secret     string
	CookieName string
	Secure     bool
	MaxAge     time.Duration
	Now        func() time.Time
}

// Manager keeps sessions in memory and binds them to signed cookies.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	codec      *securecookie.SecureCookie
	cookieName string
	secure     bool
	maxAge     time.Duration
	now        func() time.Time
}

// NewManager derives the cookie signing key and returns an empty Manager.
func NewManager(opts Options) (*Manager, error) {
	ikm := []byte(opts.Secret)
	if len(ikm) == 0 {
		ikm = make([]byte, signingKeySize)
		if _, err := rand.Read(ikm); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	key, err := deriveKey(ikm, hkdfInfoCookie)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		sessions:   make(map[string]*Session),
		cookieName: opts.CookieName,
		secure:     opts.Secure,
		maxAge:     opts.MaxAge,
		now:        opts.Now,
	}
	if m.cookieName == "" {
		m.cookieName = DefaultCookieName
	}
	if m.maxAge <= 0 {
		m.maxAge = DefaultMaxAge
	}
	if m.now == nil {
		m.now = time.Now
	}
	// The cookie only carries the session id; idle expiry is enforced
	// server-side, the codec timestamp bounds replay of old cookies.
	m.codec = securecookie.New(key, nil).
		SetSerializer(securecookie.JSONEncoder{}).
		MaxAge(int(m.maxAge / time.Second))
	return m, nil
}

func deriveKey(inputKeyMaterial, info []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, signingKeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return derived, nil
}

// Lookup returns the session referenced by the request cookie, or nil when the
// cookie is absent, forged, or the session expired.
func (m *Manager) Lookup(r *http.Request) *Session {
	c, err := r.Cookie(m.cookieName)
	if err != nil {
		return nil
	}
	id, ok := m.verify(c.Value)
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.sessions[id]
	if sess == nil {
		return nil
	}
	now := m.now()
	if now.Sub(sess.LastSeen()) > m.maxAge {
		delete(m.sessions, id)
		return nil
	}
	sess.Touch(now)
	return sess
}

// Ensure returns the request's session, creating one and setting its cookie
// when none exists. Sessions are created empty (anonymous).
func (m *Manager) Ensure(w http.ResponseWriter, r *http.Request) *Session {
	if sess := m.Lookup(r); sess != nil {
		return sess
	}

	sess := New(uuid.NewString(), m.now())
	value, err := m.sign(sess.ID)
	if err != nil {
		// The session still serves this request; the client just gets no cookie.
		return sess
	}
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(m.maxAge / time.Second),
		HttpOnly: true,
		Secure:   m.secure || requestIsHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

// Destroy drops the request's session and expires its cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(m.cookieName); err == nil {
		if id, ok := m.verify(c.Value); ok {
			m.mu.Lock()
			delete(m.sessions, id)
			m.mu.Unlock()
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.secure || requestIsHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// Sweep removes sessions idle for longer than the max age and returns how many were dropped.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, sess := range m.sessions {
		if now.Sub(sess.LastSeen()) > m.maxAge {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.cookieName }

func (m *Manager) sign(id string) (string, error) {
	return m.codec.Encode(m.cookieName, id)
}

func (m *Manager) verify(value string) (string, bool) {
	var id string
	if err := m.codec.Decode(m.cookieName, value, &id); err != nil || id == "" {
		return "", false
	}
	return id, true
}

func requestIsHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
