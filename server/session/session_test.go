package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// assertExclusive checks that token and ticket are never both held.
func assertExclusive(t *testing.T, s *Session) {
	t.Helper()
	_, hasToken := s.Token()
	_, hasTicket := s.PendingTicket()
	if hasToken && hasTicket {
		t.Fatalf("session %s holds both token and ticket", s.ID)
	}
}

func TestSessionTransitions(t *testing.T) {
	t.Parallel()

	s := New("s1", time.Now())
	if s.State() != Anonymous {
		t.Fatalf("new session state = %v, want ANONYMOUS", s.State())
	}

	s.BeginVerification("", "maker@example.com")
	assertExclusive(t, s)
	if s.State() != AwaitingVerification {
		t.Fatalf("state = %v, want AWAITING_VERIFICATION", s.State())
	}
	ticket, ok := s.PendingTicket()
	if !ok || ticket != "" {
		t.Fatalf("PendingTicket() = %q, %v; empty ticket must still count as pending", ticket, ok)
	}
	if s.Account() != "maker@example.com" {
		t.Errorf("Account() = %q", s.Account())
	}

	s.SetToken("tok-1")
	assertExclusive(t, s)
	if s.State() != Authenticated {
		t.Fatalf("state = %v, want AUTHENTICATED", s.State())
	}
	if _, ok := s.PendingTicket(); ok {
		t.Error("SetToken must drop the pending ticket")
	}

	s.BeginVerification("tk-2", "maker@example.com")
	assertExclusive(t, s)
	if tok, ok := s.Token(); ok || tok != "" {
		t.Error("BeginVerification must drop the token")
	}

	if !s.Clear() {
		t.Error("Clear() should report held credentials")
	}
	if s.Clear() {
		t.Error("second Clear() should report nothing held")
	}
	if s.State() != Anonymous || s.Account() != "" {
		t.Errorf("after Clear state=%v account=%q", s.State(), s.Account())
	}
}

func TestSetEmptyTokenIsAnonymous(t *testing.T) {
	t.Parallel()

	s := New("s2", time.Now())
	s.SetToken("")
	if s.State() != Anonymous {
		t.Errorf("state = %v, want ANONYMOUS", s.State())
	}
}

func TestSessionConcurrentInvariant(t *testing.T) {
	t.Parallel()

	s := New("s3", time.Now())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				switch (i + j) % 3 {
				case 0:
					s.SetToken("tok")
				case 1:
					s.BeginVerification("tk", "a")
				default:
					s.Clear()
				}
				assertExclusive(t, s)
			}
		}(i)
	}
	wg.Wait()
}

func TestStateString(t *testing.T) {
	t.Parallel()

	if Authenticated.String() != "AUTHENTICATED" || Anonymous.String() != "ANONYMOUS" {
		t.Error("unexpected state names")
	}
}

func TestManagerEnsureAndLookup(t *testing.T) {
	t.Parallel()

	m, err := NewManager(Options{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	sess := m.Ensure(rec, req)
	if sess == nil || sess.State() != Anonymous {
		t.Fatalf("Ensure() = %+v", sess)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != DefaultCookieName {
		t.Fatalf("expected session cookie, got %v", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/printer-status", nil)
	req2.AddCookie(cookies[0])
	if got := m.Lookup(req2); got != sess {
		t.Errorf("Lookup() returned a different session")
	}

	rec2 := httptest.NewRecorder()
	if got := m.Ensure(rec2, req2); got != sess {
		t.Errorf("Ensure() should reuse the cookie's session")
	}
	if len(rec2.Result().Cookies()) != 0 {
		t.Error("Ensure() should not reissue a cookie for an existing session")
	}
}

func TestManagerRejectsForgedCookie(t *testing.T) {
	t.Parallel()

	m, _ := NewManager(Options{Secret: "a"})
	other, _ := NewManager(Options{Secret: "b"})

	rec := httptest.NewRecorder()
	sess := m.Ensure(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookie := rec.Result().Cookies()[0]

	if strings.Contains(cookie.Value, sess.ID) {
		t.Errorf("cookie value exposes the raw session id: %q", cookie.Value)
	}

	tampered := *cookie
	flipped := []byte(cookie.Value)
	mid := len(flipped) / 2
	if flipped[mid] == 'A' {
		flipped[mid] = 'B'
	} else {
		flipped[mid] = 'A'
	}
	tampered.Value = string(flipped)

	// Same key, different cookie name: the value must not decode.
	renamed, _ := NewManager(Options{Secret: "a", CookieName: "other_cookie"})
	if _, ok := renamed.verify(cookie.Value); ok {
		t.Error("cookie value decoded under another cookie name")
	}
	if id, ok := m.verify(cookie.Value); !ok || id != sess.ID {
		t.Errorf("verify() = %q, %v; want %q, true", id, ok, sess.ID)
	}

	for name, c := range map[string]*http.Cookie{
		"tampered value": &tampered,
		"raw id":         {Name: DefaultCookieName, Value: sess.ID},
		"bad base64":     {Name: DefaultCookieName, Value: sess.ID + ".%%%"},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(c)
		if m.Lookup(req) != nil {
			t.Errorf("%s: forged cookie accepted", name)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	if other.Lookup(req) != nil {
		t.Error("cookie signed with another secret accepted")
	}
}

func TestManagerExpiryAndSweep(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m, _ := NewManager(Options{Secret: "s", MaxAge: time.Hour, Now: clock})

	rec := httptest.NewRecorder()
	m.Ensure(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	m.Ensure(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	cookie := rec.Result().Cookies()[0]

	now = now.Add(30 * time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	if m.Lookup(req) == nil {
		t.Fatal("session should still be live")
	}

	now = now.Add(45 * time.Minute)
	if n := m.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1 (the untouched session)", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}

	now = now.Add(61 * time.Minute)
	if m.Lookup(req) != nil {
		t.Error("idle session should have expired")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestManagerDestroy(t *testing.T) {
	t.Parallel()

	m, _ := NewManager(Options{CookieName: "sid", Secure: true})
	rec := httptest.NewRecorder()
	m.Ensure(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookie := rec.Result().Cookies()[0]
	if !cookie.Secure {
		t.Error("Secure option should set the cookie flag")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.AddCookie(cookie)
	rec2 := httptest.NewRecorder()
	m.Destroy(rec2, req)

	if m.Len() != 0 {
		t.Errorf("Len() = %d after Destroy", m.Len())
	}
	expired := rec2.Result().Cookies()
	if len(expired) != 1 || expired[0].MaxAge >= 0 {
		t.Errorf("Destroy should expire the cookie, got %v", expired)
	}
}
