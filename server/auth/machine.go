// Package auth drives the two-step cloud login (password, then an optional
// verification code) and keeps each session's credential state consistent
// with the outcome.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bambuwatch/server/cloud"
	"bambuwatch/server/relayerr"
	"bambuwatch/server/session"
)

// Identity is the upstream login endpoint. *cloud.Client implements it.
type Identity interface {
	Login(ctx context.Context, account, password string) (*cloud.LoginResponse, error)
	Verify(ctx context.Context, req cloud.VerifyRequest) (*cloud.LoginResponse, error)
}

// Logger is the subset of the application logger used here.
type Logger interface {
	Debug(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
}

// VerifyKey selects how a verification code is correlated upstream.
type VerifyKey string

const (
	// VerifyKeyAuto sends the ticket when one is known and non-empty, and
	// falls back to the account identifier otherwise.
	VerifyKeyAuto    VerifyKey = "auto"
	VerifyKeyTicket  VerifyKey = "ticket"
	VerifyKeyAccount VerifyKey = "account"
)

// ParseVerifyKey accepts auto (or empty), ticket and account.
func ParseVerifyKey(s string) (VerifyKey, error) {
	switch k := VerifyKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return VerifyKeyAuto, nil
	case VerifyKeyAuto, VerifyKeyTicket, VerifyKeyAccount:
		return k, nil
	default:
		return VerifyKeyAuto, fmt.Errorf("unknown verify_key %q (want auto, ticket or account)", s)
	}
}

// Result is the outcome of a successful login step.
type Result struct {
	NeedsVerification bool
	// TfaKey is the pending ticket; set only when NeedsVerification is true.
	TfaKey string
	State  session.State
}

// Machine performs state transitions on sessions. It holds no per-session
// state of its own and is safe for concurrent use.
type Machine struct {
	identity  Identity
	verifyKey VerifyKey
	log       Logger
}

// NewMachine returns a Machine. A nil logger discards output.
func NewMachine(identity Identity, verifyKey VerifyKey, log Logger) *Machine {
	if verifyKey == "" {
		verifyKey = VerifyKeyAuto
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Machine{identity: identity, verifyKey: verifyKey, log: log}
}

// BeginLogin submits account credentials. On a verification challenge the
// session moves to AWAITING_VERIFICATION; on a token it moves to
// AUTHENTICATED. Failures leave the session untouched.
func (m *Machine) BeginLogin(ctx context.Context, sess *session.Session, identifier, secret string) (Result, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Result{}, relayerr.Required("email")
	}
	if secret == "" {
		return Result{}, relayerr.Required("password")
	}

	resp, err := m.identity.Login(ctx, identifier, secret)
	if err != nil {
		return Result{}, m.loginError("login", relayerr.InvalidCredentials, err)
	}

	if resp.NeedsVerification {
		sess.BeginVerification(resp.TfaKey, identifier)
		m.log.Info("Login requires verification code", "account", identifier, "ticket_present", resp.TfaKey != "")
		return Result{NeedsVerification: true, TfaKey: resp.TfaKey, State: session.AwaitingVerification}, nil
	}

	if resp.Token == "" {
		m.log.Warn("Login response carried no token", "account", identifier)
		return Result{}, relayerr.NewAuthError(relayerr.InvalidCredentials, "Login failed: No access token received.", nil)
	}

	m.authenticated(sess, identifier, resp)
	return Result{State: session.Authenticated}, nil
}

// CompleteVerification submits the second-factor code. ticket overrides the
// session's pending ticket when non-empty, so clients that hold the ticket
// themselves can complete a login started elsewhere. On failure the session
// keeps its pending ticket and the caller may retry.
func (m *Machine) CompleteVerification(ctx context.Context, sess *session.Session, code, ticket string) (Result, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Result{}, relayerr.Required("verificationCode")
	}

	pending, awaiting := sess.PendingTicket()
	if ticket == "" {
		ticket = pending
	}
	account := sess.Account()
	if !awaiting && ticket == "" && account == "" {
		return Result{}, &relayerr.ValidationError{Field: "tfaKey", Message: "no verification is pending"}
	}

	req := cloud.VerifyRequest{TfaKey: ticket, Account: account, Code: code}
	switch m.verifyKey {
	case VerifyKeyAccount:
		req.ByAccount = true
	case VerifyKeyAuto:
		req.ByAccount = ticket == "" && account != ""
	}

	resp, err := m.identity.Verify(ctx, req)
	if err != nil {
		return Result{}, m.loginError("verification", relayerr.InvalidVerificationCode, err)
	}
	if resp.Token == "" {
		m.log.Warn("Verification response carried no token", "account", account)
		return Result{}, relayerr.NewAuthError(relayerr.InvalidVerificationCode, "", nil)
	}

	m.authenticated(sess, account, resp)
	return Result{State: session.Authenticated}, nil
}

// Logout returns the session to ANONYMOUS. It never fails.
func (m *Machine) Logout(sess *session.Session) {
	if sess == nil {
		return
	}
	if sess.Clear() {
		m.log.Info("Session logged out", "session", sess.ID)
	}
}

// Invalidate drops the session's credentials after the upstream rejected its
// token. It reports whether the session held anything, so repeated calls are
// no-ops that return false.
func (m *Machine) Invalidate(sess *session.Session) bool {
	if sess == nil {
		return false
	}
	if !sess.Clear() {
		return false
	}
	m.log.Info("Session invalidated after upstream rejected token", "session", sess.ID)
	return true
}

func (m *Machine) authenticated(sess *session.Session, account string, resp *cloud.LoginResponse) {
	sess.SetToken(resp.Token)
	if account != "" {
		sess.SetAccount(account)
	}
	if resp.ExpiresIn > 0 {
		m.log.Info("Login successful", "account", account, "token_valid_days", resp.ExpiresIn/86400)
	} else {
		m.log.Info("Login successful", "account", account)
	}
}

// loginError maps an Identity failure. HTTP rejections become rejectKind with
// the upstream message; failures without a response are UpstreamUnreachable.
func (m *Machine) loginError(step string, rejectKind relayerr.AuthKind, err error) error {
	var httpErr *cloud.HTTPError
	if errors.As(err, &httpErr) {
		m.log.Debug("Upstream rejected "+step, "status", httpErr.StatusCode)
		return relayerr.NewAuthError(rejectKind, httpErr.Message, err)
	}

	var te *cloud.TransportError
	if errors.As(err, &te) {
		m.log.Warn("Upstream unreachable during "+step, "error", err)
		msg := "Could not reach the printer cloud."
		if te.Timeout() {
			msg = "The printer cloud did not respond in time."
		}
		return relayerr.NewAuthError(relayerr.UpstreamUnreachable, msg, err)
	}

	if relayerr.IsAuth(err) {
		return err
	}
	return relayerr.NewAuthError(relayerr.UpstreamUnreachable, "", err)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
