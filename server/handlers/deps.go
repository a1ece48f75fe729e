// Package handlers provides the HTTP API of the relay: login and session
// state, printer status, the printer registry, and the status stream.
// Collaborators are injected as small interfaces so tests can fake them.
package handlers

import (
	"context"
	"io"
	"net/http"

	"bambuwatch/common/logger"
	"bambuwatch/common/ws"
	"bambuwatch/server/auth"
	"bambuwatch/server/cloud"
	"bambuwatch/server/mqttfeed"
	"bambuwatch/server/session"
	"bambuwatch/server/status"
	"bambuwatch/server/storage"
)

// SessionStore binds sessions to requests. *session.Manager implements it.
type SessionStore interface {
	Lookup(r *http.Request) *session.Session
	Ensure(w http.ResponseWriter, r *http.Request) *session.Session
	Destroy(w http.ResponseWriter, r *http.Request)
}

// Authenticator drives the login state machine. *auth.Machine implements it.
type Authenticator interface {
	BeginLogin(ctx context.Context, sess *session.Session, identifier, secret string) (auth.Result, error)
	CompleteVerification(ctx context.Context, sess *session.Session, code, ticket string) (auth.Result, error)
	Logout(sess *session.Session)
	Invalidate(sess *session.Session) bool
}

// DeviceDirectory queries the printer cloud. *cloud.Client implements it.
type DeviceDirectory interface {
	ListBoundDevices(ctx context.Context, token string) ([]cloud.BoundDevice, error)
	FetchPrintJobs(ctx context.Context, token string) ([]status.RawDeviceRecord, error)
}

// StatusFeed is the push data source. *mqttfeed.Feed implements it.
type StatusFeed interface {
	Latest() (mqttfeed.Snapshot, bool)
	Connected() bool
}

// Subscribers registers websocket clients for broadcasts. *ws.Hub implements it.
type Subscribers interface {
	Register(id string, ch chan ws.Message) bool
	Unregister(id string)
}

// PrinterRegistry is the subset of storage.Registry used by the HTTP layer.
type PrinterRegistry interface {
	List(ctx context.Context) ([]storage.Printer, error)
	Replace(ctx context.Context, printers []storage.Printer) error
	Upsert(ctx context.Context, p storage.Printer) ([]storage.Printer, error)
	Remove(ctx context.Context, serial string) error
}

// LogBuffer exposes recent log entries. *logger.Logger implements it.
type LogBuffer interface {
	GetBufferFiltered(minLevel logger.LogLevel) []logger.LogEntry
	Copy(w io.Writer, minLevel logger.LogLevel) error
}

// Logger provides logging capabilities.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
