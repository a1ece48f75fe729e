package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"bambuwatch/server/auth"
	"bambuwatch/server/cloud"
	"bambuwatch/server/relayerr"
	"bambuwatch/server/session"
	"bambuwatch/server/status"
	"bambuwatch/server/storage"
)

const maxRequestBody = 1 << 20

// RelayAPIOptions wires the relay's collaborators.
type RelayAPIOptions struct {
	Sessions   SessionStore
	Auth       Authenticator
	Cloud      DeviceDirectory
	Normalizer *status.Normalizer
	Registry   PrinterRegistry

	// Feed switches /api/printer-status to the push snapshot. Nil means pull.
	Feed StatusFeed
	// Hub enables /api/ws/status. Nil disables the stream.
	Hub            Subscribers
	AllowedOrigins []string

	// IncludeBoundDevices merges the bind list into availablePrinters.
	IncludeBoundDevices bool
	Logger              Logger
	// Logs enables /api/logs for authenticated sessions. Nil disables it.
	Logs LogBuffer
}

// RelayAPI exposes the login, status and printer registry endpoints.
type RelayAPI struct {
	sessions     SessionStore
	auth         Authenticator
	cloud        DeviceDirectory
	normalizer   *status.Normalizer
	registry     PrinterRegistry
	feed         StatusFeed
	hub          Subscribers
	origins      []string
	includeBound bool
	log          Logger
	logs         LogBuffer
}

// NewRelayAPI validates the options and builds a RelayAPI.
func NewRelayAPI(opts RelayAPIOptions) (*RelayAPI, error) {
	if opts.Sessions == nil {
		return nil, errors.New("relay API requires a session store")
	}
	if opts.Registry == nil {
		return nil, errors.New("relay API requires a printer registry")
	}
	if opts.Feed == nil {
		if opts.Auth == nil || opts.Cloud == nil || opts.Normalizer == nil {
			return nil, errors.New("relay API requires auth, cloud client and normalizer in pull mode")
		}
	}
	log := opts.Logger
	if log == nil {
		log = nopLogger{}
	}
	return &RelayAPI{
		sessions:     opts.Sessions,
		auth:         opts.Auth,
		cloud:        opts.Cloud,
		normalizer:   opts.Normalizer,
		registry:     opts.Registry,
		feed:         opts.Feed,
		hub:          opts.Hub,
		origins:      opts.AllowedOrigins,
		includeBound: opts.IncludeBoundDevices,
		log:          log,
		logs:         opts.Logs,
	}, nil
}

// RegisterRoutes wires the HTTP handlers onto the router.
func (api *RelayAPI) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/login", api.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/logout", api.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/status", api.handleAuthStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/printer-status", api.handlePrinterStatus).Methods(http.MethodGet)

	r.HandleFunc("/api/printers", api.handleListPrinters).Methods(http.MethodGet)
	r.HandleFunc("/api/printers", api.handleReplacePrinters).Methods(http.MethodPost)
	r.HandleFunc("/api/printers/add", api.handleAddPrinter).Methods(http.MethodPost)
	r.HandleFunc("/api/printers/validate", api.handleValidatePrinters).Methods(http.MethodPost)
	r.HandleFunc("/api/printers/{serial}", api.handleRemovePrinter).Methods(http.MethodDelete)

	if api.hub != nil {
		r.HandleFunc("/api/ws/status", api.handleStatusStream).Methods(http.MethodGet)
	}
	if api.logs != nil {
		r.HandleFunc("/api/logs", api.handleLogs).Methods(http.MethodGet)
	}
}

type loginRequest struct {
	Email            string  `json:"email"`
	Password         string  `json:"password"`
	VerificationCode string  `json:"verificationCode"`
	TfaKey           *string `json:"tfaKey"`
}

// handleLogin runs step one (email + password) or, when a verification code
// is present, step two of the login.
func (api *RelayAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	if api.auth == nil {
		writeFailure(w, http.StatusNotFound, "Login is not available in push mode.")
		return
	}
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	sess := api.sessions.Ensure(w, r)

	var (
		res auth.Result
		err error
	)
	if strings.TrimSpace(req.VerificationCode) != "" {
		ticket := ""
		if req.TfaKey != nil {
			ticket = *req.TfaKey
		}
		res, err = api.auth.CompleteVerification(r.Context(), sess, req.VerificationCode, ticket)
	} else {
		res, err = api.auth.BeginLogin(r.Context(), sess, req.Email, req.Password)
	}
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	if res.NeedsVerification {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":           true,
			"needsVerification": true,
			"tfaKey":            res.TfaKey,
			"message":           "Verification code sent. Please enter the code.",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"needsVerification": false,
		"message":           "Login successful!",
	})
}

func (api *RelayAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := api.sessions.Lookup(r); sess != nil && api.auth != nil {
		api.auth.Logout(sess)
	}
	api.sessions.Destroy(w, r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logout successful.",
	})
}

// handleAuthStatus reports the session state. The token itself never leaves
// the server.
func (api *RelayAPI) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"isAuthenticated":      false,
		"awaitingVerification": false,
	}
	if sess := api.sessions.Lookup(r); sess != nil {
		switch sess.State() {
		case session.Authenticated:
			resp["isAuthenticated"] = true
			if account := sess.Account(); account != "" {
				resp["email"] = account
			}
		case session.AwaitingVerification:
			resp["awaitingVerification"] = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusResponse flattens the normalized status into the response envelope.
type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	status.NormalizedStatus
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
}

func (api *RelayAPI) handlePrinterStatus(w http.ResponseWriter, r *http.Request) {
	if api.feed != nil {
		api.servePushStatus(w)
		return
	}

	sess, token, ok := api.requireToken(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	records, err := api.cloud.FetchPrintJobs(ctx, token)
	if err != nil {
		api.writeSessionError(w, r, sess, token, err)
		return
	}
	if err := checkTokenUnchanged(sess, token); err != nil {
		api.writeError(w, r, err)
		return
	}

	configured := api.configuredPrinters(r)
	st := api.normalizer.Compute(records, storage.Registered(configured), strings.TrimSpace(r.URL.Query().Get("serial")))

	if api.includeBound {
		devices, err := api.cloud.ListBoundDevices(ctx, token)
		switch {
		case relayerr.IsAuth(err, relayerr.TokenExpired):
			api.writeSessionError(w, r, sess, token, err)
			return
		case err == nil:
			err = checkTokenUnchanged(sess, token)
			if err != nil {
				api.writeError(w, r, err)
				return
			}
			st.AvailablePrinters = mergeBoundDevices(st.AvailablePrinters, devices, configured)
		default:
			api.log.Warn("Bound device list unavailable, serving status without it", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: st.DisplayMessage, NormalizedStatus: st})
}

func (api *RelayAPI) servePushStatus(w http.ResponseWriter) {
	snap, ok := api.feed.Latest()
	if !ok {
		writeFailure(w, http.StatusServiceUnavailable, "Printer status not received yet. Waiting for the MQTT connection.")
		return
	}
	at := snap.ReceivedAt
	writeJSON(w, http.StatusOK, statusResponse{
		Success:          true,
		Message:          snap.Status.DisplayMessage,
		NormalizedStatus: snap.Status,
		ReceivedAt:       &at,
	})
}

func (api *RelayAPI) handleValidatePrinters(w http.ResponseWriter, r *http.Request) {
	if api.cloud == nil {
		writeFailure(w, http.StatusNotFound, "Printer validation is not available in push mode.")
		return
	}
	sess, token, ok := api.requireToken(w, r)
	if !ok {
		return
	}
	devices, err := api.cloud.ListBoundDevices(r.Context(), token)
	if err != nil {
		api.writeSessionError(w, r, sess, token, err)
		return
	}
	if err := checkTokenUnchanged(sess, token); err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"availablePrinters": devices,
	})
}

func (api *RelayAPI) handleListPrinters(w http.ResponseWriter, r *http.Request) {
	printers, err := api.registry.List(r.Context())
	if err != nil {
		api.log.Error("Failed to load printers", "error", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to load printers.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"printers": printers,
	})
}

func (api *RelayAPI) handleReplacePrinters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Printers json.RawMessage `json:"printers"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	raw := bytes.TrimSpace(req.Printers)
	if len(raw) == 0 || raw[0] != '[' {
		writeFailure(w, http.StatusBadRequest, "printers must be an array.")
		return
	}
	var printers []storage.Printer
	if err := json.Unmarshal(raw, &printers); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid printer entry: "+err.Error())
		return
	}
	if err := api.registry.Replace(r.Context(), printers); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.log.Info("Printer registry replaced", "count", len(printers))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Printers saved.",
	})
}

func (api *RelayAPI) handleAddPrinter(w http.ResponseWriter, r *http.Request) {
	var req storage.Printer
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if strings.TrimSpace(req.Serial) == "" {
		api.writeError(w, r, relayerr.Required("serial"))
		return
	}
	printers, err := api.registry.Upsert(r.Context(), req)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.log.Info("Printer added", "serial", strings.TrimSpace(req.Serial))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "Printer added.",
		"printers": printers,
	})
}

func (api *RelayAPI) handleRemovePrinter(w http.ResponseWriter, r *http.Request) {
	serial := strings.TrimSpace(mux.Vars(r)["serial"])
	if serial == "" {
		api.writeError(w, r, relayerr.Required("serial"))
		return
	}
	if err := api.registry.Remove(r.Context(), serial); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeFailure(w, http.StatusNotFound, "Printer not found.")
			return
		}
		api.writeError(w, r, err)
		return
	}
	api.log.Info("Printer removed", "serial", serial)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Printer removed.",
	})
}

// requireToken returns the authenticated session and its token, or writes 401.
func (api *RelayAPI) requireToken(w http.ResponseWriter, r *http.Request) (*session.Session, string, bool) {
	sess := api.sessions.Lookup(r)
	if sess == nil {
		writeFailure(w, http.StatusUnauthorized, "Not logged in. Please log in first.")
		return nil, "", false
	}
	token, ok := sess.Token()
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Not logged in. Please log in first.")
		return nil, "", false
	}
	return sess, token, true
}

// checkTokenUnchanged fails an in-flight request whose session was logged out
// or re-authenticated while the upstream call was running.
func checkTokenUnchanged(sess *session.Session, token string) error {
	current, ok := sess.Token()
	if !ok || current != token {
		return relayerr.NewAuthError(relayerr.TokenExpired, "Session changed during the request. Please log in again.", nil)
	}
	return nil
}

// writeSessionError invalidates the session on TokenExpired before responding.
// A session that already moved on to a different token is left alone.
func (api *RelayAPI) writeSessionError(w http.ResponseWriter, r *http.Request, sess *session.Session, token string, err error) {
	if relayerr.IsAuth(err, relayerr.TokenExpired) && sess != nil && api.auth != nil {
		if current, ok := sess.Token(); ok && current != token {
			api.writeError(w, r, err)
			return
		}
		if api.auth.Invalidate(sess) {
			api.log.Info("Session invalidated after upstream rejected the token", "path", r.URL.Path)
		}
	}
	api.writeError(w, r, err)
}

func (api *RelayAPI) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := relayerr.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		api.log.Warn("Request failed", "path", r.URL.Path, "status", code, "error", err)
	} else {
		api.log.Debug("Request rejected", "path", r.URL.Path, "status", code, "error", err)
	}
	writeFailure(w, code, relayerr.PublicMessage(err))
}

func (api *RelayAPI) configuredPrinters(r *http.Request) []storage.Printer {
	printers, err := api.registry.List(r.Context())
	if err != nil {
		api.log.Warn("Failed to read printer registry, using all devices", "error", err)
		return nil
	}
	return printers
}

// mergeBoundDevices fills online flags from the bind list and appends bound
// devices that have no print jobs.
func mergeBoundDevices(available []status.PrinterSummary, devices []cloud.BoundDevice, configured []storage.Printer) []status.PrinterSummary {
	names := make(map[string]string, len(configured))
	for _, p := range configured {
		if p.Name != "" {
			names[p.Serial] = p.Name
		}
	}
	index := make(map[string]int, len(available))
	for i, p := range available {
		index[p.ID] = i
	}
	for _, d := range devices {
		if i, ok := index[d.ID]; ok {
			available[i].Online = d.Online
			continue
		}
		name := names[d.ID]
		if name == "" {
			name = d.Name
		}
		if name == "" {
			name = d.ID
		}
		index[d.ID] = len(available)
		available = append(available, status.PrinterSummary{ID: d.ID, Name: name, Online: d.Online})
	}
	return available
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": message})
}
