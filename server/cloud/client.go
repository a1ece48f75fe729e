// Package cloud is the HTTP client for the Bambu Lab cloud API: account login,
// two-factor verification, the bound-device list and the print-job list.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"bambuwatch/server/relayerr"
	"bambuwatch/server/status"
)

const (
	DefaultBaseURL   = "https://api.bambulab.com"
	DefaultUserAgent = "bambuwatch/1.0"
	DefaultTimeout   = 20 * time.Second

	loginPath = "/v1/user-service/user/login"
	bindPath  = "/v1/iot-service/api/user/bind"
	printPath = "/v1/iot-service/api/user/print"

	maxBodyBytes = 4 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	UserAgent string
	// Timeout bounds every upstream call.
	Timeout time.Duration
	// ForceRefresh adds force=true to the print-job query.
	ForceRefresh bool
	// HTTPClient is the base client; tests pass httptest clients here.
	HTTPClient *http.Client
}

// Client talks to the cloud API. It holds no credentials; the bearer token is
// passed per call.
type Client struct {
	baseURL      string
	userAgent    string
	timeout      time.Duration
	forceRefresh bool
	httpClient   *http.Client
}

// New creates a new API client.
func New(opts Options) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		userAgent:    opts.UserAgent,
		timeout:      opts.Timeout,
		forceRefresh: opts.ForceRefresh,
		httpClient:   opts.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// BoundDevice is one printer bound to the account.
type BoundDevice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Online      bool   `json:"online"`
	ProductName string `json:"productName,omitempty"`
	PrintStatus string `json:"printStatus,omitempty"`
}

// ListBoundDevices returns the devices bound to the token's account in
// upstream order. A body without a device list yields an empty result.
func (c *Client) ListBoundDevices(ctx context.Context, token string) ([]BoundDevice, error) {
	body, err := c.authedGet(ctx, token, bindPath)
	if err != nil {
		return nil, fmt.Errorf("cloud.ListBoundDevices: %w", queryError("list bound devices", err))
	}
	if err := checkEnvelope(body); err != nil {
		return nil, fmt.Errorf("cloud.ListBoundDevices: %w", err)
	}

	records, _ := status.DecodeRecords(body)
	devices := make([]BoundDevice, 0, len(records))
	for _, r := range records {
		if r.DeviceID == "" {
			continue
		}
		d := BoundDevice{
			ID:          r.DeviceID,
			Name:        r.DeviceName,
			Online:      r.Online != nil && *r.Online,
			ProductName: r.ProductName,
		}
		if r.Status != nil {
			d.PrintStatus = *r.Status
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// FetchPrintJobs returns the raw print-job records. A body that carries
// neither a "prints" nor a "devices" list yields nil records and no error.
func (c *Client) FetchPrintJobs(ctx context.Context, token string) ([]status.RawDeviceRecord, error) {
	path := printPath
	if c.forceRefresh {
		path += "?" + url.Values{"force": {"true"}}.Encode()
	}
	body, err := c.authedGet(ctx, token, path)
	if err != nil {
		return nil, fmt.Errorf("cloud.FetchPrintJobs: %w", queryError("fetch print jobs", err))
	}
	if err := checkEnvelope(body); err != nil {
		return nil, fmt.Errorf("cloud.FetchPrintJobs: %w", err)
	}

	records, ok := status.DecodeRecords(body)
	if !ok {
		return nil, nil
	}
	return records, nil
}

// checkEnvelope rejects 2xx bodies whose message is not "success" and that
// carry an error string.
func checkEnvelope(body []byte) error {
	var env struct {
		Message *string         `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil || env.Message == nil {
		return nil
	}
	if strings.EqualFold(*env.Message, "success") {
		return nil
	}
	var detail string
	if json.Unmarshal(env.Error, &detail) != nil || detail == "" {
		return nil
	}
	return &relayerr.UpstreamError{
		Status:  http.StatusOK,
		Message: strings.TrimSpace(*env.Message + " " + detail),
	}
}

// authedGet performs a GET with the bearer token attached through an oauth2
// static token source and returns the raw 2xx body.
func (c *Client) authedGet(ctx context.Context, token, path string) ([]byte, error) {
	if strings.TrimSpace(token) == "" {
		return nil, relayerr.NewAuthError(relayerr.TokenExpired, "Access token is required.", nil)
	}
	base := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	hc := oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	return c.doRequest(ctx, hc, http.MethodGet, path, nil)
}

// doRequest sends one bounded request and returns the body of a 2xx
// response. Non-2xx responses become *HTTPError, failures before a response
// become *TransportError.
func (c *Client) doRequest(ctx context.Context, hc *http.Client, method, path string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if readErr != nil {
			return nil, &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(resp, respBody)}
	}
	if readErr != nil {
		return nil, &TransportError{Op: method + " " + path, Err: readErr}
	}
	return respBody, nil
}

// errorMessage extracts "message" or "error" from a JSON error body, falling
// back to the status text.
func errorMessage(resp *http.Response, body []byte) string {
	var apiErr struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if apiErr.Error != "" {
			return apiErr.Error
		}
	}
	return http.StatusText(resp.StatusCode)
}
