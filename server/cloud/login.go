package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// tokenFields lists the response keys probed for the bearer token, in order.
// The first non-blank value wins.
var tokenFields = []string{"accessToken", "access_token", "token", "authToken"}

// LoginResponse is the canonical form of a login or verification response.
type LoginResponse struct {
	Token string
	// NeedsVerification is set when the account requires a second factor.
	NeedsVerification bool
	// TfaKey is the verification ticket. It may legitimately be empty, so
	// HasTfaKey records whether the field was present at all.
	TfaKey    string
	HasTfaKey bool
	// ExpiresIn is the token lifetime in seconds as reported upstream, or 0.
	ExpiresIn int64
	Message   string
}

// VerifyRequest carries a verification code keyed either by the ticket from
// the first login step or by the account identifier.
type VerifyRequest struct {
	TfaKey  string
	Account string
	Code    string
	// ByAccount selects the {account, code} request form.
	ByAccount bool
}

// Login submits account credentials.
func (c *Client) Login(ctx context.Context, account, password string) (*LoginResponse, error) {
	body := map[string]string{"account": account, "password": password}
	resp, err := c.postLogin(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("cloud.Login: %w", err)
	}
	return resp, nil
}

// Verify submits a second-factor code.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*LoginResponse, error) {
	body := map[string]string{"code": req.Code}
	if req.ByAccount {
		body["account"] = req.Account
	} else {
		body["tfaKey"] = req.TfaKey
	}
	resp, err := c.postLogin(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("cloud.Verify: %w", err)
	}
	return resp, nil
}

func (c *Client) postLogin(ctx context.Context, body map[string]string) (*LoginResponse, error) {
	data, err := c.doRequest(ctx, c.httpClient, http.MethodPost, loginPath, body)
	if err != nil {
		return nil, err
	}
	return decodeLogin(data)
}

// decodeLogin reads a 2xx login body. A body that is not a JSON object is
// treated as carrying neither token nor ticket.
func decodeLogin(data []byte) (*LoginResponse, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return &LoginResponse{}, nil
	}

	out := &LoginResponse{
		Message: stringField(fields, "message"),
	}
	if raw, ok := fields["tfaKey"]; ok && string(raw) != "null" {
		out.HasTfaKey = true
		out.TfaKey = stringField(fields, "tfaKey")
	}
	for _, key := range tokenFields {
		if tok := strings.TrimSpace(stringField(fields, key)); tok != "" {
			out.Token = tok
			break
		}
	}
	// Token responses also carry an empty tfaKey, so a bare tfaKey only
	// signals verification when no token came back.
	out.NeedsVerification = stringField(fields, "loginType") == "verifyCode" ||
		(out.HasTfaKey && out.Token == "")

	if raw, ok := fields["expiresIn"]; ok {
		var secs float64
		if json.Unmarshal(raw, &secs) == nil && secs > 0 {
			out.ExpiresIn = int64(secs)
		}
	}
	return out, nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}
