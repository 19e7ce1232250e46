package deviceflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
)

// Client talks to the device authorization backend from the requesting
// device. It performs no retries: retry policy belongs to the session
// manager.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client (primarily for testing).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a backend client. Every request is expected to run under
// a caller-supplied context deadline; the embedded client timeout is a
// backstop so no call can hang forever.
func NewClient(baseURL string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// CreateDeviceCode opens a new ticket.
func (c *Client) CreateDeviceCode(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	var resp CreateResponse
	if err := c.post(ctx, "/device/code", req, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.CreateDeviceCode]")
	}
	return &resp, nil
}

// PollDeviceCode asks for the ticket's current state.
func (c *Client) PollDeviceCode(ctx context.Context, deviceCode string) (*PollResponse, error) {
	var resp PollResponse
	if err := c.post(ctx, "/device/token", PollRequest{DeviceCode: deviceCode}, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.PollDeviceCode]")
	}
	return &resp, nil
}

// AuthorizeDeviceCode submits the authorizing device's upstream tokens.
func (c *Client) AuthorizeDeviceCode(ctx context.Context, req AuthorizeRequest) error {
	if err := c.post(ctx, "/device/authorize", req, &AuthorizeResponse{}); err != nil {
		return errors.Wrap(err, "[Client.AuthorizeDeviceCode]")
	}
	return nil
}

// RefreshCredential exchanges a refresh token for fresh session material.
func (c *Client) RefreshCredential(ctx context.Context, refreshToken string) (*SessionPayload, error) {
	var resp SessionPayload
	if err := c.post(ctx, "/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.RefreshCredential]")
	}
	return &resp, nil
}

// Reachable reports whether the backend answers its health endpoint. The
// coordinator uses this to decide between the hybrid flow and the plain
// upstream device flow.
func (c *Client) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// DNS failures, refused connections, timeouts: all worth a retry at
		// the manager's discretion.
		return autherrors.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return autherrors.Transient(fmt.Errorf("backend returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return wireError(resp.StatusCode, &errResp)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// Error codes used on the wire.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeExpiredToken         = "expired_token"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeServerError          = "server_error"
)

// wireError maps a backend error body onto the shared taxonomy.
func wireError(status int, errResp *ErrorResponse) error {
	switch errResp.Error {
	case ErrorCodeExpiredToken:
		return autherrors.ErrTicketExpired
	case ErrorCodeAccessDenied:
		return autherrors.ErrTicketAlreadyConsumed
	case ErrorCodeInvalidGrant:
		return autherrors.ErrInvalidGrant
	case "":
		return errors.Errorf("backend returned %d", status)
	default:
		return errors.Errorf("%s: %s", errResp.Error, errResp.ErrorDescription)
	}
}

// ErrorCodeFor maps a taxonomy error onto its wire code. Shared with the
// server handlers so client and server stay in agreement.
func ErrorCodeFor(err error) (code string, status int) {
	switch {
	case errors.Is(err, autherrors.ErrTicketExpired):
		return ErrorCodeExpiredToken, http.StatusBadRequest
	case errors.Is(err, autherrors.ErrTicketAlreadyConsumed),
		errors.Is(err, autherrors.ErrTicketAlreadyAuthorized):
		return ErrorCodeAccessDenied, http.StatusBadRequest
	case errors.Is(err, autherrors.ErrTicketNotFound):
		return ErrorCodeInvalidGrant, http.StatusBadRequest
	case errors.Is(err, autherrors.ErrInvalidGrant):
		return ErrorCodeInvalidGrant, http.StatusBadRequest
	default:
		return ErrorCodeServerError, http.StatusInternalServerError
	}
}
