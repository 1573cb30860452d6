package controlplane

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultTimeout = 10 * time.Second

// Client wraps the control plane JSON API. Calls are never retried here;
// retry policy belongs to the caller.
type Client struct {
	resty *resty.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return NewClientWithTimeout(baseURL, apiKey, DefaultTimeout)
}

func NewClientWithTimeout(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader(HeaderAPIKey, apiKey).
		SetHeader("Accept", "application/json")
	return &Client{resty: client}
}

// Register asks the control plane for a new client id.
func (c *Client) Register(ctx context.Context, displayName string) (string, error) {
	var result RegistrationResponse
	if err := c.post(ctx, "register", pathRegister, &RegistrationRequest{DisplayName: displayName}, &result); err != nil {
		return "", err
	}
	return strings.TrimSpace(result.ClientID), nil
}

// Heartbeat reports status and tunnel addresses. A 404 matches ErrNotFound.
// The acknowledgement body is not needed and may be empty.
func (c *Client) Heartbeat(ctx context.Context, payload HeartbeatPayload) error {
	return c.post(ctx, "heartbeat", pathHeartbeat, &payload, nil)
}

// ListCommands returns pending commands in server order.
func (c *Client) ListCommands(ctx context.Context, clientID string) ([]Command, error) {
	var result CommandsResponse
	var apiErr errorResponse
	resp, err := c.resty.R().
		SetContext(ctx).
		SetQueryParam("client_id", clientID).
		ForceContentType("application/json").
		SetResult(&result).
		SetError(&apiErr).
		Get(pathCommands)
	if err != nil {
		return nil, &TransportError{Op: "commands", Err: err}
	}
	if resp.IsError() {
		return nil, statusError("commands", resp, &apiErr)
	}
	return result.Commands, nil
}

// RequestLease asks for a temporary tunnel key. The result is delivered
// once on the returned channel; the caller bounds the wait.
func (c *Client) RequestLease(ctx context.Context, clientID string) <-chan LeaseResult {
	out := make(chan LeaseResult, 1)
	go func() {
		var result RequestLeaseResponse
		err := c.post(ctx, "request lease", pathRequestLease, &RequestLeaseRequest{ClientID: clientID, HasCustomKey: false}, &result)
		if err != nil {
			out <- LeaseResult{Err: err}
			return
		}
		key := strings.TrimSpace(result.NgrokKey)
		if key == "" {
			out <- LeaseResult{Err: &TransportError{Op: "request lease", Err: ErrMissingKey}}
			return
		}
		out <- LeaseResult{Key: key}
	}()
	return out
}

// ReleaseLease hands a leased key back. An empty success body is fine.
func (c *Client) ReleaseLease(ctx context.Context, clientID, key string) <-chan error {
	out := make(chan error, 1)
	go func() {
		out <- c.post(ctx, "release lease", pathReleaseLease, &ReleaseLeaseRequest{ClientID: clientID, Key: key}, nil)
	}()
	return out
}

// post sends body as JSON. With a non-nil result the success body is
// decoded into it and must be valid JSON.
func (c *Client) post(ctx context.Context, op, path string, body, result any) error {
	var apiErr errorResponse
	req := c.resty.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetError(&apiErr)
	if result != nil {
		req.ForceContentType("application/json").SetResult(result)
	}
	resp, err := req.Post(path)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if resp.IsError() {
		return statusError(op, resp, &apiErr)
	}
	return nil
}
