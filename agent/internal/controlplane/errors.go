package controlplane

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrNotFound matches a TransportError carrying a 404. On heartbeat it
	// means the server no longer knows the client id.
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrMissingKey   = errors.New("response did not contain a key")
)

const maxErrorBody = 1024

// TransportError is any failure talking to the control plane: network,
// non-2xx status, or an undecodable body.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// errorResponse is the problem document the control plane sends with an
// error status.
type errorResponse struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func statusError(op string, resp *resty.Response, apiErr *errorResponse) error {
	body := string(resp.Body())
	if apiErr != nil && apiErr.Detail != "" {
		body = apiErr.Detail
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &TransportError{Op: op, StatusCode: resp.StatusCode(), Body: body}
}
