package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoRefreshToken is returned by token sources when the session cannot be renewed
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrLoginFailed is returned by Login when the server answers without tokens
	ErrLoginFailed = errors.New("login response did not contain an access token")
)

// RequestError is the normalized error returned for failed requests.
// Status is 0 for transport failures (network, DNS, timeout).
type RequestError struct {
	Message string
	Status  int
	Data    any    // decoded JSON body, or the raw body as a string
	Body    []byte // raw response body
	Err     error  // underlying transport error, if any
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsAuthFailure reports whether the error is a final 401/403
func (e *RequestError) IsAuthFailure() bool {
	return isAuthStatus(e.Status)
}

// AsRequestError unwraps err into a *RequestError if it is one
func AsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}

func newTransportError(err error) *RequestError {
	return &RequestError{
		Message: "network error: " + err.Error(),
		Err:     err,
	}
}

// newStatusError builds the error for a non-2xx response. The message comes from
// the body's "message" field, falling back to a generic status message.
func newStatusError(status int, body []byte) *RequestError {
	data := decodeBody(body)
	message := ""
	if obj, ok := data.(map[string]any); ok {
		message = firstString(obj, "message")
	}
	if message == "" {
		message = fmt.Sprintf("Request failed with status code %d", status)
	}
	return &RequestError{
		Message: message,
		Status:  status,
		Data:    data,
		Body:    body,
	}
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
