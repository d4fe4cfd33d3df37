// Package httputil holds small helpers for handling feed responses.
package httputil

import (
	"fmt"
	"io"
	"net/http"
	"slices"
)

// ExcerptSize is the most response body that's kept in a [StatusError].
const excerptSize = 256

// StatusError reports a response with an unacceptable status code.
type StatusError struct {
	Status  string
	Code    int
	Excerpt []byte
}

// Error implements error.
func (e *StatusError) Error() string {
	if len(e.Excerpt) == 0 {
		return fmt.Sprintf("unexpected status code: %s", e.Status)
	}
	return fmt.Sprintf("unexpected status code: %s (body starts: %q)", e.Status, e.Excerpt)
}

// Temporary reports whether the server signalled the failure may clear up on
// its own.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// CheckResponse reports a *StatusError if the response's code is not one of
// the acceptable codes. The error will attempt to include some content from the
// server's response.
func CheckResponse(resp *http.Response, acceptableCodes ...int) error {
	if slices.Contains(acceptableCodes, resp.StatusCode) {
		return nil
	}
	err := &StatusError{
		Status: resp.Status,
		Code:   resp.StatusCode,
	}
	if b, rErr := io.ReadAll(io.LimitReader(resp.Body, excerptSize)); rErr == nil {
		err.Excerpt = b
	}
	return err
}
