// Package jsonerr writes error responses with a JSON body.
package jsonerr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quay/nspmirror"
	"github.com/quay/nspmirror/datastore"
)

// Response is the body of an error response.
type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error works like [http.Error] but writes "r" as JSON. Like http.Error, the
// handler should return afterwards.
func Error(w http.ResponseWriter, r *Response, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	b, _ := json.Marshal(r)
	w.Write(b)
}

// FromError picks a status code and Response for "err".
func FromError(err error) (*Response, int) {
	r := Response{Code: "internal-error", Message: err.Error()}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, datastore.ErrNotFound):
		r.Code, status = "not-found", http.StatusNotFound
	case errors.Is(err, nspmirror.ErrInvalid):
		r.Code, status = "bad-request", http.StatusBadRequest
	case errors.Is(err, nspmirror.ErrConflict):
		r.Code, status = "conflict", http.StatusConflict
	case errors.Is(err, nspmirror.ErrTransient):
		r.Code, status = "unavailable", http.StatusServiceUnavailable
	}
	return &r, status
}
