package jsonerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/quay/nspmirror"
	"github.com/quay/nspmirror/datastore"
)

func TestFromError(t *testing.T) {
	tt := []struct {
		Name   string
		Err    error
		Code   string
		Status int
	}{
		{"NotFound", fmt.Errorf("lookup: %w", datastore.ErrNotFound), "not-found", http.StatusNotFound},
		{"Invalid", &nspmirror.Error{Kind: nspmirror.ErrInvalid}, "bad-request", http.StatusBadRequest},
		{"Conflict", &nspmirror.Error{Kind: nspmirror.ErrConflict}, "conflict", http.StatusConflict},
		{"Transient", &nspmirror.Error{Kind: nspmirror.ErrTransient}, "unavailable", http.StatusServiceUnavailable},
		{"Other", errors.New("boom"), "internal-error", http.StatusInternalServerError},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			r, status := FromError(tc.Err)
			if got, want := status, tc.Status; got != want {
				t.Errorf("status: got: %d, want: %d", got, want)
			}
			if got, want := r.Code, tc.Code; got != want {
				t.Errorf("code: got: %q, want: %q", got, want)
			}
		})
	}
}

func TestError(t *testing.T) {
	rec := httptest.NewRecorder()
	want := Response{Code: "not-found", Message: "nope"}
	Error(rec, &want, http.StatusNotFound)
	if got, want := rec.Code, http.StatusNotFound; got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
	if got, want := rec.Header().Get("Content-Type"), "application/json"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	var got Response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}
