package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var respBody = `Sorry this resource isn't available at the moment, please try again later when the resource might be available`

func TestLimitedReadResponse(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(respBody))
	}))
	defer svr.Close()

	cl := svr.Client()
	res, err := cl.Get(svr.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	err = CheckResponse(res, http.StatusOK)
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Error() != "unexpected status code: 404 Not Found (body starts: \"Sorry this resource isn't available at the moment, please try again later when the resource might be available\")" {
		t.Errorf("expected different error message but got: %s", err.Error())
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("unexpected error type: %T", err)
	}
	if se.Temporary() {
		t.Error("404 reported as temporary")
	}
}

func TestExcerptLimit(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer svr.Close()

	res, err := svr.Client().Get(svr.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var se *StatusError
	if !errors.As(CheckResponse(res, http.StatusOK), &se) {
		t.Fatal("expected a *StatusError")
	}
	if got, want := len(se.Excerpt), excerptSize; got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
	if !se.Temporary() {
		t.Error("503 not reported as temporary")
	}
}

func TestAcceptable(t *testing.T) {
	res := &http.Response{StatusCode: http.StatusNotModified, Status: "304 Not Modified"}
	if err := CheckResponse(res, http.StatusOK, http.StatusNotModified); err != nil {
		t.Error(err)
	}
}
