package test

import "net/http"

// RoundTripFunc adapts a function into an [http.RoundTripper].
//
// The function should check that the incoming request is the expected one.
type RoundTripFunc func(req *http.Request) (*http.Response, error)

// RoundTrip implements [http.RoundTripper].
func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// NewRoundTripper returns "fn" as an [http.RoundTripper].
func NewRoundTripper(fn RoundTripFunc) http.RoundTripper {
	return fn
}
