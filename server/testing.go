/*
	This file contains functions useful for testing the tile server in other packages.
	They can't live in a _test.go file since those are unavailable to test files in
	external packages, so they are exported and contain the "Test" keyword.
*/

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/session"
)

// TestHTTPResponse returns the response of h to a request carrying the given session
// key in the default session cookie.  An empty key sends no cookie.
// Use TestHTTP if you just want the response body bytes.
func TestHTTPResponse(t *testing.T, h http.Handler, method, urlStr, sessionKey string) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, urlStr, nil)
	if err != nil {
		t.Fatalf("Unsuccessful %s on %q: %v\n", method, urlStr, err)
	}
	if sessionKey != "" {
		req.AddCookie(&http.Cookie{Name: session.DefaultCookie, Value: sessionKey})
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

// TestHTTP returns the response body bytes for a test request, making sure the response
// has status OK.
func TestHTTP(t *testing.T, h http.Handler, method, urlStr, sessionKey string) []byte {
	resp := TestHTTPResponse(t, h, method, urlStr, sessionKey)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad server response (%d) to %s on %q: %s\n", resp.Code, method, urlStr, resp.Body.String())
	}
	return resp.Body.Bytes()
}

// TestBadHTTP expects a response with the given error status code.
func TestBadHTTP(t *testing.T, h http.Handler, method, urlStr, sessionKey string, status int) {
	resp := TestHTTPResponse(t, h, method, urlStr, sessionKey)
	if resp.Code != status {
		t.Fatalf("Expected %d response to %s on %q, got %d instead.\n", status, method, urlStr, resp.Code)
	}
	if body := resp.Body.String(); body != http.StatusText(status) {
		t.Fatalf("Expected bare status text in %d response to %s on %q, got %q\n", status, method, urlStr, body)
	}
}
