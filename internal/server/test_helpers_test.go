package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestServer serves handler on an IPv4 loopback port and closes it when
// the test ends.
func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback listener unavailable: %v", err)
	}
	ts := httptest.NewUnstartedServer(handler)
	ts.Listener.Close()
	ts.Listener = listener
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}
