package tracker

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeConn is a minimal net.Conn for exercising ConnState/Middleware
// without opening a real socket.
type fakeConn struct {
	net.Conn
	closed bool
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestHTTPServer_ConnStateTracksLifecycle(t *testing.T) {
	tr := New(Config{})
	h := NewHTTPServer(tr)
	conn := &fakeConn{}

	h.ConnState(conn, http.StateNew)
	if tr.ConnectionCount() != 1 {
		t.Fatalf("ConnectionCount() = %d, want 1", tr.ConnectionCount())
	}

	h.ConnState(conn, http.StateClosed)
	if tr.ConnectionCount() != 0 {
		t.Fatalf("ConnectionCount() = %d, want 0 after close", tr.ConnectionCount())
	}
}

func TestHTTPServer_MiddlewareTracksRequest(t *testing.T) {
	tr := New(Config{HealthCheckURLs: []string{"/api/probe/ready"}})
	h := NewHTTPServer(tr)
	conn := &fakeConn{}
	h.ConnState(conn, http.StateNew)

	var sawActive int
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawActive = tr.ActiveConnectionCount()
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	ctx := h.ConnContext(context.Background(), conn)
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	h.Middleware(next).ServeHTTP(rec, req)

	if sawActive != 1 {
		t.Errorf("active connections during request = %d, want 1", sawActive)
	}
	if tr.ActiveConnectionCount() != 0 {
		t.Errorf("active connections after request = %d, want 0", tr.ActiveConnectionCount())
	}
}

func TestHTTPServer_MiddlewareRejectsDuringShutdown(t *testing.T) {
	tr := New(Config{})
	h := NewHTTPServer(tr)
	conn := &fakeConn{}
	h.ConnState(conn, http.StateNew)
	tr.RequestShutdown()

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	req = req.WithContext(h.ConnContext(context.Background(), conn))

	rec := httptest.NewRecorder()
	h.Middleware(next).ServeHTTP(rec, req)

	if called {
		t.Error("downstream handler should not run when request is rejected")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if rec.Body.String() != "Closing" {
		t.Errorf("body = %q, want Closing", rec.Body.String())
	}
	if !conn.closed {
		t.Error("rejected connection should be destroyed")
	}
}

// TestHTTPServer_RejectBodyFlushesBeforeConnCloses exercises the reject path
// over a real TCP connection rather than an httptest.ResponseRecorder, whose
// Flush/Close have no ordering semantics and so cannot catch a destroyer
// racing the response buffer. A real *http.Server buffers small writes and
// only flushes them on handler return or an explicit Flush; destroying the
// socket first would hand the client a reset connection instead of the 503
// body.
func TestHTTPServer_RejectBodyFlushesBeforeConnCloses(t *testing.T) {
	tr := New(Config{})
	h := NewHTTPServer(tr)

	srv := httptest.NewUnstartedServer(h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	srv.Config.ConnState = h.ConnState
	srv.Config.ConnContext = h.ConnContext
	srv.Start()
	defer srv.Close()

	client := srv.Client()

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	resp.Body.Close()

	tr.RequestShutdown()

	resp, err = client.Get(srv.URL)
	if err != nil {
		t.Fatalf("rejected request errored instead of returning a response: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading rejected response body: %v", err)
	}
	if string(body) != "Closing" {
		t.Errorf("body = %q, want %q", string(body), "Closing")
	}
}

func TestHTTPServer_MiddlewarePassesThroughUntrackedConn(t *testing.T) {
	tr := New(Config{})
	h := NewHTTPServer(tr)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	rec := httptest.NewRecorder()
	h.Middleware(next).ServeHTTP(rec, req)

	if !called {
		t.Error("request with no tracked connection should pass through")
	}
}
