package tracker

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
)

// HTTPServer binds a ServerTracker to a *http.Server: it supplies the
// ConnState hook for connection accept/close events and a middleware for
// request-begin/response-finish events. This is the one piece of
// transport-adjacent code the orchestrator touches — it never opens a
// listening socket itself, it only observes one that already exists.
type HTTPServer struct {
	Tracker *ServerTracker

	mu    sync.Mutex
	byRaw map[net.Conn]ConnID
}

// NewHTTPServer creates an adapter around tr. Wire ConnState and
// ConnContext into the target *http.Server, and wrap its handler with
// Middleware.
func NewHTTPServer(tr *ServerTracker) *HTTPServer {
	return &HTTPServer{
		Tracker: tr,
		byRaw:   make(map[net.Conn]ConnID),
	}
}

type netConnDestroyer struct {
	conn net.Conn
}

func (d netConnDestroyer) Destroy() {
	if d.conn != nil {
		_ = d.conn.Close()
	}
}

// ConnState is installed as the *http.Server's ConnState callback.
func (h *HTTPServer) ConnState(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		id := h.Tracker.OnConnection(netConnDestroyer{conn: conn})
		h.mu.Lock()
		h.byRaw[conn] = id
		h.mu.Unlock()
	case http.StateClosed, http.StateHijacked:
		h.mu.Lock()
		id, ok := h.byRaw[conn]
		delete(h.byRaw, conn)
		h.mu.Unlock()
		if ok {
			h.Tracker.OnClose(id)
		}
	}
}

type connKey struct{}

// ConnContext is installed as the *http.Server's ConnContext callback so
// Middleware can recover the net.Conn a request arrived on (net/http does
// not otherwise expose it to handlers).
func (h *HTTPServer) ConnContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

func connFromContext(ctx context.Context) (net.Conn, bool) {
	c, ok := ctx.Value(connKey{}).(net.Conn)
	return c, ok
}

// Middleware wraps next with request-begin/response-finish tracking. It
// must wrap the handler passed to the *http.Server whose ConnState and
// ConnContext are bound to the same HTTPServer.
func (h *HTTPServer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, ok := connFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		h.mu.Lock()
		id, tracked := h.byRaw[conn]
		h.mu.Unlock()
		if !tracked {
			next.ServeHTTP(w, r)
			return
		}

		destroyer := netConnDestroyer{conn: conn}
		result := h.Tracker.OnRequestBegin(id, r.URL.Path, destroyer)
		if result.Reject {
			body := []byte("Closing")
			w.Header().Set("Connection", "close")
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write(body)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			destroyer.Destroy()
			return
		}

		next.ServeHTTP(w, r)

		if h.Tracker.OnResponseFinish(id) {
			destroyer.Destroy()
		}
	})
}
