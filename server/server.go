// Package server exposes the relay over HTTP: the media-stream websocket the
// telephony provider connects to, the TwiML document that points calls at it,
// and health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
	"github.com/AltairaLabs/VoiceRelay/runtime/session"
	"github.com/AltairaLabs/VoiceRelay/runtime/telemetry"
	"github.com/AltairaLabs/VoiceRelay/runtime/telephony"
)

const (
	// DefaultStreamPath is where the media-stream websocket is served.
	DefaultStreamPath = "/ws"

	// DefaultMetricsPath is where the metrics handler is mounted.
	DefaultMetricsPath = "/metrics"

	// defaultReadHeaderTimeout prevents Slowloris attacks.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultIdleTimeout is the keep-alive window for plain HTTP requests.
	// Websocket connections are hijacked and not subject to it.
	defaultIdleTimeout = 120 * time.Second
)

// Calls runs relayed calls. *session.Manager implements it.
type Calls interface {
	Serve(ctx context.Context, conn session.Telephony) error
	Active() int
	Shutdown(ctx context.Context) error
}

// Option configures a [Server].
type Option func(*Server)

// WithAddr sets the listen address for ListenAndServe.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithPublicURL sets the externally reachable base URL used in the TwiML
// document. When empty the request Host header is used.
func WithPublicURL(u string) Option {
	return func(s *Server) { s.publicURL = u }
}

// WithStreamPath sets the media-stream websocket path. Default: /ws.
func WithStreamPath(p string) Option {
	return func(s *Server) {
		if p != "" {
			s.streamPath = p
		}
	}
}

// WithMetricsHandler mounts h at GET path, or /metrics when path is empty.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		if path == "" {
			path = DefaultMetricsPath
		}
		s.metricsPath = path
		s.metrics = h
	}
}

// Server is the relay's HTTP front door.
type Server struct {
	calls       Calls
	addr        string
	publicURL   string
	streamPath  string
	metrics     http.Handler
	metricsPath string

	httpSrv   *http.Server
	closed    bool
	httpSrvMu sync.Mutex
}

// New creates a server handing accepted media streams to calls.
func New(calls Calls, opts ...Option) *Server {
	s := &Server{
		calls:      calls,
		streamPath: DefaultStreamPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routing handler. Plain HTTP routes are traced with
// otelhttp; the websocket route only extracts the caller's trace headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+s.streamPath, telemetry.TraceMiddleware(http.HandlerFunc(s.handleStream)))

	twiml := otelhttp.NewHandler(http.HandlerFunc(s.handleTwiML), "twiml")
	mux.Handle("GET /twiml", twiml)
	mux.Handle("POST /twiml", twiml)
	mux.Handle("GET /health", otelhttp.NewHandler(http.HandlerFunc(s.handleHealth), "health"))
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics)
	}
	return mux
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	s.httpSrvMu.Lock()
	if s.closed {
		s.httpSrvMu.Unlock()
		_ = ln.Close()
		return http.ErrServerClosed
	}
	s.httpSrv = srv
	s.httpSrvMu.Unlock()

	logger.Info("Relay listening", "addr", ln.Addr().String(), "stream_path", s.streamPath)
	return srv.Serve(ln)
}

// Shutdown stops accepting requests, then ends every live call and waits for
// the sessions to tear down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpSrvMu.Lock()
	srv := s.httpSrv
	s.closed = true
	s.httpSrvMu.Unlock()

	var httpErr error
	if srv != nil {
		httpErr = srv.Shutdown(ctx)
	}
	return errors.Join(httpErr, s.calls.Shutdown(ctx))
}

// handleStream upgrades the request and relays the call until it ends.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := telephony.Accept(w, r)
	if err != nil {
		logger.Warn("Media stream upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx := telemetry.RemoteParent(r.Context())
	if err := s.calls.Serve(ctx, conn); err != nil {
		if errors.Is(err, session.ErrTooManySessions) || errors.Is(err, session.ErrManagerClosed) {
			logger.Warn("Media stream rejected", "remote", r.RemoteAddr, "error", err)
			return
		}
		logger.Error("Call ended with error", "remote", r.RemoteAddr, "error", err)
	}
}

type healthStatus struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthStatus{Status: "ok", ActiveSessions: s.calls.Active()})
}
