// Package wshttpd is an embeddable HTTP/1.1+HTTPS server whose distinctive
// piece is a hand-rolled RFC 6455 WebSocket upgrade gate and connection
// core (package ws). Regular HTTP requests are dispatched to a
// user-supplied RequestHandler; GET requests that satisfy the upgrade
// preconditions and are claimed by an installed ws.Handler are instead
// promoted to full-duplex WebSocket sessions.
package wshttpd

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/wshttpd/pkg/wshttpd/ws"
)

// RequestHandler serves ordinary (non-upgrade) HTTP requests over stdlib
// net/http; the listener, TLS termination, and HTTP/1.x parsing are all
// delegated to net/http rather than hand-rolled.
type RequestHandler func(w http.ResponseWriter, r *http.Request)

// Config holds Server construction parameters: the listen port, the
// ordinary HTTP handler, the optional WebSocket upgrade gate, and the
// ambient read/write timeouts applied to connections that are never
// upgraded.
type Config struct {
	// Port is the TCP port to listen on, 1-65535.
	Port int

	// MaxSocketBytesToReceive is the read chunk size per poll-ready event.
	// Default 1024 if zero.
	MaxSocketBytesToReceive int

	// Handler serves ordinary HTTP requests. Required.
	Handler RequestHandler

	// WebSocket is the optional upgrade gate. If nil, no request is ever
	// promoted to a WebSocket session; every GET falls through to Handler.
	WebSocket *ws.Handler

	// ReadTimeout and WriteTimeout bound the underlying http.Server's
	// per-request deadlines, applied only to connections that are never
	// upgraded (upgraded connections are owned by the ws scheduler instead).
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Logger is used for ambient structured logging. Defaults to a no-op
	// logger if the zero value.
	Logger zerolog.Logger
}

// DefaultConfig returns a Config with the documented default for every
// field that has one.
func DefaultConfig() Config {
	return Config{
		Port:                    8080,
		MaxSocketBytesToReceive: 1024,
		ReadTimeout:             60 * time.Second,
		WriteTimeout:            60 * time.Second,
		Logger:                  zerolog.Nop(),
	}
}

// Stats reports connection counters: what this server can expose without
// instrumenting the delegated HTTP engine.
type Stats struct {
	ActiveWebSockets atomic.Int64
	TotalWebSockets  atomic.Uint64
	TotalRequests    atomic.Uint64
	StartTime        time.Time
}

// Duration returns how long the server has been running.
func (s *Stats) Duration() time.Duration { return time.Since(s.StartTime) }

// Server is an embeddable HTTP/1.1+HTTPS server with an optional WebSocket
// upgrade gate. Construction validates Config and fails fast on invalid
// values rather than surfacing them at runtime.
type Server struct {
	cfg       Config
	log       zerolog.Logger
	scheduler *ws.Scheduler
	httpSrv   *http.Server
	stats     Stats

	tlsCert, tlsKey string
}

// New constructs a plain-HTTP Server. Returns ws's construction-time
// sentinel errors (not ws's runtime ones) when cfg is invalid.
func New(cfg Config) (*Server, error) {
	return newServer(cfg, "", "")
}

// NewTLS constructs a Server that terminates TLS using certFile/keyFile
// instead of serving plain HTTP.
func NewTLS(cfg Config, certFile, keyFile string) (*Server, error) {
	return newServer(cfg, certFile, keyFile)
}

func newServer(cfg Config, certFile, keyFile string) (*Server, error) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, ws.ErrInvalidPort
	}
	if cfg.MaxSocketBytesToReceive == 0 {
		cfg.MaxSocketBytesToReceive = 1024
	}
	if cfg.MaxSocketBytesToReceive < 0 {
		return nil, ws.ErrInvalidChunkSize
	}
	if cfg.Handler == nil {
		return nil, ws.ErrMissingRequestHandler
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	log := cfg.Logger

	s := &Server{
		cfg:     cfg,
		log:     log,
		tlsCert: certFile,
		tlsKey:  keyFile,
	}
	s.stats.StartTime = time.Now()

	if cfg.WebSocket != nil {
		s.scheduler = ws.NewScheduler(log)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveHTTP)

	s.httpSrv = &http.Server{
		Addr:         net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// serveHTTP is the HTTP engine's single entry point: the WebSocket upgrade
// gate wired in front of the user's RequestHandler.
func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.stats.TotalRequests.Add(1)

	if s.cfg.WebSocket != nil {
		upgraded, err := ws.TryUpgrade(w, r, s.cfg.WebSocket, s.scheduler, s.cfg.MaxSocketBytesToReceive, s.log)
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket upgrade failed")
		}
		if upgraded {
			s.stats.TotalWebSockets.Add(1)
			s.stats.ActiveWebSockets.Add(1)
			return
		}
	}

	s.cfg.Handler(w, r)
}

// ListenAndServe starts the scheduler (if a ws.Handler is installed) and
// blocks serving HTTP until Shutdown or Close.
func (s *Server) ListenAndServe() error {
	if s.scheduler != nil {
		go s.scheduler.Run()
	}
	if s.tlsCert != "" {
		return s.httpSrv.ListenAndServeTLS(s.tlsCert, s.tlsKey)
	}
	return s.httpSrv.ListenAndServe()
}

// ListenAndServeTLS is an explicit TLS entry point for a Server constructed
// with New (plain) but handed certificates at call time; ListenAndServe
// already does this when NewTLS supplied them at construction.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	if s.scheduler != nil {
		go s.scheduler.Run()
	}
	return s.httpSrv.ListenAndServeTLS(certFile, keyFile)
}

// Shutdown gracefully stops accepting new HTTP connections, drains the
// WebSocket scheduler (synthesizing GoingAway closes for every open
// session), and waits up to ctx's deadline for in-flight HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	return err
}

// Close immediately tears down the HTTP server and the WebSocket
// scheduler, forcing every active connection closed.
func (s *Server) Close() error {
	err := s.httpSrv.Close()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	return err
}

// Stats returns server statistics.
func (s *Server) Stats() *Stats { return &s.stats }

// SetTLSConfig installs a custom tls.Config, for embedders that need
// client-cert verification or a particular cipher suite set rather than
// the file-based defaults NewTLS configures.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.httpSrv.TLSConfig = cfg
}
