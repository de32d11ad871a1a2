// Package api serves the HTTP surface: health, the latest addresses, the
// login code endpoint and the WebSocket push stream.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"mintwatch/internal/authgate"
	"mintwatch/internal/broadcast"
	"mintwatch/internal/ingest"
	rtsup "mintwatch/internal/runtime/supervisor"
	logx "mintwatch/pkg/logx"
)

const (
	FormatJSON = "json"
	FormatText = "text"
)

type Config struct {
	Addr        string
	CORSOrigins []string
	Pprof       bool

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// PingInterval drives WebSocket keepalive. 0 disables pings and read deadlines.
	PingInterval time.Duration
	// Format of pushed frames: "json" (event object) or "text" (bare address).
	Format string
}

// Latest lists addresses for GET /latest, oldest first.
type Latest interface {
	Members() []string
}

// Codes receives login codes and reports whether a login is waiting.
type Codes interface {
	Submit(code int) error
	Pending() (bool, time.Time)
}

// Hub is the live subscriber registry.
type Hub interface {
	Connect(sub broadcast.Subscriber)
	Disconnect(id string)
	Count() int
}

type Deps struct {
	Latest Latest
	Codes  Codes
	Hub    Hub
	// Seen reports the dedup store size. Optional.
	Seen func() int
	// Ingest reports pipeline state. Optional.
	Ingest func() ingest.Status
	// Goroutines reports supervised task runs, restarts and panics. Optional.
	Goroutines func() rtsup.Snapshot
	// Authorized reports whether the user session is logged in. Optional.
	Authorized func() bool
}

var (
	_ Codes = (*authgate.Handshake)(nil)
	_ Hub   = (*broadcast.Broadcaster)(nil)
)

// Server owns the listener and runs it under a restart loop.
type Server struct {
	mu   sync.Mutex
	cfg  Config
	deps Deps
	log  logx.Logger

	router chi.Router
	ln     net.Listener
	srv    *http.Server
	sup    *rtsup.Supervisor
	ready  chan struct{}
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	s := &Server{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "api"))}
	s.router = s.routes()
	return s
}

// Handler returns the routed handler (middleware included).
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Ready is closed once the first listener is bound.
func (s *Server) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready == nil {
		s.ready = make(chan struct{})
	}
	return s.ready
}

// Start serves until Stop or ctx is done. Start is idempotent.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	if s.ready == nil {
		s.ready = make(chan struct{})
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

// Stop shuts the server down gracefully within ctx, then forcibly.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Cancel first so serveOnce treats the shutdown as intentional.
	sup.Cancel()
	if srv != nil {
		if err := srv.Shutdown(sctx); err != nil {
			_ = srv.Close()
		}
	}
	if err := sup.Wait(sctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("http server stop incomplete", logx.Err(err))
	}
	s.log.Info("http server stopped")
}

func (s *Server) serveOnce(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = ":8000"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("http listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		// WebSocket writes carry their own deadlines.
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	if s.ready == nil {
		s.ready = make(chan struct{})
	}
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("http listening", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.ln = nil
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}
