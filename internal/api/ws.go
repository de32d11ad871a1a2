package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mintwatch/internal/broadcast"
	logx "mintwatch/pkg/logx"
)

const (
	wsWriteWait    = 5 * time.Second
	wsMaxReadBytes = 4 << 10
)

var errSubscriberClosed = errors.New("subscriber closed")

// wsSubscriber delivers events to one WebSocket client.
type wsSubscriber struct {
	id     string
	conn   *websocket.Conn
	format string

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newWSSubscriber(conn *websocket.Conn, format string) *wsSubscriber {
	return &wsSubscriber{
		id:     "ws-" + uuid.NewString(),
		conn:   conn,
		format: format,
		done:   make(chan struct{}),
	}
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Send(ctx context.Context, ev broadcast.Event) error {
	var payload []byte
	if s.format == FormatText {
		payload = []byte(ev.Address)
	} else {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		payload = b
	}

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return errSubscriberClosed
	default:
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSubscriber) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// Close sends a close frame and releases the connection. Safe to call twice.
func (s *wsSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := s.cfg.CORSOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 || slices.Contains(allowed, "*") {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, origin)
		},
	}
}

// handleWS registers the client with the hub for as long as the connection
// stays readable. Client frames other than control frames are discarded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeDetail(w, http.StatusServiceUnavailable, "push stream is not available")
		return
	}
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		s.log.Debug("websocket upgrade failed", logx.String("path", r.URL.Path), logx.Err(err))
		return
	}
	sub := newWSSubscriber(conn, s.cfg.Format)
	log := s.log.With(logx.String("sub", sub.ID()))

	s.deps.Hub.Connect(sub)
	log.Info("websocket connected", logx.String("remote", r.RemoteAddr), logx.Int("active", s.deps.Hub.Count()))
	defer func() {
		s.deps.Hub.Disconnect(sub.ID())
		_ = sub.Close()
		log.Info("websocket disconnected", logx.Int("active", s.deps.Hub.Count()))
	}()

	if s.cfg.PingInterval > 0 {
		go s.pingLoop(sub, s.cfg.PingInterval)
	}
	s.readLoop(r.Context(), sub)
}

func (s *Server) readLoop(ctx context.Context, sub *wsSubscriber) {
	conn := sub.conn
	conn.SetReadLimit(wsMaxReadBytes)
	interval := s.cfg.PingInterval
	extend := func() {
		if interval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * interval))
		}
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	// Unblock ReadMessage when the server shuts down.
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	defer stop()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		extend()
	}
}

func (s *Server) pingLoop(sub *wsSubscriber, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-sub.done:
			return
		case <-t.C:
			if err := sub.ping(); err != nil {
				_ = sub.Close()
				return
			}
		}
	}
}
