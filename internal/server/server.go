package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/0xlemi/polytune/internal/tuner"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// sendBuffer is the per-client queue; snapshots beyond it are dropped for that client
const sendBuffer = 16

// client is one connected display. Only its writer goroutine touches the connection for writes.
type client struct {
	send chan Message
}

// Server pushes display snapshots to WebSocket clients. It is safe for concurrent use.
type Server struct {
	addr     string
	engine   *tuner.Engine
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	version uint64 // newest display sent to clients
}

// New creates a server for engine listening on addr.
func New(addr string, engine *tuner.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:     addr,
		engine:   engine,
		logger:   logger,
		upgrader: newUpgrader(logger),
		clients:  make(map[*client]struct{}),
	}
}

// Handler returns the HTTP routes: /ws for the socket and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("websocket bridge listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Publish sends a snapshot to every connected client. Snapshots older than
// one already sent are dropped.
func (s *Server) Publish(d tuner.Display) {
	msg, err := displayMessage(d)
	if err != nil {
		s.logger.Error("encode display", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Version < s.version {
		s.logger.Debug("stale display dropped", zap.Uint64("version", d.Version), zap.Uint64("latest", s.version))
		return
	}
	s.version = d.Version
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			// slow client, it will catch up on the next snapshot
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{send: make(chan Message, sendBuffer)}

	// Snapshot under the lock so no older publish can follow it
	s.mu.Lock()
	d := s.engine.Snapshot()
	if msg, err := displayMessage(d); err == nil {
		c.send <- msg
		s.version = max(s.version, d.Version)
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("display connected", zap.String("remote", r.RemoteAddr))

	go s.runWriter(conn, c)
	s.runReader(conn, c)

	s.mu.Lock()
	delete(s.clients, c)
	close(c.send)
	s.mu.Unlock()
	s.logger.Info("display disconnected", zap.String("remote", r.RemoteAddr))
}

// runWriter writes messages from the send channel to the connection.
func (s *Server) runWriter(conn *websocket.Conn, c *client) {
	defer conn.Close()
	for msg := range c.send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runReader applies incoming commands until the connection closes.
func (s *Server) runReader(conn *websocket.Conn, c *client) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in websocket reader", zap.Any("panic", r))
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		d, err := apply(s.engine, msg)
		if err != nil {
			s.logger.Debug("command rejected", zap.String("type", msg.Type), zap.Error(err))
			s.reply(c, Message{Type: "error", Error: err.Error()})
			continue
		}
		s.Publish(d)
	}
}

func (s *Server) reply(c *client, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case c.send <- msg:
	default:
	}
}

func displayMessage(d tuner.Display) (Message, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: "display", Data: data}, nil
}
