package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/util"
)

// Server accepts WebSocket clients and relays signaling messages between the
// members of each room. It holds no negotiation state.
type Server struct {
	cfg      config.Relay
	registry *Registry
	upgrader websocket.Upgrader
	peerLeft []byte
}

// NewServer creates a relay server backed by registry.
func NewServer(cfg config.Relay, registry *Registry) *Server {
	peerLeft, _ := json.Marshal(signaling.PeerLeft())
	return &Server{
		cfg:      cfg,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		peerLeft: peerLeft,
	}
}

// Handler returns the HTTP handler: /health answers liveness probes and
// every other path upgrades to the signaling WebSocket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleWS)
	return mux
}

// Run listens on cfg.ListenAddr and serves until ctx is cancelled, then
// closes every client with 1001 and shuts the HTTP server down.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	util.LogInfo("relay listening on %s", listener.Addr())

	select {
	case err := <-errCh:
		return fmt.Errorf("relay stopped: %w", err)
	case <-ctx.Done():
	}

	util.LogInfo("shutting down relay...")
	for _, c := range s.registry.All() {
		c.close(websocket.CloseGoingAway, "relay shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	c := newConn(ws, room, s.cfg)
	if err := s.registry.Add(c); err != nil {
		util.Stats.AddRejected()
		util.LogWarning("rejecting %s from room %q: %v", r.RemoteAddr, room, err)
		writeClose(ws, websocket.ClosePolicyViolation, err.Error(), s.cfg.WriteWait)
		_ = ws.Close()
		return
	}

	util.Stats.AddConn()
	util.LogInfo("[%s] joined room %q (%d present, %d room(s) open)",
		c.short(), room, s.registry.Len(room), s.registry.Rooms())

	go c.writePump()
	c.readPump(func(raw []byte) { s.relay(c, raw) })
	s.disconnect(c)
}

// relay forwards raw to every other member of sender's room. Frames that do
// not parse as a client signaling message are dropped and counted.
func (s *Server) relay(sender *Conn, raw []byte) {
	msg, err := signaling.Parse(raw)
	if err == nil && !msg.Type.ClientOriginated() {
		err = fmt.Errorf("%w: %s may not be sent by clients", signaling.ErrMalformedMessage, msg.Type)
	}
	if err != nil {
		util.Stats.AddMalformed()
		util.LogWarning("[%s] %v", sender.short(), err)
		return
	}

	delivered := 0
	s.registry.ForEachPeer(sender, func(peer *Conn) {
		if peer.enqueue(raw) {
			util.Stats.AddRelayed(len(raw))
			delivered++
		}
	})
	util.LogDebug("[%s] %s relayed to %d peer(s)", sender.short(), msg.Type, delivered)
}

// disconnect deregisters c and, when enabled, tells the remaining room
// members that their peer is gone.
func (s *Server) disconnect(c *Conn) {
	rest := s.registry.Remove(c)
	c.close(websocket.CloseNormalClosure, "")
	util.Stats.RemoveConn()
	util.LogInfo("[%s] left room %q", c.short(), c.room)

	if !s.cfg.NotifyPeerLeft {
		return
	}
	for _, peer := range rest {
		peer.enqueue(s.peerLeft)
	}
}
