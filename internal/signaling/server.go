// Package signaling implements the relay's websocket surface: room
// membership, event routing, and the in-session translation bridge.
//
// The relay is a pure router. Negotiation payloads are forwarded verbatim to
// the named target; room events are fanned out to every member except the
// sender. All negotiation semantics live on the endpoints.
package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RaviKiran093/multilingual-video-call/internal/config"
	"github.com/RaviKiran093/multilingual-video-call/internal/metrics"
	"github.com/RaviKiran093/multilingual-video-call/internal/origin"
	"github.com/RaviKiran093/multilingual-video-call/internal/rooms"
)

// Translator is the narrow contract to the external translation collaborator
// used by the in-session translate-message bridge.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// translateFailedText is the fallback shown when the translation
// collaborator is unavailable.
const translateFailedText = "Translation failed."

type Server struct {
	log      *slog.Logger
	registry *rooms.Registry
	metrics  *metrics.Metrics

	translator        Translator
	defaultTargetLang string

	allowedOrigins []string

	idleTimeout     time.Duration
	pingInterval    time.Duration
	maxMessageBytes int64
	messagesPerSec  int

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

func NewServer(cfg config.Config, logger *slog.Logger, registry *rooms.Registry, m *metrics.Metrics, translator Translator) *Server {
	s := &Server{
		log:      logger.With("component", "signaling"),
		registry: registry,
		metrics:  m,

		translator:        translator,
		defaultTargetLang: cfg.DefaultTargetLang,

		allowedOrigins: cfg.AllowedOrigins,

		idleTimeout:     cfg.SignalingWSIdleTimeout,
		pingInterval:    cfg.SignalingWSPingInterval,
		maxMessageBytes: cfg.MaxSignalingMessageBytes,
		messagesPerSec:  cfg.MaxSignalingMessagesPerSecond,

		clients: make(map[string]*client),
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = config.DefaultSignalingWSIdleTimeout
	}
	if s.pingInterval <= 0 {
		s.pingInterval = config.DefaultSignalingWSPingInterval
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if s.messagesPerSec <= 0 {
		s.messagesPerSec = config.DefaultMaxSignalingMessagesPerSecond
	}
	if s.defaultTargetLang == "" {
		s.defaultTargetLang = config.DefaultTargetLang
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.ServeHTTP)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		// Non-browser clients (tests, the Go endpoint library) send no Origin.
		return true
	}
	normalized, ok := origin.Normalize(originHeader)
	if !ok {
		return false
	}
	return origin.IsAllowed(normalized, s.allowedOrigins)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(s, conn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[c.id] = c
	s.mu.Unlock()

	s.log.Debug("connection registered", "connection_id", c.id, "remote_addr", r.RemoteAddr)
	c.run()
}

// Close tears down every live connection. Used on shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (s *Server) lookup(connID string) (*client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[connID]
	return c, ok
}

// handleMessage dispatches one parsed client event. It runs on the client's
// read goroutine, so per-client ordering is preserved.
func (s *Server) handleMessage(c *client, msg message) {
	switch msg.Type {
	case messageTypeJoinRoom:
		s.handleJoin(c, msg)
	case messageTypeSignal:
		s.handleSignal(c, msg)
	case messageTypeMediaStateChanged:
		s.roomCast(c, message{
			Type:         messageTypeMediaStateChanged,
			ConnectionID: c.id,
			Video:        msg.Video,
			Audio:        msg.Audio,
		})
	case messageTypeChatMessage:
		s.roomCast(c, message{
			Type:         messageTypeChatMessage,
			ConnectionID: c.id,
			Message:      msg.Message,
		})
	case messageTypeSubtitle:
		s.roomCast(c, message{
			Type:         messageTypeSubtitle,
			ConnectionID: c.id,
			Text:         msg.Text,
			Lang:         msg.Lang,
		})
	case messageTypeTranslateMessage:
		s.handleTranslate(c, msg)
	case messageTypeLeaveRoom:
		s.handleLeave(c)
	}
}

func (s *Server) handleJoin(c *client, msg message) {
	roster, err := s.registry.Join(c.id, msg.RoomID, msg.Username)
	if err != nil {
		s.metrics.Inc(metrics.JoinRejected)
		s.log.Warn("join rejected", "connection_id", c.id, "room_id", msg.RoomID, "err", err)
		c.send(message{Type: messageTypeError, Code: "already_joined", Message: err.Error()})
		return
	}

	s.log.Info("joined room", "connection_id", c.id, "room_id", msg.RoomID, "username", msg.Username, "peers", len(roster))

	// The roster snapshot taken inside Join is also the exact recipient list
	// for the user-joined announcement. Fanning out to a fresh snapshot
	// instead would let a concurrent join observe the newcomer twice.
	announcement := message{Type: messageTypeUserJoined, ConnectionID: c.id, Username: msg.Username}
	for _, member := range roster {
		if peer, ok := s.lookup(member.ConnectionID); ok {
			peer.send(announcement)
		}
	}

	// ConnectionID here is the joiner's own identifier; peers will address
	// signals to it.
	c.send(message{Type: messageTypeAllUsers, ConnectionID: c.id, Users: roster})
}

func (s *Server) handleSignal(c *client, msg message) {
	target, ok := s.lookup(msg.To)
	if !ok {
		// The target raced a disconnect; the sender's orchestrator will tear
		// down its side when the user-disconnected notice arrives.
		s.metrics.Inc(metrics.SignalDroppedNoTarget)
		s.log.Debug("signal dropped, unknown target", "from", c.id, "to", msg.To)
		return
	}
	target.send(message{Type: messageTypeSignal, From: c.id, Signal: msg.Signal})
}

func (s *Server) handleTranslate(c *client, msg message) {
	targetLang := msg.TargetLang
	if targetLang == "" {
		targetLang = s.defaultTargetLang
	}

	if s.translator == nil {
		c.send(message{
			Type:       messageTypeTranslatedMessage,
			From:       "server",
			Original:   msg.Text,
			Translated: translateFailedText,
			TargetLang: targetLang,
		})
		return
	}

	// Translation round-trips must not stall the read pump; one slow
	// collaborator call must not delay other events from this connection.
	go func() {
		translated, err := s.translator.Translate(c.ctx, msg.Text, msg.Lang, targetLang)
		if err != nil {
			s.metrics.Inc(metrics.TranslateFailure)
			s.log.Warn("translate-message failed", "connection_id", c.id, "err", err)
			c.send(message{
				Type:       messageTypeTranslatedMessage,
				From:       "server",
				Original:   msg.Text,
				Translated: translateFailedText,
				TargetLang: targetLang,
			})
			return
		}

		out := message{
			Type:       messageTypeTranslatedMessage,
			From:       c.id,
			Original:   msg.Text,
			Translated: translated,
			TargetLang: targetLang,
		}
		if target, ok := s.lookup(msg.To); ok {
			target.send(out)
		}
	}()
}

func (s *Server) handleLeave(c *client) {
	roomID, left := s.registry.Leave(c.id)
	if !left {
		return
	}
	s.log.Info("left room", "connection_id", c.id, "room_id", roomID)
	s.castToRoom(roomID, message{Type: messageTypeUserDisconnected, ConnectionID: c.id})
}

// dropClient finalizes a disconnected client: membership teardown, peer
// notification, and in-flight work cancellation. Idempotent.
func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	_, present := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()
	if !present {
		return
	}

	c.cancel()

	roomID, left := s.registry.Unregister(c.id)
	if left {
		s.castToRoom(roomID, message{Type: messageTypeUserDisconnected, ConnectionID: c.id})
	}
	s.log.Debug("connection dropped", "connection_id", c.id, "room_id", roomID)
}

// roomCast sends msg to every member of the sender's room except the sender.
// A sender that is not in a room yet is a no-op.
func (s *Server) roomCast(c *client, msg message) {
	roomID, ok := s.registry.RoomOf(c.id)
	if !ok {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, member := range s.registry.Roster(roomID) {
		if member.ConnectionID == c.id {
			continue
		}
		if peer, ok := s.lookup(member.ConnectionID); ok {
			peer.sendRaw(data)
		}
	}
}

func (s *Server) castToRoom(roomID string, msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, member := range s.registry.Roster(roomID) {
		if peer, ok := s.lookup(member.ConnectionID); ok {
			peer.sendRaw(data)
		}
	}
}
