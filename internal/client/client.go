// Package client is the Go endpoint library for the call relay. A Session
// dials the relay, joins a room, and routes every relay event from one
// dispatch point: negotiation traffic to the orchestrator, captions to the
// caption board, and chat to the application.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RaviKiran093/multilingual-video-call/internal/caption"
	"github.com/RaviKiran093/multilingual-video-call/internal/metrics"
	"github.com/RaviKiran093/multilingual-video-call/internal/negotiation"
	"github.com/RaviKiran093/multilingual-video-call/internal/rooms"
)

const writeWait = 10 * time.Second

// envelope mirrors the relay's wire format.
type envelope struct {
	Type string `json:"type"`

	RoomID       string `json:"roomId,omitempty"`
	Username     string `json:"username,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`

	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`

	Users []rooms.Member `json:"users,omitempty"`

	Video *bool `json:"video,omitempty"`
	Audio *bool `json:"audio,omitempty"`

	Text string `json:"text,omitempty"`
	Lang string `json:"lang,omitempty"`

	TargetLang string `json:"targetLang,omitempty"`
	Original   string `json:"original,omitempty"`
	Translated string `json:"translated,omitempty"`

	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Config describes one endpoint's place in a call.
type Config struct {
	// URL is the relay websocket endpoint, e.g. ws://host:4000/ws.
	URL      string
	RoomID   string
	Username string
	// Lang is the language this endpoint speaks; transcripts are published
	// with it.
	Lang string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Handlers receives call events the application cares about. Nil fields are
// skipped. Callbacks run on the session's read goroutine and must not block.
type Handlers struct {
	OnPeerJoined        func(connID, username string)
	OnPeerLeft          func(connID string)
	OnChat              func(fromID, text string)
	OnTranslatedMessage func(fromID, original, translated string)
	OnServerError       func(code, message string)
}

// Session is one live endpoint connection to a call.
type Session struct {
	log      *slog.Logger
	cfg      Config
	conn     *websocket.Conn
	orch     *negotiation.Orchestrator
	captions *caption.Coordinator
	handlers Handlers

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	mu       sync.Mutex
	id       string
	peers    map[string]string
	joinWait chan envelope
	videoOn  bool
	audioOn  bool
}

// Dial connects to the relay, joins the configured room, and starts the
// event loop. The returned session owns the orchestrator it builds around
// stack; captions may be shared with the application's UI layer.
func Dial(ctx context.Context, cfg Config, stack negotiation.MediaStack, captions *caption.Coordinator, handlers Handlers) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		log:      cfg.Logger.With("room", cfg.RoomID, "username", cfg.Username),
		cfg:      cfg,
		conn:     conn,
		captions: captions,
		handlers: handlers,
		ctx:      sctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		peers:    make(map[string]string),
		videoOn:  true,
		audioOn:  true,
	}
	s.orch = negotiation.New(cfg.Logger, cfg.Metrics, stack, s)

	go s.readLoop()

	if err := s.Join(ctx, cfg.RoomID); err != nil {
		s.teardown()
		return nil, err
	}
	return s, nil
}

// Join enters a room on the open connection and waits for the roster reply.
// It is how Dial performs the initial join and how a session re-enters a
// room after Leave. The read loop keeps dispatching other room events while
// the reply is outstanding, so a peer announced mid-join cannot wedge the
// handshake. Roster members are recorded but not called: the side already
// in the room initiates negotiation, so this endpoint just waits for their
// offers.
func (s *Session) Join(ctx context.Context, roomID string) error {
	wait := make(chan envelope, 1)
	s.mu.Lock()
	if s.joinWait != nil {
		s.mu.Unlock()
		return fmt.Errorf("join already in progress")
	}
	s.joinWait = wait
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.joinWait = nil
		s.mu.Unlock()
	}()

	if err := s.write(envelope{Type: "join-room", RoomID: roomID, Username: s.cfg.Username}); err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, writeWait)
		defer cancel()
	}
	select {
	case msg := <-wait:
		if msg.Type == "error" {
			return fmt.Errorf("join rejected: %s (%s)", msg.Message, msg.Code)
		}
		s.log.Info("joined call", "room", roomID, "connection_id", msg.ConnectionID, "peers", len(msg.Users))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("join reply: %w", ctx.Err())
	case <-s.ctx.Done():
		return fmt.Errorf("join reply: connection closed")
	}
}

// ID returns this endpoint's relay-assigned connection identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Peers returns a snapshot of known peers, keyed by connection ID.
func (s *Session) Peers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.peers))
	for id, name := range s.peers {
		out[id] = name
	}
	return out
}

// Done is closed when the session's event loop exits.
func (s *Session) Done() <-chan struct{} { return s.done }

// PeerLinkState reports the negotiation state toward one peer.
func (s *Session) PeerLinkState(connID string) (negotiation.LinkState, bool) {
	return s.orch.State(connID)
}

// RemoteMedia reports the last advertised track flags of one peer, for
// roster UIs.
func (s *Session) RemoteMedia(connID string) (video, audio, ok bool) {
	return s.orch.RemoteMedia(connID)
}

// SendSignal relays a negotiation payload to a peer. It satisfies the
// orchestrator's sender contract.
func (s *Session) SendSignal(to string, payload json.RawMessage) error {
	return s.write(envelope{Type: "signal", To: to, Signal: payload})
}

// ToggleVideo switches the outgoing video track on every peer link and
// advertises the new state to the room.
func (s *Session) ToggleVideo(on bool) error {
	if err := s.orch.SetVideo(on); err != nil {
		return err
	}
	s.mu.Lock()
	s.videoOn = on
	video, audio := s.videoOn, s.audioOn
	s.mu.Unlock()
	return s.write(envelope{Type: "media-state-changed", Video: &video, Audio: &audio})
}

// ToggleAudio is ToggleVideo for the audio track.
func (s *Session) ToggleAudio(on bool) error {
	if err := s.orch.SetAudio(on); err != nil {
		return err
	}
	s.mu.Lock()
	s.audioOn = on
	video, audio := s.videoOn, s.audioOn
	s.mu.Unlock()
	return s.write(envelope{Type: "media-state-changed", Video: &video, Audio: &audio})
}

// SendChat broadcasts a chat line to the room.
func (s *Session) SendChat(text string) error {
	return s.write(envelope{Type: "chat-message", Message: text})
}

// PublishTranscript posts a transcript line of this endpoint's speech: to
// the local caption board and to the room as a subtitle event.
func (s *Session) PublishTranscript(text string) error {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()
	if s.captions != nil {
		s.captions.Publish(id, s.cfg.Username, text, s.cfg.Lang)
	}
	return s.write(envelope{Type: "subtitle", Text: text, Lang: s.cfg.Lang})
}

// RequestTranslation asks the relay to translate text for one peer.
func (s *Session) RequestTranslation(to, text, targetLang string) error {
	return s.write(envelope{Type: "translate-message", To: to, Text: text, Lang: s.cfg.Lang, TargetLang: targetLang})
}

// Leave exits the room but keeps the connection open so Join can enter
// another room. Every peer link is torn down; peers learn of the departure
// from the relay.
func (s *Session) Leave() error {
	s.orch.Reset()
	s.mu.Lock()
	oldPeers := s.peers
	s.peers = make(map[string]string)
	s.mu.Unlock()
	if s.captions != nil {
		for id := range oldPeers {
			s.captions.Remove(id)
		}
	}
	return s.write(envelope{Type: "leave-room"})
}

// Close tears down the session: peer links, in-flight captions, and the
// relay connection.
func (s *Session) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	s.writeMu.Unlock()
	s.teardown()
	return nil
}

func (s *Session) teardown() {
	s.cancel()
	_ = s.conn.Close()
	s.orch.Close()
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer s.teardown()

	for {
		var msg envelope
		if err := s.conn.ReadJSON(&msg); err != nil {
			if s.ctx.Err() == nil {
				s.log.Warn("relay connection lost", "err", err)
			}
			return
		}
		s.dispatch(msg)
	}
}

// dispatch is the single fan-out point for relay events. It runs on the
// read goroutine, so per-peer event ordering matches the relay's.
func (s *Session) dispatch(msg envelope) {
	switch msg.Type {
	case "all-users":
		// Join reply. Recording the roster here, on the read goroutine,
		// keeps it ordered against user-joined events for later peers.
		s.mu.Lock()
		s.id = msg.ConnectionID
		for _, member := range msg.Users {
			s.peers[member.ConnectionID] = member.Username
		}
		wait := s.joinWait
		s.mu.Unlock()
		if wait != nil {
			select {
			case wait <- msg:
			default:
			}
		}

	case "user-joined":
		s.mu.Lock()
		s.peers[msg.ConnectionID] = msg.Username
		s.mu.Unlock()
		if s.handlers.OnPeerJoined != nil {
			s.handlers.OnPeerJoined(msg.ConnectionID, msg.Username)
		}
		// This endpoint was here first, so it initiates.
		if err := s.orch.PeerJoined(s.ctx, msg.ConnectionID); err != nil {
			s.log.Warn("negotiation start failed", "peer", msg.ConnectionID, "err", err)
		}

	case "signal":
		if err := s.orch.HandleSignal(s.ctx, msg.From, msg.Signal); err != nil {
			s.log.Warn("signal handling failed", "peer", msg.From, "err", err)
		}

	case "user-disconnected":
		s.orch.PeerLeft(msg.ConnectionID)
		if s.captions != nil {
			s.captions.Remove(msg.ConnectionID)
		}
		s.mu.Lock()
		delete(s.peers, msg.ConnectionID)
		s.mu.Unlock()
		if s.handlers.OnPeerLeft != nil {
			s.handlers.OnPeerLeft(msg.ConnectionID)
		}

	case "media-state-changed":
		if msg.Video != nil && msg.Audio != nil {
			s.orch.RemoteMediaChanged(msg.ConnectionID, *msg.Video, *msg.Audio)
		}

	case "chat-message":
		if s.handlers.OnChat != nil {
			s.handlers.OnChat(msg.ConnectionID, msg.Message)
		}

	case "subtitle":
		if s.captions != nil {
			s.mu.Lock()
			username := s.peers[msg.ConnectionID]
			s.mu.Unlock()
			s.captions.Publish(msg.ConnectionID, username, msg.Text, msg.Lang)
		}

	case "translated-message":
		if s.handlers.OnTranslatedMessage != nil {
			s.handlers.OnTranslatedMessage(msg.From, msg.Original, msg.Translated)
		}

	case "error":
		s.mu.Lock()
		wait := s.joinWait
		s.mu.Unlock()
		if wait != nil {
			// A pending join owns the reply.
			select {
			case wait <- msg:
				return
			default:
			}
		}
		s.log.Warn("relay error", "code", msg.Code, "message", msg.Message)
		if s.handlers.OnServerError != nil {
			s.handlers.OnServerError(msg.Code, msg.Message)
		}

	default:
		s.log.Debug("unhandled relay event", "type", msg.Type)
	}
}

func (s *Session) write(msg envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}
