package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/RaviKiran093/multilingual-video-call/internal/rooms"
)

type messageType string

// Client -> server event types.
const (
	messageTypeJoinRoom          messageType = "join-room"
	messageTypeSignal            messageType = "signal"
	messageTypeMediaStateChanged messageType = "media-state-changed"
	messageTypeChatMessage       messageType = "chat-message"
	messageTypeSubtitle          messageType = "subtitle"
	messageTypeTranslateMessage  messageType = "translate-message"
	messageTypeLeaveRoom         messageType = "leave-room"
)

// Server -> client event types.
const (
	messageTypeAllUsers          messageType = "all-users"
	messageTypeUserJoined        messageType = "user-joined"
	messageTypeUserDisconnected  messageType = "user-disconnected"
	messageTypeTranslatedMessage messageType = "translated-message"
	messageTypeError             messageType = "error"
)

// message is the wire envelope for every signaling event, client- and
// server-originated. Unused fields are omitted per type; validate() enforces
// the shape on inbound messages.
//
// The negotiation payload of a "signal" event is opaque to the relay: it is
// routed by target identifier and never inspected.
type message struct {
	Type messageType `json:"type"`

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

	// Message doubles as chat text and error detail (with Code set).
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func parseMessage(data []byte) (message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg message
	if err := dec.Decode(&msg); err != nil {
		return message{}, err
	}
	if err := msg.validate(); err != nil {
		return message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return message{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

// validate checks inbound (client -> server) messages only.
func (m message) validate() error {
	switch m.Type {
	case messageTypeJoinRoom:
		if m.RoomID == "" {
			return fmt.Errorf("join-room message missing roomId")
		}
		if m.Username == "" {
			return fmt.Errorf("join-room message missing username")
		}
	case messageTypeSignal:
		if m.To == "" {
			return fmt.Errorf("signal message missing to")
		}
		if len(m.Signal) == 0 {
			return fmt.Errorf("signal message missing signal payload")
		}
	case messageTypeMediaStateChanged:
		if m.Video == nil || m.Audio == nil {
			return fmt.Errorf("media-state-changed message missing video/audio flags")
		}
	case messageTypeChatMessage:
		if m.Message == "" {
			return fmt.Errorf("chat-message message missing message")
		}
	case messageTypeSubtitle:
		if m.Text == "" {
			return fmt.Errorf("subtitle message missing text")
		}
		if m.Lang == "" {
			return fmt.Errorf("subtitle message missing lang")
		}
	case messageTypeTranslateMessage:
		if m.Text == "" {
			return fmt.Errorf("translate-message message missing text")
		}
		if m.To == "" {
			return fmt.Errorf("translate-message message missing to")
		}
	case messageTypeLeaveRoom:
		// No payload.
	case messageTypeAllUsers, messageTypeUserJoined, messageTypeUserDisconnected,
		messageTypeTranslatedMessage, messageTypeError:
		return fmt.Errorf("message type %q is server-originated", m.Type)
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}
