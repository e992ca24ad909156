// Package webrtcpeer is the pion-backed media layer. A Stack mints one
// Session per remote peer; sessions expose the narrow offer/answer and
// track-swap surface the negotiation layer drives.
package webrtcpeer

import (
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// Stack builds peer connections from a shared pion API instance and ICE
// configuration.
type Stack struct {
	log    *slog.Logger
	api    *webrtc.API
	cfg    webrtc.Configuration
	source Source
}

func NewStack(logger *slog.Logger, iceServers []webrtc.ICEServer, source Source) (*Stack, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	settingEngine := webrtc.SettingEngine{}
	settingEngine.LoggerFactory = newLoggerFactory(logger)
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)
	return &Stack{
		log:    logger,
		api:    api,
		cfg:    webrtc.Configuration{ICEServers: iceServers},
		source: source,
	}, nil
}

func (s *Stack) NewSession(remoteID string) (*Session, error) {
	pc, err := s.api.NewPeerConnection(s.cfg)
	if err != nil {
		return nil, err
	}
	sess, err := newSession(s.log.With("remote", remoteID), pc, s.source)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	return sess, nil
}
