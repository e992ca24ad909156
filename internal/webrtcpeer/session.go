package webrtcpeer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("webrtcpeer: session closed")

// Session wraps one peer connection toward a single remote. It carries two
// outgoing senders whose tracks swap between the live source and
// placeholders without renegotiation.
type Session struct {
	log *slog.Logger
	pc  *webrtc.PeerConnection

	videoSender *webrtc.RTPSender
	audioSender *webrtc.RTPSender
	liveVideo   webrtc.TrackLocal
	liveAudio   webrtc.TrackLocal
	blankVideo  *webrtc.TrackLocalStaticSample
	silentAudio *webrtc.TrackLocalStaticSample

	mu          sync.Mutex
	onCand      func(json.RawMessage)
	stopSilence context.CancelFunc
	closed      bool
}

func newSession(logger *slog.Logger, pc *webrtc.PeerConnection, source Source) (*Session, error) {
	blankVideo, silentAudio, err := newPlaceholderTracks("placeholder")
	if err != nil {
		return nil, err
	}
	s := &Session{
		log:         logger,
		pc:          pc,
		liveVideo:   source.VideoTrack(),
		liveAudio:   source.AudioTrack(),
		blankVideo:  blankVideo,
		silentAudio: silentAudio,
	}
	if s.videoSender, err = pc.AddTrack(s.liveVideo); err != nil {
		return nil, err
	}
	if s.audioSender, err = pc.AddTrack(s.liveAudio); err != nil {
		return nil, err
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		s.mu.Lock()
		cb := s.onCand
		s.mu.Unlock()
		if cb != nil {
			cb(raw)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debug("connection state", "state", state.String())
	})
	return s, nil
}

// OnLocalCandidate registers the trickle callback for locally gathered
// candidates. End-of-gathering is not surfaced.
func (s *Session) OnLocalCandidate(fn func(cand json.RawMessage)) {
	s.mu.Lock()
	s.onCand = fn
	s.mu.Unlock()
}

// CreateOffer generates and installs the local offer. The returned payload
// is the session description in signal wire form.
func (s *Session) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

// AcceptOffer installs a remote offer and returns the local answer.
func (s *Session) AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(offer, &sd); err != nil {
		return nil, err
	}
	if err := s.pc.SetRemoteDescription(sd); err != nil {
		return nil, err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

// AcceptAnswer installs the remote answer for the offer this session sent.
func (s *Session) AcceptAnswer(answer json.RawMessage) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(answer, &sd); err != nil {
		return err
	}
	return s.pc.SetRemoteDescription(sd)
}

// AddRemoteCandidate applies one trickled remote candidate.
func (s *Session) AddRemoteCandidate(cand json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(cand, &init); err != nil {
		return err
	}
	return s.pc.AddICECandidate(init)
}

// SetVideoLive swaps the outgoing video between the live source and the
// blank placeholder.
func (s *Session) SetVideoLive(live bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if live {
		return s.videoSender.ReplaceTrack(s.liveVideo)
	}
	return s.videoSender.ReplaceTrack(s.blankVideo)
}

// SetAudioLive swaps the outgoing audio between the live source and a
// silence generator.
func (s *Session) SetAudioLive(live bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if live {
		s.stopSilenceLocked()
		return s.audioSender.ReplaceTrack(s.liveAudio)
	}
	if err := s.audioSender.ReplaceTrack(s.silentAudio); err != nil {
		return err
	}
	if s.stopSilence == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopSilence = cancel
		go pumpSilence(ctx, s.silentAudio)
	}
	return nil
}

func (s *Session) stopSilenceLocked() {
	if s.stopSilence != nil {
		s.stopSilence()
		s.stopSilence = nil
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopSilenceLocked()
	s.mu.Unlock()
	return s.pc.Close()
}
