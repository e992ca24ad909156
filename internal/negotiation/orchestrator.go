// Package negotiation drives offer/answer/candidate exchange for every
// remote peer an endpoint shares a room with. It owns one PeerLink state
// machine per remote connection ID and mediates between the media stack
// below it and the signaling relay above it.
package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/RaviKiran093/multilingual-video-call/internal/metrics"
)

// MediaSession is one peer connection as the orchestrator sees it. The
// webrtcpeer package provides the pion-backed implementation; tests supply
// fakes.
type MediaSession interface {
	// CreateOffer generates and installs a local offer, returning the
	// signal payload to relay to the remote peer.
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	// AcceptOffer installs a remote offer and returns the local answer
	// payload.
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	// AcceptAnswer installs the remote answer for a previously sent offer.
	AcceptAnswer(answer json.RawMessage) error
	AddRemoteCandidate(cand json.RawMessage) error
	// SetVideoLive and SetAudioLive swap the outgoing track between the
	// live capture and a placeholder without renegotiating.
	SetVideoLive(live bool) error
	SetAudioLive(live bool) error
	// OnLocalCandidate registers the trickle callback. Must be set before
	// CreateOffer or AcceptOffer.
	OnLocalCandidate(func(cand json.RawMessage))
	Close() error
}

// MediaStack mints sessions, one per remote peer.
type MediaStack interface {
	NewSession(remoteID string) (MediaSession, error)
}

// SignalSender relays an opaque negotiation payload to a remote connection.
type SignalSender interface {
	SendSignal(to string, payload json.RawMessage) error
}

// ErrClosed is returned by operations on a closed orchestrator.
var ErrClosed = errors.New("negotiation: orchestrator closed")

// signalBody is the slice of the relayed payload the orchestrator needs to
// classify a message. Everything else passes through to the media stack
// untouched.
type signalBody struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
}

// Orchestrator manages the PeerLinks of a single endpoint.
type Orchestrator struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	stack   MediaStack
	sender  SignalSender

	mu     sync.Mutex
	links  map[string]*link
	closed bool

	videoOn bool
	audioOn bool
}

func New(logger *slog.Logger, m *metrics.Metrics, stack MediaStack, sender SignalSender) *Orchestrator {
	return &Orchestrator{
		log:     logger,
		metrics: m,
		stack:   stack,
		sender:  sender,
		links:   make(map[string]*link),
		videoOn: true,
		audioOn: true,
	}
}

// PeerJoined starts negotiation toward a newly announced remote. The side
// already in the room initiates, so exactly one of any pair ever calls this
// for the other. A second call for a remote that already has a link is a
// no-op.
func (o *Orchestrator) PeerJoined(ctx context.Context, remoteID string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	l, ok := o.links[remoteID]
	if !ok {
		var err error
		l, err = o.newLinkLocked(remoteID)
		if err != nil {
			o.mu.Unlock()
			return err
		}
	}
	o.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	// An early trickled candidate may have minted the link already; only
	// an Idle link still needs an offer.
	if l.state != StateIdle {
		return nil
	}
	offer, err := l.session.CreateOffer(ctx)
	if err != nil {
		l.closeLocked()
		o.removeLink(remoteID)
		return err
	}
	l.state = StateOfferSent
	if err := o.sender.SendSignal(remoteID, offer); err != nil {
		l.closeLocked()
		o.removeLink(remoteID)
		return err
	}
	o.log.Debug("sent offer", "remote", remoteID)
	return nil
}

// HandleSignal routes one relayed payload to the matching PeerLink,
// creating it on first offer. Out-of-order payloads are dropped without
// disturbing the link.
func (o *Orchestrator) HandleSignal(ctx context.Context, from string, payload json.RawMessage) error {
	var body signalBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}
	switch {
	case body.Type == "offer":
		return o.handleOffer(ctx, from, payload)
	case body.Type == "answer":
		return o.handleAnswer(from, payload)
	case len(body.Candidate) > 0:
		return o.handleCandidate(from, body.Candidate)
	default:
		o.log.Warn("unrecognized signal payload", "from", from)
		return nil
	}
}

func (o *Orchestrator) handleOffer(ctx context.Context, from string, offer json.RawMessage) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	l, ok := o.links[from]
	if !ok {
		var err error
		l, err = o.newLinkLocked(from)
		if err != nil {
			o.mu.Unlock()
			return err
		}
	}
	o.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateIdle {
		o.metrics.Inc(metrics.SignalDroppedGuard)
		o.log.Debug("dropped offer", "remote", from, "state", l.state)
		return nil
	}
	answer, err := l.session.AcceptOffer(ctx, offer)
	if err != nil {
		return err
	}
	l.state = StateOfferReceived
	l.remoteDescSet = true
	l.drainCandidates()
	if err := o.sender.SendSignal(from, answer); err != nil {
		// The remote description is installed but the remote never got the
		// answer; the caller decides whether to retry or tear down.
		return err
	}
	l.state = StateConnected
	o.log.Debug("sent answer", "remote", from)
	return nil
}

func (o *Orchestrator) handleAnswer(from string, answer json.RawMessage) error {
	l := o.lookup(from)
	if l == nil {
		o.metrics.Inc(metrics.SignalDroppedGuard)
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateOfferSent {
		// Duplicate or stale answer. Dropping it keeps an established
		// link intact when the remote retransmits.
		o.metrics.Inc(metrics.SignalDroppedGuard)
		o.log.Debug("dropped answer", "remote", from, "state", l.state)
		return nil
	}
	if err := l.session.AcceptAnswer(answer); err != nil {
		return err
	}
	l.remoteDescSet = true
	l.state = StateConnected
	l.drainCandidates()
	return nil
}

func (o *Orchestrator) handleCandidate(from string, cand json.RawMessage) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	l, ok := o.links[from]
	if !ok {
		// Trickled candidates can outrun the offer. Park them on a
		// fresh Idle link until negotiation catches up.
		var err error
		l, err = o.newLinkLocked(from)
		if err != nil {
			o.mu.Unlock()
			return err
		}
	}
	o.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return nil
	}
	if !l.remoteDescSet {
		o.metrics.Inc(metrics.CandidateBuffered)
		if !l.bufferCandidate(cand) {
			o.metrics.Inc(metrics.CandidateBufferOverflow)
			o.log.Warn("candidate buffer overflow", "remote", from)
		}
		return nil
	}
	return l.session.AddRemoteCandidate(cand)
}

// PeerLeft tears down the link for a departed remote. Unknown remotes are
// ignored so duplicate disconnect notices stay harmless.
func (o *Orchestrator) PeerLeft(remoteID string) {
	o.mu.Lock()
	l, ok := o.links[remoteID]
	if ok {
		delete(o.links, remoteID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	l.mu.Lock()
	l.closeLocked()
	l.mu.Unlock()
	o.log.Debug("peer link closed", "remote", remoteID)
}

// SetVideo swaps the outgoing video track on every link between the live
// capture and the placeholder. Link states are untouched; no renegotiation
// happens.
func (o *Orchestrator) SetVideo(on bool) error {
	return o.setTrack(on, func(s MediaSession, live bool) error { return s.SetVideoLive(live) }, &o.videoOn)
}

// SetAudio is SetVideo for the audio track.
func (o *Orchestrator) SetAudio(on bool) error {
	return o.setTrack(on, func(s MediaSession, live bool) error { return s.SetAudioLive(live) }, &o.audioOn)
}

func (o *Orchestrator) setTrack(on bool, apply func(MediaSession, bool) error, flag *bool) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	*flag = on
	all := make([]*link, 0, len(o.links))
	for _, l := range o.links {
		all = append(all, l)
	}
	o.mu.Unlock()

	var firstErr error
	for _, l := range all {
		l.mu.Lock()
		if l.state != StateClosed {
			if err := apply(l.session, on); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		l.mu.Unlock()
	}
	return firstErr
}

// RemoteMediaChanged records the advertised track flags of a remote peer.
func (o *Orchestrator) RemoteMediaChanged(remoteID string, video, audio bool) {
	l := o.lookup(remoteID)
	if l == nil {
		return
	}
	l.mu.Lock()
	l.remoteVideoOn = video
	l.remoteAudioOn = audio
	l.mu.Unlock()
}

// RemoteMedia reports the last advertised track flags for a remote peer.
func (o *Orchestrator) RemoteMedia(remoteID string) (video, audio, ok bool) {
	l := o.lookup(remoteID)
	if l == nil {
		return false, false, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteVideoOn, l.remoteAudioOn, true
}

// State reports the current state of the link toward remoteID, or
// StateClosed with ok false when no link exists.
func (o *Orchestrator) State(remoteID string) (LinkState, bool) {
	l := o.lookup(remoteID)
	if l == nil {
		return StateClosed, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, true
}

// Reset tears down every link but keeps the orchestrator usable, for an
// endpoint that leaves one room to join another.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	all := o.links
	o.links = make(map[string]*link)
	o.mu.Unlock()

	closeAll(all)
}

// Close tears down every link. The orchestrator rejects further work.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	all := o.links
	o.links = make(map[string]*link)
	o.mu.Unlock()

	closeAll(all)
}

func closeAll(links map[string]*link) {
	for _, l := range links {
		l.mu.Lock()
		l.closeLocked()
		l.mu.Unlock()
	}
}

func (o *Orchestrator) lookup(remoteID string) *link {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.links[remoteID]
}

// newLinkLocked mints a link plus session and wires candidate trickling.
// Caller holds o.mu.
func (o *Orchestrator) newLinkLocked(remoteID string) (*link, error) {
	session, err := o.stack.NewSession(remoteID)
	if err != nil {
		return nil, err
	}
	l := newLink(remoteID, session)
	session.OnLocalCandidate(func(cand json.RawMessage) {
		payload, err := json.Marshal(struct {
			Candidate json.RawMessage `json:"candidate"`
		}{Candidate: cand})
		if err != nil {
			return
		}
		if err := o.sender.SendSignal(remoteID, payload); err != nil {
			o.log.Debug("candidate send failed", "remote", remoteID, "err", err)
		}
	})
	o.links[remoteID] = l
	return l, nil
}

func (o *Orchestrator) removeLink(remoteID string) {
	o.mu.Lock()
	delete(o.links, remoteID)
	o.mu.Unlock()
}
