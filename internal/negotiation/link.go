package negotiation

import (
	"encoding/json"
	"sync"
)

// LinkState is the negotiation state of one PeerLink.
//
// Caller side walks Idle -> OfferSent -> Connected; callee side walks
// Idle -> OfferReceived -> Connected, reaching Connected once its answer is
// handed to the relay. Closed is terminal and reachable from every state.
type LinkState int

const (
	StateIdle LinkState = iota
	StateOfferSent
	StateOfferReceived
	StateConnected
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateOfferReceived:
		return "offer-received"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// maxBufferedCandidates bounds the early-candidate queue per PeerLink. On
// overflow the oldest candidate is dropped; the buffer itself is discarded
// with the link.
const maxBufferedCandidates = 32

// link is this endpoint's view of one PeerLink. The remote endpoint owns its
// own view; the two converge only through relayed messages.
type link struct {
	mu sync.Mutex

	remoteID string
	state    LinkState
	session  MediaSession

	// remoteDescSet gates candidate application: the media stack rejects
	// candidates until a remote description is installed.
	remoteDescSet bool
	pending       []json.RawMessage

	remoteVideoOn bool
	remoteAudioOn bool
}

func newLink(remoteID string, session MediaSession) *link {
	return &link{
		remoteID:      remoteID,
		state:         StateIdle,
		session:       session,
		remoteVideoOn: true,
		remoteAudioOn: true,
	}
}

// bufferCandidate queues an early candidate, dropping the oldest entry on
// overflow. Returns false when the queue overflowed.
func (l *link) bufferCandidate(cand json.RawMessage) bool {
	if len(l.pending) >= maxBufferedCandidates {
		l.pending = l.pending[1:]
		l.pending = append(l.pending, cand)
		return false
	}
	l.pending = append(l.pending, cand)
	return true
}

// drainCandidates applies every buffered candidate to the session. Must be
// called with the link mutex held and remoteDescSet true.
func (l *link) drainCandidates() {
	for _, cand := range l.pending {
		_ = l.session.AddRemoteCandidate(cand)
	}
	l.pending = nil
}

// closeLocked transitions to Closed and releases the session and all
// buffered state. Idempotent.
func (l *link) closeLocked() {
	if l.state == StateClosed {
		return
	}
	l.state = StateClosed
	l.pending = nil
	if l.session != nil {
		_ = l.session.Close()
	}
}
