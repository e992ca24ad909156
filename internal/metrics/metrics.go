package metrics

import "sync"

// Event counter names.
//
// Out-of-order negotiation messages are discarded at the state-machine guard
// and never surfaced to the user, so these counters are the only way to
// observe silent drops.
const (
	SignalDroppedGuard      = "signal_dropped_guard"
	SignalDroppedNoTarget   = "signal_dropped_no_target"
	CandidateBuffered       = "candidate_buffered"
	CandidateBufferOverflow = "candidate_buffer_overflow"
	DropReasonRateLimited   = "rate_limited"
	JoinRejected            = "join_rejected"
	TranslateFailure        = "translate_failure"
	TranscribeFailure       = "transcribe_failure"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay is expected to plug into a real metrics backend eventually; this
// type exists to keep guard/drop behavior observable and testable in-process.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
