package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time so bucket behavior is deterministic in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket is a token bucket refilling at an integer rate (tokens/sec)
// using the provided Clock.
//
// Accounting is done in nano-tokens (1 token = 1e9 nano-tokens) so refill
// arithmetic stays integral; a rate of X tokens/sec adds X nano-tokens per
// elapsed nanosecond.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	fillRate int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

const nanoPerToken = int64(time.Second)

func NewTokenBucket(clock Clock, capacity, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		fillRate:  fillRate,
		available: capacity * nanoPerToken,
		last:      clock.Now(),
	}
}

// Allow consumes the given number of tokens if available. tokens <= 0 always
// succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	cost := tokens * nanoPerToken
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; move the reference point without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.fillRate <= 0 || b.capacity <= 0 {
		return
	}

	capNano := b.capacity * nanoPerToken
	need := capNano - b.available
	if need <= 0 {
		b.available = capNano
		return
	}
	// If enough time passed to fill the bucket, clamp instead of multiplying
	// (avoids overflow on long idle periods).
	if elapsed >= need/b.fillRate {
		b.available = capNano
		return
	}
	b.available += elapsed * b.fillRate
}
