package webrtcpeer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func newTestStack(t *testing.T) *Stack {
	t.Helper()
	source, err := NewSampleSource("test-stream")
	if err != nil {
		t.Fatalf("NewSampleSource: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stack, err := NewStack(logger, nil, source)
	if err != nil {
		t.Fatalf("NewStack: %v", err)
	}
	return stack
}

func TestOfferAnswerLoopback(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	caller, err := stack.NewSession("callee")
	if err != nil {
		t.Fatalf("NewSession(caller): %v", err)
	}
	defer caller.Close()
	callee, err := stack.NewSession("caller")
	if err != nil {
		t.Fatalf("NewSession(callee): %v", err)
	}
	defer callee.Close()

	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	var desc struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal(offer, &desc); err != nil {
		t.Fatalf("offer payload: %v", err)
	}
	if desc.Type != "offer" || desc.SDP == "" {
		t.Fatalf("offer payload = %+v", desc)
	}

	answer, err := callee.AcceptOffer(ctx, offer)
	if err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if err := json.Unmarshal(answer, &desc); err != nil {
		t.Fatalf("answer payload: %v", err)
	}
	if desc.Type != "answer" || desc.SDP == "" {
		t.Fatalf("answer payload = %+v", desc)
	}
	if err := caller.AcceptAnswer(answer); err != nil {
		t.Fatalf("AcceptAnswer: %v", err)
	}
}

func TestTrackSwapDoesNotError(t *testing.T) {
	stack := newTestStack(t)
	sess, err := stack.NewSession("remote")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	for _, live := range []bool{false, true, false} {
		if err := sess.SetVideoLive(live); err != nil {
			t.Fatalf("SetVideoLive(%v): %v", live, err)
		}
		if err := sess.SetAudioLive(live); err != nil {
			t.Fatalf("SetAudioLive(%v): %v", live, err)
		}
	}
}

func TestClosedSessionRejectsTrackSwap(t *testing.T) {
	stack := newTestStack(t)
	sess, err := stack.NewSession("remote")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.SetVideoLive(true); err != ErrSessionClosed {
		t.Fatalf("SetVideoLive after close = %v, want ErrSessionClosed", err)
	}
}
