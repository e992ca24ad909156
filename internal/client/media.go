package client

import (
	"github.com/RaviKiran093/multilingual-video-call/internal/negotiation"
	"github.com/RaviKiran093/multilingual-video-call/internal/webrtcpeer"
)

// PionStack adapts the pion-backed media stack to the orchestrator's
// contract.
type PionStack struct {
	stack *webrtcpeer.Stack
}

func NewPionStack(stack *webrtcpeer.Stack) *PionStack {
	return &PionStack{stack: stack}
}

func (p *PionStack) NewSession(remoteID string) (negotiation.MediaSession, error) {
	return p.stack.NewSession(remoteID)
}
