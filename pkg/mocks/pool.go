package mocks

import (
	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/ports"
)

// FramePool is a mock implementation of ports.FramePool. Tests
// complete requests with SupplyFrame.
type FramePool struct {
	// Recorded state for verification.
	GetFrameCalls int
	Closed        bool

	pending func(*ports.FrameWithBlockID)
}

func (p *FramePool) GetFrame(cb func(*ports.FrameWithBlockID)) bool {
	if p.pending != nil {
		return false
	}
	p.GetFrameCalls++
	p.pending = cb
	return true
}

func (p *FramePool) Close() {
	p.Closed = true
	p.pending = nil
}

// HasPending reports whether a request is outstanding.
func (p *FramePool) HasPending() bool { return p.pending != nil }

// SupplyFrame completes the outstanding request with a frame.
func (p *FramePool) SupplyFrame(frame *codec.VideoFrame, blockID uint32) {
	cb := p.pending
	p.pending = nil
	if cb != nil {
		cb(&ports.FrameWithBlockID{Frame: frame, BlockID: blockID})
	}
}

// FailFrame completes the outstanding request with no frame.
func (p *FramePool) FailFrame() {
	cb := p.pending
	p.pending = nil
	if cb != nil {
		cb(nil)
	}
}

var _ ports.FramePool = (*FramePool)(nil)
