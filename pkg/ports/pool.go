package ports

import (
	"github.com/user/videodec/pkg/codec"
)

// FrameWithBlockID pairs a pool frame with the pool's opaque block
// id.
type FrameWithBlockID struct {
	Frame   *codec.VideoFrame
	BlockID uint32
}

// FramePool supplies decoded-output memory blocks. At most one
// acquisition request is outstanding at a time.
type FramePool interface {
	// GetFrame requests one frame asynchronously. The callback runs
	// on the owner's worker with nil on pool failure. GetFrame
	// returns false when a previous request is still outstanding.
	GetFrame(cb func(*FrameWithBlockID)) bool

	// Close releases the pool and all idle blocks.
	Close()
}

// GetPoolFunc is the driver-side callback requesting a fresh frame
// pool after a resolution change. The driver closes its prior pool
// before calling it, so a single pool lives at a time.
type GetPoolFunc func(size codec.Size, pixelFormat uint32, numBuffers int) (FramePool, error)
