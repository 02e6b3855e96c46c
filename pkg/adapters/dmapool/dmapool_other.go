//go:build !linux

// Package dmapool provides a frame pool backed by DMA heap buffers.
// Buffer allocation requires Linux.
package dmapool

import (
	"fmt"
	"runtime"

	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/ports"
)

// Pool is unavailable on this platform.
type Pool struct{}

// New is unsupported on this platform.
func New(size codec.Size, pixelFormat uint32, numBuffers int, log ports.Logger) (*Pool, error) {
	return nil, fmt.Errorf("frame pool is not supported on %s", runtime.GOOS)
}

// GetFrame always reports no frame.
func (p *Pool) GetFrame(cb func(*ports.FrameWithBlockID)) bool {
	cb(nil)
	return true
}

// Recycle does nothing.
func (p *Pool) Recycle(frame *codec.VideoFrame) {}

// Close does nothing.
func (p *Pool) Close() {}

var _ ports.FramePool = (*Pool)(nil)
