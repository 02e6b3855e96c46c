package mocks

import (
	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/ports"
)

// DecodeCall records one Decode request with its completion callback.
type DecodeCall struct {
	Buffer *codec.BitstreamBuffer
	Done   ports.DecodeCallback
}

// VideoDecoder is a mock implementation of ports.VideoDecoder. Tests
// complete decode and drain requests by running the recorded
// callbacks.
type VideoDecoder struct {
	DecodeFunc func(buf *codec.BitstreamBuffer, done ports.DecodeCallback)
	DrainFunc  func(done ports.DecodeCallback)
	FlushFunc  func()

	// Recorded calls for verification.
	DecodeCalls []DecodeCall
	DrainCalls  []ports.DecodeCallback
	FlushCalled int
	CloseCalled int
}

func (m *VideoDecoder) Decode(buf *codec.BitstreamBuffer, done ports.DecodeCallback) {
	m.DecodeCalls = append(m.DecodeCalls, DecodeCall{Buffer: buf, Done: done})
	if m.DecodeFunc != nil {
		m.DecodeFunc(buf, done)
	}
}

func (m *VideoDecoder) Drain(done ports.DecodeCallback) {
	m.DrainCalls = append(m.DrainCalls, done)
	if m.DrainFunc != nil {
		m.DrainFunc(done)
	}
}

func (m *VideoDecoder) Flush() {
	m.FlushCalled++
	if m.FlushFunc != nil {
		m.FlushFunc()
	}
}

func (m *VideoDecoder) Close() {
	m.CloseCalled++
}

var _ ports.VideoDecoder = (*VideoDecoder)(nil)
