package ports

import (
	"github.com/user/videodec/pkg/codec"
)

// DecodeCallback reports the outcome of one decode or drain request.
type DecodeCallback func(codec.DecodeStatus)

// OutputCallback delivers a decoded frame to the owner.
type OutputCallback func(*codec.VideoFrame)

// VideoDecoder is the engine-facing contract of the decoder driver.
// All methods must be called from the owning worker.
type VideoDecoder interface {
	// Decode queues one compressed buffer. done runs on the worker
	// once the device consumed (or the driver abandoned) the buffer.
	Decode(buf *codec.BitstreamBuffer, done DecodeCallback)

	// Drain flushes all queued input through the device. done runs
	// with DecodeOK when the last pending frame was delivered.
	Drain(done DecodeCallback)

	// Flush drops all in-flight work; pending callbacks run with
	// DecodeAborted.
	Flush()

	// Close tears the driver down: streams off both queues, releases
	// buffers, and stops polling.
	Close()
}
