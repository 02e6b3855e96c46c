// Package ports defines the interfaces between the decode core and
// its collaborators: the kernel device, the output frame pool, the
// client listener, and logging.
package ports

import (
	"image"

	"github.com/user/videodec/pkg/codec"
)

// BufferType selects one of the two queues of a memory-to-memory
// device. The input queue carries compressed bitstream buffers, the
// output queue carries decoded frames.
type BufferType int

const (
	// BufferTypeInput is the compressed-bitstream queue
	// (OUTPUT_MPLANE on the kernel side).
	BufferTypeInput BufferType = iota
	// BufferTypeOutput is the decoded-frame queue (CAPTURE_MPLANE on
	// the kernel side).
	BufferTypeOutput
)

// MemoryType selects how queue buffers are backed.
type MemoryType int

const (
	// MemoryDMABuf imports externally allocated DMABuf handles.
	MemoryDMABuf MemoryType = iota
)

// Capability flags a device must advertise.
type Capability uint32

const (
	// CapVideoM2MMplane marks a multi-planar memory-to-memory device.
	CapVideoM2MMplane Capability = 1 << 0
	// CapStreaming marks streaming I/O support.
	CapStreaming Capability = 1 << 1
)

// DecoderCmd is a device-level decoder command.
type DecoderCmd int

const (
	// DecoderCmdStop starts a device drain; the device flags the last
	// output buffer of the drained sequence.
	DecoderCmdStop DecoderCmd = iota
	// DecoderCmdStart resumes decoding after a completed drain.
	DecoderCmdStart
)

// Event is an asynchronous device notification.
type Event struct {
	// SourceChange is set for source-change events.
	SourceChange bool
	// ResolutionChanged is set when the source change carries the
	// resolution flag.
	ResolutionChanged bool
}

// PixFormat describes a negotiated queue format.
type PixFormat struct {
	PixelFormat uint32
	Size        codec.Size
	// PlaneSizes holds the per-plane buffer sizes in bytes.
	PlaneSizes []uint32
}

// Device is the kernel video decoder device consumed by the decoder
// driver. Implementations wrap one memory-to-memory streaming device
// with multi-planar buffer queues and asynchronous event delivery.
type Device interface {
	// HasCapabilities reports whether the device advertises all the
	// given capability flags.
	HasCapabilities(caps Capability) bool

	// TryDecoderCmd verifies a decoder command is supported without
	// issuing it.
	TryDecoderCmd(cmd DecoderCmd) error

	// SendDecoderCmd issues a decoder command.
	SendDecoderCmd(cmd DecoderCmd) error

	// SubscribeSourceChange subscribes to source-change events.
	SubscribeSourceChange() error

	// DequeueEvent pops one pending event. ok is false when no event
	// is pending.
	DequeueEvent() (ev Event, ok bool)

	// Queue returns the buffer queue of the given type.
	Queue(typ BufferType) (Queue, error)

	// EnumFormats lists the pixel formats the device supports on the
	// given queue.
	EnumFormats(typ BufferType) []uint32

	// GetFormat queries the current format of the given queue.
	GetFormat(typ BufferType) (*PixFormat, error)

	// MinCaptureBuffers queries the minimum number of output buffers
	// the device needs to make progress.
	MinCaptureBuffers() (int, error)

	// ComposeRect queries the visible rectangle via the selection
	// API.
	ComposeRect() (image.Rectangle, error)

	// CropRect queries the visible rectangle via the legacy crop API.
	CropRect() (image.Rectangle, error)

	// StartPolling starts delivering device readiness to service. The
	// event argument is true when an asynchronous event is pending.
	// Both callbacks are invoked from the polling goroutine; callers
	// are expected to re-post them onto their own worker.
	StartPolling(service func(event bool), onError func()) error

	// StopPolling stops event delivery and joins the poller.
	StopPolling()

	// Close releases the device handle.
	Close() error
}

// Queue is one buffer queue of a Device.
type Queue interface {
	// SetFormat negotiates the queue format. Size may be empty for
	// the compressed queue; bufferSize is the per-buffer byte size
	// for compressed formats (0 to let the device pick).
	SetFormat(pixelFormat uint32, size codec.Size, bufferSize uint32) (*PixFormat, error)

	// AllocateBuffers requests count buffer slots and returns the
	// number actually allocated (0 on failure).
	AllocateBuffers(count int, memory MemoryType) (int, error)

	// DeallocateBuffers releases all buffer slots.
	DeallocateBuffers() error

	Streamon() error
	Streamoff() error
	IsStreaming() bool

	AllocatedBuffersCount() int
	FreeBuffersCount() int
	QueuedBuffersCount() int

	// GetFreeBuffer returns any free buffer slot.
	GetFreeBuffer() (Buffer, bool)

	// GetFreeBufferByID returns the free buffer slot with the given
	// id.
	GetFreeBufferByID(id uint32) (Buffer, bool)

	// DequeueBuffer pops one ready buffer. ok is false when none is
	// ready; err is set on device failure.
	DequeueBuffer() (buf *DequeuedBuffer, ok bool, err error)
}

// Buffer is a free buffer slot being prepared for queueing.
type Buffer interface {
	// ID returns the slot id.
	ID() uint32

	// PlaneSize returns the byte size of the given plane.
	PlaneSize(plane int) uint32

	// SetTimestamp stamps the buffer timestamp seconds field, used to
	// carry the bitstream id through the device.
	SetTimestamp(sec int64)

	SetPlaneDataOffset(plane int, offset uint32)
	SetPlaneBytesUsed(plane int, bytes uint32)

	// QueueDMABuf queues the slot with the given DMABuf handles, one
	// per plane. The slot is no longer free afterwards.
	QueueDMABuf(handles []int) error
}

// DequeuedBuffer is a buffer slot returned by the device.
type DequeuedBuffer struct {
	ID           uint32
	TimestampSec int64
	// BytesUsed is the payload size of plane 0. Zero on the output
	// queue means the slot carries no displayable frame.
	BytesUsed uint32
	// Last marks the final buffer of a drained sequence.
	Last bool
}
