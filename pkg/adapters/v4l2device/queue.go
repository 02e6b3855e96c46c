//go:build linux

package v4l2device

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/ports"
)

// queue is one buffer queue of a device node.
type queue struct {
	dev *Device
	typ uint32

	numPlanes  int
	planeSizes []uint32

	allocated   int
	queued      []bool
	queuedCount int
	streaming   bool
}

// SetFormat negotiates the queue format.
func (q *queue) SetFormat(pixelFormat uint32, size codec.Size, bufferSize uint32) (*ports.PixFormat, error) {
	format := v4l2Format{typ: q.typ}
	mp := format.mplane()
	mp.pixelformat = pixelFormat
	mp.width = uint32(size.Width)
	mp.height = uint32(size.Height)
	mp.numPlanes = 1
	mp.planeFmt[0].sizeimage = bufferSize

	if err := q.dev.ioctl(vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		return nil, fmt.Errorf("set format: %w", err)
	}
	if mp.pixelformat != pixelFormat {
		return nil, fmt.Errorf("driver replaced pixel format %s with %s",
			codec.FourCCString(pixelFormat), codec.FourCCString(mp.pixelformat))
	}

	q.numPlanes = int(mp.numPlanes)
	q.planeSizes = q.planeSizes[:0]
	out := &ports.PixFormat{
		PixelFormat: mp.pixelformat,
		Size:        codec.Size{Width: int(mp.width), Height: int(mp.height)},
	}
	for i := 0; i < q.numPlanes; i++ {
		q.planeSizes = append(q.planeSizes, mp.planeFmt[i].sizeimage)
		out.PlaneSizes = append(out.PlaneSizes, mp.planeFmt[i].sizeimage)
	}
	return out, nil
}

// AllocateBuffers requests buffer slots from the device.
func (q *queue) AllocateBuffers(count int, memory ports.MemoryType) (int, error) {
	if memory != ports.MemoryDMABuf {
		return 0, fmt.Errorf("unsupported memory type %d", memory)
	}
	req := v4l2Requestbuffers{
		count:  uint32(count),
		typ:    q.typ,
		memory: v4l2MemoryDMABuf,
	}
	if err := q.dev.ioctl(vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("request buffers: %w", err)
	}
	q.allocated = int(req.count)
	q.queued = make([]bool, q.allocated)
	q.queuedCount = 0
	return q.allocated, nil
}

// DeallocateBuffers releases all buffer slots.
func (q *queue) DeallocateBuffers() error {
	req := v4l2Requestbuffers{typ: q.typ, memory: v4l2MemoryDMABuf}
	if err := q.dev.ioctl(vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("release buffers: %w", err)
	}
	q.allocated = 0
	q.queued = nil
	q.queuedCount = 0
	return nil
}

// Streamon starts streaming.
func (q *queue) Streamon() error {
	typ := int32(q.typ)
	if err := q.dev.ioctl(vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("streamon: %w", err)
	}
	q.streaming = true
	return nil
}

// Streamoff stops streaming; the kernel drops all queued buffers.
func (q *queue) Streamoff() error {
	typ := int32(q.typ)
	if err := q.dev.ioctl(vidiocStreamoff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("streamoff: %w", err)
	}
	q.streaming = false
	for i := range q.queued {
		q.queued[i] = false
	}
	q.queuedCount = 0
	return nil
}

// IsStreaming reports whether the queue is streaming.
func (q *queue) IsStreaming() bool { return q.streaming }

// AllocatedBuffersCount returns the number of allocated slots.
func (q *queue) AllocatedBuffersCount() int { return q.allocated }

// FreeBuffersCount returns the number of free slots.
func (q *queue) FreeBuffersCount() int { return q.allocated - q.queuedCount }

// QueuedBuffersCount returns the number of slots at the device.
func (q *queue) QueuedBuffersCount() int { return q.queuedCount }

// GetFreeBuffer returns any free buffer slot.
func (q *queue) GetFreeBuffer() (ports.Buffer, bool) {
	for id := 0; id < q.allocated; id++ {
		if !q.queued[id] {
			return q.newBuffer(uint32(id)), true
		}
	}
	return nil, false
}

// GetFreeBufferByID returns the free slot with the given id.
func (q *queue) GetFreeBufferByID(id uint32) (ports.Buffer, bool) {
	if int(id) >= q.allocated || q.queued[id] {
		return nil, false
	}
	return q.newBuffer(id), true
}

func (q *queue) newBuffer(id uint32) *buffer {
	return &buffer{q: q, id: id, planes: make([]v4l2Plane, q.numPlanes)}
}

// DequeueBuffer pops one ready buffer from the device.
func (q *queue) DequeueBuffer() (*ports.DequeuedBuffer, bool, error) {
	if q.queuedCount == 0 {
		return nil, false, nil
	}

	planes := make([]v4l2Plane, q.numPlanes)
	buf := v4l2Buffer{
		typ:    q.typ,
		memory: v4l2MemoryDMABuf,
		m:      uint64(uintptr(unsafe.Pointer(&planes[0]))),
		length: uint32(q.numPlanes),
	}
	if err := q.dev.ioctl(vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		if err == unix.EAGAIN {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("dequeue buffer: %w", err)
	}

	if int(buf.index) < len(q.queued) && q.queued[buf.index] {
		q.queued[buf.index] = false
		q.queuedCount--
	}

	return &ports.DequeuedBuffer{
		ID:           buf.index,
		TimestampSec: buf.timestamp.sec,
		BytesUsed:    planes[0].bytesused,
		Last:         buf.flags&v4l2BufFlagLast != 0,
	}, true, nil
}

// buffer is a free slot being prepared for queueing.
type buffer struct {
	q      *queue
	id     uint32
	tvSec  int64
	planes []v4l2Plane
}

// ID returns the slot id.
func (b *buffer) ID() uint32 { return b.id }

// PlaneSize returns the byte size of a plane.
func (b *buffer) PlaneSize(plane int) uint32 {
	if plane >= len(b.q.planeSizes) {
		return 0
	}
	return b.q.planeSizes[plane]
}

// SetTimestamp stamps the timestamp seconds field.
func (b *buffer) SetTimestamp(sec int64) { b.tvSec = sec }

// SetPlaneDataOffset sets the payload offset of a plane.
func (b *buffer) SetPlaneDataOffset(plane int, offset uint32) {
	b.planes[plane].dataOffset = offset
}

// SetPlaneBytesUsed sets the payload size of a plane.
func (b *buffer) SetPlaneBytesUsed(plane int, bytes uint32) {
	b.planes[plane].bytesused = bytes
}

// QueueDMABuf queues the slot with the given DMABuf handles.
func (b *buffer) QueueDMABuf(handles []int) error {
	if len(handles) < len(b.planes) {
		return fmt.Errorf("need %d plane handles, got %d", len(b.planes), len(handles))
	}
	for i := range b.planes {
		b.planes[i].m = uint64(handles[i])
		b.planes[i].length = b.q.planeSizes[i]
	}

	buf := v4l2Buffer{
		index:     b.id,
		typ:       b.q.typ,
		memory:    v4l2MemoryDMABuf,
		timestamp: timeval{sec: b.tvSec},
		m:         uint64(uintptr(unsafe.Pointer(&b.planes[0]))),
		length:    uint32(len(b.planes)),
	}
	if err := b.q.dev.ioctl(vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("queue buffer %d: %w", b.id, err)
	}

	b.q.queued[b.id] = true
	b.q.queuedCount++
	return nil
}

var _ ports.Queue = (*queue)(nil)
var _ ports.Buffer = (*buffer)(nil)
