// Package mocks provides hand-written mock implementations of the
// ports interfaces for tests.
package mocks

import (
	"fmt"
	"image"

	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/ports"
)

// Device is a mock implementation of ports.Device simulating an m2m
// decoder node. Tests drive it by pushing events and triggering poll
// wakeups.
type Device struct {
	// Caps advertised to HasCapabilities. Defaults to everything.
	Caps ports.Capability

	// Input and Output are the two queues.
	Input  *Queue
	Output *Queue

	// InputFormats and OutputFormats are returned by EnumFormats.
	InputFormats  []uint32
	OutputFormats []uint32

	// Format per queue, returned by GetFormat.
	InputFormat  ports.PixFormat
	OutputFormat ports.PixFormat

	// MinBuffers is returned by MinCaptureBuffers.
	MinBuffers int

	// Compose and Crop are the visible rect queries; the Err fields
	// make them fail.
	Compose    image.Rectangle
	ComposeErr error
	Crop       image.Rectangle
	CropErr    error

	// TryDecoderCmdErr and SendDecoderCmdErr make the commands fail.
	TryDecoderCmdErr  error
	SendDecoderCmdErr error

	// Recorded calls for verification.
	SentCmds    []ports.DecoderCmd
	Subscribed  bool
	PollStarted int
	PollStopped int
	Closed      bool

	events  []ports.Event
	service func(event bool)
	onError func()
}

// NewDevice creates a mock device with sane defaults for decoder
// tests.
func NewDevice() *Device {
	d := &Device{
		Caps:          ports.CapVideoM2MMplane | ports.CapStreaming,
		InputFormats:  []uint32{codec.FourccH264, codec.FourccVP8, codec.FourccVP9, codec.FourccHEVC},
		OutputFormats: []uint32{codec.FourccNV12},
		MinBuffers:    4,
	}
	d.Input = &Queue{dev: d, PlaneSizes: []uint32{1 << 20}, NumPlanes: 1}
	d.Output = &Queue{dev: d, PlaneSizes: []uint32{1 << 20}, NumPlanes: 1}
	return d
}

// PushResolutionChange queues a resolution-change event and sets the
// new format.
func (d *Device) PushResolutionChange(size codec.Size) {
	d.OutputFormat = ports.PixFormat{
		PixelFormat: codec.FourccNV12,
		Size:        size,
		PlaneSizes:  []uint32{uint32(size.Area() * 3 / 2)},
	}
	d.Compose = image.Rect(0, 0, size.Width, size.Height)
	d.events = append(d.events, ports.Event{SourceChange: true, ResolutionChanged: true})
}

// TriggerPoll invokes the polling service callback as the poller
// would.
func (d *Device) TriggerPoll(event bool) {
	if d.service != nil {
		d.service(event)
	}
}

func (d *Device) HasCapabilities(caps ports.Capability) bool {
	return d.Caps&caps == caps
}

func (d *Device) TryDecoderCmd(cmd ports.DecoderCmd) error {
	return d.TryDecoderCmdErr
}

func (d *Device) SendDecoderCmd(cmd ports.DecoderCmd) error {
	if d.SendDecoderCmdErr != nil {
		return d.SendDecoderCmdErr
	}
	d.SentCmds = append(d.SentCmds, cmd)
	return nil
}

func (d *Device) SubscribeSourceChange() error {
	d.Subscribed = true
	return nil
}

func (d *Device) DequeueEvent() (ports.Event, bool) {
	if len(d.events) == 0 {
		return ports.Event{}, false
	}
	ev := d.events[0]
	d.events = d.events[1:]
	return ev, true
}

func (d *Device) Queue(typ ports.BufferType) (ports.Queue, error) {
	if typ == ports.BufferTypeInput {
		return d.Input, nil
	}
	return d.Output, nil
}

func (d *Device) EnumFormats(typ ports.BufferType) []uint32 {
	if typ == ports.BufferTypeInput {
		return d.InputFormats
	}
	return d.OutputFormats
}

func (d *Device) GetFormat(typ ports.BufferType) (*ports.PixFormat, error) {
	if typ == ports.BufferTypeInput {
		f := d.InputFormat
		return &f, nil
	}
	f := d.OutputFormat
	return &f, nil
}

func (d *Device) MinCaptureBuffers() (int, error) {
	return d.MinBuffers, nil
}

func (d *Device) ComposeRect() (image.Rectangle, error) {
	return d.Compose, d.ComposeErr
}

func (d *Device) CropRect() (image.Rectangle, error) {
	return d.Crop, d.CropErr
}

func (d *Device) StartPolling(service func(event bool), onError func()) error {
	d.service = service
	d.onError = onError
	d.PollStarted++
	return nil
}

func (d *Device) StopPolling() {
	d.PollStopped++
}

func (d *Device) Close() error {
	d.Closed = true
	return nil
}

var _ ports.Device = (*Device)(nil)

// QueuedBuffer records one buffer queued to the mock device.
type QueuedBuffer struct {
	ID           uint32
	TimestampSec int64
	Handles      []int
	Offset       uint32
	BytesUsed    uint32
}

// Queue is a mock implementation of ports.Queue with free/queued
// accounting. Tests complete buffers with PushReady.
type Queue struct {
	dev *Device

	NumPlanes  int
	PlaneSizes []uint32

	Formats   []ports.PixFormat // recorded SetFormat calls
	Allocated int
	Streaming bool

	// QueueErr makes QueueDMABuf fail.
	QueueErr error

	queued map[uint32]*QueuedBuffer
	ready  []*ports.DequeuedBuffer

	// QueuedLog records every queued buffer in order.
	QueuedLog []*QueuedBuffer
	// StreamoffCount counts Streamoff calls.
	StreamoffCount int
}

func (q *Queue) SetFormat(pixelFormat uint32, size codec.Size, bufferSize uint32) (*ports.PixFormat, error) {
	f := ports.PixFormat{PixelFormat: pixelFormat, Size: size, PlaneSizes: q.PlaneSizes}
	q.Formats = append(q.Formats, f)
	return &f, nil
}

func (q *Queue) AllocateBuffers(count int, memory ports.MemoryType) (int, error) {
	q.Allocated = count
	q.queued = make(map[uint32]*QueuedBuffer)
	q.ready = nil
	return count, nil
}

func (q *Queue) DeallocateBuffers() error {
	q.Allocated = 0
	q.queued = nil
	q.ready = nil
	return nil
}

func (q *Queue) Streamon() error {
	q.Streaming = true
	return nil
}

func (q *Queue) Streamoff() error {
	q.Streaming = false
	q.StreamoffCount++
	q.queued = nil
	q.ready = nil
	return nil
}

func (q *Queue) IsStreaming() bool { return q.Streaming }

func (q *Queue) AllocatedBuffersCount() int { return q.Allocated }

func (q *Queue) FreeBuffersCount() int { return q.Allocated - len(q.queued) }

func (q *Queue) QueuedBuffersCount() int { return len(q.queued) }

func (q *Queue) GetFreeBuffer() (ports.Buffer, bool) {
	for id := 0; id < q.Allocated; id++ {
		if _, taken := q.queued[uint32(id)]; !taken {
			return &Buffer{q: q, id: uint32(id)}, true
		}
	}
	return nil, false
}

func (q *Queue) GetFreeBufferByID(id uint32) (ports.Buffer, bool) {
	if int(id) >= q.Allocated {
		return nil, false
	}
	if _, taken := q.queued[id]; taken {
		return nil, false
	}
	return &Buffer{q: q, id: id}, true
}

func (q *Queue) DequeueBuffer() (*ports.DequeuedBuffer, bool, error) {
	if len(q.ready) == 0 {
		return nil, false, nil
	}
	buf := q.ready[0]
	q.ready = q.ready[1:]
	delete(q.queued, buf.ID)
	return buf, true, nil
}

// PushReady marks a queued buffer as ready for dequeue. The timestamp
// is recovered from the queued buffer.
func (q *Queue) PushReady(id uint32, bytesUsed uint32, last bool) error {
	qb, ok := q.queued[id]
	if !ok {
		return fmt.Errorf("buffer %d is not queued", id)
	}
	q.ready = append(q.ready, &ports.DequeuedBuffer{
		ID:           id,
		TimestampSec: qb.TimestampSec,
		BytesUsed:    bytesUsed,
		Last:         last,
	})
	return nil
}

// PushReadyWithTimestamp marks a queued buffer ready with an explicit
// timestamp, used to simulate display-order output.
func (q *Queue) PushReadyWithTimestamp(id uint32, tsSec int64, bytesUsed uint32, last bool) error {
	if _, ok := q.queued[id]; !ok {
		return fmt.Errorf("buffer %d is not queued", id)
	}
	q.ready = append(q.ready, &ports.DequeuedBuffer{
		ID:           id,
		TimestampSec: tsSec,
		BytesUsed:    bytesUsed,
		Last:         last,
	})
	return nil
}

// QueuedBufferByID returns the record of a queued buffer.
func (q *Queue) QueuedBufferByID(id uint32) (*QueuedBuffer, bool) {
	qb, ok := q.queued[id]
	return qb, ok
}

var _ ports.Queue = (*Queue)(nil)

// Buffer is a mock free buffer slot.
type Buffer struct {
	q      *Queue
	id     uint32
	tvSec  int64
	offset uint32
	bytes  uint32
}

func (b *Buffer) ID() uint32 { return b.id }

func (b *Buffer) PlaneSize(plane int) uint32 {
	if plane >= len(b.q.PlaneSizes) {
		return 0
	}
	return b.q.PlaneSizes[plane]
}

func (b *Buffer) SetTimestamp(sec int64) { b.tvSec = sec }

func (b *Buffer) SetPlaneDataOffset(plane int, offset uint32) { b.offset = offset }

func (b *Buffer) SetPlaneBytesUsed(plane int, bytes uint32) { b.bytes = bytes }

func (b *Buffer) QueueDMABuf(handles []int) error {
	if b.q.QueueErr != nil {
		return b.q.QueueErr
	}
	if b.q.queued == nil {
		b.q.queued = make(map[uint32]*QueuedBuffer)
	}
	qb := &QueuedBuffer{
		ID:           b.id,
		TimestampSec: b.tvSec,
		Handles:      handles,
		Offset:       b.offset,
		BytesUsed:    b.bytes,
	}
	b.q.queued[b.id] = qb
	b.q.QueuedLog = append(b.q.QueuedLog, qb)
	return nil
}

var _ ports.Buffer = (*Buffer)(nil)
