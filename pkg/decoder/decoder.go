// Package decoder drives a kernel memory-to-memory video decode
// device: it owns the compressed-input and decoded-output queues,
// matches dequeued buffers back to their bitstream ids, and handles
// drain commands and mid-stream resolution changes.
package decoder

import (
	"fmt"
	"image"

	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/ports"
)

const (
	// numInputBuffers is the fixed compressed-input queue depth.
	numInputBuffers = 16
	// numExtraOutputBuffers is added on top of the device minimum to
	// keep the whole pipeline supplied.
	numExtraOutputBuffers = 4
)

// State is the driver lifecycle state.
type State int

const (
	// StateIdle means no decode request is in flight.
	StateIdle State = iota
	// StateDecoding means requests are being pumped to the device.
	StateDecoding
	// StateDraining means a device drain is in progress.
	StateDraining
	// StateError is terminal.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateDecoding:
		return "Decoding"
	case StateDraining:
		return "Draining"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// request is one entry of the decode FIFO. A nil buffer is a drain
// marker.
type request struct {
	buffer *codec.BitstreamBuffer
	done   ports.DecodeCallback
}

// Options configures a Decoder.
type Options struct {
	// Codec selects the compressed input format.
	Codec codec.Codec
	// InputBufferSize is the compressed buffer size in bytes.
	InputBufferSize uint32
	// MinNumOutputBuffers is the lower bound for output buffer
	// allocation, regardless of what the device asks for.
	MinNumOutputBuffers int

	// Device is the opened kernel device. The decoder owns it.
	Device ports.Device
	// GetPool requests a fresh frame pool after a resolution change.
	GetPool ports.GetPoolFunc
	// OnOutput delivers decoded frames.
	OnOutput ports.OutputCallback
	// OnError reports a fatal driver error.
	OnError func()
	// Post schedules a task onto the owning worker. Polling callbacks
	// are re-posted through it so all state stays on the worker.
	Post func(func())
	// Logger defaults to a silent logger when nil.
	Logger ports.Logger
}

// Decoder is the decoder driver state machine. All methods must be
// called from the owning worker.
type Decoder struct {
	device      ports.Device
	inputQueue  ports.Queue
	outputQueue ports.Queue

	state               State
	requests            []request
	pendingDecodeCbs    map[int32]ports.DecodeCallback
	drainCb             ports.DecodeCallback
	framePool           ports.FramePool
	frameAtDevice       map[uint32]*codec.VideoFrame
	blockIDToBufferID   map[uint32]uint32
	minNumOutputBuffers int

	codedSize   codec.Size
	visibleRect image.Rectangle

	getPool  ports.GetPoolFunc
	outputCb ports.OutputCallback
	errorCb  func()
	post     func(func())
	log      ports.Logger
}

// New sets up the device for decoding: verifies capabilities and
// drain support, subscribes to source-change events, configures and
// streams on the input queue, and starts polling. The returned
// decoder is in StateIdle.
func New(opts Options) (*Decoder, error) {
	d := &Decoder{
		device:              opts.Device,
		state:               StateIdle,
		pendingDecodeCbs:    make(map[int32]ports.DecodeCallback),
		frameAtDevice:       make(map[uint32]*codec.VideoFrame),
		blockIDToBufferID:   make(map[uint32]uint32),
		minNumOutputBuffers: opts.MinNumOutputBuffers,
		getPool:             opts.GetPool,
		outputCb:            opts.OnOutput,
		errorCb:             opts.OnError,
		post:                opts.Post,
		log:                 opts.Logger,
	}
	if d.log == nil {
		d.log = noopLogger{}
	}

	if !d.device.HasCapabilities(ports.CapVideoM2MMplane | ports.CapStreaming) {
		return nil, fmt.Errorf("device lacks M2M_MPLANE and STREAMING capabilities")
	}
	if err := d.device.TryDecoderCmd(ports.DecoderCmdStop); err != nil {
		return nil, fmt.Errorf("device does not support flushing (decoder stop command): %w", err)
	}
	if err := d.device.SubscribeSourceChange(); err != nil {
		return nil, fmt.Errorf("subscribe source change event: %w", err)
	}

	var err error
	if d.inputQueue, err = d.device.Queue(ports.BufferTypeInput); err != nil {
		return nil, fmt.Errorf("get input queue: %w", err)
	}
	if d.outputQueue, err = d.device.Queue(ports.BufferTypeOutput); err != nil {
		return nil, fmt.Errorf("get output queue: %w", err)
	}

	if err := d.setupInputFormat(codec.PixFmtForCodec(opts.Codec), opts.InputBufferSize); err != nil {
		return nil, fmt.Errorf("setup input format: %w", err)
	}

	if err := d.startPolling(); err != nil {
		return nil, fmt.Errorf("start polling: %w", err)
	}

	return d, nil
}

func (d *Decoder) setupInputFormat(pixelFormat uint32, bufferSize uint32) error {
	supported := false
	for _, f := range d.device.EnumFormats(ports.BufferTypeInput) {
		if f == pixelFormat {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("input codec %s not supported by device", codec.FourCCString(pixelFormat))
	}

	if _, err := d.inputQueue.SetFormat(pixelFormat, codec.Size{}, bufferSize); err != nil {
		return fmt.Errorf("set input format: %w", err)
	}

	n, err := d.inputQueue.AllocateBuffers(numInputBuffers, ports.MemoryDMABuf)
	if err != nil {
		return fmt.Errorf("allocate input buffers: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no input buffers allocated")
	}
	if err := d.inputQueue.Streamon(); err != nil {
		return fmt.Errorf("streamon input queue: %w", err)
	}
	return nil
}

func (d *Decoder) startPolling() error {
	return d.device.StartPolling(
		func(event bool) {
			d.post(func() { d.serviceDevice(event) })
		},
		func() {
			d.post(d.onError)
		})
}

// Close streams off both queues, releases all buffers, and stops
// polling. Pool frames held at the device are dropped.
func (d *Decoder) Close() {
	if d.outputQueue != nil {
		d.outputQueue.Streamoff()
		d.outputQueue.DeallocateBuffers()
		d.outputQueue = nil
	}
	if d.inputQueue != nil {
		d.inputQueue.Streamoff()
		d.inputQueue.DeallocateBuffers()
		d.inputQueue = nil
	}
	if d.framePool != nil {
		d.framePool.Close()
		d.framePool = nil
	}
	if d.device != nil {
		d.device.StopPolling()
		d.device.Close()
		d.device = nil
	}
}

// State returns the current driver state.
func (d *Decoder) State() State {
	return d.state
}

// Decode queues one compressed buffer.
func (d *Decoder) Decode(buf *codec.BitstreamBuffer, done ports.DecodeCallback) {
	if d.state == StateError {
		d.log.Error("Ignore decode due to error state")
		d.post(func() { done(codec.DecodeError) })
		return
	}

	if d.state == StateIdle {
		d.setState(StateDecoding)
	}

	d.requests = append(d.requests, request{buffer: buf, done: done})
	d.pumpDecodeRequests()
}

// Drain flushes all queued input through the device.
func (d *Decoder) Drain(done ports.DecodeCallback) {
	switch d.state {
	case StateIdle:
		d.log.Debug("Nothing to drain, ignore")
		d.post(func() { done(codec.DecodeOK) })

	case StateDecoding:
		d.requests = append(d.requests, request{done: done})
		d.pumpDecodeRequests()

	case StateDraining, StateError:
		d.log.Error("Ignore drain due to wrong state: %s", d.state)
		d.post(func() { done(codec.DecodeError) })
	}
}

func (d *Decoder) pumpDecodeRequests() {
	if d.state != StateDecoding {
		return
	}

	for len(d.requests) > 0 {
		if d.requests[0].buffer == nil {
			// Drain marker. The stop command may only go out once all
			// input buffers are dequeued: the device holds the input
			// that triggers a resolution change and cannot decode it
			// without new output buffers, so stopping earlier would
			// flag LAST while queued inputs are still undecoded.
			if d.inputQueue.QueuedBuffersCount() > 0 {
				d.log.Debug("Wait for all input buffers dequeued")
				return
			}

			req := d.requests[0]
			d.requests = d.requests[1:]

			if err := d.device.SendDecoderCmd(ports.DecoderCmdStop); err != nil {
				d.log.Error("Decoder stop command failed: %v", err)
				req.done(codec.DecodeError)
				d.onError()
				return
			}
			d.drainCb = req.done
			d.setState(StateDraining)
			return
		}

		// Pause when no input buffer is free; the next input dequeue
		// resumes the pump.
		inputBuffer, ok := d.inputQueue.GetFreeBuffer()
		if !ok {
			d.log.Debug("There is no free input buffer")
			return
		}

		req := d.requests[0]
		d.requests = d.requests[1:]

		bitstreamID := req.buffer.ID
		d.log.Debug("Queue input buffer, bitstreamId=%d", bitstreamID)
		inputBuffer.SetTimestamp(int64(bitstreamID))

		planeSize := inputBuffer.PlaneSize(0)
		if req.buffer.Size > planeSize {
			d.log.Error("Input size %d exceeds plane size %d", req.buffer.Size, planeSize)
			d.onError()
			return
		}
		inputBuffer.SetPlaneDataOffset(0, req.buffer.Offset)
		inputBuffer.SetPlaneBytesUsed(0, req.buffer.Offset+req.buffer.Size)

		if err := inputBuffer.QueueDMABuf([]int{req.buffer.Handle}); err != nil {
			d.log.Error("Failed to queue input buffer, bitstreamId=%d: %v", bitstreamID, err)
			d.onError()
			return
		}

		d.pendingDecodeCbs[bitstreamID] = req.done
	}
}

// Flush aborts all in-flight work and returns the driver to
// StateIdle. Pending decode callbacks and any active drain callback
// run with DecodeAborted.
func (d *Decoder) Flush() {
	if d.state == StateIdle {
		d.log.Debug("Nothing to flush, ignore")
		return
	}
	if d.state == StateError {
		d.log.Error("Ignore flush due to error state")
		return
	}

	for _, cb := range d.pendingDecodeCbs {
		cb(codec.DecodeAborted)
	}
	d.pendingDecodeCbs = make(map[int32]ports.DecodeCallback)
	if d.drainCb != nil {
		d.drainCb(codec.DecodeAborted)
		d.drainCb = nil
	}

	// Streamoff both queues to drop all queued buffers, then bring
	// the input queue (and the output queue, if it was live) back up.
	wasOutputStreaming := d.outputQueue.IsStreaming()
	d.device.StopPolling()
	d.outputQueue.Streamoff()
	d.frameAtDevice = make(map[uint32]*codec.VideoFrame)
	d.inputQueue.Streamoff()

	d.inputQueue.Streamon()
	if wasOutputStreaming {
		d.outputQueue.Streamon()
	}

	// All output buffers were just dropped, so the fetch that would
	// normally follow an output dequeue has to be kicked here.
	if d.framePool != nil {
		d.tryFetchFrame()
	}

	if err := d.startPolling(); err != nil {
		d.log.Error("Failed to restart polling: %v", err)
		d.onError()
		return
	}

	d.setState(StateIdle)
}

// serviceDevice drains both queues and handles pending events. It
// runs on the worker for every poll wakeup.
func (d *Decoder) serviceDevice(event bool) {
	if d.state == StateError {
		return
	}

	inputDequeued := false
	for d.inputQueue.QueuedBuffersCount() > 0 {
		buf, ok, err := d.inputQueue.DequeueBuffer()
		if err != nil {
			d.log.Error("Failed to dequeue input buffer: %v", err)
			d.onError()
			return
		}
		if !ok {
			break
		}
		inputDequeued = true

		id := int32(buf.TimestampSec)
		d.log.Debug("Dequeued input buffer, bitstreamId=%d", id)
		cb, found := d.pendingDecodeCbs[id]
		if !found {
			d.log.Warn("Decode callback for bitstreamId=%d already abandoned", id)
			continue
		}
		delete(d.pendingDecodeCbs, id)
		cb(codec.DecodeOK)
	}

	outputDequeued := false
	for d.outputQueue.QueuedBuffersCount() > 0 {
		buf, ok, err := d.outputQueue.DequeueBuffer()
		if err != nil {
			d.log.Error("Failed to dequeue output buffer: %v", err)
			d.onError()
			return
		}
		if !ok {
			break
		}
		outputDequeued = true

		bufferID := buf.ID
		bitstreamID := int32(buf.TimestampSec)
		d.log.Debug("Dequeued output buffer, bufferId=%d, bitstreamId=%d, bytesused=%d, last=%v",
			bufferID, bitstreamID, buf.BytesUsed, buf.Last)

		frame, found := d.frameAtDevice[bufferID]
		if !found {
			d.log.Error("Output buffer %d not found at device", bufferID)
			d.onError()
			return
		}
		delete(d.frameAtDevice, bufferID)

		if buf.BytesUsed > 0 {
			frame.BitstreamID = bitstreamID
			frame.VisibleRect = d.visibleRect
			d.outputCb(frame)
		} else {
			// An empty buffer must go straight back to the same slot,
			// or the device cannot deliver the LAST marker of the
			// next drain. The frame stays valid the whole time.
			d.log.Debug("Recycle empty buffer %d back to output queue", bufferID)
			outputBuffer, free := d.outputQueue.GetFreeBufferByID(bufferID)
			if !free {
				d.log.Error("Output queue slot %d is not free", bufferID)
				d.onError()
				return
			}
			if err := outputBuffer.QueueDMABuf(frame.Handles); err != nil {
				d.log.Error("Failed to recycle empty buffer: %v", err)
				d.onError()
				return
			}
			d.frameAtDevice[bufferID] = frame
		}

		if d.drainCb != nil && buf.Last {
			d.log.Debug("All buffers are drained")
			d.device.SendDecoderCmd(ports.DecoderCmdStart)
			d.drainCb(codec.DecodeOK)
			d.drainCb = nil
			d.setState(StateIdle)
		}
	}

	if event && d.dequeueResolutionChangeEvent() {
		if err := d.changeResolution(); err != nil {
			d.log.Error("Resolution change failed: %v", err)
			d.onError()
			return
		}
	}

	// Freed input buffers unblock the request pump; freed output
	// buffers allow fetching more pool frames.
	if inputDequeued {
		d.post(d.pumpDecodeRequests)
	}
	if outputDequeued {
		d.post(d.tryFetchFrame)
	}
}

func (d *Decoder) dequeueResolutionChangeEvent() bool {
	changed := false
	for {
		ev, ok := d.device.DequeueEvent()
		if !ok {
			return changed
		}
		if ev.SourceChange && ev.ResolutionChanged {
			changed = true
		}
	}
}

func (d *Decoder) changeResolution() error {
	format, err := d.device.GetFormat(ports.BufferTypeOutput)
	if err != nil {
		return fmt.Errorf("query output format: %w", err)
	}
	minBuffers, err := d.device.MinCaptureBuffers()
	if err != nil {
		return fmt.Errorf("query min capture buffers: %w", err)
	}
	numOutputBuffers := minBuffers + numExtraOutputBuffers
	if numOutputBuffers < d.minNumOutputBuffers {
		numOutputBuffers = d.minNumOutputBuffers
	}

	if err := d.setupOutputFormat(format.Size); err != nil {
		return err
	}

	adjusted, err := d.device.GetFormat(ports.BufferTypeOutput)
	if err != nil {
		return fmt.Errorf("query adjusted output format: %w", err)
	}
	d.codedSize = adjusted.Size
	d.visibleRect = d.queryVisibleRect(d.codedSize)

	d.log.Info("Need %d output buffers, coded size %dx%d, visible rect %v",
		numOutputBuffers, d.codedSize.Width, d.codedSize.Height, d.visibleRect)
	if d.codedSize.IsEmpty() {
		return fmt.Errorf("driver reported empty coded size")
	}

	d.outputQueue.Streamoff()
	d.outputQueue.DeallocateBuffers()
	d.frameAtDevice = make(map[uint32]*codec.VideoFrame)
	d.blockIDToBufferID = make(map[uint32]uint32)

	allocated, err := d.outputQueue.AllocateBuffers(numOutputBuffers, ports.MemoryDMABuf)
	if err != nil {
		return fmt.Errorf("allocate output buffers: %w", err)
	}
	if allocated == 0 {
		return fmt.Errorf("no output buffers allocated")
	}
	d.log.Debug("Allocated %d output buffers", allocated)
	if err := d.outputQueue.Streamon(); err != nil {
		return fmt.Errorf("streamon output queue: %w", err)
	}

	// Only one pool may live at a time, so the old one goes first.
	if d.framePool != nil {
		d.framePool.Close()
		d.framePool = nil
	}
	pool, err := d.getPool(d.codedSize, codec.FourccNV12, allocated)
	if err != nil {
		return fmt.Errorf("get frame pool for %dx%d: %w", d.codedSize.Width, d.codedSize.Height, err)
	}
	if pool == nil {
		return fmt.Errorf("no frame pool for %dx%d", d.codedSize.Width, d.codedSize.Height)
	}
	d.framePool = pool

	d.tryFetchFrame()
	return nil
}

func (d *Decoder) setupOutputFormat(size codec.Size) error {
	for _, pixfmt := range d.device.EnumFormats(ports.BufferTypeOutput) {
		if !codec.IsFlex420(pixfmt) {
			d.log.Debug("Pixel format %s is not supported, skipping", codec.FourCCString(pixfmt))
			continue
		}
		if _, err := d.outputQueue.SetFormat(pixfmt, size, 0); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no supported output pixel format")
}

func (d *Decoder) queryVisibleRect(codedSize codec.Size) image.Rectangle {
	coded := image.Rect(0, 0, codedSize.Width, codedSize.Height)

	rect, err := d.device.ComposeRect()
	if err != nil {
		d.log.Debug("Selection query unsupported, fallback to crop")
		rect, err = d.device.CropRect()
		if err != nil {
			d.log.Warn("Crop query failed: %v", err)
			return coded
		}
	}

	if !rect.In(coded) {
		d.log.Warn("Visible rectangle %v is not inside coded size %v", rect, coded)
		return coded
	}
	if rect.Empty() {
		d.log.Warn("Visible rectangle is empty")
		return coded
	}
	return rect
}

func (d *Decoder) tryFetchFrame() {
	if d.framePool == nil {
		d.log.Error("No frame pool, failed to get one after resolution change?")
		d.onError()
		return
	}

	if d.outputQueue.FreeBuffersCount() == 0 {
		d.log.Debug("No free output buffers, ignore")
		return
	}

	if !d.framePool.GetFrame(d.onFrameReady) {
		d.log.Debug("Previous frame request still outstanding, ignore")
	}
}

func (d *Decoder) onFrameReady(f *ports.FrameWithBlockID) {
	if f == nil {
		d.log.Error("Frame pool returned no frame")
		d.onError()
		return
	}

	// Blocks keep the buffer slot they were first assigned; new
	// blocks take the next slot in order.
	var outputBuffer ports.Buffer
	var ok bool
	if bufferID, seen := d.blockIDToBufferID[f.BlockID]; seen {
		outputBuffer, ok = d.outputQueue.GetFreeBufferByID(bufferID)
	} else if len(d.blockIDToBufferID) < d.outputQueue.AllocatedBuffersCount() {
		bufferID := uint32(len(d.blockIDToBufferID))
		d.blockIDToBufferID[f.BlockID] = bufferID
		outputBuffer, ok = d.outputQueue.GetFreeBufferByID(bufferID)
	} else {
		d.log.Error("Got more distinct blocks than allocated output buffers")
	}
	if !ok || outputBuffer == nil {
		d.log.Error("Output buffer not available, blockId=%d", f.BlockID)
		d.onError()
		return
	}

	bufferID := outputBuffer.ID()
	d.log.Debug("Queue output buffer, blockId=%d, bufferId=%d", f.BlockID, bufferID)

	if err := outputBuffer.QueueDMABuf(f.Frame.Handles); err != nil {
		d.log.Error("Failed to queue output buffer, blockId=%d: %v", f.BlockID, err)
		d.onError()
		return
	}
	if _, exists := d.frameAtDevice[bufferID]; exists {
		d.log.Error("Output buffer %d already enqueued", bufferID)
		d.onError()
		return
	}
	d.frameAtDevice[bufferID] = f.Frame

	d.tryFetchFrame()
}

func (d *Decoder) onError() {
	d.setState(StateError)
	if d.errorCb != nil {
		d.errorCb()
	}
}

func (d *Decoder) setState(newState State) {
	if d.state == newState {
		return
	}
	if d.state == StateError {
		d.log.Debug("Already in error state")
		return
	}

	// Draining is only reachable from Decoding; any other attempt
	// collapses into Error.
	if newState == StateDraining && d.state != StateDecoding {
		newState = StateError
	}

	d.log.Info("Decoder state %s => %s", d.state, newState)
	d.state = newState
}

// noopLogger keeps the driver quiet when no logger is supplied.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})      {}
func (noopLogger) Info(string, ...interface{})       {}
func (noopLogger) Warn(string, ...interface{})       {}
func (noopLogger) Error(string, ...interface{})      {}
func (noopLogger) WithComponent(string) ports.Logger { return noopLogger{} }

var _ ports.VideoDecoder = (*Decoder)(nil)
