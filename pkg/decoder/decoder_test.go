package decoder

import (
	"testing"

	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/mocks"
	"github.com/user/videodec/pkg/ports"
)

// testDecoder wires a decoder to a mock device with an immediate
// post function, so everything runs on the test goroutine.
type testDecoder struct {
	dec     *Decoder
	dev     *mocks.Device
	pool    *mocks.FramePool
	outputs []*codec.VideoFrame
	errors  int
}

func newTestDecoder(t *testing.T, streamCodec codec.Codec) *testDecoder {
	t.Helper()

	env := &testDecoder{dev: mocks.NewDevice(), pool: &mocks.FramePool{}}
	dec, err := New(Options{
		Codec:               streamCodec,
		InputBufferSize:     1 << 20,
		MinNumOutputBuffers: 4,
		Device:              env.dev,
		GetPool: func(size codec.Size, pixelFormat uint32, numBuffers int) (ports.FramePool, error) {
			return env.pool, nil
		},
		OnOutput: func(frame *codec.VideoFrame) { env.outputs = append(env.outputs, frame) },
		OnError:  func() { env.errors++ },
		Post:     func(fn func()) { fn() },
	})
	if err != nil {
		t.Fatalf("create decoder: %v", err)
	}
	env.dec = dec
	return env
}

// bitstream builds one compressed input buffer.
func bitstream(id int32, size uint32) *codec.BitstreamBuffer {
	return &codec.BitstreamBuffer{ID: id, Handle: 7, Size: size}
}

// completeResolutionChange pushes a source-change event and supplies
// frames until the device output queue is full.
func (env *testDecoder) completeResolutionChange(t *testing.T, size codec.Size) {
	t.Helper()

	env.dev.PushResolutionChange(size)
	env.dev.TriggerPoll(true)

	blockID := uint32(100)
	for env.pool.HasPending() {
		env.pool.SupplyFrame(&codec.VideoFrame{
			Handles:     []int{9},
			PixelFormat: codec.FourccNV12,
			CodedSize:   size,
		}, blockID)
		blockID++
	}
}

func TestCreate_SetsUpInputQueue(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	if env.dec.State() != StateIdle {
		t.Errorf("expected Idle state, got %s", env.dec.State())
	}
	if !env.dev.Subscribed {
		t.Error("expected source-change subscription")
	}
	if env.dev.Input.Allocated != 16 {
		t.Errorf("expected 16 input buffers, got %d", env.dev.Input.Allocated)
	}
	if !env.dev.Input.IsStreaming() {
		t.Error("expected input queue streaming")
	}
	if env.dev.PollStarted != 1 {
		t.Errorf("expected polling started once, got %d", env.dev.PollStarted)
	}
	if len(env.dev.Input.Formats) != 1 || env.dev.Input.Formats[0].PixelFormat != codec.FourccH264 {
		t.Errorf("expected H264 input format, got %+v", env.dev.Input.Formats)
	}
}

func TestCreate_RejectsUnsupportedCodec(t *testing.T) {
	dev := mocks.NewDevice()
	dev.InputFormats = []uint32{codec.FourccVP8}

	_, err := New(Options{
		Codec:           codec.CodecH264,
		InputBufferSize: 1 << 20,
		Device:          dev,
		Post:            func(fn func()) { fn() },
	})
	if err == nil {
		t.Fatal("expected create to fail for unsupported codec")
	}
}

func TestDecode_QueuesBufferWithBitstreamID(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	var status *codec.DecodeStatus
	env.dec.Decode(bitstream(42, 100), func(s codec.DecodeStatus) { status = &s })

	if env.dec.State() != StateDecoding {
		t.Errorf("expected Decoding state, got %s", env.dec.State())
	}
	if len(env.dev.Input.QueuedLog) != 1 {
		t.Fatalf("expected 1 queued input buffer, got %d", len(env.dev.Input.QueuedLog))
	}
	queued := env.dev.Input.QueuedLog[0]
	if queued.TimestampSec != 42 {
		t.Errorf("expected bitstream id 42 in timestamp, got %d", queued.TimestampSec)
	}
	if status != nil {
		t.Fatal("expected decode callback to wait for the device")
	}

	// The device consumes the buffer.
	env.dev.Input.PushReady(queued.ID, 0, false)
	env.dev.TriggerPoll(false)

	if status == nil || *status != codec.DecodeOK {
		t.Fatalf("expected DecodeOK, got %v", status)
	}
}

func TestDecode_OversizedPayloadFails(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	env.dec.Decode(bitstream(1, 2<<20), func(codec.DecodeStatus) {})

	if env.errors != 1 {
		t.Errorf("expected device error, got %d", env.errors)
	}
	if env.dec.State() != StateError {
		t.Errorf("expected Error state, got %s", env.dec.State())
	}
}

func TestResolutionChange_AllocatesAndFetches(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	env.dec.Decode(bitstream(1, 100), func(codec.DecodeStatus) {})
	env.completeResolutionChange(t, codec.Size{Width: 640, Height: 480})

	// MinBuffers(4) + 4 extra, above MinNumOutputBuffers(4).
	if env.dev.Output.Allocated != 8 {
		t.Errorf("expected 8 output buffers, got %d", env.dev.Output.Allocated)
	}
	if !env.dev.Output.IsStreaming() {
		t.Error("expected output queue streaming")
	}
	if len(env.dev.Output.Formats) != 1 || !codec.IsFlex420(env.dev.Output.Formats[0].PixelFormat) {
		t.Errorf("expected flexible 4:2:0 output format, got %+v", env.dev.Output.Formats)
	}
	// All eight slots are filled with pool frames.
	if env.dev.Output.QueuedBuffersCount() != 8 {
		t.Errorf("expected 8 queued output buffers, got %d", env.dev.Output.QueuedBuffersCount())
	}
	if env.errors != 0 {
		t.Errorf("unexpected device errors: %d", env.errors)
	}
}

func TestOutputFrame_EmittedWithBitstreamID(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	env.dec.Decode(bitstream(5, 100), func(codec.DecodeStatus) {})
	env.completeResolutionChange(t, codec.Size{Width: 640, Height: 480})

	env.dev.Output.PushReadyWithTimestamp(0, 5, 460800, false)
	env.dev.TriggerPoll(false)

	if len(env.outputs) != 1 {
		t.Fatalf("expected 1 output frame, got %d", len(env.outputs))
	}
	frame := env.outputs[0]
	if frame.BitstreamID != 5 {
		t.Errorf("expected bitstream id 5, got %d", frame.BitstreamID)
	}
	if frame.VisibleRect.Dx() != 640 || frame.VisibleRect.Dy() != 480 {
		t.Errorf("expected 640x480 visible rect, got %v", frame.VisibleRect)
	}
}

func TestBlockBufferBijection_ReusesSlots(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	env.dec.Decode(bitstream(1, 100), func(codec.DecodeStatus) {})
	env.completeResolutionChange(t, codec.Size{Width: 320, Height: 240})

	// Frame of block 100 went to slot 0. Deliver it and recycle the
	// same block: it must return to slot 0.
	env.dev.Output.PushReadyWithTimestamp(0, 1, 1000, false)
	env.dev.TriggerPoll(false)
	if len(env.outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(env.outputs))
	}

	if !env.pool.HasPending() {
		t.Fatal("expected a frame request after output dequeue")
	}
	env.pool.SupplyFrame(env.outputs[0], 100)

	queued := env.dev.Output.QueuedLog
	last := queued[len(queued)-1]
	if last.ID != 0 {
		t.Errorf("expected block 100 to reuse slot 0, got slot %d", last.ID)
	}
	if env.errors != 0 {
		t.Errorf("unexpected device errors: %d", env.errors)
	}
}

func TestDrain_WaitsForInputThenStops(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	env.dec.Decode(bitstream(1, 100), func(codec.DecodeStatus) {})
	env.completeResolutionChange(t, codec.Size{Width: 320, Height: 240})

	var drainStatus *codec.DecodeStatus
	env.dec.Drain(func(s codec.DecodeStatus) { drainStatus = &s })

	// The input buffer is still at the device; the stop command must
	// wait.
	if len(env.dev.SentCmds) != 0 {
		t.Fatalf("expected no decoder command yet, got %v", env.dev.SentCmds)
	}

	// Input consumed: the stop command goes out.
	env.dev.Input.PushReady(env.dev.Input.QueuedLog[0].ID, 0, false)
	env.dev.TriggerPoll(false)
	if len(env.dev.SentCmds) != 1 || env.dev.SentCmds[0] != ports.DecoderCmdStop {
		t.Fatalf("expected stop command, got %v", env.dev.SentCmds)
	}
	if env.dec.State() != StateDraining {
		t.Errorf("expected Draining state, got %s", env.dec.State())
	}

	// The device flags the last buffer; drain completes and the
	// decoder restarts.
	env.dev.Output.PushReadyWithTimestamp(0, 1, 1000, true)
	env.dev.TriggerPoll(false)

	if drainStatus == nil || *drainStatus != codec.DecodeOK {
		t.Fatalf("expected drain OK, got %v", drainStatus)
	}
	if len(env.dev.SentCmds) != 2 || env.dev.SentCmds[1] != ports.DecoderCmdStart {
		t.Fatalf("expected start command after drain, got %v", env.dev.SentCmds)
	}
	if env.dec.State() != StateIdle {
		t.Errorf("expected Idle state after drain, got %s", env.dec.State())
	}
}

func TestDrain_IdleCompletesImmediately(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	var status *codec.DecodeStatus
	env.dec.Drain(func(s codec.DecodeStatus) { status = &s })

	if status == nil || *status != codec.DecodeOK {
		t.Fatalf("expected immediate OK from idle drain, got %v", status)
	}
}

func TestDrain_WhileDrainingFails(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	env.dec.Decode(bitstream(1, 100), func(codec.DecodeStatus) {})
	env.dev.Input.PushReady(env.dev.Input.QueuedLog[0].ID, 0, false)
	env.dev.TriggerPoll(false)
	env.dec.Drain(func(codec.DecodeStatus) {})
	if env.dec.State() != StateDraining {
		t.Fatalf("expected Draining, got %s", env.dec.State())
	}

	var status *codec.DecodeStatus
	env.dec.Drain(func(s codec.DecodeStatus) { status = &s })
	if status == nil || *status != codec.DecodeError {
		t.Fatalf("expected error for concurrent drain, got %v", status)
	}
}

func TestEmptyOutputBuffer_RecycledToSameSlot(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	env.dec.Decode(bitstream(1, 100), func(codec.DecodeStatus) {})
	env.completeResolutionChange(t, codec.Size{Width: 320, Height: 240})

	before := len(env.dev.Output.QueuedLog)
	env.dev.Output.PushReadyWithTimestamp(3, 1, 0, false)
	env.dev.TriggerPoll(false)

	// No frame emitted; the same slot is re-queued immediately.
	if len(env.outputs) != 0 {
		t.Fatalf("expected no output for empty buffer, got %d", len(env.outputs))
	}
	queued := env.dev.Output.QueuedLog
	if len(queued) != before+1 {
		t.Fatalf("expected one re-queue, got %d new entries", len(queued)-before)
	}
	if queued[len(queued)-1].ID != 3 {
		t.Errorf("expected re-queue to slot 3, got %d", queued[len(queued)-1].ID)
	}
}

func TestFlush_AbortsPendingCallbacks(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	var statuses []codec.DecodeStatus
	env.dec.Decode(bitstream(1, 100), func(s codec.DecodeStatus) { statuses = append(statuses, s) })
	env.dec.Decode(bitstream(2, 100), func(s codec.DecodeStatus) { statuses = append(statuses, s) })

	env.dec.Flush()

	if len(statuses) != 2 {
		t.Fatalf("expected 2 aborted callbacks, got %d", len(statuses))
	}
	for _, s := range statuses {
		if s != codec.DecodeAborted {
			t.Errorf("expected DecodeAborted, got %s", s)
		}
	}
	if env.dec.State() != StateIdle {
		t.Errorf("expected Idle state after flush, got %s", env.dec.State())
	}
	if !env.dev.Input.IsStreaming() {
		t.Error("expected input queue streaming after flush")
	}
	if env.dev.PollStarted != 2 {
		t.Errorf("expected polling restarted, got %d starts", env.dev.PollStarted)
	}
}

func TestFlush_AbortsActiveDrain(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	env.dec.Decode(bitstream(1, 100), func(codec.DecodeStatus) {})
	env.dev.Input.PushReady(env.dev.Input.QueuedLog[0].ID, 0, false)
	env.dev.TriggerPoll(false)

	var drainStatus *codec.DecodeStatus
	env.dec.Drain(func(s codec.DecodeStatus) { drainStatus = &s })
	if env.dec.State() != StateDraining {
		t.Fatalf("expected Draining, got %s", env.dec.State())
	}

	env.dec.Flush()

	if drainStatus == nil || *drainStatus != codec.DecodeAborted {
		t.Fatalf("expected aborted drain, got %v", drainStatus)
	}
	if env.dec.State() != StateIdle {
		t.Errorf("expected Idle after flush, got %s", env.dec.State())
	}
}

func TestDecode_InErrorStateFailsImmediately(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	// Force an error through an oversized payload.
	env.dec.Decode(bitstream(1, 2<<20), func(codec.DecodeStatus) {})
	if env.dec.State() != StateError {
		t.Fatalf("expected Error state, got %s", env.dec.State())
	}

	var status *codec.DecodeStatus
	env.dec.Decode(bitstream(2, 100), func(s codec.DecodeStatus) { status = &s })
	if status == nil || *status != codec.DecodeError {
		t.Fatalf("expected immediate DecodeError, got %v", status)
	}
}

func TestUnknownInputDequeue_Ignored(t *testing.T) {
	env := newTestDecoder(t, codec.CodecH264)

	var called bool
	env.dec.Decode(bitstream(1, 100), func(codec.DecodeStatus) { called = true })

	// The device returns an input buffer whose id has no pending
	// callback (abandoned earlier); it is skipped without error.
	env.dev.Input.PushReadyWithTimestamp(env.dev.Input.QueuedLog[0].ID, 99, 0, false)
	env.dev.TriggerPoll(false)

	if called {
		t.Error("expected pending callback to stay untouched")
	}
	if env.errors != 0 {
		t.Errorf("unexpected errors: %d", env.errors)
	}
}
