package component

import (
	"image"
	"testing"

	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/decoder"
	"github.com/user/videodec/pkg/mocks"
	"github.com/user/videodec/pkg/ports"
)

// spsBT709 is a baseline-profile SPS whose VUI declares BT.709
// primaries/matrix, sRGB transfer, and full range.
var spsBT709 = []byte{
	0x00, 0x00, 0x00, 0x01, 0x67,
	0x42, 0x00, 0x1E, 0xDA, 0x02, 0x80, 0xF6, 0x9B, 0x80, 0x86, 0x80, 0xC0,
}

// testEnv wires a component to a mock decoder driver and listener.
type testEnv struct {
	comp *Component
	dec  *mocks.VideoDecoder
	lis  *mocks.Listener
	opts decoder.Options
}

func newTestEnv(t *testing.T, streamCodec codec.Codec, name string) *testEnv {
	t.Helper()

	env := &testEnv{dec: &mocks.VideoDecoder{}, lis: &mocks.Listener{}}
	comp, err := New(Options{
		Interface: InterfaceConfig{
			Name:            name,
			Codec:           streamCodec,
			InputBufferSize: 1 << 16,
		},
		MaxConcurrentInstances: -1,
		NewDecoder: func(opts decoder.Options) (ports.VideoDecoder, error) {
			env.opts = opts
			return env.dec, nil
		},
		NewPool: func(poolID uint64, size codec.Size, pixelFormat uint32, numBuffers int) (ports.FramePool, error) {
			return &mocks.FramePool{}, nil
		},
	})
	if err != nil {
		t.Fatalf("create component: %v", err)
	}
	env.comp = comp
	t.Cleanup(func() { comp.Release() })

	if status := comp.SetListener(env.lis, true); status != codec.StatusOK {
		t.Fatalf("set listener: %s", status)
	}
	if status := comp.Start(); status != codec.StatusOK {
		t.Fatalf("start component: %s", status)
	}
	return env
}

// settle waits until all currently queued worker tasks have run.
func (e *testEnv) settle() {
	done := make(chan struct{})
	e.opts.Post(func() { close(done) })
	<-done
}

// post runs fn on the worker and waits for it.
func (e *testEnv) post(fn func()) {
	done := make(chan struct{})
	e.opts.Post(func() {
		fn()
		close(done)
	})
	<-done
}

// frameWork builds a plain compressed work item.
func frameWork(frameIndex, timestamp uint64) *codec.WorkItem {
	return &codec.WorkItem{
		FrameIndex: frameIndex,
		Timestamp:  timestamp,
		Input:      &codec.LinearBlock{Data: []byte{0x01}, Handle: 3, Size: 1},
	}
}

// output builds the decoded frame for a submitted work item.
func output(frameIndex uint64) *codec.VideoFrame {
	return &codec.VideoFrame{
		BitstreamID: codec.BitstreamID(frameIndex),
		CodedSize:   codec.Size{Width: 640, Height: 480},
		VisibleRect: image.Rect(0, 0, 640, 480),
	}
}

func TestLifecycle_States(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	if status := env.comp.Start(); status != codec.StatusBadState {
		t.Errorf("expected BAD_STATE on double start, got %s", status)
	}
	if status := env.comp.Stop(); status != codec.StatusOK {
		t.Fatalf("stop: %s", status)
	}
	if status := env.comp.Stop(); status != codec.StatusBadState {
		t.Errorf("expected BAD_STATE on stop from STOPPED, got %s", status)
	}
	if env.comp.State() != StateStopped {
		t.Errorf("expected STOPPED, got %s", env.comp.State())
	}
}

func TestSetListener_Rules(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	// A non-nil listener cannot be replaced while running.
	if status := env.comp.SetListener(&mocks.Listener{}, true); status != codec.StatusBadState {
		t.Errorf("expected BAD_STATE, got %s", status)
	}
	// Clearing the listener requires blocking permission.
	if status := env.comp.SetListener(nil, false); status != codec.StatusBlocking {
		t.Errorf("expected BLOCKING, got %s", status)
	}
	if status := env.comp.SetListener(nil, true); status != codec.StatusOK {
		t.Errorf("expected OK, got %s", status)
	}
}

func TestQueue_RequiresRunning(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")
	env.comp.Stop()

	if status := env.comp.Queue([]*codec.WorkItem{frameWork(1, 0)}); status != codec.StatusBadState {
		t.Errorf("expected BAD_STATE, got %s", status)
	}
}

func TestCSDAndSingleFrame(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	// Empty CSD followed by one compressed frame.
	csd := &codec.WorkItem{FrameIndex: 0, Flags: codec.FlagCodecConfig}
	env.comp.Queue([]*codec.WorkItem{csd, frameWork(1, 0)})
	env.settle()

	// The CSD is reported immediately; the frame waits for its
	// output.
	done := env.lis.Done()
	if len(done) != 1 {
		t.Fatalf("expected 1 reported work, got %d", len(done))
	}
	if done[0].FrameIndex != 0 || done[0].Result != codec.StatusOK {
		t.Errorf("expected CSD reported OK, got index=%d result=%s", done[0].FrameIndex, done[0].Result)
	}
	if done[0].Output.Buffer != nil {
		t.Error("expected CSD reported without buffer")
	}
	if done[0].Output.Flags != 0 {
		t.Errorf("expected CSD flags cleared, got 0x%x", done[0].Output.Flags)
	}

	// Complete the frame: input consumed, then output delivered.
	env.post(func() { env.dec.DecodeCalls[0].Done(codec.DecodeOK) })
	env.post(func() { env.opts.OnOutput(output(1)) })

	done = env.lis.Done()
	if len(done) != 2 {
		t.Fatalf("expected 2 reported works, got %d", len(done))
	}
	if done[1].FrameIndex != 1 || done[1].Result != codec.StatusOK {
		t.Errorf("expected frame 1 reported OK, got index=%d result=%s", done[1].FrameIndex, done[1].Result)
	}
	if done[1].Output.Buffer == nil || done[1].Output.Buffer.Frame == nil {
		t.Fatal("expected frame 1 reported with an output buffer")
	}
	if done[1].WorkletsProcessed != 1 {
		t.Errorf("expected one worklet processed, got %d", done[1].WorkletsProcessed)
	}
}

func TestCSDWithSPS_UpdatesColorAspects(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	csd := &codec.WorkItem{
		FrameIndex: 0,
		Flags:      codec.FlagCodecConfig,
		Input:      &codec.LinearBlock{Data: spsBT709, Handle: 3, Size: uint32(len(spsBT709))},
	}
	env.comp.Queue([]*codec.WorkItem{csd, frameWork(1, 0)})
	env.settle()

	env.post(func() { env.dec.DecodeCalls[0].Done(codec.DecodeOK) }) // CSD consumed
	env.post(func() { env.dec.DecodeCalls[1].Done(codec.DecodeOK) }) // frame consumed
	env.post(func() { env.opts.OnOutput(output(1)) })

	done := env.lis.Done()
	if len(done) != 2 {
		t.Fatalf("expected 2 reported works, got %d", len(done))
	}
	buffer := done[1].Output.Buffer
	if buffer == nil || buffer.Aspects == nil {
		t.Fatal("expected output stamped with color aspects")
	}
	if buffer.Aspects.Primaries != codec.PrimariesBT709 {
		t.Errorf("expected BT709 primaries, got %d", buffer.Aspects.Primaries)
	}
	if buffer.Aspects.Range != codec.RangeFull {
		t.Errorf("expected full range, got %d", buffer.Aspects.Range)
	}
}

func TestSecureH264_SkipsColorAspectParsing(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder.secure")

	csd := &codec.WorkItem{
		FrameIndex: 0,
		Flags:      codec.FlagCodecConfig,
		Input:      &codec.LinearBlock{Data: spsBT709, Handle: 3, Size: uint32(len(spsBT709))},
	}
	env.comp.Queue([]*codec.WorkItem{csd, frameWork(1, 0)})
	env.settle()

	env.post(func() { env.dec.DecodeCalls[0].Done(codec.DecodeOK) })
	env.post(func() { env.dec.DecodeCalls[1].Done(codec.DecodeOK) })
	env.post(func() { env.opts.OnOutput(output(1)) })

	done := env.lis.Done()
	if len(done) != 2 {
		t.Fatalf("expected 2 reported works, got %d", len(done))
	}
	if done[1].Output.Buffer.Aspects != nil {
		t.Error("expected no color aspects on secure instance")
	}
}

func TestEOSDrain(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	items := []*codec.WorkItem{}
	for i := uint64(1); i <= 5; i++ {
		items = append(items, frameWork(i, (i-1)*10000))
	}
	items = append(items, &codec.WorkItem{FrameIndex: 6, Flags: codec.FlagEndOfStream})
	env.comp.Queue(items)
	env.settle()

	if len(env.dec.DrainCalls) != 1 {
		t.Fatalf("expected 1 drain request, got %d", len(env.dec.DrainCalls))
	}

	// The device consumes and returns all five frames, then finishes
	// the drain.
	env.post(func() {
		for i := 0; i < 5; i++ {
			env.dec.DecodeCalls[i].Done(codec.DecodeOK)
		}
	})
	for i := uint64(1); i <= 5; i++ {
		i := i
		env.post(func() { env.opts.OnOutput(output(i)) })
	}
	env.post(func() { env.dec.DrainCalls[0](codec.DecodeOK) })

	done := env.lis.Done()
	if len(done) != 6 {
		t.Fatalf("expected 6 reported works, got %d", len(done))
	}
	for i := 0; i < 5; i++ {
		if done[i].FrameIndex != uint64(i+1) {
			t.Errorf("expected frame %d at position %d, got %d", i+1, i, done[i].FrameIndex)
		}
		if done[i].Result != codec.StatusOK {
			t.Errorf("frame %d: expected OK, got %s", i+1, done[i].Result)
		}
	}
	eos := done[5]
	if eos.FrameIndex != 6 {
		t.Fatalf("expected EOS work last, got %d", eos.FrameIndex)
	}
	if eos.Output.Flags&codec.FlagEndOfStream == 0 {
		t.Error("expected EOS flag on terminal work")
	}
}

func TestFlushMidStream(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	items := []*codec.WorkItem{}
	for i := uint64(1); i <= 10; i++ {
		items = append(items, frameWork(i, (i-1)*10000))
	}
	env.comp.Queue(items)
	env.settle()

	// Frames 1..3 complete normally.
	env.post(func() {
		for i := 0; i < 3; i++ {
			env.dec.DecodeCalls[i].Done(codec.DecodeOK)
		}
	})
	for i := uint64(1); i <= 3; i++ {
		i := i
		env.post(func() { env.opts.OnOutput(output(i)) })
	}

	if status := env.comp.Flush(FlushComponent); status != codec.StatusOK {
		t.Fatalf("flush: %s", status)
	}
	env.settle()

	if env.dec.FlushCalled != 1 {
		t.Errorf("expected driver flush, got %d calls", env.dec.FlushCalled)
	}

	done := env.lis.Done()
	if len(done) != 10 {
		t.Fatalf("expected 10 reported works, got %d", len(done))
	}
	// The abandonment batch carries 4..10 as NOT_FOUND.
	batch := env.lis.Batches[len(env.lis.Batches)-1]
	if len(batch) != 7 {
		t.Fatalf("expected 7 abandoned works in one batch, got %d", len(batch))
	}
	for _, work := range batch {
		if work.Result != codec.StatusNotFound {
			t.Errorf("work %d: expected NOT_FOUND, got %s", work.FrameIndex, work.Result)
		}
		if work.Input != nil {
			t.Errorf("work %d: expected input reset", work.FrameIndex)
		}
	}
}

func TestFlushUnsupportedMode(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	if status := env.comp.Flush(FlushChain); status != codec.StatusOmitted {
		t.Errorf("expected OMITTED, got %s", status)
	}
}

func TestDrainModes(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	if status := env.comp.Drain(DrainChain); status != codec.StatusOmitted {
		t.Errorf("expected OMITTED for chain drain, got %s", status)
	}
	if status := env.comp.Drain(DrainComponentNoEOS); status != codec.StatusOK {
		t.Errorf("expected OK for no-EOS drain, got %s", status)
	}
	if status := env.comp.Announce(nil); status != codec.StatusOmitted {
		t.Errorf("expected OMITTED for announce, got %s", status)
	}
}

func TestDrainTagsLastPendingWork(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	// Fill the works-at-decoder map and keep one item pending by
	// making the pump stall on draining.
	env.comp.Queue([]*codec.WorkItem{frameWork(1, 0)})
	env.settle()
	env.post(func() { env.comp.isDraining = true })
	env.comp.Queue([]*codec.WorkItem{frameWork(2, 10000)})
	env.settle()

	if status := env.comp.Drain(DrainComponentWithEOS); status != codec.StatusOK {
		t.Fatalf("drain: %s", status)
	}
	env.settle()

	env.post(func() {
		if env.comp.pendingWorks[0].Flags&codec.FlagEndOfStream == 0 {
			t.Error("expected EOS flag on last pending work")
		}
		env.comp.isDraining = false
	})
}

func TestNoShowFrameVP9(t *testing.T) {
	env := newTestEnv(t, codec.CodecVP9, "c2.v4l2.vp9.decoder")

	env.comp.Queue([]*codec.WorkItem{
		frameWork(1, 0),
		frameWork(2, 10),
		frameWork(3, 20),
	})
	env.settle()

	env.post(func() {
		for i := 0; i < 3; i++ {
			env.dec.DecodeCalls[i].Done(codec.DecodeOK)
		}
	})

	// Frame 1 arrives normally; frame 3 arrives before frame 2,
	// exposing 2 as a no-show frame.
	env.post(func() { env.opts.OnOutput(output(1)) })
	env.post(func() { env.opts.OnOutput(output(3)) })

	done := env.lis.Done()
	if len(done) != 3 {
		t.Fatalf("expected 3 reported works, got %d", len(done))
	}
	if done[0].FrameIndex != 1 || done[1].FrameIndex != 2 || done[2].FrameIndex != 3 {
		t.Fatalf("expected report order 1,2,3, got %d,%d,%d",
			done[0].FrameIndex, done[1].FrameIndex, done[2].FrameIndex)
	}
	noShow := done[1]
	if noShow.Output.Buffer != nil {
		t.Error("expected no buffer on no-show frame")
	}
	if noShow.Output.Flags != 0 {
		t.Errorf("expected drop flag cleared to empty flags, got 0x%x", noShow.Output.Flags)
	}
	if done[2].Output.Buffer == nil {
		t.Error("expected buffer on frame 3")
	}
}

func TestAbortedDecode_ResolvedByAbandonment(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	env.comp.Queue([]*codec.WorkItem{frameWork(1, 0)})
	env.settle()

	// An aborted decode does not finish the work by itself; the flush
	// that caused the abort resolves it as NOT_FOUND.
	env.post(func() { env.dec.DecodeCalls[0].Done(codec.DecodeAborted) })
	if n := len(env.lis.Done()); n != 0 {
		t.Fatalf("expected no report for aborted work, got %d", n)
	}

	env.comp.Flush(FlushComponent)
	env.settle()

	done := env.lis.Done()
	if len(done) != 1 {
		t.Fatalf("expected 1 reported work, got %d", len(done))
	}
	if done[0].Result != codec.StatusNotFound {
		t.Errorf("expected NOT_FOUND result, got %s", done[0].Result)
	}
	if done[0].Output.Buffer != nil {
		t.Error("expected no output buffer on aborted work")
	}
}

func TestReportOrder_HeadOfLineBarrier(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	env.comp.Queue([]*codec.WorkItem{frameWork(1, 0), frameWork(2, 10000)})
	env.settle()

	// Frame 1's output arrives while its input is still held, so its
	// id heads the completion queue without being done. Frame 2 then
	// completes fully; no report may happen until frame 1 is done.
	env.post(func() { env.opts.OnOutput(output(1)) })
	env.post(func() { env.dec.DecodeCalls[1].Done(codec.DecodeOK) })
	env.post(func() { env.opts.OnOutput(output(2)) })

	if n := len(env.lis.Done()); n != 0 {
		t.Fatalf("expected no reports behind the barrier, got %d", n)
	}

	env.post(func() { env.dec.DecodeCalls[0].Done(codec.DecodeOK) })

	done := env.lis.Done()
	if len(done) != 2 {
		t.Fatalf("expected 2 reported works, got %d", len(done))
	}
	if done[0].FrameIndex != 1 || done[1].FrameIndex != 2 {
		t.Errorf("expected report order 1,2, got %d,%d", done[0].FrameIndex, done[1].FrameIndex)
	}
}

func TestDecodeErrorLatchesComponent(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	env.comp.Queue([]*codec.WorkItem{frameWork(1, 0)})
	env.settle()

	env.post(func() { env.dec.DecodeCalls[0].Done(codec.DecodeError) })
	env.post(func() { env.dec.DecodeCalls[0].Done(codec.DecodeError) })

	if env.comp.State() != StateError {
		t.Errorf("expected ERROR state, got %s", env.comp.State())
	}
	if env.lis.ErrorCount() != 1 {
		t.Errorf("expected a single error report, got %d", env.lis.ErrorCount())
	}

	// Only stop and release are accepted from ERROR.
	if status := env.comp.Stop(); status != codec.StatusOK {
		t.Errorf("expected stop from ERROR to succeed, got %s", status)
	}
}

func TestInvalidWork_NoInputNotEOSNorCSD(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	env.comp.Queue([]*codec.WorkItem{{FrameIndex: 1}})
	env.settle()

	if env.lis.ErrorCount() != 1 {
		t.Fatalf("expected BAD_VALUE error, got %d errors", env.lis.ErrorCount())
	}
	if env.lis.Errors[0] != codec.StatusBadValue {
		t.Errorf("expected BAD_VALUE, got %s", env.lis.Errors[0])
	}
}

func TestInstanceCap(t *testing.T) {
	limit := ConcurrentInstances() + 1

	newComp := func() (*Component, error) {
		return New(Options{
			Interface: InterfaceConfig{
				Name:  "c2.v4l2.avc.decoder",
				Codec: codec.CodecH264,
			},
			MaxConcurrentInstances: limit,
		})
	}

	first, err := newComp()
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	defer first.Release()

	if second, err := newComp(); err == nil {
		second.Release()
		t.Fatal("expected second create to fail at the cap")
	}

	first.Release()
	third, err := newComp()
	if err != nil {
		t.Fatalf("create after release: %v", err)
	}
	third.Release()
}

func TestPoolRequest_AreaCap(t *testing.T) {
	env := newTestEnv(t, codec.CodecH264, "c2.v4l2.avc.decoder")

	env.post(func() {
		if _, err := env.opts.GetPool(codec.Size{Width: 8192, Height: 8192}, codec.FourccNV12, 4); err == nil {
			t.Error("expected oversized pool request to fail")
		}
	})

	if env.lis.ErrorCount() != 1 || env.lis.Errors[0] != codec.StatusBadValue {
		t.Fatalf("expected BAD_VALUE error, got %v", env.lis.Errors)
	}
}

func TestMinNumOutputBuffers(t *testing.T) {
	if got := minNumOutputBuffers(codec.CodecH264); got != 25 {
		t.Errorf("expected 25 output buffers for h264, got %d", got)
	}
	if got := minNumOutputBuffers(codec.CodecVP9); got != 9 {
		t.Errorf("expected 9 output buffers for vp9, got %d", got)
	}
}
