// Package component implements the client-facing decode component: it
// accepts compressed work items, drives the decoder driver, matches
// decoded outputs back to their originating inputs, and reports
// completed work in order.
package component

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/codec/h264"
	"github.com/user/videodec/pkg/decoder"
	"github.com/user/videodec/pkg/ports"
)

// State is the component lifecycle state.
type State int32

const (
	// StateStopped is the initial state and the state after stop.
	StateStopped State = iota
	// StateRunning accepts work.
	StateRunning
	// StateReleased is terminal.
	StateReleased
	// StateError is terminal except for stop and release.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StateReleased:
		return "RELEASED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FlushMode selects the flush behavior.
type FlushMode int

const (
	// FlushComponent flushes this component only.
	FlushComponent FlushMode = iota
	// FlushChain flushes a tunneled chain; unsupported.
	FlushChain
)

// DrainMode selects the drain behavior.
type DrainMode int

const (
	// DrainComponentWithEOS drains and emits a terminal EOS item.
	DrainComponentWithEOS DrainMode = iota
	// DrainComponentNoEOS is accepted and does nothing special.
	DrainComponentNoEOS
	// DrainChain drains a tunneled chain; unsupported.
	DrainChain
)

// MaximumSupportedArea bounds the decoded output size; larger
// resolutions report BAD_VALUE instead of exhausting system memory.
const MaximumSupportedArea = 4096 * 4096

// Process-wide instance accounting. Admission is checked under the
// lock so two racing creations cannot both slip under the cap.
var (
	instanceMu          sync.Mutex
	concurrentInstances atomic.Int32
)

// DecoderFactory builds the decoder driver. Tests substitute a mock.
type DecoderFactory func(opts decoder.Options) (ports.VideoDecoder, error)

// PoolFactory builds a frame pool for the given client block pool id.
type PoolFactory func(poolID uint64, size codec.Size, pixelFormat uint32, numBuffers int) (ports.FramePool, error)

// Options configures a component instance.
type Options struct {
	// Interface is the client configuration.
	Interface InterfaceConfig
	// MaxConcurrentInstances caps live instances process-wide;
	// negative means unlimited.
	MaxConcurrentInstances int
	// OpenDevice opens the kernel device for the default decoder
	// factory.
	OpenDevice func(c codec.Codec) (ports.Device, error)
	// NewDecoder overrides the decoder factory; defaults to the real
	// driver over OpenDevice.
	NewDecoder DecoderFactory
	// NewPool builds frame pools for decoded output.
	NewPool PoolFactory
	// Logger defaults to silent when nil.
	Logger ports.Logger
}

// Component is a single-bitstream decode component instance.
type Component struct {
	intf     *Interface
	isSecure bool
	log      ports.Logger

	state       atomic.Int32
	startStopMu sync.Mutex
	released    bool

	newDecoder DecoderFactory
	newPool    PoolFactory
	openDevice func(c codec.Codec) (ports.Device, error)

	// Everything below is confined to the worker.
	worker   *worker
	listener ports.Listener
	decoder  ports.VideoDecoder

	pendingWorks       []*codec.WorkItem
	worksAtDecoder     map[int32]*codec.WorkItem
	outputBitstreamIDs []int32
	isDraining         bool

	currentColorAspects      *codec.ColorAspects
	pendingAspectsChange     bool
	pendingAspectsFrameIndex uint64
}

// New creates a component instance. It returns nil with an error when
// the process-wide instance cap is reached or the configuration is
// invalid.
func New(opts Options) (*Component, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if opts.MaxConcurrentInstances >= 0 &&
		int(concurrentInstances.Load()) >= opts.MaxConcurrentInstances {
		return nil, fmt.Errorf("too many concurrent instances: %d", concurrentInstances.Load())
	}

	intf, status := newInterface(opts.Interface)
	if status != codec.StatusOK {
		return nil, fmt.Errorf("invalid interface config: %s", status)
	}

	log := opts.Logger
	if log == nil {
		log = silentLogger{}
	}

	c := &Component{
		intf:           intf,
		isSecure:       intf.IsSecure(),
		log:            log.WithComponent("component"),
		newDecoder:     opts.NewDecoder,
		newPool:        opts.NewPool,
		openDevice:     opts.OpenDevice,
		worksAtDecoder: make(map[int32]*codec.WorkItem),
	}
	if c.newDecoder == nil {
		c.newDecoder = c.defaultDecoderFactory
	}
	concurrentInstances.Add(1)
	return c, nil
}

// ConcurrentInstances returns the number of live instances; exposed
// for tests and diagnostics.
func ConcurrentInstances() int {
	return int(concurrentInstances.Load())
}

func (c *Component) defaultDecoderFactory(opts decoder.Options) (ports.VideoDecoder, error) {
	if c.openDevice == nil {
		return nil, fmt.Errorf("no device opener configured")
	}
	dev, err := c.openDevice(opts.Codec)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	opts.Device = dev
	d, err := decoder.New(opts)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return d, nil
}

// Interface returns the component's configuration surface.
func (c *Component) Interface() *Interface {
	return c.intf
}

// State returns the lifecycle state.
func (c *Component) State() State {
	return State(c.state.Load())
}

func (c *Component) setState(s State) {
	c.state.Store(int32(s))
}

// Start transitions STOPPED to RUNNING: spins up the worker and
// constructs the decoder driver, blocking until bring-up finishes.
func (c *Component) Start() codec.Status {
	c.startStopMu.Lock()
	defer c.startStopMu.Unlock()

	if c.State() != StateStopped {
		c.log.Error("Could not start at %s state", c.State())
		return codec.StatusBadState
	}

	c.worker = startWorker()

	status := codec.StatusCorrupted
	if !c.worker.PostAndWait(func() { status = c.startTask() }) {
		return codec.StatusCorrupted
	}

	if status == codec.StatusOK {
		c.setState(StateRunning)
	}
	return status
}

func (c *Component) startTask() codec.Status {
	streamCodec := c.intf.VideoCodec()

	dec, err := c.newDecoder(decoder.Options{
		Codec:               streamCodec,
		InputBufferSize:     c.intf.InputBufferSize(),
		MinNumOutputBuffers: minNumOutputBuffers(streamCodec),
		GetPool:             c.getFramePool,
		OnOutput:            c.onOutputFrameReady,
		OnError:             func() { c.reportError(codec.StatusCorrupted) },
		Post:                c.worker.Post,
		Logger:              c.log.WithComponent("decoder"),
	})
	if err != nil {
		c.log.Error("Failed to create decoder for %s: %v", streamCodec, err)
		return codec.StatusCorrupted
	}
	c.decoder = dec

	// Cache default color aspects so early outputs are stamped even
	// before the bitstream describes them.
	if !c.isSecure && streamCodec == codec.CodecH264 {
		aspects, status := c.intf.QueryColorAspects()
		if status != codec.StatusOK {
			return status
		}
		c.currentColorAspects = &aspects
		c.pendingAspectsChange = false
	}

	return codec.StatusOK
}

// getFramePool services the driver's pool requests, guarding against
// resolution changes that would exhaust memory.
func (c *Component) getFramePool(size codec.Size, pixelFormat uint32, numBuffers int) (ports.FramePool, error) {
	if size.Area() > MaximumSupportedArea {
		c.log.Error("Output size %dx%d exceeds supported size (4096x4096)", size.Width, size.Height)
		c.reportError(codec.StatusBadValue)
		return nil, fmt.Errorf("output size %dx%d too large", size.Width, size.Height)
	}

	if c.newPool == nil {
		c.reportError(codec.StatusCorrupted)
		return nil, fmt.Errorf("no pool factory configured")
	}

	poolID := c.intf.BlockPoolID()
	c.log.Info("Using block pool id=%d for output buffers", poolID)
	pool, err := c.newPool(poolID, size, pixelFormat, numBuffers)
	if err != nil {
		c.log.Error("Block pool allocator is invalid: %v", err)
		c.reportError(codec.StatusCorrupted)
		return nil, err
	}
	return pool, nil
}

// Stop transitions RUNNING or ERROR to STOPPED, abandoning all
// pending and in-flight work and joining the worker.
func (c *Component) Stop() codec.Status {
	c.startStopMu.Lock()
	defer c.startStopMu.Unlock()

	state := c.State()
	if state != StateRunning && state != StateError {
		c.log.Error("Could not stop at %s state", state)
		return codec.StatusBadState
	}

	if c.worker != nil && c.worker.Running() {
		c.worker.Post(c.stopTask)
		c.worker.Stop()
		c.worker = nil
	}

	c.setState(StateStopped)
	return codec.StatusOK
}

func (c *Component) stopTask() {
	c.reportAbandonedWorks()
	c.isDraining = false
	c.releaseTask()
}

// Reset behaves like Stop.
func (c *Component) Reset() codec.Status {
	return c.Stop()
}

// Release tears the component down from any state and releases its
// instance slot. Terminal.
func (c *Component) Release() codec.Status {
	c.startStopMu.Lock()
	defer c.startStopMu.Unlock()

	if c.worker != nil && c.worker.Running() {
		c.worker.Post(c.releaseTask)
		c.worker.Stop()
		c.worker = nil
	}

	c.setState(StateReleased)
	if !c.released {
		c.released = true
		concurrentInstances.Add(-1)
	}
	return codec.StatusOK
}

func (c *Component) releaseTask() {
	if c.worker != nil {
		c.worker.Invalidate()
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// SetListener installs the completion listener. While RUNNING only a
// nil listener may be set, and only when blocking is permitted.
func (c *Component) SetListener(listener ports.Listener, mayBlock bool) codec.Status {
	state := c.State()
	if state == StateReleased || (state == StateRunning && listener != nil) {
		c.log.Error("Could not set listener at %s state", state)
		return codec.StatusBadState
	}
	if state == StateRunning && !mayBlock {
		c.log.Error("Could not set listener at %s state non-blocking", state)
		return codec.StatusBlocking
	}

	if c.worker == nil || !c.worker.Running() {
		c.listener = listener
		return codec.StatusOK
	}

	c.worker.PostAndWait(func() { c.listener = listener })
	return codec.StatusOK
}

// Queue accepts a batch of work items. RUNNING only.
func (c *Component) Queue(items []*codec.WorkItem) codec.Status {
	if c.State() != StateRunning {
		c.log.Error("Could not queue at state: %s", c.State())
		return codec.StatusBadState
	}

	for _, item := range items {
		item := item
		c.worker.Post(func() { c.queueTask(item) })
	}
	return codec.StatusOK
}

func (c *Component) queueTask(work *codec.WorkItem) {
	c.log.Debug("Queue work: flags=0x%x, index=%d, timestamp=%d",
		work.Flags, work.FrameIndex, work.Timestamp)

	work.Output.Flags = 0
	work.Output.Buffer = nil
	work.Output.FrameIndex = work.FrameIndex
	work.Output.Timestamp = work.Timestamp

	// A work without input must be EOS or an empty CSD; anything else
	// is a malformed submission.
	if work.Input == nil && !work.IsEOS() && !work.IsCSD() {
		c.log.Error("Invalid work: no input buffer and neither EOS nor CSD")
		c.reportError(codec.StatusBadValue)
		return
	}
	if work.Input != nil && work.Input.Size == 0 {
		c.log.Error("Input buffer of work(%d) is empty", work.FrameIndex)
		c.reportError(codec.StatusBadValue)
		return
	}

	c.pendingWorks = append(c.pendingWorks, work)
	c.pumpPendingWorks()
}

func (c *Component) pumpPendingWorks() {
	if c.State() != StateRunning {
		c.log.Warn("Could not pump work at state: %s", c.State())
		return
	}

	for len(c.pendingWorks) > 0 && !c.isDraining {
		work := c.pendingWorks[0]
		c.pendingWorks = c.pendingWorks[1:]

		bitstreamID := codec.BitstreamID(work.FrameIndex)
		isCSD := work.IsCSD()
		isEmpty := work.Input == nil
		isEOS := work.IsEOS()
		c.log.Debug("Process work bitstreamId=%d isCSD=%v isEmpty=%v", bitstreamID, isCSD, isEmpty)

		if _, exists := c.worksAtDecoder[bitstreamID]; exists {
			c.log.Warn("Work with bitstreamId=%d already at decoder?", bitstreamID)
		}
		c.worksAtDecoder[bitstreamID] = work

		if !isEmpty {
			// CSD of a non-secure H.264 stream may carry color
			// aspects in its SPS.
			if isCSD && !c.isSecure && c.intf.VideoCodec() == codec.CodecH264 {
				if aspects, ok := h264.ParseColorAspects(work.Input.Data); ok {
					if status := c.intf.Config(aspects); status != codec.StatusOK {
						c.log.Error("Failed to config color aspects: %s", status)
						c.reportError(status)
						return
					}
					// Aspects apply to outputs from this frame index
					// on; earlier outputs keep the previous aspects.
					c.pendingAspectsChange = true
					c.pendingAspectsFrameIndex = work.FrameIndex
				}
			}

			buffer := &codec.BitstreamBuffer{
				ID:     bitstreamID,
				Handle: work.Input.Handle,
				Offset: work.Input.Offset,
				Size:   work.Input.Size,
			}
			id := bitstreamID
			c.decoder.Decode(buffer, func(status codec.DecodeStatus) {
				c.onDecodeDone(id, status)
			})
		}

		if isEOS {
			c.decoder.Drain(c.onDrainDone)
			c.isDraining = true
		}

		// An empty CSD has nothing to decode; it is ready as soon as
		// it is accepted.
		if isCSD && isEmpty {
			c.outputBitstreamIDs = append(c.outputBitstreamIDs, bitstreamID)
			c.pumpReportWork()
		}
	}
}

func (c *Component) onDecodeDone(bitstreamID int32, status codec.DecodeStatus) {
	c.log.Debug("Decode done: bitstreamId=%d, status=%s", bitstreamID, status)

	work, ok := c.worksAtDecoder[bitstreamID]
	if !ok {
		c.log.Warn("Decode done for unknown bitstreamId=%d", bitstreamID)
		return
	}

	switch status {
	case codec.DecodeAborted:
		// The request was dropped by a flush. Output flags keep only
		// the drop marker; without it the work stays unfinished and
		// is resolved by the abandonment batch.
		work.Input = nil
		work.Output.Flags &= codec.FlagDropFrame
		c.outputBitstreamIDs = append(c.outputBitstreamIDs, bitstreamID)
		c.pumpReportWork()

	case codec.DecodeError:
		c.reportError(codec.StatusCorrupted)

	case codec.DecodeOK:
		work.Input = nil
		// A CSD work has no output frame; its completion is the
		// input release.
		if work.IsCSD() {
			c.outputBitstreamIDs = append(c.outputBitstreamIDs, bitstreamID)
		}
		c.pumpReportWork()
	}
}

func (c *Component) onOutputFrameReady(frame *codec.VideoFrame) {
	bitstreamID := frame.BitstreamID
	c.log.Debug("Output frame ready: bitstreamId=%d", bitstreamID)

	work, ok := c.worksAtDecoder[bitstreamID]
	if !ok {
		c.log.Error("Work with bitstreamId=%d not found, already abandoned?", bitstreamID)
		c.reportError(codec.StatusCorrupted)
		return
	}

	buffer := &codec.OutputBuffer{Frame: frame}
	if c.pendingAspectsChange && work.FrameIndex >= c.pendingAspectsFrameIndex {
		aspects, _ := c.intf.QueryColorAspects()
		c.currentColorAspects = &aspects
		c.pendingAspectsChange = false
	}
	if c.currentColorAspects != nil {
		buffer.Aspects = c.currentColorAspects
	}
	work.Output.Buffer = buffer

	// Decoders output in display order, so a returned frame exposes
	// earlier no-show frames on VP8/VP9.
	if c.intf.VideoCodec() == codec.CodecVP8 || c.intf.VideoCodec() == codec.CodecVP9 {
		c.detectNoShowFrames(work.Timestamp, work.FrameIndex)
	}

	c.outputBitstreamIDs = append(c.outputBitstreamIDs, bitstreamID)
	c.pumpReportWork()
}

// detectNoShowFrames marks outstanding works with strictly smaller
// ordinal than the just-returned one as no-show. Reporting happens
// after the scan so the map is not mutated mid-iteration.
func (c *Component) detectNoShowFrames(currTimestamp, currFrameIndex uint64) {
	var noShowIDs []int32
	for bitstreamID, work := range c.worksAtDecoder {
		if !isNoShowFrameWork(work, currTimestamp, currFrameIndex) {
			continue
		}
		work.Output.Flags = codec.FlagDropFrame
		noShowIDs = append(noShowIDs, bitstreamID)
		c.log.Debug("Detected no-show frame work index=%d timestamp=%d",
			work.FrameIndex, work.Timestamp)
	}
	sort.Slice(noShowIDs, func(i, j int) bool { return noShowIDs[i] < noShowIDs[j] })

	if len(noShowIDs) > 0 {
		c.outputBitstreamIDs = append(c.outputBitstreamIDs, noShowIDs...)
		c.pumpReportWork()
	}
}

// isNoShowFrameWork reports whether a work holds a frame the decoder
// consumed without producing output: its ordinal is strictly smaller
// than the current one on both axes, it has no output yet, and it is
// not EOS, CSD, or already dropped.
func isNoShowFrameWork(work *codec.WorkItem, currTimestamp, currFrameIndex uint64) bool {
	smallOrdinal := work.Timestamp < currTimestamp && work.FrameIndex < currFrameIndex
	outputReturned := work.Output.Buffer != nil
	special := work.IsEOS() || work.IsCSD() || work.Output.Flags&codec.FlagDropFrame != 0
	return smallOrdinal && !outputReturned && !special
}

// pumpReportWork reports finished works in completion-queue order.
// The head is a barrier: a not-yet-done head blocks every later id.
func (c *Component) pumpReportWork() {
	for len(c.outputBitstreamIDs) > 0 {
		if !c.reportWorkIfFinished(c.outputBitstreamIDs[0]) {
			break
		}
		c.outputBitstreamIDs = c.outputBitstreamIDs[1:]
	}
}

func (c *Component) reportWorkIfFinished(bitstreamID int32) bool {
	// While draining, the lone remaining work is the EOS placeholder,
	// which only the drain completion path may report.
	if c.isDraining && len(c.worksAtDecoder) == 1 {
		c.log.Debug("Work bitstreamId=%d is the EOS work", bitstreamID)
		return false
	}

	work, ok := c.worksAtDecoder[bitstreamID]
	if !ok {
		c.log.Info("Work bitstreamId=%d is dropped, skip", bitstreamID)
		return true
	}

	if !isWorkDone(work) {
		c.log.Debug("Work bitstreamId=%d is not done yet", bitstreamID)
		return false
	}

	delete(c.worksAtDecoder, bitstreamID)

	work.Result = codec.StatusOK
	work.WorkletsProcessed = 1
	// A work with neither flags nor output buffer counts as
	// no-corresponding-output for the framework, which regains
	// pipeline capacity immediately.
	if work.Output.Flags&codec.FlagDropFrame != 0 {
		work.Output.Flags = 0
	}

	return c.reportWork(work)
}

// isWorkDone holds for non-EOS works whose input is released and
// whose output arrived, or is excused (CSD, dropped frame). EOS works
// are reported by the drain completion path only.
func isWorkDone(work *codec.WorkItem) bool {
	if work.IsEOS() {
		return false
	}
	inputReleased := work.Input == nil
	outputReturned := work.Output.Buffer != nil
	ignoreOutput := work.IsCSD() || work.Output.Flags&codec.FlagDropFrame != 0
	return inputReleased && (outputReturned || ignoreOutput)
}

func (c *Component) reportEOSWork() bool {
	var eosID int32
	var eosWork *codec.WorkItem
	for bitstreamID, work := range c.worksAtDecoder {
		if work.IsEOS() {
			eosID = bitstreamID
			eosWork = work
			break
		}
	}
	if eosWork == nil {
		c.log.Error("Failed to find EOS work")
		return false
	}
	delete(c.worksAtDecoder, eosID)

	eosWork.Result = codec.StatusOK
	eosWork.WorkletsProcessed = 1
	eosWork.Output.Flags = codec.FlagEndOfStream
	eosWork.Input = nil

	// Anything else still outstanding at EOS was lost by the device;
	// abandon it rather than leak it.
	if len(c.worksAtDecoder) > 0 {
		c.log.Warn("There are remaining works besides the EOS work, abandon them")
		c.reportAbandonedWorks()
	}

	return c.reportWork(eosWork)
}

func (c *Component) reportWork(work *codec.WorkItem) bool {
	c.log.Debug("Report work index=%d result=%s", work.FrameIndex, work.Result)

	if c.listener == nil {
		c.log.Error("No listener set, SetListener not called?")
		return false
	}
	c.listener.OnWorkDone([]*codec.WorkItem{work})
	return true
}

// Flush abandons all pending and in-flight work. RUNNING only; modes
// other than FlushComponent are unsupported.
func (c *Component) Flush(mode FlushMode) codec.Status {
	if c.State() != StateRunning {
		c.log.Error("Could not flush at state: %s", c.State())
		return codec.StatusBadState
	}
	if mode != FlushComponent {
		return codec.StatusOmitted
	}

	c.worker.Post(c.flushTask)
	return codec.StatusOK
}

func (c *Component) flushTask() {
	c.decoder.Flush()
	c.reportAbandonedWorks()

	// A pending EOS work was abandoned with the rest.
	c.isDraining = false
}

// reportAbandonedWorks resolves every pending and in-flight work as
// NOT_FOUND and emits them in one batch.
func (c *Component) reportAbandonedWorks() {
	abandoned := c.pendingWorks
	c.pendingWorks = nil

	inFlight := make([]*codec.WorkItem, 0, len(c.worksAtDecoder))
	for _, work := range c.worksAtDecoder {
		inFlight = append(inFlight, work)
	}
	sort.Slice(inFlight, func(i, j int) bool { return inFlight[i].FrameIndex < inFlight[j].FrameIndex })
	abandoned = append(abandoned, inFlight...)
	c.worksAtDecoder = make(map[int32]*codec.WorkItem)

	for _, work := range abandoned {
		work.Result = codec.StatusNotFound
		work.Input = nil
	}
	if len(abandoned) == 0 {
		return
	}
	if c.listener == nil {
		c.log.Error("No listener set, SetListener not called?")
		return
	}
	c.listener.OnWorkDone(abandoned)
}

// Drain requests stream drain. RUNNING only.
func (c *Component) Drain(mode DrainMode) codec.Status {
	if c.State() != StateRunning {
		c.log.Error("Could not drain at state: %s", c.State())
		return codec.StatusBadState
	}

	switch mode {
	case DrainChain:
		return codec.StatusOmitted

	case DrainComponentNoEOS:
		return codec.StatusOK

	case DrainComponentWithEOS:
		c.worker.Post(c.drainTask)
		return codec.StatusOK

	default:
		return codec.StatusOmitted
	}
}

func (c *Component) drainTask() {
	// With pending work, the drain rides on the last queued item.
	if len(c.pendingWorks) > 0 {
		c.log.Debug("Set EOS flag at last queued work")
		c.pendingWorks[len(c.pendingWorks)-1].Flags |= codec.FlagEndOfStream
		return
	}

	if len(c.worksAtDecoder) > 0 {
		c.log.Debug("Drain the pending works at the decoder")
		c.decoder.Drain(c.onDrainDone)
		c.isDraining = true
	}
}

func (c *Component) onDrainDone(status codec.DecodeStatus) {
	c.log.Debug("Drain done: status=%s", status)

	switch status {
	case codec.DecodeAborted:
		// A flush is in flight; it already cleaned up.
		return

	case codec.DecodeError:
		c.reportError(codec.StatusCorrupted)

	case codec.DecodeOK:
		c.isDraining = false
		if !c.reportEOSWork() {
			c.reportError(codec.StatusCorrupted)
			return
		}
		c.worker.Post(c.pumpPendingWorks)
	}
}

// Announce is unsupported.
func (c *Component) Announce(items []*codec.WorkItem) codec.Status {
	return codec.StatusOmitted
}

// reportError latches the component into ERROR and notifies the
// listener once; further reports are suppressed.
func (c *Component) reportError(status codec.Status) {
	c.log.Error("Report error: %s", status)

	if c.State() == StateError {
		return
	}
	c.setState(StateError)

	if c.listener == nil {
		c.log.Error("No listener set, SetListener not called?")
		return
	}
	c.listener.OnError(status)
}

// silentLogger is the default when no logger is configured.
type silentLogger struct{}

func (silentLogger) Debug(string, ...interface{})      {}
func (silentLogger) Info(string, ...interface{})       {}
func (silentLogger) Warn(string, ...interface{})       {}
func (silentLogger) Error(string, ...interface{})      {}
func (silentLogger) WithComponent(string) ports.Logger { return silentLogger{} }
