package codec

// Flags mark special work items and special outputs.
type Flags uint32

const (
	// FlagEndOfStream marks the terminal work item of a stream.
	FlagEndOfStream Flags = 1 << 0
	// FlagCodecConfig marks a work item carrying codec-specific data
	// (CSD) instead of a displayable frame.
	FlagCodecConfig Flags = 1 << 1
	// FlagDropFrame marks an output that produced no displayable
	// frame.
	FlagDropFrame Flags = 1 << 2
)

// BitstreamIDMask keeps bitstream ids inside 30 bits so they survive
// the round trip through the device timestamp without wraparound.
const BitstreamIDMask = 0x3FFFFFFF

// BitstreamID derives the device-visible id from a frame index.
func BitstreamID(frameIndex uint64) int32 {
	return int32(frameIndex & BitstreamIDMask)
}

// LinearBlock is one compressed input buffer. Data is the mapped view
// used for bitstream inspection; Handle is the DMABuf descriptor the
// device imports.
type LinearBlock struct {
	Data   []byte
	Handle int
	Offset uint32
	Size   uint32
}

// OutputBuffer is a decoded frame dressed for the client, optionally
// stamped with the color aspects in effect when it was produced.
type OutputBuffer struct {
	Frame   *VideoFrame
	Aspects *ColorAspects
}

// OutputSlot is the single post-decode slot of a work item. Ordinal
// fields are copied from the input when the work is accepted.
type OutputSlot struct {
	Flags      Flags
	Buffer     *OutputBuffer
	FrameIndex uint64
	Timestamp  uint64
}

// WorkItem is the unit of client submission and completion.
type WorkItem struct {
	// FrameIndex is the client's monotonic submission counter.
	FrameIndex uint64
	// Timestamp is the presentation timestamp in microseconds.
	Timestamp uint64
	// Flags is a subset of {FlagEndOfStream, FlagCodecConfig,
	// FlagDropFrame}.
	Flags Flags
	// Input is the compressed block, nil for pure-EOS or empty-CSD
	// items and after the driver releases it.
	Input *LinearBlock
	// Output is the single output slot.
	Output OutputSlot
	// Result is the terminal status, valid once the item is reported.
	Result Status
	// WorkletsProcessed is 1 once the item has been processed.
	WorkletsProcessed uint32
}

// IsEOS reports whether the item carries the end-of-stream flag.
func (w *WorkItem) IsEOS() bool {
	return w.Flags&FlagEndOfStream != 0
}

// IsCSD reports whether the item carries codec-specific data.
func (w *WorkItem) IsCSD() bool {
	return w.Flags&FlagCodecConfig != 0
}
