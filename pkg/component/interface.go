package component

import (
	"strings"
	"sync"

	"github.com/user/videodec/pkg/codec"
)

// Constants mirrored from the client framework's buffer channel: the
// output buffer budget must cover the framework's output slots, the
// rendering surface, and the decoder itself, or the client stalls
// waiting for a free output buffer.
const (
	smoothnessFactor             = 4
	renderingDepth               = 3
	extraOutputBuffersForDecoder = 2
)

// OutputDelay returns the reorder depth of a codec: how many frames
// the decoder may hold back before the first output.
func OutputDelay(c codec.Codec) int {
	switch c {
	case codec.CodecH264, codec.CodecHEVC:
		return 16
	default:
		return 0
	}
}

// minNumOutputBuffers computes the lower bound of output buffers for
// a codec so the pipeline never exhausts them before the client
// pauses input.
func minNumOutputBuffers(c codec.Codec) int {
	return OutputDelay(c) + smoothnessFactor + renderingDepth + extraOutputBuffersForDecoder
}

// Interface holds the client-configured parameters of a component
// instance and its current color aspects. It is the component's
// config surface; queries may come from any goroutine.
type Interface struct {
	name            string
	codec           codec.Codec
	inputBufferSize uint32
	blockPoolID     uint64

	mu           sync.Mutex
	codedAspects *codec.ColorAspects
}

// InterfaceConfig carries the client configuration consumed at
// construction.
type InterfaceConfig struct {
	// Name is the component instance name. Names containing
	// ".secure" select secure mode.
	Name string
	// Codec selects the bitstream format.
	Codec codec.Codec
	// InputBufferSize is the compressed input buffer size in bytes.
	InputBufferSize uint32
	// BlockPoolID selects the client block pool for output frames.
	BlockPoolID uint64
}

// defaultInputBufferSize is used when the client does not configure
// one.
const defaultInputBufferSize = 1 << 20

// newInterface validates the client configuration.
func newInterface(cfg InterfaceConfig) (*Interface, codec.Status) {
	if cfg.Codec == codec.CodecUnknown {
		return nil, codec.StatusBadValue
	}
	size := cfg.InputBufferSize
	if size == 0 {
		size = defaultInputBufferSize
	}
	return &Interface{
		name:            cfg.Name,
		codec:           cfg.Codec,
		inputBufferSize: size,
		blockPoolID:     cfg.BlockPoolID,
	}, codec.StatusOK
}

// Name returns the instance name.
func (i *Interface) Name() string { return i.name }

// VideoCodec returns the configured codec.
func (i *Interface) VideoCodec() codec.Codec { return i.codec }

// InputBufferSize returns the compressed buffer size.
func (i *Interface) InputBufferSize() uint32 { return i.inputBufferSize }

// BlockPoolID returns the client block pool id.
func (i *Interface) BlockPoolID() uint64 { return i.blockPoolID }

// IsSecure reports whether the instance name selects secure mode.
func (i *Interface) IsSecure() bool {
	return strings.Contains(i.name, ".secure")
}

// Config updates the coded color aspects parsed from the bitstream.
func (i *Interface) Config(aspects codec.ColorAspects) codec.Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codedAspects = &aspects
	return codec.StatusOK
}

// QueryColorAspects returns the color aspects currently in effect:
// the coded aspects when the bitstream carried them, unspecified
// defaults otherwise.
func (i *Interface) QueryColorAspects() (codec.ColorAspects, codec.Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.codedAspects != nil {
		return *i.codedAspects, codec.StatusOK
	}
	return codec.ColorAspects{}, codec.StatusOK
}
