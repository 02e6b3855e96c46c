//go:build !linux

package dmapool

import (
	"fmt"
	"runtime"

	"github.com/user/videodec/pkg/codec"
)

// NewLinearBlock is unsupported on this platform.
func NewLinearBlock(data []byte) (*codec.LinearBlock, error) {
	return nil, fmt.Errorf("input blocks are not supported on %s", runtime.GOOS)
}

// ReleaseLinearBlock does nothing.
func ReleaseLinearBlock(block *codec.LinearBlock) {}
