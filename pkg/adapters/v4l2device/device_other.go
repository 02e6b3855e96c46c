//go:build !linux

// Package v4l2device implements the kernel device port over a V4L2
// memory-to-memory decoder node. Hardware decode is only available
// on Linux.
package v4l2device

import (
	"fmt"
	"runtime"

	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/ports"
)

// Open is unsupported on this platform.
func Open(c codec.Codec, path string, log ports.Logger) (ports.Device, error) {
	return nil, fmt.Errorf("v4l2 decode is not supported on %s", runtime.GOOS)
}
