//go:build linux

package dmapool

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/user/videodec/pkg/codec"
)

// NewLinearBlock copies compressed data into a freshly allocated
// buffer the device can import, returning it as a work input block.
func NewLinearBlock(data []byte) (*codec.LinearBlock, error) {
	fd, err := allocDmaHeap(len(data))
	if err != nil {
		fd, err = allocMemfd(len(data))
		if err != nil {
			return nil, err
		}
	}

	mapped, err := unix.Mmap(fd, 0, len(data), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap input block: %w", err)
	}
	copy(mapped, data)

	return &codec.LinearBlock{
		Data:   mapped,
		Handle: fd,
		Offset: 0,
		Size:   uint32(len(data)),
	}, nil
}

// ReleaseLinearBlock unmaps and closes an input block.
func ReleaseLinearBlock(block *codec.LinearBlock) {
	if block == nil {
		return
	}
	if block.Data != nil {
		unix.Munmap(block.Data[:cap(block.Data)])
		block.Data = nil
	}
	if block.Handle > 0 {
		unix.Close(block.Handle)
		block.Handle = 0
	}
}
