//go:build linux

// Package dmapool provides a frame pool backed by DMA heap buffers,
// falling back to memfd when no DMA heap is available.
package dmapool

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/ports"
)

const dmaHeapPath = "/dev/dma_heap/system"

// DMA_HEAP_IOCTL_ALLOC from the dma-heap uapi.
const dmaHeapIoctlAlloc = 0xc0184800

type dmaHeapAllocationData struct {
	len       uint64
	fd        uint32
	fdFlags   uint32
	heapFlags uint64
}

// Pool is a fixed-size frame pool. Frames handed out through
// GetFrame return through Recycle; a request issued while the pool is
// empty completes on the next recycle. All methods run on the
// component worker.
type Pool struct {
	size        codec.Size
	pixelFormat uint32
	log         ports.Logger

	free    []*codec.VideoFrame
	blockID map[*codec.VideoFrame]uint32
	pending func(*ports.FrameWithBlockID)
	closed  bool
}

// New allocates numBuffers frames of the given size and format.
func New(size codec.Size, pixelFormat uint32, numBuffers int, log ports.Logger) (*Pool, error) {
	if pixelFormat != codec.FourccNV12 {
		return nil, fmt.Errorf("unsupported pool pixel format %s", codec.FourCCString(pixelFormat))
	}

	p := &Pool{
		size:        size,
		pixelFormat: pixelFormat,
		log:         log,
		blockID:     make(map[*codec.VideoFrame]uint32),
	}

	frameSize := size.Width * size.Height * 3 / 2
	for i := 0; i < numBuffers; i++ {
		frame, err := allocFrame(size, pixelFormat, frameSize)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("allocate frame %d: %w", i, err)
		}
		frame.BlockID = uint32(i)
		p.blockID[frame] = uint32(i)
		p.free = append(p.free, frame)
	}
	return p, nil
}

// allocFrame allocates one NV12 buffer and maps it.
func allocFrame(size codec.Size, pixelFormat uint32, byteSize int) (*codec.VideoFrame, error) {
	fd, err := allocDmaHeap(byteSize)
	if err != nil {
		fd, err = allocMemfd(byteSize)
		if err != nil {
			return nil, err
		}
	}

	data, err := unix.Mmap(fd, 0, byteSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap frame buffer: %w", err)
	}

	lumaSize := size.Width * size.Height
	return &codec.VideoFrame{
		Handles:     []int{fd},
		Planes:      [][]byte{data[:lumaSize], data[lumaSize:]},
		PixelFormat: pixelFormat,
		CodedSize:   size,
	}, nil
}

func allocDmaHeap(byteSize int) (int, error) {
	heap, err := unix.Open(dmaHeapPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", dmaHeapPath, err)
	}
	defer unix.Close(heap)

	arg := dmaHeapAllocationData{
		len:     uint64(byteSize),
		fdFlags: unix.O_RDWR | unix.O_CLOEXEC,
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(heap), dmaHeapIoctlAlloc,
		uintptr(unsafe.Pointer(&arg)))
	if errno != 0 {
		return -1, fmt.Errorf("dma heap alloc: %w", errno)
	}
	return int(arg.fd), nil
}

func allocMemfd(byteSize int) (int, error) {
	fd, err := unix.MemfdCreate("videodec-frame", unix.MFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("memfd create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(byteSize)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("size frame buffer: %w", err)
	}
	return fd, nil
}

// GetFrame requests one frame. Returns false while a request is
// outstanding.
func (p *Pool) GetFrame(cb func(*ports.FrameWithBlockID)) bool {
	if p.pending != nil {
		return false
	}
	if p.closed {
		cb(nil)
		return true
	}
	if len(p.free) == 0 {
		p.pending = cb
		return true
	}

	frame := p.free[0]
	p.free = p.free[1:]
	cb(&ports.FrameWithBlockID{Frame: frame, BlockID: p.blockID[frame]})
	return true
}

// Recycle returns a frame to the pool, completing a queued request if
// one is waiting.
func (p *Pool) Recycle(frame *codec.VideoFrame) {
	if p.closed {
		p.release(frame)
		return
	}
	blockID, ok := p.blockID[frame]
	if !ok {
		p.log.Warn("Recycled frame does not belong to this pool")
		return
	}

	if p.pending != nil {
		cb := p.pending
		p.pending = nil
		cb(&ports.FrameWithBlockID{Frame: frame, BlockID: blockID})
		return
	}
	p.free = append(p.free, frame)
}

// Close releases all idle frames. Frames still out stay valid until
// recycled.
func (p *Pool) Close() {
	p.closed = true
	for _, frame := range p.free {
		p.release(frame)
	}
	p.free = nil
	p.pending = nil
}

func (p *Pool) release(frame *codec.VideoFrame) {
	if len(frame.Planes) > 0 && frame.Planes[0] != nil {
		unix.Munmap(frame.Planes[0][:cap(frame.Planes[0])])
	}
	for _, fd := range frame.Handles {
		unix.Close(fd)
	}
	frame.Handles = nil
	frame.Planes = nil
}

var _ ports.FramePool = (*Pool)(nil)
