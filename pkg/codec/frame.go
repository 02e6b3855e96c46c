package codec

import "image"

// BitstreamBuffer describes one compressed input handed to the
// decoder driver.
type BitstreamBuffer struct {
	// ID is the bitstream id stamped into the device buffer timestamp.
	ID int32
	// Handle is the DMABuf descriptor of the compressed data.
	Handle int
	// Offset is the payload offset inside the block.
	Offset uint32
	// Size is the payload length.
	Size uint32
}

// VideoFrame is one decoded output frame borrowed from the frame
// pool. The driver owns it while it sits at the device; once emitted
// through the output callback it belongs to the client.
type VideoFrame struct {
	// BlockID is the pool's opaque block identifier.
	BlockID uint32
	// Handles are the DMABuf descriptors backing the frame, one per
	// memory plane.
	Handles []int
	// Planes are optional CPU views of the frame memory, in the plane
	// order of PixelFormat. Pools backed by unmappable memory leave
	// this nil.
	Planes [][]byte
	// PixelFormat is the fourcc of the frame layout.
	PixelFormat uint32
	// CodedSize is the allocated frame size.
	CodedSize Size

	// BitstreamID and VisibleRect are stamped by the driver when the
	// frame is dequeued with payload.
	BitstreamID int32
	VisibleRect image.Rectangle
}
