// Package imagesink renders decoded frames to numbered PNG files.
package imagesink

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"

	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/ports"
)

// Sink writes decoded frames as PNG images into a directory.
type Sink struct {
	dir   string
	log   ports.Logger
	count int
}

// New creates a sink writing into dir, creating it if needed.
func New(dir string, log ports.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Sink{dir: dir, log: log}, nil
}

// SaveFrame converts one decoded frame to RGBA and writes it as PNG.
// Returns the written path.
func (s *Sink) SaveFrame(frame *codec.VideoFrame) (string, error) {
	img, err := frameImage(frame)
	if err != nil {
		return "", err
	}

	// Crop to the visible rectangle; the coded size usually carries
	// alignment padding.
	visible := frame.VisibleRect
	if visible.Empty() {
		visible = image.Rect(0, 0, frame.CodedSize.Width, frame.CodedSize.Height)
	}
	rgba := image.NewRGBA(image.Rect(0, 0, visible.Dx(), visible.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, visible.Min, draw.Src)

	path := filepath.Join(s.dir, fmt.Sprintf("frame-%06d.png", s.count))
	s.count++

	dc := gg.NewContextForRGBA(rgba)
	if err := dc.SavePNG(path); err != nil {
		return "", fmt.Errorf("save png: %w", err)
	}
	s.log.Debug("Saved frame bitstreamId=%d to %s", frame.BitstreamID, path)
	return path, nil
}

// Count returns the number of frames written.
func (s *Sink) Count() int { return s.count }

// frameImage wraps the frame planes as an image.YCbCr.
func frameImage(frame *codec.VideoFrame) (image.Image, error) {
	w, h := frame.CodedSize.Width, frame.CodedSize.Height
	if w <= 0 || h <= 0 || len(frame.Planes) == 0 {
		return nil, fmt.Errorf("frame has no mappable planes")
	}

	switch frame.PixelFormat {
	case codec.FourccNV12:
		return nv12Image(frame.Planes, w, h)
	case codec.FourccYU12:
		return i420Image(frame.Planes, w, h)
	default:
		return nil, fmt.Errorf("unsupported frame format %s", codec.FourCCString(frame.PixelFormat))
	}
}

// nv12Image deinterleaves the UV plane into an image.YCbCr.
func nv12Image(planes [][]byte, w, h int) (image.Image, error) {
	if len(planes) < 2 || len(planes[0]) < w*h || len(planes[1]) < w*h/2 {
		return nil, fmt.Errorf("short NV12 planes")
	}
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	copy(img.Y, planes[0][:w*h])

	uv := planes[1]
	for i := 0; i < w*h/4; i++ {
		img.Cb[i] = uv[2*i]
		img.Cr[i] = uv[2*i+1]
	}
	return img, nil
}

// i420Image copies three contiguous planes into an image.YCbCr.
func i420Image(planes [][]byte, w, h int) (image.Image, error) {
	luma := w * h
	chroma := w * h / 4
	var y, cb, cr []byte
	switch len(planes) {
	case 1:
		if len(planes[0]) < luma+2*chroma {
			return nil, fmt.Errorf("short I420 plane")
		}
		y = planes[0][:luma]
		cb = planes[0][luma : luma+chroma]
		cr = planes[0][luma+chroma : luma+2*chroma]
	default:
		if len(planes) < 3 {
			return nil, fmt.Errorf("short I420 planes")
		}
		y, cb, cr = planes[0], planes[1], planes[2]
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	copy(img.Y, y)
	copy(img.Cb, cb)
	copy(img.Cr, cr)
	return img, nil
}
