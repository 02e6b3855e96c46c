package imagesink

import (
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/videodec/pkg/adapters/logger"
	"github.com/user/videodec/pkg/codec"
)

// nv12Frame builds a gray NV12 frame of the given size.
func nv12Frame(w, h int) *codec.VideoFrame {
	luma := make([]byte, w*h)
	chroma := make([]byte, w*h/2)
	for i := range luma {
		luma[i] = 0x80
	}
	for i := range chroma {
		chroma[i] = 0x80
	}
	return &codec.VideoFrame{
		Planes:      [][]byte{luma, chroma},
		PixelFormat: codec.FourccNV12,
		CodedSize:   codec.Size{Width: w, Height: h},
		VisibleRect: image.Rect(0, 0, w, h),
	}
}

func TestSaveFrame_NV12(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir, logger.NewNoop())
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}

	path, err := sink.SaveFrame(nv12Frame(64, 48))
	if err != nil {
		t.Fatalf("save frame: %v", err)
	}

	if filepath.Base(path) != "frame-000000.png" {
		t.Errorf("unexpected file name: %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if info.Size() == 0 {
		t.Error("expected non-empty PNG")
	}
	if sink.Count() != 1 {
		t.Errorf("expected 1 saved frame, got %d", sink.Count())
	}
}

func TestSaveFrame_CropsToVisibleRect(t *testing.T) {
	sink, err := New(t.TempDir(), logger.NewNoop())
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}

	// Coded 64x48 with a 60x40 visible region.
	frame := nv12Frame(64, 48)
	frame.VisibleRect = image.Rect(0, 0, 60, 40)

	path, err := sink.SaveFrame(frame)
	if err != nil {
		t.Fatalf("save frame: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode png config: %v", err)
	}
	if cfg.Width != 60 || cfg.Height != 40 {
		t.Errorf("expected 60x40 output, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestSaveFrame_NoPlanes(t *testing.T) {
	sink, err := New(t.TempDir(), logger.NewNoop())
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}

	frame := &codec.VideoFrame{
		PixelFormat: codec.FourccNV12,
		CodedSize:   codec.Size{Width: 64, Height: 48},
	}
	if _, err := sink.SaveFrame(frame); err == nil {
		t.Error("expected error for frame without planes")
	}
}
