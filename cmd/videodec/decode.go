package main

import (
	"fmt"
	"os"
	"time"

	"github.com/user/videodec/pkg/adapters/dmapool"
	"github.com/user/videodec/pkg/adapters/imagesink"
	"github.com/user/videodec/pkg/adapters/mp4source"
	"github.com/user/videodec/pkg/adapters/v4l2device"
	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/component"
	"github.com/user/videodec/pkg/config"
	"github.com/user/videodec/pkg/ports"
)

// decodeFile pushes an MP4 video track through the decode component
// and writes the decoded frames as PNGs.
func decodeFile(input string, cfg config.Config, log ports.Logger, interrupted chan os.Signal) error {
	streamCodec := codec.ParseCodec(cfg.Codec)
	if streamCodec == codec.CodecUnknown {
		return fmt.Errorf("unknown codec %q", cfg.Codec)
	}

	stream, err := mp4source.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if len(stream.Samples) == 0 {
		return fmt.Errorf("input has no video samples")
	}
	log.Info("Decoding %s (%s)...", input, streamCodec)

	sink, err := imagesink.New(cfg.OutputDir, log)
	if err != nil {
		return err
	}

	var pool *dmapool.Pool
	comp, err := component.New(component.Options{
		Interface: component.InterfaceConfig{
			Name:            cfg.ComponentName,
			Codec:           streamCodec,
			InputBufferSize: cfg.InputBufferSize,
			BlockPoolID:     cfg.BlockPoolID,
		},
		MaxConcurrentInstances: cfg.MaxConcurrentInstances,
		OpenDevice: func(c codec.Codec) (ports.Device, error) {
			return v4l2device.Open(c, cfg.DevicePath, log)
		},
		NewPool: func(poolID uint64, size codec.Size, pixelFormat uint32, numBuffers int) (ports.FramePool, error) {
			p, err := dmapool.New(size, pixelFormat, numBuffers, log)
			if err != nil {
				return nil, err
			}
			pool = p
			return p, nil
		},
		Logger: log,
	})
	if err != nil {
		return err
	}
	defer comp.Release()

	done := make(chan codec.Status, 1)
	listener := &sinkListener{sink: sink, pool: &pool, log: log, done: done}
	if status := comp.SetListener(listener, true); status != codec.StatusOK {
		return fmt.Errorf("set listener: %s", status)
	}
	if status := comp.Start(); status != codec.StatusOK {
		return fmt.Errorf("start component: %s", status)
	}
	defer comp.Stop()

	items, blocks, err := buildWorkItems(stream)
	if err != nil {
		return err
	}
	defer func() {
		for _, block := range blocks {
			dmapool.ReleaseLinearBlock(block)
		}
	}()

	started := time.Now()
	if status := comp.Queue(items); status != codec.StatusOK {
		return fmt.Errorf("queue work: %s", status)
	}

	select {
	case status := <-done:
		if status != codec.StatusOK {
			return fmt.Errorf("decode failed: %s", status)
		}
	case <-interrupted:
		log.Info("Interrupted, shutting down...")
		return nil
	}

	log.Info("Decoded %d frames", sink.Count())
	log.Info("Decoding completed in %d ms", time.Since(started).Milliseconds())
	log.Info("Output saved to %s", cfg.OutputDir)
	return nil
}

// buildWorkItems turns the extracted stream into work items: a CSD
// item first, one item per sample, and a terminal EOS item.
func buildWorkItems(stream *mp4source.Stream) ([]*codec.WorkItem, []*codec.LinearBlock, error) {
	var items []*codec.WorkItem
	var blocks []*codec.LinearBlock
	frameIndex := uint64(0)

	if len(stream.Init) > 0 {
		block, err := dmapool.NewLinearBlock(stream.Init)
		if err != nil {
			return nil, blocks, fmt.Errorf("allocate CSD block: %w", err)
		}
		blocks = append(blocks, block)
		items = append(items, &codec.WorkItem{
			FrameIndex: frameIndex,
			Flags:      codec.FlagCodecConfig,
			Input:      block,
		})
		frameIndex++
	}

	for _, sample := range stream.Samples {
		block, err := dmapool.NewLinearBlock(sample.Data)
		if err != nil {
			return nil, blocks, fmt.Errorf("allocate sample block: %w", err)
		}
		blocks = append(blocks, block)
		items = append(items, &codec.WorkItem{
			FrameIndex: frameIndex,
			Timestamp:  sample.TimestampUs,
			Input:      block,
		})
		frameIndex++
	}

	items = append(items, &codec.WorkItem{
		FrameIndex: frameIndex,
		Flags:      codec.FlagEndOfStream,
	})
	return items, blocks, nil
}

// sinkListener saves decoded outputs and recycles their frames. It
// runs on the component worker.
type sinkListener struct {
	sink *imagesink.Sink
	pool **dmapool.Pool
	log  ports.Logger
	done chan codec.Status
}

func (l *sinkListener) OnWorkDone(items []*codec.WorkItem) {
	for _, item := range items {
		if item.Output.Buffer != nil && item.Output.Buffer.Frame != nil {
			frame := item.Output.Buffer.Frame
			if _, err := l.sink.SaveFrame(frame); err != nil {
				l.log.Warn("Failed to save frame %d: %v", item.FrameIndex, err)
			}
			if *l.pool != nil {
				(*l.pool).Recycle(frame)
			}
		}
		if item.Output.Flags&codec.FlagEndOfStream != 0 {
			l.signal(codec.StatusOK)
		}
	}
}

func (l *sinkListener) OnError(status codec.Status) {
	l.signal(status)
}

func (l *sinkListener) signal(status codec.Status) {
	select {
	case l.done <- status:
	default:
	}
}
