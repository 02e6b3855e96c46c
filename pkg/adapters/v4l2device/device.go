//go:build linux

// Package v4l2device implements the kernel device port over a V4L2
// memory-to-memory decoder node.
package v4l2device

import (
	"fmt"
	"image"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/user/videodec/pkg/codec"
	"github.com/user/videodec/pkg/ports"
)

// maxDeviceNodes bounds the /dev/video* scan.
const maxDeviceNodes = 64

// pollTimeoutMs bounds one poll cycle so input-queue progress is
// observed even when the device only signals capture readiness.
const pollTimeoutMs = 100

// Device is a V4L2 decoder device node.
type Device struct {
	fd   int
	caps uint32
	log  ports.Logger

	queues map[ports.BufferType]*queue

	pollMu   sync.Mutex
	pollStop []int // wakeup pipe, nil when not polling
	pollWg   sync.WaitGroup
}

// Open finds and opens a decoder node supporting the codec. An empty
// path scans /dev/video*.
func Open(c codec.Codec, path string, log ports.Logger) (ports.Device, error) {
	pixelFormat := codec.PixFmtForCodec(c)
	if pixelFormat == 0 {
		return nil, fmt.Errorf("no pixel format for codec %s", c)
	}

	if path != "" {
		return openNode(path, pixelFormat, log)
	}

	for i := 0; i < maxDeviceNodes; i++ {
		node := fmt.Sprintf("/dev/video%d", i)
		dev, err := openNode(node, pixelFormat, log)
		if err != nil {
			continue
		}
		log.Info("Using decoder device %s for %s", node, c)
		return dev, nil
	}
	return nil, fmt.Errorf("no decoder device for %s", c)
}

// openNode opens one node and verifies it is an m2m decoder that
// accepts the compressed format on its input queue.
func openNode(path string, pixelFormat uint32, log ports.Logger) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	d := &Device{
		fd:     fd,
		log:    log,
		queues: make(map[ports.BufferType]*queue),
	}

	var cap v4l2Capability
	if err := d.ioctl(vidiocQuerycap, unsafe.Pointer(&cap)); err != nil {
		d.Close()
		return nil, fmt.Errorf("query capabilities of %s: %w", path, err)
	}
	d.caps = cap.capabilities
	if cap.capabilities&v4l2CapDeviceCaps != 0 {
		d.caps = cap.deviceCaps
	}
	if d.caps&v4l2CapVideoM2MMplane == 0 {
		d.Close()
		return nil, fmt.Errorf("%s is not an m2m mplane device", path)
	}

	supported := false
	for _, f := range d.EnumFormats(ports.BufferTypeInput) {
		if f == pixelFormat {
			supported = true
			break
		}
	}
	if !supported {
		d.Close()
		return nil, fmt.Errorf("%s does not decode %s", path, codec.FourCCString(pixelFormat))
	}

	return d, nil
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

// HasCapabilities reports whether the device advertises all given
// capability flags.
func (d *Device) HasCapabilities(caps ports.Capability) bool {
	var want uint32
	if caps&ports.CapVideoM2MMplane != 0 {
		want |= v4l2CapVideoM2MMplane
	}
	if caps&ports.CapStreaming != 0 {
		want |= v4l2CapStreaming
	}
	return d.caps&want == want
}

func decoderCmdCode(cmd ports.DecoderCmd) uint32 {
	if cmd == ports.DecoderCmdStart {
		return v4l2DecCmdStart
	}
	return v4l2DecCmdStop
}

// TryDecoderCmd verifies a decoder command is supported.
func (d *Device) TryDecoderCmd(cmd ports.DecoderCmd) error {
	arg := v4l2DecoderCmd{cmd: decoderCmdCode(cmd)}
	return d.ioctl(vidiocTryDecoderCmd, unsafe.Pointer(&arg))
}

// SendDecoderCmd issues a decoder command.
func (d *Device) SendDecoderCmd(cmd ports.DecoderCmd) error {
	arg := v4l2DecoderCmd{cmd: decoderCmdCode(cmd)}
	return d.ioctl(vidiocDecoderCmd, unsafe.Pointer(&arg))
}

// SubscribeSourceChange subscribes to source-change events.
func (d *Device) SubscribeSourceChange() error {
	sub := v4l2EventSubscription{typ: v4l2EventSourceChange}
	return d.ioctl(vidiocSubscribeEvent, unsafe.Pointer(&sub))
}

// DequeueEvent pops one pending event.
func (d *Device) DequeueEvent() (ports.Event, bool) {
	var ev v4l2Event
	if err := d.ioctl(vidiocDqevent, unsafe.Pointer(&ev)); err != nil {
		return ports.Event{}, false
	}
	out := ports.Event{}
	if ev.typ == v4l2EventSourceChange {
		out.SourceChange = true
		out.ResolutionChanged = ev.srcChanges()&v4l2EventSrcChResolution != 0
	}
	return out, true
}

func kernelBufType(typ ports.BufferType) uint32 {
	if typ == ports.BufferTypeInput {
		return v4l2BufTypeVideoOutputMplane
	}
	return v4l2BufTypeVideoCaptureMplane
}

// Queue returns the buffer queue of the given type.
func (d *Device) Queue(typ ports.BufferType) (ports.Queue, error) {
	if q, ok := d.queues[typ]; ok {
		return q, nil
	}
	q := &queue{dev: d, typ: kernelBufType(typ)}
	d.queues[typ] = q
	return q, nil
}

// EnumFormats lists the pixel formats supported on a queue.
func (d *Device) EnumFormats(typ ports.BufferType) []uint32 {
	var formats []uint32
	for i := uint32(0); ; i++ {
		desc := v4l2Fmtdesc{index: i, typ: kernelBufType(typ)}
		if err := d.ioctl(vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			break
		}
		formats = append(formats, desc.pixelformat)
	}
	return formats
}

// GetFormat queries the current format of a queue.
func (d *Device) GetFormat(typ ports.BufferType) (*ports.PixFormat, error) {
	format := v4l2Format{typ: kernelBufType(typ)}
	if err := d.ioctl(vidiocGFmt, unsafe.Pointer(&format)); err != nil {
		return nil, fmt.Errorf("get format: %w", err)
	}
	mp := format.mplane()
	out := &ports.PixFormat{
		PixelFormat: mp.pixelformat,
		Size:        codec.Size{Width: int(mp.width), Height: int(mp.height)},
	}
	for i := 0; i < int(mp.numPlanes); i++ {
		out.PlaneSizes = append(out.PlaneSizes, mp.planeFmt[i].sizeimage)
	}
	return out, nil
}

// MinCaptureBuffers queries the minimum output buffer count.
func (d *Device) MinCaptureBuffers() (int, error) {
	ctrl := v4l2Control{id: v4l2CidMinBuffersForCapture}
	if err := d.ioctl(vidiocGCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return 0, fmt.Errorf("get min capture buffers: %w", err)
	}
	return int(ctrl.value), nil
}

// ComposeRect queries the visible rectangle via the selection API.
func (d *Device) ComposeRect() (image.Rectangle, error) {
	sel := v4l2Selection{typ: v4l2BufTypeVideoCapture, target: v4l2SelTgtCompose}
	if err := d.ioctl(vidiocGSelection, unsafe.Pointer(&sel)); err != nil {
		return image.Rectangle{}, fmt.Errorf("get selection: %w", err)
	}
	return rectFromV4L2(sel.r), nil
}

// CropRect queries the visible rectangle via the legacy crop API.
func (d *Device) CropRect() (image.Rectangle, error) {
	crop := v4l2Crop{typ: v4l2BufTypeVideoCaptureMplane}
	if err := d.ioctl(vidiocGCrop, unsafe.Pointer(&crop)); err != nil {
		return image.Rectangle{}, fmt.Errorf("get crop: %w", err)
	}
	return rectFromV4L2(crop.c), nil
}

func rectFromV4L2(r v4l2Rect) image.Rectangle {
	return image.Rect(int(r.left), int(r.top), int(r.left)+int(r.width), int(r.top)+int(r.height))
}

// StartPolling starts the poll goroutine. service runs on that
// goroutine for every wakeup, with event=true when an asynchronous
// event is pending.
func (d *Device) StartPolling(service func(event bool), onError func()) error {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()

	if d.pollStop != nil {
		return fmt.Errorf("already polling")
	}

	pipe := make([]int, 2)
	if err := unix.Pipe2(pipe, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fmt.Errorf("create wakeup pipe: %w", err)
	}
	d.pollStop = pipe

	d.pollWg.Add(1)
	go d.pollLoop(pipe[0], service, onError)
	return nil
}

func (d *Device) pollLoop(wakeFd int, service func(event bool), onError func()) {
	defer d.pollWg.Done()

	fds := []unix.PollFd{
		{Fd: int32(d.fd), Events: unix.POLLIN | unix.POLLPRI | unix.POLLERR},
		{Fd: int32(wakeFd), Events: unix.POLLIN},
	}
	for {
		fds[0].Revents = 0
		fds[1].Revents = 0
		_, err := unix.Poll(fds, pollTimeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			d.log.Error("Device poll failed: %v", err)
			onError()
			return
		}
		if fds[1].Revents != 0 {
			return
		}
		service(fds[0].Revents&unix.POLLPRI != 0)
	}
}

// StopPolling stops event delivery and joins the poller.
func (d *Device) StopPolling() {
	d.pollMu.Lock()
	pipe := d.pollStop
	d.pollStop = nil
	d.pollMu.Unlock()

	if pipe == nil {
		return
	}
	unix.Write(pipe[1], []byte{0})
	d.pollWg.Wait()
	unix.Close(pipe[0])
	unix.Close(pipe[1])
}

// Close releases the device handle.
func (d *Device) Close() error {
	d.StopPolling()
	if d.fd >= 0 {
		unix.Close(d.fd)
		d.fd = -1
	}
	return nil
}

var _ ports.Device = (*Device)(nil)
