package capture

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/emotionai/internal/types"
	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
)

// V4L2 fourcc for Motion-JPEG ("MJPG").
const pixelFormatMJPEG webcam.PixelFormat = 0x47504A4D

// Webcam reads MJPEG frames from a V4L2 device on a background goroutine and keeps
// only the latest one.
type Webcam struct {
	cam  *webcam.Webcam
	slot *frameSlot

	stopped atomic.Bool
	done    chan struct{}
	errMu   sync.Mutex
	err     error
}

// OpenWebcam opens device, negotiates MJPEG at the requested size (0 keeps the
// driver default) and starts streaming.
func OpenWebcam(device string, width, height uint32) (*Webcam, error) {
	cam, err := webcam.Open(device)
	if err != nil {
		return nil, errors.Wrap(err, "Can not open device")
	}

	format, err := findMJPEG(cam)
	if err != nil {
		cam.Close()
		return nil, err
	}
	if width == 0 || height == 0 {
		width, height = largestSize(cam, format)
	}
	_, gotW, gotH, err := cam.SetImageFormat(format, width, height)
	if err != nil {
		cam.Close()
		return nil, errors.Wrap(err, "Can not set image format")
	}
	slog.Debug("Webcam format negotiated", "device", device, "width", gotW, "height", gotH)

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, errors.Wrap(err, "Can not start streaming")
	}

	w := &Webcam{cam: cam, slot: newFrameSlot(staleAfter), done: make(chan struct{})}
	go w.run()
	return w, nil
}

func findMJPEG(cam *webcam.Webcam) (webcam.PixelFormat, error) {
	for f, desc := range cam.GetSupportedFormats() {
		if f == pixelFormatMJPEG || strings.Contains(strings.ToLower(desc), "jpeg") {
			return f, nil
		}
	}
	return 0, errors.New("device does not support MJPEG output")
}

func largestSize(cam *webcam.Webcam, format webcam.PixelFormat) (uint32, uint32) {
	var bw, bh uint32
	for _, s := range cam.GetSupportedFrameSizes(format) {
		if s.MaxWidth*s.MaxHeight > bw*bh {
			bw, bh = s.MaxWidth, s.MaxHeight
		}
	}
	if bw == 0 {
		return 640, 480
	}
	return bw, bh
}

func (w *Webcam) run() {
	defer close(w.done)

	for !w.stopped.Load() {
		err := w.cam.WaitForFrame(1)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			w.fail(errors.Wrap(err, "Frame wait failed"))
			return
		}

		frame, err := w.cam.ReadFrame()
		if err != nil {
			w.fail(errors.Wrap(err, "Read frame failed"))
			return
		}
		if len(frame) == 0 {
			continue
		}

		// ReadFrame returns the driver's mmap buffer, which is reused.
		buf := make([]byte, len(frame))
		copy(buf, frame)
		w.slot.publish(types.Image{Data: buf, MIME: "image/jpeg"})
	}
}

func (w *Webcam) fail(err error) {
	w.errMu.Lock()
	w.err = err
	w.errMu.Unlock()
	slog.Error("Webcam stopped", "error", err)
}

// CaptureFrame returns the latest frame without blocking.
func (w *Webcam) CaptureFrame() (types.Image, bool) {
	return w.slot.latest()
}

// Stats reports frame counters.
func (w *Webcam) Stats() Stats {
	return w.slot.stats()
}

// Err returns the error that stopped the reader, if any.
func (w *Webcam) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Close stops the reader and releases the device.
func (w *Webcam) Close() error {
	if w.stopped.Swap(true) {
		return nil
	}
	<-w.done
	return w.cam.Close()
}
