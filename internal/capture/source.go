// Package capture provides the image sources: a V4L2 webcam, any ffmpeg readable
// stream, and one-shot file input.
package capture

import (
	"strings"
	"time"

	"github.com/andresmejia3/emotionai/internal/types"
)

// staleAfter is how old the newest frame may be before a source reports "not ready".
const staleAfter = 2 * time.Second

// Source yields the current frame of a running device. CaptureFrame never blocks;
// it returns false while the device is not ready.
type Source interface {
	CaptureFrame() (types.Image, bool)
	Stats() Stats
	Close() error
}

// Options picks and configures a source. Input wins over Device when both are set.
type Options struct {
	Device   string // V4L2 device path, e.g. /dev/video0
	Input    string // anything ffmpeg can open: file, rtsp:// URL, ...
	Format   string // optional ffmpeg input format, e.g. v4l2
	Width    uint32
	Height   uint32
	Realtime bool // pace file inputs at native speed
}

// Open starts the source described by opts.
func Open(opts Options) (Source, error) {
	if strings.TrimSpace(opts.Input) != "" {
		return OpenStream(opts.Input, opts.Format, opts.Realtime)
	}
	return OpenWebcam(opts.Device, opts.Width, opts.Height)
}
