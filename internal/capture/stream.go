package capture

import (
	"bufio"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/emotionai/internal/types"
	"github.com/andresmejia3/emotionai/internal/utils"
	"github.com/pkg/errors"
)

const megabyte = 1024 * 1024

// Stream decodes any ffmpeg input to MJPEG and keeps the latest frame.
type Stream struct {
	cmd  *utils.SafeCommand
	out  io.ReadCloser
	slot *frameSlot

	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// OpenStream starts ffmpeg on input. format is an optional ffmpeg input format
// (e.g. "v4l2"); realtime paces file inputs at native speed.
func OpenStream(input, format string, realtime bool) (*Stream, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.Wrap(err, "ffmpeg not found")
	}

	cmd := utils.NewFFmpegCmd(input, format, realtime)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create FFmpeg stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "Failed to start FFmpeg")
	}

	s := newStream(cmd, out)
	go s.run()
	return s, nil
}

func newStream(cmd *utils.SafeCommand, out io.ReadCloser) *Stream {
	return &Stream{cmd: cmd, out: out, slot: newFrameSlot(staleAfter), done: make(chan struct{})}
}

func (s *Stream) run() {
	defer close(s.done)

	scanner := bufio.NewScanner(s.out)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	for scanner.Scan() {
		// The scanner reuses its buffer between tokens.
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())
		s.slot.publish(types.Image{Data: frame, MIME: "image/jpeg"})
	}

	scanErr := scanner.Err()
	var waitErr error
	if s.cmd != nil && s.cmd.Process != nil {
		waitErr = s.cmd.Wait()
	}
	if s.closing.Load() {
		return
	}
	switch {
	case scanErr != nil:
		s.fail(errors.Wrap(scanErr, "Frame scanner failed"))
	case waitErr != nil:
		s.fail(errors.Wrap(waitErr, "FFmpeg exited"))
	}
}

func (s *Stream) fail(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
	if s.cmd != nil && s.cmd.Stderr.Len() > 0 {
		slog.Error("Stream stopped", "error", err, "ffmpeg", s.cmd.Stderr.String())
		return
	}
	slog.Error("Stream stopped", "error", err)
}

// CaptureFrame returns the latest decoded frame without blocking.
func (s *Stream) CaptureFrame() (types.Image, bool) {
	return s.slot.latest()
}

// Stats reports frame counters.
func (s *Stream) Stats() Stats {
	return s.slot.stats()
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Done is closed once the stream has ended.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close kills ffmpeg and waits for the reader to drain.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		s.out.Close()
	})
	<-s.done
	return nil
}
