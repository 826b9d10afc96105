package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/andresmejia3/emotionai/internal/metrics"
	"github.com/andresmejia3/emotionai/internal/types"
)

// DefaultLiveInterval is the nominal live sampling period (1 FPS).
const DefaultLiveInterval = time.Second

// FrameSource is the camera as seen by the session: a non-blocking read of the
// current frame that may report "not ready".
type FrameSource interface {
	CaptureFrame() (types.Image, bool)
}

// LiveLoop samples a frame source on a fixed period and classifies each frame with
// the emotion endpoint only. Ticks run one after another on a single goroutine, so
// a loop never has two calls in flight; ticks that elapse during a slow call are
// skipped, not queued.
type LiveLoop struct {
	Interval   time.Duration
	Timeout    time.Duration
	Source     FrameSource
	Classifier EmotionClassifier
	// Convert prepares a frame for transport. Nil sends frames as captured.
	Convert func(types.Image) (types.Image, error)
}

// Run ticks until ctx is cancelled. apply receives each live result and reports
// whether it was accepted; a loop cancelled mid-call never calls apply.
func (l *LiveLoop) Run(ctx context.Context, apply func(types.InferenceResult) bool) {
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultLiveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}

		l.tick(ctx, apply)

		select {
		case <-ticker.C:
			metrics.LiveTicks.WithLabelValues(metrics.TickSkipped).Inc()
		default:
		}
	}
}

func (l *LiveLoop) tick(ctx context.Context, apply func(types.InferenceResult) bool) {
	frame, ok := l.Source.CaptureFrame()
	if !ok {
		metrics.LiveTicks.WithLabelValues(metrics.TickNoFrame).Inc()
		return
	}
	if l.Convert != nil {
		var err error
		if frame, err = l.Convert(frame); err != nil {
			slog.Debug("Live frame skipped", "reason", "convert", "error", err)
			metrics.LiveTicks.WithLabelValues(metrics.TickFailed).Inc()
			return
		}
	}

	callCtx := ctx
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	payload, err := l.Classifier.Classify(callCtx, frame)
	if ctx.Err() != nil {
		metrics.LiveTicks.WithLabelValues(metrics.TickStale).Inc()
		return
	}
	if err != nil {
		slog.Debug("Live frame skipped", "error", err)
		metrics.LiveTicks.WithLabelValues(metrics.TickFailed).Inc()
		return
	}

	res := types.InferenceResult{EmotionLabel: payload.Label, IsLiveSample: true}
	if apply(res) {
		metrics.LiveTicks.WithLabelValues(metrics.TickApplied).Inc()
		return
	}
	metrics.LiveTicks.WithLabelValues(metrics.TickStale).Inc()
}
