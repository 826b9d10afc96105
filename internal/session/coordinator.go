package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/emotionai/internal/types"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnavailable means a required client handle never initialized. The call was a
	// no-op: no loading state was set.
	ErrUnavailable = errors.New("inference endpoints unavailable")
	// ErrBusy means a single-shot analysis is already in flight. The call was a no-op.
	ErrBusy = errors.New("analysis already in progress")
)

// DefaultRequestTimeout bounds a single-shot analysis so a stalled endpoint cannot
// hold the loading flag forever.
const DefaultRequestTimeout = 10 * time.Second

// EmotionClassifier is the emotion endpoint as seen by the session.
type EmotionClassifier interface {
	Classify(ctx context.Context, img types.Image) (types.EmotionPayload, error)
}

// FaceDetector is the detection endpoint as seen by the session.
type FaceDetector interface {
	Detect(ctx context.Context, img types.Image) (types.DetectionPayload, error)
}

// Coordinator fans one image out to both endpoints and joins the results. At most
// one analysis runs at a time; the loading gate enforces it.
type Coordinator struct {
	mu       sync.RWMutex
	emotion  EmotionClassifier
	detector FaceDetector

	timeout   time.Duration
	loading   atomic.Bool
	onLoading func(bool)
}

// NewCoordinator builds a coordinator. Either client may be nil; Analyze then
// reports ErrUnavailable. onLoading, if set, observes every loading transition.
func NewCoordinator(emotion EmotionClassifier, detector FaceDetector, timeout time.Duration, onLoading func(bool)) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Coordinator{emotion: emotion, detector: detector, timeout: timeout, onLoading: onLoading}
}

// SetClients swaps in the initialized handles.
func (c *Coordinator) SetClients(emotion EmotionClassifier, detector FaceDetector) {
	c.mu.Lock()
	c.emotion, c.detector = emotion, detector
	c.mu.Unlock()
}

func (c *Coordinator) clients() (EmotionClassifier, FaceDetector) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.emotion, c.detector
}

// Ready reports whether both handles are present.
func (c *Coordinator) Ready() bool {
	e, d := c.clients()
	return e != nil && d != nil
}

// Loading reports whether an analysis is in flight.
func (c *Coordinator) Loading() bool {
	return c.loading.Load()
}

// Analyze runs one complete single-shot analysis of img.
func (c *Coordinator) Analyze(ctx context.Context, img types.Image) (types.InferenceResult, error) {
	if !c.Ready() {
		return types.InferenceResult{}, ErrUnavailable
	}
	if !c.acquire() {
		return types.InferenceResult{}, ErrBusy
	}
	defer c.release()
	return c.run(ctx, img)
}

func (c *Coordinator) acquire() bool {
	if !c.loading.CompareAndSwap(false, true) {
		return false
	}
	if c.onLoading != nil {
		c.onLoading(true)
	}
	return true
}

func (c *Coordinator) release() {
	c.loading.Store(false)
	if c.onLoading != nil {
		c.onLoading(false)
	}
}

// run issues both calls before waiting on either. The first failure cancels the
// other call and fails the whole analysis; there is no partial result.
func (c *Coordinator) run(ctx context.Context, img types.Image) (types.InferenceResult, error) {
	emotion, detector := c.clients()
	if emotion == nil || detector == nil {
		return types.InferenceResult{}, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var emo types.EmotionPayload
	var det types.DetectionPayload
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		emo, err = emotion.Classify(gctx, img)
		return err
	})
	g.Go(func() error {
		var err error
		det, err = detector.Detect(gctx, img)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.InferenceResult{}, fmt.Errorf("analysis timed out after %s: %w", c.timeout, err)
		}
		return types.InferenceResult{}, err
	}

	return types.InferenceResult{
		EmotionLabel:      emo.Label,
		AnnotatedImageRef: det.ImageURL,
	}, nil
}
