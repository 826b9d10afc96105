package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/emotionai/internal/types"
)

type emotionFunc func(ctx context.Context, img types.Image) (types.EmotionPayload, error)

func (f emotionFunc) Classify(ctx context.Context, img types.Image) (types.EmotionPayload, error) {
	return f(ctx, img)
}

type detectorFunc func(ctx context.Context, img types.Image) (types.DetectionPayload, error)

func (f detectorFunc) Detect(ctx context.Context, img types.Image) (types.DetectionPayload, error) {
	return f(ctx, img)
}

func fixedEmotion(label string) emotionFunc {
	return func(context.Context, types.Image) (types.EmotionPayload, error) {
		return types.EmotionPayload{Label: label}, nil
	}
}

func fixedDetection(url string) detectorFunc {
	return func(context.Context, types.Image) (types.DetectionPayload, error) {
		return types.DetectionPayload{ImageURL: url}, nil
	}
}

// gatedEmotion blocks every call until release is closed and records concurrency.
type gatedEmotion struct {
	label    string
	started  chan struct{}
	release  chan struct{}
	honorCtx bool

	once        sync.Once
	calls       atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newGatedEmotion(label string, honorCtx bool) *gatedEmotion {
	return &gatedEmotion{
		label:    label,
		started:  make(chan struct{}),
		release:  make(chan struct{}),
		honorCtx: honorCtx,
	}
}

func (g *gatedEmotion) Classify(ctx context.Context, _ types.Image) (types.EmotionPayload, error) {
	g.calls.Add(1)
	n := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		m := g.maxInflight.Load()
		if n <= m || g.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	g.once.Do(func() { close(g.started) })

	if g.honorCtx {
		select {
		case <-g.release:
		case <-ctx.Done():
			return types.EmotionPayload{}, ctx.Err()
		}
	} else {
		<-g.release
	}
	return types.EmotionPayload{Label: g.label}, nil
}

type fakeSource struct {
	mu  sync.Mutex
	img types.Image
	ok  bool
}

func newFakeSource(ok bool) *fakeSource {
	return &fakeSource{img: types.Image{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, MIME: "image/jpeg"}, ok: ok}
}

func (f *fakeSource) CaptureFrame() (types.Image, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.img, f.ok
}

var testImage = types.Image{Data: []byte("png-bytes"), MIME: "image/png"}
