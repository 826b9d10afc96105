// Package session owns the capture/inference state of one user session: the mode
// state machine, the single-shot dual analysis and the live polling loop.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/emotionai/internal/metrics"
	"github.com/andresmejia3/emotionai/internal/types"
	"github.com/andresmejia3/emotionai/internal/utils"
	"github.com/google/uuid"
)

var (
	ErrWrongMode         = errors.New("operation not available in the current mode")
	ErrNoSource          = errors.New("no camera source attached")
	ErrFrameUnavailable  = errors.New("camera frame not ready")
	ErrSuperseded        = errors.New("capture superseded by a mode change or reset")
	errSessionTerminated = errors.New("session shut down")
)

// Options tunes a session. Zero values pick the defaults.
type Options struct {
	RequestTimeout time.Duration
	LiveInterval   time.Duration
	// Convert prepares camera frames for transport.
	Convert func(types.Image) (types.Image, error)
}

// State is a consistent snapshot of what the user should be shown.
type State struct {
	Version        uint64                 `json:"version"`
	Mode           types.Mode             `json:"mode"`
	LiveActive     bool                   `json:"live_active"`
	LiveID         string                 `json:"live_id,omitempty"`
	Loading        bool                   `json:"loading"`
	Image          *types.CapturedImage   `json:"-"`
	ImageSource    types.Source           `json:"image_source,omitempty"`
	Result         *types.InferenceResult `json:"result,omitempty"`
	Notice         string                 `json:"notice,omitempty"`
	Display        string                 `json:"display,omitempty"`
	EmotionReady   bool                   `json:"emotion_ready"`
	DetectionReady bool                   `json:"detection_ready"`
	CameraReady    bool                   `json:"camera_ready"`
}

// Viewing reports whether the captured-image view is shown.
func (s State) Viewing() bool {
	return s.Image != nil
}

type activation struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

// Session is safe for concurrent use. Every mutation happens under one lock and is
// followed by a notification to subscribers.
type Session struct {
	mu         sync.Mutex
	version    uint64
	mode       types.Mode
	liveActive bool
	image      *types.CapturedImage
	result     *types.InferenceResult
	notice     string

	// gen identifies the current capture; a single-shot result is applied only if
	// gen has not moved since it was dispatched.
	gen        uint64
	shotCancel context.CancelFunc

	emotion EmotionClassifier
	source  FrameSource
	coord   *Coordinator
	live    *activation
	opts    Options

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]chan State
	nextSub int
}

// New returns a session in Upload mode with no clients attached.
func New(opts Options) *Session {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.LiveInterval <= 0 {
		opts.LiveInterval = DefaultLiveInterval
	}
	base, stop := context.WithCancel(context.Background())
	return &Session{
		mode:  types.ModeUpload,
		coord: NewCoordinator(nil, nil, opts.RequestTimeout, metrics.SetLoading),
		opts:  opts,
		base:  base,
		stop:  stop,
		subs:  make(map[int]chan State),
	}
}

// SetClients attaches the initialized handles. Either may be nil when its endpoint
// failed to initialize; the dependent operations then become no-ops.
func (s *Session) SetClients(emotion EmotionClassifier, detector FaceDetector) {
	s.mu.Lock()
	s.emotion = emotion
	s.coord.SetClients(emotion, detector)
	s.restartLiveLocked()
	s.version++
	s.mu.Unlock()
	s.notify()
}

// SetSource attaches (or detaches, with nil) the camera.
func (s *Session) SetSource(src FrameSource) {
	s.mu.Lock()
	s.source = src
	s.restartLiveLocked()
	s.version++
	s.mu.Unlock()
	s.notify()
}

// SetMode switches mode. The captured image and result are always cleared, the live
// loop is stopped, and restarted only when the new mode is Live.
func (s *Session) SetMode(m types.Mode) {
	s.mu.Lock()
	s.clearLocked()
	s.stopLiveLocked()
	s.mode = m
	s.liveActive = m == types.ModeLive
	s.startLiveLocked()
	s.version++
	s.mu.Unlock()

	metrics.ModeSwitches.WithLabelValues(string(m)).Inc()
	slog.Debug("Mode switched", "mode", m)
	s.notify()
}

// SetLiveActive toggles sampling while in Live mode. Deactivating drops the last
// live result.
func (s *Session) SetLiveActive(active bool) error {
	s.mu.Lock()
	if s.mode != types.ModeLive {
		s.mu.Unlock()
		return ErrWrongMode
	}
	if active == s.liveActive {
		s.mu.Unlock()
		return nil
	}
	s.liveActive = active
	if active {
		s.startLiveLocked()
	} else {
		s.stopLiveLocked()
		s.result = nil
	}
	s.version++
	s.mu.Unlock()
	s.notify()
	return nil
}

// Close is the close/reset control: it drops the captured image and its result and
// abandons any analysis still in flight.
func (s *Session) Close() {
	s.mu.Lock()
	s.clearLocked()
	s.version++
	s.mu.Unlock()
	s.notify()
}

// Upload analyzes a user supplied image. Only valid in Upload mode.
func (s *Session) Upload(ctx context.Context, img types.Image) (types.InferenceResult, error) {
	t, ok := s.ticketFor(types.ModeUpload)
	if !ok {
		return types.InferenceResult{}, ErrWrongMode
	}
	return s.analyze(ctx, types.CapturedImage{Image: img, Source: types.SourceUpload}, t)
}

// Capture snapshots the camera and analyzes the frame. Only valid in Camera mode;
// the session then shows the captured-image view.
func (s *Session) Capture(ctx context.Context) (types.InferenceResult, error) {
	t, ok := s.ticketFor(types.ModeCamera)
	if !ok {
		return types.InferenceResult{}, ErrWrongMode
	}
	s.mu.Lock()
	src := s.source
	s.mu.Unlock()
	if src == nil {
		return types.InferenceResult{}, ErrNoSource
	}

	frame, ok := src.CaptureFrame()
	if !ok {
		return types.InferenceResult{}, ErrFrameUnavailable
	}
	if s.opts.Convert != nil {
		var err error
		if frame, err = s.opts.Convert(frame); err != nil {
			return types.InferenceResult{}, err
		}
	}
	return s.analyze(ctx, types.CapturedImage{Image: frame, Source: types.SourceCamera}, t)
}

// ticket records the mode and capture generation a single shot was requested
// under. The shot only starts if neither has moved by then.
type ticket struct {
	mode types.Mode
	gen  uint64
}

func (s *Session) ticketFor(mode types.Mode) (ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != mode {
		return ticket{}, false
	}
	return ticket{mode: s.mode, gen: s.gen}, true
}

func (s *Session) analyze(ctx context.Context, img types.CapturedImage, t ticket) (types.InferenceResult, error) {
	s.mu.Lock()
	if s.base.Err() != nil {
		s.mu.Unlock()
		return types.InferenceResult{}, errSessionTerminated
	}
	if s.mode != t.mode || s.gen != t.gen {
		s.mu.Unlock()
		metrics.SingleShots.WithLabelValues(metrics.ShotStale).Inc()
		return types.InferenceResult{}, ErrSuperseded
	}
	if !s.coord.Ready() {
		s.mu.Unlock()
		metrics.SingleShots.WithLabelValues(metrics.ShotUnavailable).Inc()
		return types.InferenceResult{}, ErrUnavailable
	}
	if !s.coord.acquire() {
		s.mu.Unlock()
		metrics.SingleShots.WithLabelValues(metrics.ShotBusy).Inc()
		return types.InferenceResult{}, ErrBusy
	}

	s.clearLocked()
	gen := s.gen
	shotCtx, cancel := context.WithCancel(ctx)
	s.shotCancel = cancel
	s.image = &img
	if img.Source == types.SourceCamera {
		s.mode = types.ModeUpload
	}
	s.version++
	s.mu.Unlock()
	s.notify()

	id := utils.ImageID(img.Data)
	slog.Info("Analyzing capture", "id", id, "source", img.Source, "bytes", len(img.Data))
	res, err := s.coord.run(shotCtx, img.Image)
	cancel()

	s.mu.Lock()
	s.coord.release()
	stale := gen != s.gen
	if !stale {
		s.shotCancel = nil
		if err != nil {
			s.notice = "Error processing image: " + err.Error()
		} else {
			s.result = &res
		}
	}
	s.version++
	s.mu.Unlock()
	s.notify()

	switch {
	case stale:
		metrics.SingleShots.WithLabelValues(metrics.ShotStale).Inc()
		slog.Debug("Discarded superseded analysis", "id", id)
		return types.InferenceResult{}, ErrSuperseded
	case err != nil:
		metrics.SingleShots.WithLabelValues(metrics.ShotFailed).Inc()
		slog.Warn("Analysis failed", "id", id, "error", err)
		return types.InferenceResult{}, err
	}
	metrics.SingleShots.WithLabelValues(metrics.ShotSuccess).Inc()
	slog.Info("Analysis complete", "id", id, "emotion", res.EmotionLabel)
	return res, nil
}

// clearLocked drops the capture, its result and notice, and invalidates any
// single-shot analysis still in flight.
func (s *Session) clearLocked() {
	s.image = nil
	s.result = nil
	s.notice = ""
	s.gen++
	if s.shotCancel != nil {
		s.shotCancel()
		s.shotCancel = nil
	}
}

func (s *Session) startLiveLocked() {
	if s.live != nil || s.mode != types.ModeLive || !s.liveActive {
		return
	}
	if s.emotion == nil || s.source == nil || s.base.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.base)
	act := &activation{id: uuid.NewString(), ctx: ctx, cancel: cancel}
	s.live = act

	loop := &LiveLoop{
		Interval:   s.opts.LiveInterval,
		Timeout:    s.opts.RequestTimeout,
		Source:     s.source,
		Classifier: s.emotion,
		Convert:    s.opts.Convert,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		loop.Run(ctx, func(res types.InferenceResult) bool {
			return s.applyLive(act, res)
		})
	}()
	slog.Info("Live loop started", "activation", act.id, "interval", s.opts.LiveInterval)
}

func (s *Session) stopLiveLocked() {
	if s.live == nil {
		return
	}
	s.live.cancel()
	slog.Info("Live loop stopped", "activation", s.live.id)
	s.live = nil
}

func (s *Session) restartLiveLocked() {
	s.stopLiveLocked()
	s.startLiveLocked()
}

// applyLive installs a live result unless its activation has been cancelled or
// replaced since the tick was dispatched.
func (s *Session) applyLive(act *activation, res types.InferenceResult) bool {
	s.mu.Lock()
	if s.live != act || act.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.result = &res
	s.version++
	s.mu.Unlock()
	s.notify()
	return true
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	emotion, detector := s.coord.clients()
	st := State{
		Version:        s.version,
		Mode:           s.mode,
		LiveActive:     s.liveActive,
		Loading:        s.coord.Loading(),
		Image:          s.image,
		Result:         s.result,
		Notice:         s.notice,
		EmotionReady:   emotion != nil,
		DetectionReady: detector != nil,
		CameraReady:    s.source != nil,
	}
	if s.live != nil {
		st.LiveID = s.live.id
	}
	if s.image != nil {
		st.ImageSource = s.image.Source
		st.Display = s.image.DataURI()
	}
	if s.result != nil && s.result.AnnotatedImageRef != "" {
		st.Display = s.result.AnnotatedImageRef
	}
	return st
}

// Subscribe returns a channel of state snapshots. Slow readers only ever see the
// newest snapshot. The returned func unsubscribes.
func (s *Session) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
			s.subMu.Unlock()
		})
	}
}

func (s *Session) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if len(s.subs) == 0 {
		return
	}

	st := s.State()
	for _, ch := range s.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

// Shutdown stops the live loop, abandons in-flight work and waits for background
// goroutines. Subscribers' channels are closed.
func (s *Session) Shutdown() {
	s.stop()

	s.mu.Lock()
	s.stopLiveLocked()
	s.clearLocked()
	s.version++
	s.mu.Unlock()

	s.wg.Wait()

	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subMu.Unlock()
}
