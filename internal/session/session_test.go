package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/emotionai/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	s := New(opts)
	t.Cleanup(s.Shutdown)
	return s
}

func TestUploadAnalyzesWithBothEndpoints(t *testing.T) {
	s := newTestSession(t, Options{})
	s.SetClients(fixedEmotion("Happy (95%)"), fixedDetection("https://x/y.png"))

	res, err := s.Upload(context.Background(), testImage)
	require.NoError(t, err)
	assert.Equal(t, "Happy (95%)", res.EmotionLabel)
	assert.Equal(t, "https://x/y.png", res.AnnotatedImageRef)
	assert.False(t, res.IsLiveSample)

	st := s.State()
	assert.False(t, st.Loading)
	require.NotNil(t, st.Result)
	assert.Equal(t, res, *st.Result)
	require.True(t, st.Viewing())
	assert.Equal(t, types.SourceUpload, st.ImageSource)
	assert.Equal(t, "https://x/y.png", st.Display, "the annotated image replaces the raw capture")
}

func TestUploadDetectionFailureShowsNotice(t *testing.T) {
	s := newTestSession(t, Options{})
	s.SetClients(fixedEmotion("Happy (95%)"), detectorFunc(func(context.Context, types.Image) (types.DetectionPayload, error) {
		return types.DetectionPayload{}, errors.New("503 from detector")
	}))

	_, err := s.Upload(context.Background(), testImage)
	require.Error(t, err)

	st := s.State()
	assert.Nil(t, st.Result)
	assert.False(t, st.Loading)
	assert.Contains(t, st.Notice, "503 from detector")
	assert.True(t, st.Viewing(), "the image stays shown so the user can close it")
	assert.Equal(t, testImage.DataURI(), st.Display)
}

func TestUploadWithoutClientsIsNoop(t *testing.T) {
	s := newTestSession(t, Options{})
	s.SetClients(fixedEmotion("Happy (95%)"), nil)

	_, err := s.Upload(context.Background(), testImage)
	assert.ErrorIs(t, err, ErrUnavailable)

	st := s.State()
	assert.False(t, st.Loading)
	assert.False(t, st.Viewing())
	assert.True(t, st.EmotionReady)
	assert.False(t, st.DetectionReady)
}

func TestUploadWhileLoadingIsRejected(t *testing.T) {
	s := newTestSession(t, Options{})
	gate := newGatedEmotion("Happy (95%)", true)
	s.SetClients(gate, fixedDetection("https://x/y.png"))

	done := make(chan error, 1)
	go func() {
		_, err := s.Upload(context.Background(), testImage)
		done <- err
	}()
	<-gate.started
	assert.True(t, s.State().Loading)

	other := types.Image{Data: []byte("other"), MIME: "image/png"}
	_, err := s.Upload(context.Background(), other)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, testImage.DataURI(), s.State().Display, "a rejected upload must not replace the image")

	close(gate.release)
	require.NoError(t, <-done)
	assert.False(t, s.State().Loading)
	assert.Equal(t, int32(1), gate.calls.Load())
}

func TestModeSwitchClearsCapture(t *testing.T) {
	// Each origin leaves a result on screen before the switch.
	origins := []struct {
		name  string
		setup func(t *testing.T, s *Session)
	}{
		{
			name: "upload",
			setup: func(t *testing.T, s *Session) {
				_, err := s.Upload(context.Background(), testImage)
				require.NoError(t, err)
			},
		},
		{
			name: "camera",
			setup: func(t *testing.T, s *Session) {
				s.SetMode(types.ModeCamera)
				_, err := s.Capture(context.Background())
				require.NoError(t, err)
				require.Equal(t, types.SourceCamera, s.State().ImageSource)
			},
		},
		{
			name: "live",
			setup: func(t *testing.T, s *Session) {
				s.SetMode(types.ModeLive)
				require.Eventually(t, func() bool {
					r := s.State().Result
					return r != nil && r.IsLiveSample
				}, time.Second, 5*time.Millisecond)
			},
		},
	}
	targets := []types.Mode{types.ModeUpload, types.ModeCamera, types.ModeLive}

	for _, origin := range origins {
		for _, target := range targets {
			t.Run(origin.name+"->"+string(target), func(t *testing.T) {
				// Once held, classifier calls block until cancelled so nothing new can
				// be applied after the switch.
				var hold atomic.Bool
				emotion := emotionFunc(func(ctx context.Context, _ types.Image) (types.EmotionPayload, error) {
					if hold.Load() {
						<-ctx.Done()
						return types.EmotionPayload{}, ctx.Err()
					}
					return types.EmotionPayload{Label: "Happy (95%)"}, nil
				})

				s := newTestSession(t, Options{LiveInterval: 5 * time.Millisecond})
				s.SetClients(emotion, fixedDetection("https://x/y.png"))
				s.SetSource(newFakeSource(true))

				origin.setup(t, s)
				before := s.State()
				require.NotNil(t, before.Result)
				hold.Store(true)

				s.SetMode(target)
				st := s.State()
				assert.Equal(t, target, st.Mode)
				assert.Nil(t, st.Image)
				assert.Nil(t, st.Result)
				assert.Empty(t, st.Notice)
				assert.Empty(t, st.Display)
				assert.Equal(t, target == types.ModeLive, st.LiveActive)
				if target == types.ModeLive {
					assert.NotEmpty(t, st.LiveID)
					assert.NotEqual(t, before.LiveID, st.LiveID, "a new activation per switch")
				} else {
					assert.Empty(t, st.LiveID, "live loop must be stopped outside live mode")
				}

				assert.Never(t, func() bool {
					return s.State().Result != nil
				}, 30*time.Millisecond, 5*time.Millisecond)
			})
		}
	}
}

func TestCaptureDuringModeSwitchIsDropped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s := newTestSession(t, Options{
		LiveInterval: 5 * time.Millisecond,
		// Only the capture's own conversion blocks; live ticks pass straight through.
		Convert: func(img types.Image) (types.Image, error) {
			first := false
			once.Do(func() { first = true })
			if first {
				close(entered)
				<-release
			}
			return img, nil
		},
	})
	s.SetClients(fixedEmotion("Live (1%)"), fixedDetection("https://x/y.png"))
	s.SetSource(newFakeSource(true))
	s.SetMode(types.ModeCamera)

	done := make(chan error, 1)
	go func() {
		_, err := s.Capture(context.Background())
		done <- err
	}()
	<-entered
	s.SetMode(types.ModeLive)
	close(release)
	assert.ErrorIs(t, <-done, ErrSuperseded)

	st := s.State()
	assert.Equal(t, types.ModeLive, st.Mode, "a late capture must not leave live mode")
	assert.True(t, st.LiveActive)
	assert.Nil(t, st.Image)
	assert.False(t, st.Loading)

	assert.Never(t, func() bool {
		r := s.State().Result
		return r != nil && !r.IsLiveSample
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSingleShotRequestedBeforeResetIsDropped(t *testing.T) {
	tests := []struct {
		name     string
		reset    func(s *Session)
		wantMode types.Mode
	}{
		{name: "switch to camera", reset: func(s *Session) { s.SetMode(types.ModeCamera) }, wantMode: types.ModeCamera},
		{name: "switch to live", reset: func(s *Session) { s.SetMode(types.ModeLive) }, wantMode: types.ModeLive},
		{name: "close", reset: func(s *Session) { s.Close() }, wantMode: types.ModeUpload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, Options{})
			s.SetClients(fixedEmotion("Happy (95%)"), fixedDetection("https://x/y.png"))

			tk, ok := s.ticketFor(types.ModeUpload)
			require.True(t, ok)
			tt.reset(s)

			_, err := s.analyze(context.Background(), types.CapturedImage{Image: testImage, Source: types.SourceUpload}, tk)
			assert.ErrorIs(t, err, ErrSuperseded)

			st := s.State()
			assert.Equal(t, tt.wantMode, st.Mode)
			assert.Nil(t, st.Image)
			assert.Nil(t, st.Result)
			assert.False(t, st.Loading)
		})
	}
}

func TestModeSwitchDiscardsInFlightAnalysis(t *testing.T) {
	s := newTestSession(t, Options{})
	gate := newGatedEmotion("Happy (95%)", false)
	s.SetClients(gate, fixedDetection("https://x/y.png"))

	done := make(chan error, 1)
	go func() {
		_, err := s.Upload(context.Background(), testImage)
		done <- err
	}()
	<-gate.started

	s.SetMode(types.ModeCamera)
	close(gate.release)
	assert.ErrorIs(t, <-done, ErrSuperseded)

	st := s.State()
	assert.Equal(t, types.ModeCamera, st.Mode)
	assert.Nil(t, st.Result)
	assert.Nil(t, st.Image)
	assert.False(t, st.Loading)
}

func TestCloseResetsView(t *testing.T) {
	s := newTestSession(t, Options{})
	s.SetClients(fixedEmotion("Happy (95%)"), fixedDetection("https://x/y.png"))
	_, err := s.Upload(context.Background(), testImage)
	require.NoError(t, err)

	s.Close()
	st := s.State()
	assert.Equal(t, types.ModeUpload, st.Mode)
	assert.False(t, st.Viewing())
	assert.Nil(t, st.Result)
	assert.Empty(t, st.Display)
}

func TestCaptureShowsCapturedView(t *testing.T) {
	s := newTestSession(t, Options{})
	s.SetClients(fixedEmotion("Surprise (88%)"), fixedDetection("https://x/c.png"))
	s.SetSource(newFakeSource(true))

	_, err := s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrWrongMode, "capture needs camera mode")

	s.SetMode(types.ModeCamera)
	res, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Surprise (88%)", res.EmotionLabel)

	st := s.State()
	assert.Equal(t, types.ModeUpload, st.Mode)
	assert.Equal(t, types.SourceCamera, st.ImageSource)
	require.NotNil(t, st.Result)
}

func TestCaptureWithoutFrame(t *testing.T) {
	s := newTestSession(t, Options{})
	s.SetClients(fixedEmotion("Happy (95%)"), fixedDetection("https://x/y.png"))
	s.SetMode(types.ModeCamera)

	_, err := s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoSource)

	s.SetSource(newFakeSource(false))
	_, err = s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrFrameUnavailable)

	st := s.State()
	assert.Equal(t, types.ModeCamera, st.Mode)
	assert.False(t, st.Viewing())
	assert.False(t, st.Loading)
}

func TestCaptureConvertsFrame(t *testing.T) {
	converted := types.Image{Data: []byte("jpeg"), MIME: "image/jpeg"}
	var seen types.Image
	s := newTestSession(t, Options{Convert: func(types.Image) (types.Image, error) { return converted, nil }})
	s.SetClients(emotionFunc(func(_ context.Context, img types.Image) (types.EmotionPayload, error) {
		seen = img
		return types.EmotionPayload{Label: "Happy (95%)"}, nil
	}), fixedDetection("https://x/y.png"))
	s.SetSource(newFakeSource(true))
	s.SetMode(types.ModeCamera)

	_, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, converted, seen)
}

func TestLiveAppliesEmotionOnlyResults(t *testing.T) {
	s := newTestSession(t, Options{LiveInterval: 5 * time.Millisecond})
	s.SetClients(fixedEmotion("Neutral (60%)"), nil)
	s.SetSource(newFakeSource(true))

	s.SetMode(types.ModeLive)
	require.Eventually(t, func() bool {
		return s.State().Result != nil
	}, time.Second, 5*time.Millisecond)

	st := s.State()
	assert.Equal(t, "Neutral (60%)", st.Result.EmotionLabel)
	assert.True(t, st.Result.IsLiveSample)
	assert.Empty(t, st.Result.AnnotatedImageRef)
	assert.NotEmpty(t, st.LiveID)
	assert.False(t, st.Viewing())
}

func TestLiveResultAfterModeSwitchIsDiscarded(t *testing.T) {
	s := newTestSession(t, Options{LiveInterval: 5 * time.Millisecond})
	gate := newGatedEmotion("Happy (90%)", false)
	s.SetClients(gate, fixedDetection("https://x/y.png"))
	s.SetSource(newFakeSource(true))

	s.SetMode(types.ModeLive)
	<-gate.started
	s.SetMode(types.ModeUpload)
	close(gate.release)

	assert.Never(t, func() bool {
		return s.State().Result != nil
	}, 100*time.Millisecond, 5*time.Millisecond)
	assert.Empty(t, s.State().LiveID)
}

func TestLiveNeverOverlapsCalls(t *testing.T) {
	s := newTestSession(t, Options{LiveInterval: time.Millisecond})
	gate := newGatedEmotion("Calm (51%)", true)
	s.SetClients(gate, nil)
	s.SetSource(newFakeSource(true))

	s.SetMode(types.ModeLive)
	<-gate.started
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), gate.calls.Load(), "ticks during a slow call are skipped")

	close(gate.release)
	require.Eventually(t, func() bool { return gate.calls.Load() > 3 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), gate.maxInflight.Load())
}

func TestSetLiveActive(t *testing.T) {
	s := newTestSession(t, Options{LiveInterval: 5 * time.Millisecond})
	s.SetClients(fixedEmotion("Neutral (60%)"), nil)
	s.SetSource(newFakeSource(true))

	assert.ErrorIs(t, s.SetLiveActive(true), ErrWrongMode)

	s.SetMode(types.ModeLive)
	require.Eventually(t, func() bool { return s.State().Result != nil }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.SetLiveActive(false))
	st := s.State()
	assert.False(t, st.LiveActive)
	assert.Empty(t, st.LiveID)
	assert.Nil(t, st.Result)

	require.NoError(t, s.SetLiveActive(true))
	assert.NotEmpty(t, s.State().LiveID)
}

func TestLiveWaitsForClient(t *testing.T) {
	s := newTestSession(t, Options{LiveInterval: 5 * time.Millisecond})
	s.SetSource(newFakeSource(true))
	s.SetMode(types.ModeLive)
	assert.Empty(t, s.State().LiveID, "no emotion handle, no loop")

	s.SetClients(fixedEmotion("Neutral (60%)"), nil)
	require.Eventually(t, func() bool { return s.State().Result != nil }, time.Second, 5*time.Millisecond)
}

func TestSubscribeSeesLatestState(t *testing.T) {
	s := newTestSession(t, Options{})
	updates, cancel := s.Subscribe()
	defer cancel()

	s.SetMode(types.ModeCamera)
	s.SetMode(types.ModeLive)

	var last State
	require.Eventually(t, func() bool {
		select {
		case st := <-updates:
			last = st
		default:
		}
		return last.Mode == types.ModeLive
	}, time.Second, time.Millisecond)

	cancel()
	for range updates {
	}
}
