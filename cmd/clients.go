package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/emotionai/internal/capture"
	"github.com/andresmejia3/emotionai/internal/inference"
	"github.com/andresmejia3/emotionai/internal/session"
	"github.com/andresmejia3/emotionai/internal/types"
	"github.com/andresmejia3/emotionai/internal/utils"
)

// firstFrameTimeout bounds how long a command waits for a freshly opened camera.
const firstFrameTimeout = 5 * time.Second

func connectEndpoints(ctx context.Context) inference.Handles {
	return inference.Connect(ctx, inference.Options{
		EmotionEndpoint:   Conf.EmotionEndpoint,
		DetectionEndpoint: Conf.DetectionEndpoint,
		APIName:           Conf.APIName,
		Token:             Conf.HFToken,
		HubURL:            Conf.HubURL,
		ConnectTimeout:    Conf.ConnectTimeout,
	})
}

// attach hands the handles to the session. A nil pointer must become a nil
// interface, or the session would think the capability is present.
func attach(sess *session.Session, h inference.Handles) {
	var emotion session.EmotionClassifier
	var detector session.FaceDetector
	if h.Emotion != nil {
		emotion = h.Emotion
	}
	if h.Detection != nil {
		detector = h.Detection
	}
	sess.SetClients(emotion, detector)
}

func newSession() *session.Session {
	return session.New(session.Options{
		RequestTimeout: Conf.RequestTimeout,
		LiveInterval:   Conf.LiveInterval,
		Convert:        capture.ForTransport,
	})
}

func openSource() (capture.Source, error) {
	return capture.Open(capture.Options{
		Device:   Conf.Device,
		Input:    Conf.Input,
		Realtime: true,
	})
}

// waitForFrame polls until the source has produced a frame.
func waitForFrame(ctx context.Context, src capture.Source) error {
	ctx, cancel := context.WithTimeout(ctx, firstFrameTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, ok := src.CaptureFrame(); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no frame from camera within %s", firstFrameTimeout)
		case <-ticker.C:
		}
	}
}

// teardown releases a command's resources in reverse order of acquisition.
// utils.Die exits without running deferred calls, so commands die through it.
type teardown struct {
	fns []func()
}

func (t *teardown) add(fn func()) {
	t.fns = append(t.fns, fn)
}

func (t *teardown) run() {
	for i := len(t.fns) - 1; i >= 0; i-- {
		t.fns[i]()
	}
	t.fns = nil
}

func (t *teardown) die(msg string, err error) {
	t.run()
	utils.Die(msg, err, nil)
}

func printResult(res types.InferenceResult) {
	fmt.Fprintf(os.Stderr, "✅ Analysis complete\n")
	fmt.Printf("Emotion: %s\n", res.EmotionLabel)
	if res.AnnotatedImageRef != "" {
		fmt.Printf("Faces:   %s\n", res.AnnotatedImageRef)
	}
}
