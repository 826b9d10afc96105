// Package inference wraps the two remote Gradio endpoints behind narrow typed clients.
// Each response is reduced to its single designated field right here; nothing past this
// package sees a raw Gradio payload.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andresmejia3/emotionai/internal/gradio"
	"github.com/andresmejia3/emotionai/internal/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const (
	EndpointEmotion   = "emotion"
	EndpointDetection = "detection"
)

// Options selects and authenticates the two endpoints.
type Options struct {
	EmotionEndpoint   string
	DetectionEndpoint string
	APIName           string
	Token             string
	HubURL            string
	ConnectTimeout    time.Duration
	HTTPClient        *http.Client
}

// Handles are the two initialized client handles. A nil field means that endpoint
// could not be reached and the capability is unavailable for the session.
type Handles struct {
	Emotion   *EmotionClient
	Detection *DetectionClient
}

// NewHTTPClient returns the traced client used for every remote call. Per-call bounds
// come from the caller's context, not from a client-wide timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// Connect initializes both handles concurrently. It never fails as a whole: each
// endpoint that cannot be reached is logged and left nil.
func Connect(ctx context.Context, opts Options) Handles {
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient()
	}
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}
	gopts := gradio.Options{Token: opts.Token, HTTPClient: opts.HTTPClient, HubURL: opts.HubURL}

	var h Handles
	var g errgroup.Group
	g.Go(func() error {
		c, err := gradio.Connect(ctx, opts.EmotionEndpoint, gopts)
		if err != nil {
			slog.Error("Failed to connect emotion endpoint", "endpoint", opts.EmotionEndpoint, "error", err)
			return nil
		}
		h.Emotion = &EmotionClient{gc: c, api: opts.APIName}
		slog.Info("Emotion endpoint ready", "root", c.Root())
		return nil
	})
	g.Go(func() error {
		c, err := gradio.Connect(ctx, opts.DetectionEndpoint, gopts)
		if err != nil {
			slog.Error("Failed to connect detection endpoint", "endpoint", opts.DetectionEndpoint, "error", err)
			return nil
		}
		h.Detection = &DetectionClient{gc: c, api: opts.APIName}
		slog.Info("Detection endpoint ready", "root", c.Root())
		return nil
	})
	_ = g.Wait()
	return h
}

// predictImage uploads the image and calls the endpoint with it as the only input.
func predictImage(ctx context.Context, gc *gradio.Client, api string, img types.Image) ([]json.RawMessage, error) {
	fd, err := gc.Upload(ctx, "image"+extension(img.MIME), img.Data, img.MIME)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	out, err := gc.Predict(ctx, api, []any{fd})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("endpoint returned no outputs")
	}
	return out, nil
}

func extension(mime string) string {
	switch strings.ToLower(mime) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg", "":
		return ".jpg"
	}
	if _, sub, ok := strings.Cut(mime, "/"); ok && sub != "" {
		return "." + sub
	}
	return ".bin"
}
