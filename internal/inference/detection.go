package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/emotionai/internal/gradio"
	"github.com/andresmejia3/emotionai/internal/metrics"
	"github.com/andresmejia3/emotionai/internal/types"
)

// DetectionClient calls the face detector, which answers with an annotated image.
type DetectionClient struct {
	gc  *gradio.Client
	api string
}

// NewDetectionClient wraps an already connected Gradio client.
func NewDetectionClient(gc *gradio.Client, api string) *DetectionClient {
	return &DetectionClient{gc: gc, api: api}
}

func (d *DetectionClient) Root() string { return d.gc.Root() }

// Detect returns a fetchable reference to the image with face boxes drawn on it.
func (d *DetectionClient) Detect(ctx context.Context, img types.Image) (types.DetectionPayload, error) {
	start := time.Now()
	out, err := predictImage(ctx, d.gc, d.api, img)
	if err == nil {
		var ref string
		ref, err = d.parseDetection(out[0])
		if err == nil {
			metrics.ObserveInference(EndpointDetection, start, nil)
			return types.DetectionPayload{ImageURL: ref}, nil
		}
	}
	metrics.ObserveInference(EndpointDetection, start, err)
	return types.DetectionPayload{}, fmt.Errorf("detection endpoint: %w", err)
}

func (d *DetectionClient) parseDetection(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			return s, nil
		}
		if s != "" {
			return d.gc.FileURL(gradio.FileData{Path: s}), nil
		}
	}

	var fd gradio.FileData
	if err := json.Unmarshal(raw, &fd); err != nil || (fd.URL == "" && fd.Path == "") {
		return "", fmt.Errorf("unexpected detection output: %s", truncate(string(raw), 120))
	}
	return d.gc.FileURL(fd), nil
}
