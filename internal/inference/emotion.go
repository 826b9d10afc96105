package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/emotionai/internal/gradio"
	"github.com/andresmejia3/emotionai/internal/metrics"
	"github.com/andresmejia3/emotionai/internal/types"
)

// EmotionClient calls the emotion classifier.
type EmotionClient struct {
	gc  *gradio.Client
	api string
}

// NewEmotionClient wraps an already connected Gradio client.
func NewEmotionClient(gc *gradio.Client, api string) *EmotionClient {
	return &EmotionClient{gc: gc, api: api}
}

// Root is the resolved app URL behind the endpoint.
func (e *EmotionClient) Root() string { return e.gc.Root() }

// Classify returns the display label for the face in img, e.g. "Smiling (98.5%)".
func (e *EmotionClient) Classify(ctx context.Context, img types.Image) (types.EmotionPayload, error) {
	start := time.Now()
	out, err := predictImage(ctx, e.gc, e.api, img)
	if err == nil {
		var label string
		label, err = parseEmotion(out[0])
		if err == nil {
			metrics.ObserveInference(EndpointEmotion, start, nil)
			return types.EmotionPayload{Label: label}, nil
		}
	}
	metrics.ObserveInference(EndpointEmotion, start, err)
	return types.EmotionPayload{}, fmt.Errorf("emotion endpoint: %w", err)
}

// labelOutput is Gradio's Label component output.
type labelOutput struct {
	Label       string `json:"label"`
	Confidences []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	} `json:"confidences"`
}

// parseEmotion accepts either a plain display string or a Label object.
func parseEmotion(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("empty label")
		}
		return s, nil
	}

	var lo labelOutput
	if err := json.Unmarshal(raw, &lo); err != nil || lo.Label == "" {
		return "", fmt.Errorf("unexpected emotion output: %s", truncate(string(raw), 120))
	}
	for _, c := range lo.Confidences {
		if c.Label == lo.Label {
			pct := strconv.FormatFloat(c.Confidence*100, 'f', 1, 64)
			return fmt.Sprintf("%s (%s%%)", lo.Label, pct), nil
		}
	}
	return lo.Label, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
