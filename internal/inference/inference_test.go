package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andresmejia3/emotionai/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSpace serves a Gradio app whose /predict endpoint returns output as data[0].
func newSpace(t *testing.T, output string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /config", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version":"5.0.0","api_prefix":"/gradio_api"}`)
	})
	mux.HandleFunc("POST /gradio_api/upload", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `["/tmp/gradio/in.jpg"]`)
	})
	mux.HandleFunc("POST /gradio_api/call/predict", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"event_id":"e"}`)
	})
	mux.HandleFunc("GET /gradio_api/call/predict/e", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "event: complete\ndata: [%s]\n\n", output)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

var jpeg = types.Image{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, MIME: "image/jpeg"}

func TestConnectAndPredict(t *testing.T) {
	emotion := newSpace(t, `"Happy (95%)"`)
	detection := newSpace(t, `{"path":"/tmp/gradio/out.png","url":"https://x/y.png"}`)

	h := Connect(context.Background(), Options{
		EmotionEndpoint:   emotion.URL,
		DetectionEndpoint: detection.URL,
		APIName:           "/predict",
		ConnectTimeout:    5 * time.Second,
	})
	require.NotNil(t, h.Emotion)
	require.NotNil(t, h.Detection)

	emo, err := h.Emotion.Classify(context.Background(), jpeg)
	require.NoError(t, err)
	assert.Equal(t, "Happy (95%)", emo.Label)

	det, err := h.Detection.Detect(context.Background(), jpeg)
	require.NoError(t, err)
	assert.Equal(t, "https://x/y.png", det.ImageURL)
}

func TestConnectLeavesFailedHandleNil(t *testing.T) {
	emotion := newSpace(t, `"Sad (70%)"`)
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	h := Connect(context.Background(), Options{
		EmotionEndpoint:   emotion.URL,
		DetectionEndpoint: dead.URL,
		APIName:           "/predict",
		ConnectTimeout:    2 * time.Second,
	})
	assert.NotNil(t, h.Emotion)
	assert.Nil(t, h.Detection)
}

func TestDetectBuildsFileURL(t *testing.T) {
	detection := newSpace(t, `{"path":"/tmp/gradio/out.png","url":null}`)

	h := Connect(context.Background(), Options{
		EmotionEndpoint:   detection.URL,
		DetectionEndpoint: detection.URL,
		APIName:           "/predict",
	})
	require.NotNil(t, h.Detection)

	det, err := h.Detection.Detect(context.Background(), jpeg)
	require.NoError(t, err)
	assert.Equal(t, detection.URL+"/gradio_api/file=/tmp/gradio/out.png", det.ImageURL)
}

func TestClassifyRejectsUnexpectedOutput(t *testing.T) {
	emotion := newSpace(t, `42`)

	h := Connect(context.Background(), Options{
		EmotionEndpoint:   emotion.URL,
		DetectionEndpoint: emotion.URL,
		APIName:           "/predict",
	})
	require.NotNil(t, h.Emotion)

	_, err := h.Emotion.Classify(context.Background(), jpeg)
	require.ErrorContains(t, err, "emotion endpoint")
}

func TestParseEmotion(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "display string", raw: `"Smiling (98.5%)"`, want: "Smiling (98.5%)"},
		{
			name: "label component",
			raw:  `{"label":"Smiling","confidences":[{"label":"Smiling","confidence":0.985},{"label":"Neutral","confidence":0.01}]}`,
			want: "Smiling (98.5%)",
		},
		{name: "label without confidences", raw: `{"label":"Neutral"}`, want: "Neutral"},
		{name: "empty string", raw: `""`, wantErr: true},
		{name: "null", raw: `null`, wantErr: true},
		{name: "number", raw: `3`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEmotion(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".jpg", extension("image/jpeg"))
	assert.Equal(t, ".png", extension("image/png"))
	assert.Equal(t, ".webp", extension("image/webp"))
	assert.Equal(t, ".jpg", extension(""))
}
