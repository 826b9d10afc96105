package types

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Image is an encoded image payload (JPEG, PNG, ...) ready to be sent to an endpoint.
type Image struct {
	Data []byte
	MIME string
}

// DataURI renders the image as a base64 data URI, the form a browser can display directly.
func (i Image) DataURI() string {
	mime := i.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// ParseDataURI decodes a base64 data URI ("data:image/jpeg;base64,....").
func ParseDataURI(s string) (Image, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Image{}, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, fmt.Errorf("data URI has no payload")
	}
	mime, enc, _ := strings.Cut(meta, ";")
	if enc != "base64" {
		return Image{}, fmt.Errorf("unsupported data URI encoding %q", enc)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return Image{Data: data, MIME: mime}, nil
}

// Source tags where a captured image came from.
type Source string

const (
	SourceUpload Source = "upload"
	SourceCamera Source = "camera"
)

// CapturedImage is the image currently shown by a session. It is replaced wholesale,
// never mutated.
type CapturedImage struct {
	Image
	Source Source
}

// InferenceResult is the combined outcome shown to the user. Live samples carry no
// annotated image.
type InferenceResult struct {
	EmotionLabel      string `json:"emotion"`
	AnnotatedImageRef string `json:"annotated_image,omitempty"`
	IsLiveSample      bool   `json:"live"`
}

// EmotionPayload is the designated field of the emotion endpoint's response.
type EmotionPayload struct {
	Label string
}

// DetectionPayload is the designated field of the detection endpoint's response.
type DetectionPayload struct {
	ImageURL string
}

// Mode is the session's active input mode.
type Mode string

const (
	ModeUpload Mode = "upload"
	ModeCamera Mode = "camera"
	ModeLive   Mode = "live"
)

// ParseMode validates a user supplied mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeUpload, ModeCamera, ModeLive:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want upload, camera or live)", s)
}
