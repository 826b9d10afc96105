package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"net/http"
	"os"

	"github.com/andresmejia3/emotionai/internal/types"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage is returned for payloads that are not a decodable image.
var ErrUnsupportedImage = errors.New("unsupported image format")

const jpegQuality = 90

// LoadFile reads a user selected file as an upload.
func LoadFile(path string) (types.CapturedImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.CapturedImage{}, err
	}
	img, err := Decode(data)
	if err != nil {
		return types.CapturedImage{}, fmt.Errorf("%s: %w", path, err)
	}
	return types.CapturedImage{Image: img, Source: types.SourceUpload}, nil
}

// Decode sniffs data and returns it in a form the endpoints accept.
func Decode(data []byte) (types.Image, error) {
	return ForTransport(types.Image{Data: data, MIME: http.DetectContentType(data)})
}

// ForTransport passes JPEG and PNG through untouched and re-encodes GIF, BMP, TIFF
// and WebP as JPEG. Nothing else about the image is changed.
func ForTransport(img types.Image) (types.Image, error) {
	if len(img.Data) == 0 {
		return types.Image{}, ErrUnsupportedImage
	}
	mime := img.MIME
	if mime == "" {
		mime = http.DetectContentType(img.Data)
	}

	switch mime {
	case "image/jpeg", "image/png":
		return types.Image{Data: img.Data, MIME: mime}, nil
	}

	decoded, format, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return types.Image{}, fmt.Errorf("%w: %s", ErrUnsupportedImage, mime)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, decoded, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return types.Image{}, fmt.Errorf("failed to re-encode %s as jpeg: %w", format, err)
	}
	return types.Image{Data: buf.Bytes(), MIME: "image/jpeg"}, nil
}
