package project

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrNoThumbnail is returned when the role code carries no thumbnail tag.
var ErrNoThumbnail = errors.New("project has no thumbnail")

// Thumbnail extracts the embedded thumbnail from role code XML and re-encodes
// it as PNG. A positive aspectRatio pads the image onto a transparent canvas
// of that width/height ratio so editors can letterbox previews.
func Thumbnail(code string, aspectRatio float64) ([]byte, error) {
	raw, err := extractThumbnail(code)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	if aspectRatio > 0 {
		img = padToRatio(img, aspectRatio)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// extractThumbnail pulls the base64 payload out of the <thumbnail> element.
// The content is a data URL ("data:image/png;base64,....").
func extractThumbnail(code string) ([]byte, error) {
	start := strings.Index(code, "<thumbnail>")
	if start < 0 {
		return nil, ErrNoThumbnail
	}
	start += len("<thumbnail>")
	end := strings.Index(code[start:], "</thumbnail>")
	if end < 0 {
		return nil, ErrNoThumbnail
	}
	payload := code[start : start+end]

	if idx := strings.Index(payload, "base64,"); idx >= 0 {
		payload = payload[idx+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, ErrNoThumbnail
	}
	return raw, nil
}

func padToRatio(img image.Image, ratio float64) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return img
	}

	current := float64(w) / float64(h)
	targetW, targetH := w, h
	if current < ratio {
		targetW = int(float64(h) * ratio)
	} else if current > ratio {
		targetH = int(float64(w) / ratio)
	}
	if targetW == w && targetH == h {
		return img
	}

	canvas := imaging.New(targetW, targetH, color.Transparent)
	return imaging.PasteCenter(canvas, img)
}
