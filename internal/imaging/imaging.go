// Package imaging checks uploaded images and shrinks oversized ones before
// they are sent to a model.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"strings"

	"github.com/sunshineplan/imgconv"
)

const (
	JPEG = "image/jpeg"
	PNG  = "image/png"
)

// AllowedTypes are the MIME types accepted for upload.
var AllowedTypes = []string{JPEG, PNG}

// NormalizeMIME lowercases t, strips parameters and maps the non-standard
// "image/jpg" and "image/pjpeg" to "image/jpeg".
func NormalizeMIME(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "image/jpg", "image/pjpeg":
		return JPEG
	}
	return t
}

// SniffMIME returns the MIME type of data judged by its contents.
func SniffMIME(data []byte) string {
	return NormalizeMIME(http.DetectContentType(data))
}

// Allowed reports whether t is an accepted upload type.
func Allowed(t string) bool {
	t = NormalizeMIME(t)
	for _, a := range AllowedTypes {
		if t == a {
			return true
		}
	}
	return false
}

// Downscale shrinks the image so it has at most maxMPXS megapixels, keeping
// the aspect ratio and the original format. If the image is already small
// enough, or maxMPXS <= 0, data is returned unchanged and resized is false.
func Downscale(data []byte, maxMPXS float64) (out []byte, resized bool, err error) {
	if maxMPXS <= 0 {
		return data, false, nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("error reading image header: %w", err)
	}

	currentMPXS := float64(cfg.Width*cfg.Height) / 1_000_000.0
	if currentMPXS <= maxMPXS {
		return data, false, nil
	}

	img, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("error decoding %s: %w", format, err)
	}

	// Scale both sides by the square root so the area ends up at maxMPXS
	ratio := math.Sqrt(maxMPXS / currentMPXS)
	resizedImg := imgconv.Resize(img, &imgconv.ResizeOption{
		Width:  max(1, int(float64(cfg.Width)*ratio)),
		Height: max(1, int(float64(cfg.Height)*ratio)),
	})

	outFormat := imgconv.JPEG
	if format == "png" {
		outFormat = imgconv.PNG
	}

	var buf bytes.Buffer
	if err := imgconv.Write(&buf, resizedImg, &imgconv.FormatOption{Format: outFormat}); err != nil {
		return nil, false, fmt.Errorf("error encoding %s: %w", format, err)
	}

	return buf.Bytes(), true, nil
}
