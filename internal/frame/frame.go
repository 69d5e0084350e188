// Package frame normalizes captured camera frames before they are stored and
// sent to the face service.
package frame

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"campusattend/internal/apperr"
)

// MaxSide bounds the longer edge of a normalized frame.
const MaxSide = 1024

// Quality is the JPEG quality of normalized frames.
const Quality = 85

// Normalize decodes a JPEG, PNG or WebP frame, applies its EXIF
// orientation, shrinks it to fit maxSide and re-encodes it as JPEG.
// Undecodable input is apperr.ErrInputInvalid.
func Normalize(data []byte, maxSide int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame: %w", apperr.ErrInputInvalid)
	}
	if maxSide <= 0 {
		maxSide = MaxSide
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w: %v", apperr.ErrInputInvalid, err)
	}
	if b := img.Bounds(); b.Dx() > maxSide || b.Dy() > maxSide {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(Quality)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Size returns the dimensions of an encoded image without decoding pixels.
func Size(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode frame header: %w: %v", apperr.ErrInputInvalid, err)
	}
	return cfg.Width, cfg.Height, nil
}
