package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"

	"github.com/imalyk/squnch/pkg/preset"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// DetectImageFormat sniffs the encoded image header and returns one of the
// preset format names.
func DetectImageFormat(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	switch format {
	case preset.FormatJPEG, preset.FormatPNG:
		return format, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// Image compresses still images in process.
type Image struct{}

func NewImage() *Image {
	return &Image{}
}

// Compress re-encodes data as outputFormat using params. It blocks for the
// duration of the encode; ctx is only checked before work starts.
func (c *Image) Compress(ctx context.Context, data []byte, outputFormat string, params preset.ImageParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if limit := params.MaxDimension; limit > 0 {
		b := img.Bounds()
		if b.Dx() > limit || b.Dy() > limit {
			img = imaging.Fit(img, limit, limit, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	switch outputFormat {
	case preset.FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(params.Quality))
	case preset.FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(pngLevel(params.PNGLevel)))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, outputFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", outputFormat, err)
	}
	return buf.Bytes(), nil
}

func pngLevel(level preset.PNGLevel) png.CompressionLevel {
	switch level {
	case preset.PNGBestSpeed:
		return png.BestSpeed
	case preset.PNGBestCompression:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}

// ContentType maps an image or video output format to its MIME type.
func ContentType(format string) string {
	switch format {
	case preset.FormatJPEG:
		return "image/jpeg"
	case preset.FormatPNG:
		return "image/png"
	case FormatMP4:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
