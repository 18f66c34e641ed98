// Package preset holds the static quality preset table and the output format
// policy derived from it.
package preset

import "strings"

type FormatMode string

const (
	FormatPreserve FormatMode = "preserve"
	FormatSmart    FormatMode = "smart"
)

// Image formats understood by the image codec.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

const (
	// SmartThreshold is the source size above which smart mode converts a
	// lossless image to the lossy format.
	SmartThreshold int64 = 500_000

	losslessCandidate = FormatPNG
	lossyFormat       = FormatJPEG
)

const (
	HighQuality        = "high-quality"
	Balanced           = "balanced"
	MaximumCompression = "maximum-compression"

	Default = Balanced
)

type PNGLevel string

const (
	PNGDefault         PNGLevel = "default"
	PNGBestSpeed       PNGLevel = "best-speed"
	PNGBestCompression PNGLevel = "best-compression"
)

type ImageParams struct {
	Quality      int        `json:"quality"`
	PNGLevel     PNGLevel   `json:"pngCompression"`
	MaxDimension int        `json:"maxDimension,omitempty"`
	FormatMode   FormatMode `json:"formatMode"`
}

type VideoParams struct {
	Codec        string `json:"codec"`
	CRF          int    `json:"crf"`
	Speed        string `json:"preset"`
	PixelFormat  string `json:"pixelFormat"`
	AudioCodec   string `json:"audioCodec"`
	AudioBitrate string `json:"audioBitrate"`
	MaxHeight    int    `json:"maxHeight,omitempty"`
}

type Preset struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       ImageParams `json:"image"`
	Video       VideoParams `json:"video"`
}

var table = []Preset{
	{
		Name:        HighQuality,
		Description: "Minimal quality loss, moderate size reduction",
		Image:       ImageParams{Quality: 90, PNGLevel: PNGDefault, FormatMode: FormatPreserve},
		Video:       videoParams(20, "slow", "192k", 0),
	},
	{
		Name:        Balanced,
		Description: "Good quality with strong size reduction",
		Image:       ImageParams{Quality: 80, PNGLevel: PNGBestSpeed, FormatMode: FormatSmart},
		Video:       videoParams(26, "medium", "128k", 0),
	},
	{
		Name:        MaximumCompression,
		Description: "Smallest files, visible quality loss, downscaled",
		Image:       ImageParams{Quality: 60, PNGLevel: PNGBestCompression, MaxDimension: 1920, FormatMode: FormatSmart},
		Video:       videoParams(32, "veryfast", "96k", 720),
	},
}

func videoParams(crf int, speed, audioBitrate string, maxHeight int) VideoParams {
	return VideoParams{
		Codec:        "libx264",
		CRF:          crf,
		Speed:        speed,
		PixelFormat:  "yuv420p",
		AudioCodec:   "aac",
		AudioBitrate: audioBitrate,
		MaxHeight:    maxHeight,
	}
}

// All returns a copy of the preset table in display order.
func All() []Preset {
	out := make([]Preset, len(table))
	copy(out, table)
	return out
}

// Lookup resolves a preset name. Unknown or empty names fall back to the
// default preset.
func Lookup(name string) Preset {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range table {
		if p.Name == name {
			return p
		}
	}
	for _, p := range table {
		if p.Name == Default {
			return p
		}
	}
	panic("preset: default preset missing from table")
}

// OutputFormat picks the image output format for a source of the given format
// and size.
func (p Preset) OutputFormat(sourceFormat string, sourceSize int64) string {
	if p.Image.FormatMode == FormatSmart && sourceFormat == losslessCandidate && sourceSize > SmartThreshold {
		return lossyFormat
	}
	return sourceFormat
}
