package preset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupFallsBackToBalanced(t *testing.T) {
	assert.Equal(t, HighQuality, Lookup("high-quality").Name)
	assert.Equal(t, MaximumCompression, Lookup(" Maximum-Compression ").Name)
	assert.Equal(t, Balanced, Lookup("").Name)
	assert.Equal(t, Balanced, Lookup("ultra").Name)
}

func TestOutputFormat(t *testing.T) {
	balanced := Lookup(Balanced)
	high := Lookup(HighQuality)

	tests := []struct {
		name   string
		preset Preset
		format string
		size   int64
		want   string
	}{
		{"large png converts", balanced, FormatPNG, 600_000, FormatJPEG},
		{"small png kept", balanced, FormatPNG, 400_000, FormatPNG},
		{"threshold is exclusive", balanced, FormatPNG, SmartThreshold, FormatPNG},
		{"jpeg never changes", balanced, FormatJPEG, 5_000_000, FormatJPEG},
		{"preserve mode keeps png", high, FormatPNG, 600_000, FormatPNG},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.preset.OutputFormat(tt.format, tt.size))
		})
	}
}

func TestAllReturnsCopy(t *testing.T) {
	all := All()
	assert.Len(t, all, 3)
	all[0].Name = "mutated"
	assert.Equal(t, HighQuality, All()[0].Name)
}
