package codec

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imalyk/squnch/pkg/preset"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(w, h), &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func TestDetectImageFormat(t *testing.T) {
	format, err := DetectImageFormat(encodePNG(t, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, preset.FormatPNG, format)

	format, err = DetectImageFormat(encodeJPEG(t, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, preset.FormatJPEG, format)

	_, err = DetectImageFormat([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestImageCompressProducesDecodableOutput(t *testing.T) {
	c := NewImage()
	params := preset.Lookup(preset.Balanced).Image

	out, err := c.Compress(context.Background(), encodeJPEG(t, 64, 48), preset.FormatJPEG, params)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)
}

func TestImageCompressConvertsAndDownscales(t *testing.T) {
	c := NewImage()
	params := preset.ImageParams{Quality: 60, MaxDimension: 32, FormatMode: preset.FormatSmart}

	out, err := c.Compress(context.Background(), encodePNG(t, 128, 64), preset.FormatJPEG, params)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 16, cfg.Height)
}

func TestImageCompressRejectsGarbage(t *testing.T) {
	_, err := NewImage().Compress(context.Background(), []byte("nope"), preset.FormatPNG, preset.ImageParams{})
	assert.Error(t, err)
}

func TestScanProgress(t *testing.T) {
	input := strings.Join([]string{
		"frame=10", "fps=25.0", "bitrate= 897.3kbits/s", "out_time_us=2000000", "progress=continue",
		"fps=26.0", "bitrate=N/A", "out_time_us=1000000", "progress=continue",
		"fps=27.0", "bitrate=1204.6kbits/s", "out_time_us=10000000", "progress=continue",
		"out_time_us=12000000", "progress=end",
		"out_time_us=99", "progress=continue",
	}, "\n")

	var events []Event
	scanProgress(strings.NewReader(input), 10, 0, func(e Event) { events = append(events, e) })

	require.Len(t, events, 4)
	assert.Equal(t, 20, events[0].Percent)
	assert.Equal(t, 25.0, events[0].FPS)
	assert.Equal(t, 897.3, events[0].Kbps, "padded bitrate")
	assert.Equal(t, 20, events[1].Percent, "progress must not go backwards")
	assert.Equal(t, 897.3, events[1].Kbps, "N/A keeps the last known bitrate")
	assert.Equal(t, 99, events[2].Percent)
	assert.Equal(t, 1204.6, events[2].Kbps)
	assert.Equal(t, 99, events[3].Percent)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent)
		assert.Equal(t, EventProgress, events[i].Type)
	}
}

func TestScanProgressUnknownDuration(t *testing.T) {
	input := "fps=30\nout_time_us=5000000\nprogress=continue\nprogress=end\n"
	var events []Event
	scanProgress(strings.NewReader(input), 0, time.Hour, func(e Event) { events = append(events, e) })

	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].Percent)
	assert.Equal(t, 30.0, events[0].FPS)
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs("in.mov", "out.mp4", preset.Lookup(preset.MaximumCompression).Video)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-crf 32")
	assert.Contains(t, joined, "-pix_fmt yuv420p")
	assert.Contains(t, joined, "scale=-2:'min(720,ih)'")
	assert.Contains(t, joined, "-progress pipe:1")
	assert.Equal(t, "out.mp4", args[len(args)-1])

	args = ffmpegArgs("in.mov", "out.mp4", preset.Lookup(preset.Balanced).Video)
	assert.NotContains(t, strings.Join(args, " "), "-vf")
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("transcoder did not finish")
		}
	}
}

func TestTranscoderStart(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stand-ins need a POSIX shell")
	}
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ffprobe := writeScript(t, dir, "ffprobe", "echo 10.0\n")
	input := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(input, []byte("source"), 0o644))
	output := filepath.Join(dir, "out.mp4")

	t.Run("completed", func(t *testing.T) {
		ffmpeg := writeScript(t, dir, "ffmpeg-ok", `for last; do :; done
printf 'fps=30.0\nbitrate=800.0kbits/s\nout_time_us=5000000\nprogress=continue\n'
printf 'fps=31.0\nbitrate=810.0kbits/s\nout_time_us=10000000\nprogress=end\n'
printf 'compressed' > "$last"
`)
		tc := NewTranscoder(ffmpeg, ffprobe, 0, logger)
		events, err := tc.Start(context.Background(), input, output, preset.Lookup(preset.Balanced).Video)
		require.NoError(t, err)

		got := collect(t, events)
		require.Len(t, got, 3)
		assert.Equal(t, EventProgress, got[0].Type)
		assert.Equal(t, 50, got[0].Percent)
		assert.Equal(t, 99, got[1].Percent)
		assert.Equal(t, EventCompleted, got[2].Type)
		assert.Equal(t, 100, got[2].Percent)
		assert.Equal(t, int64(len("compressed")), got[2].OutputSize)
	})

	t.Run("failed", func(t *testing.T) {
		ffmpeg := writeScript(t, dir, "ffmpeg-bad", "echo 'Invalid data found when processing input' >&2\nexit 1\n")
		tc := NewTranscoder(ffmpeg, ffprobe, 0, logger)
		events, err := tc.Start(context.Background(), input, output, preset.Lookup(preset.Balanced).Video)
		require.NoError(t, err)

		got := collect(t, events)
		require.Len(t, got, 1)
		assert.Equal(t, EventFailed, got[0].Type)
		assert.Contains(t, got[0].Reason, "Invalid data found")
	})

	t.Run("missing binary", func(t *testing.T) {
		tc := NewTranscoder(filepath.Join(dir, "no-such-ffmpeg"), ffprobe, 0, logger)
		_, err := tc.Start(context.Background(), input, output, preset.Lookup(preset.Balanced).Video)
		assert.Error(t, err)
	})
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType(preset.FormatJPEG))
	assert.Equal(t, "image/png", ContentType(preset.FormatPNG))
	assert.Equal(t, "video/mp4", ContentType(FormatMP4))
	assert.Equal(t, "application/octet-stream", ContentType("avi"))
}
