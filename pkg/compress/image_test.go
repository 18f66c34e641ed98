package compress

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imalyk/squnch/pkg/codec"
	"github.com/imalyk/squnch/pkg/job"
	"github.com/imalyk/squnch/pkg/preset"
)

// noisyPNG encodes a w x h image of random pixels, which PNG cannot shrink.
func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageUpload(fileID string, data []byte, qualityPreset string) Upload {
	return Upload{
		FileID:        fileID,
		FileName:      "photo.png",
		ContentType:   "image/png",
		Body:          bytes.NewReader(data),
		QualityPreset: qualityPreset,
	}
}

func TestSubmitImageKeepsSmallPNG(t *testing.T) {
	e := newEnv(t, &fakeVideo{plan: halfSize})
	data := noisyPNG(t, 64, 64)

	res, err := e.svc.SubmitImage(context.Background(), imageUpload("img-small", data, preset.Balanced))
	require.NoError(t, err)

	assert.Equal(t, "img-small", res.FileID)
	assert.Equal(t, preset.FormatPNG, res.OutputFormat)
	assert.False(t, res.FormatChanged())
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, int64(len(data)), res.OriginalSize)
	assert.Equal(t, int64(len(res.Data)), res.CompressedSize)
	assert.Equal(t, job.CompressionRatio(res.OriginalSize, res.CompressedSize), res.CompressionRatio)

	format, err := codec.DetectImageFormat(res.Data)
	require.NoError(t, err)
	assert.Equal(t, preset.FormatPNG, format)
}

func TestSubmitImageConvertsLargePNG(t *testing.T) {
	e := newEnv(t, &fakeVideo{plan: halfSize})
	data := noisyPNG(t, 420, 420)
	require.Greater(t, int64(len(data)), preset.SmartThreshold)

	res, err := e.svc.SubmitImage(context.Background(), imageUpload("img-large", data, preset.Balanced))
	require.NoError(t, err)
	assert.Equal(t, preset.FormatJPEG, res.OutputFormat)
	assert.True(t, res.FormatChanged())
	assert.Equal(t, "image/jpeg", res.ContentType)
	assert.Less(t, res.CompressedSize, res.OriginalSize)
	assert.Positive(t, res.CompressionRatio)

	preserved, err := e.svc.SubmitImage(context.Background(), imageUpload("img-hq", data, preset.HighQuality))
	require.NoError(t, err)
	assert.Equal(t, preset.FormatPNG, preserved.OutputFormat, "high-quality never changes the format")
}

func TestSubmitImageGeneratesFileID(t *testing.T) {
	e := newEnv(t, &fakeVideo{plan: halfSize})

	res, err := e.svc.SubmitImage(context.Background(), imageUpload("", noisyPNG(t, 8, 8), ""))
	require.NoError(t, err)
	assert.NotEmpty(t, res.FileID)
	assert.Equal(t, preset.Balanced, res.QualityPreset)
}

func TestSubmitImageValidation(t *testing.T) {
	e := newEnv(t, &fakeVideo{plan: halfSize}, WithMaxImageBytes(1024))

	tests := []struct {
		name   string
		upload Upload
		msg    string
	}{
		{"no file", Upload{FileID: "a"}, "no file uploaded"},
		{"bad file id", imageUpload("a/b", noisyPNG(t, 4, 4), ""), "fileId must be"},
		{"empty", imageUpload("a", nil, ""), "file is empty"},
		{"not an image", imageUpload("a", []byte("GIF89a not really"), ""), "unsupported image type"},
		{"too large", imageUpload("a", bytes.Repeat([]byte{1}, 1025), ""), "file too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.SubmitImage(context.Background(), tt.upload)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Message, tt.msg)
		})
	}
}

type brokenImages struct{}

func (brokenImages) Compress(context.Context, []byte, string, preset.ImageParams) ([]byte, error) {
	return nil, errors.New("decode: unexpected EOF")
}

func TestSubmitImageCodecFailure(t *testing.T) {
	e := newEnv(t, &fakeVideo{plan: halfSize})
	e.svc.images = brokenImages{}

	_, err := e.svc.SubmitImage(context.Background(), imageUpload("img-broken", noisyPNG(t, 4, 4), ""))
	var cerr *CodecError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "unexpected EOF")

	s, err := e.svc.AnalyticsSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.FailedFiles)
}

func TestImageCountsTowardBatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &fakeVideo{plan: halfSize})

	batch, err := e.svc.StartBatch(ctx, 2, 0)
	require.NoError(t, err)

	u := imageUpload("img-batch", noisyPNG(t, 16, 16), "")
	u.BatchID = batch.BatchID
	_, err = e.svc.SubmitImage(ctx, u)
	require.NoError(t, err)

	b, err := e.svc.BatchProgress(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.ProcessedFiles)
	assert.Equal(t, job.BatchProcessing, b.Status)

	v := videoUpload("vid-batch", 100)
	v.BatchID = batch.BatchID
	_, err = e.svc.SubmitVideo(ctx, v)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, err = e.svc.BatchProgress(ctx, batch.BatchID)
		return err == nil && b.Status == job.BatchCompleted
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, b.ProcessedFiles)
}
