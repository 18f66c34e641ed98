package codec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/imalyk/squnch/pkg/preset"
)

// FormatMP4 is the only video container the transcoder writes.
const FormatMP4 = "mp4"

// maxReportedPercent holds progress below 100 until the output file has been
// closed and stat'ed.
const maxReportedPercent = 99

const maxReasonLen = 1024

type EventType int

const (
	EventProgress EventType = iota
	EventCompleted
	EventFailed
)

func (t EventType) String() string {
	switch t {
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one message from a running transcode. A stream carries zero or
// more EventProgress values followed by exactly one EventCompleted or
// EventFailed, after which the channel is closed.
type Event struct {
	Type       EventType
	Percent    int
	FPS        float64
	Kbps       float64
	OutputSize int64
	Reason     string
}

// Transcoder runs ffmpeg as an external process per job.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
	backoff     time.Duration
	logger      *slog.Logger
}

func NewTranscoder(ffmpegPath, ffprobePath string, progressBackoff time.Duration, logger *slog.Logger) *Transcoder {
	return &Transcoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		backoff:     progressBackoff,
		logger:      logger,
	}
}

// Start launches ffmpeg and returns the job's event stream. The process is
// not tied to ctx: once started it runs until it exits on its own.
func (t *Transcoder) Start(ctx context.Context, inputPath, outputPath string, params preset.VideoParams) (<-chan Event, error) {
	duration, err := t.mediaDuration(ctx, inputPath)
	if err != nil {
		t.logger.Warn("duration lookup failed, progress will be coarse", "input", inputPath, "error", err)
		duration = 0
	}

	if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("prepare output: %w", err)
	}

	cmd := exec.Command(t.ffmpegPath, ffmpegArgs(inputPath, outputPath, params)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)

		scanProgress(stdout, duration, t.backoff, func(e Event) { events <- e })
		_, _ = io.Copy(io.Discard, stdout)

		if err := cmd.Wait(); err != nil {
			events <- Event{Type: EventFailed, Reason: truncate(fmt.Sprintf("ffmpeg execution: %v - %s", err, strings.TrimSpace(stderr.String())))}
			return
		}
		info, err := os.Stat(outputPath)
		if err != nil {
			events <- Event{Type: EventFailed, Reason: truncate(fmt.Sprintf("stat output: %v", err))}
			return
		}
		events <- Event{Type: EventCompleted, Percent: 100, OutputSize: info.Size()}
	}()
	return events, nil
}

func ffmpegArgs(inputPath, outputPath string, p preset.VideoParams) []string {
	args := []string{
		"-y",
		"-i", inputPath,
		"-c:v", p.Codec,
		"-preset", p.Speed,
		"-crf", strconv.Itoa(p.CRF),
		"-pix_fmt", p.PixelFormat,
	}
	if p.MaxHeight > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:'min(%d,ih)'", p.MaxHeight))
	}
	return append(args,
		"-c:a", p.AudioCodec,
		"-b:a", p.AudioBitrate,
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-nostats",
		"-loglevel", "error",
		outputPath,
	)
}

func (t *Transcoder) mediaDuration(ctx context.Context, input string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.ffprobePath, "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", input)
	output, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	durationStr := strings.TrimSpace(string(output))
	if durationStr == "" {
		return 0, errors.New("empty duration")
	}
	return strconv.ParseFloat(durationStr, 64)
}

// scanProgress reads ffmpeg's -progress key=value blocks and emits one
// progress event per block when the percentage moved or the backoff elapsed.
// Percentages never decrease and never exceed maxReportedPercent.
func scanProgress(r io.Reader, duration float64, backoff time.Duration, emit func(Event)) {
	scanner := bufio.NewScanner(r)
	var (
		last     = -1
		lastEmit time.Time
		current  Event
	)
	current.Type = EventProgress

	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		// ffmpeg pads some values, e.g. "bitrate= 897.3kbits/s".
		value = strings.TrimSpace(value)
		switch key {
		case "fps":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				current.FPS = f
			}
		case "bitrate":
			if f, err := strconv.ParseFloat(strings.TrimSuffix(value, "kbits/s"), 64); err == nil {
				current.Kbps = f
			}
		case "out_time_us", "out_time_ms":
			// Both keys are microseconds.
			if duration <= 0 {
				continue
			}
			us, err := strconv.ParseFloat(value, 64)
			if err != nil {
				continue
			}
			pct := int(math.Min(maxReportedPercent, math.Max(0, us/1e6/duration*100)))
			if pct > current.Percent {
				current.Percent = pct
			}
		case "progress":
			if current.Percent-last >= 1 || time.Since(lastEmit) >= backoff {
				last = current.Percent
				lastEmit = time.Now()
				emit(current)
			}
			if value == "end" {
				return
			}
		}
	}
}

func truncate(s string) string {
	if len(s) > maxReasonLen {
		return s[:maxReasonLen]
	}
	return s
}
