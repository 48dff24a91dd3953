package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// ErrDurationNotFound is returned when ffmpeg output carries no duration.
var ErrDurationNotFound = errors.New("audio: could not parse duration from ffmpeg output")

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)

// supportedCodecs lists the target codecs this exporter knows how to mux.
var supportedCodecs = map[string]string{
	"pcm_s16le": "wav",
	"aac":       "m4a",
	"flac":      "flac",
	"libopus":   "ogg",
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stderr string, err error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures its stderr.
func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// FFmpegExporter implements Exporter using the ffmpeg CLI.
type FFmpegExporter struct {
	ffmpegPath string
	runner     commandRunner
}

// ExporterOption configures an FFmpegExporter.
type ExporterOption func(*FFmpegExporter)

// withRunner replaces the process runner. Used by tests.
func withRunner(r commandRunner) ExporterOption {
	return func(e *FFmpegExporter) {
		e.runner = r
	}
}

// NewFFmpegExporter creates a new FFmpegExporter.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegExporter(ffmpegPath string, opts ...ExporterOption) *FFmpegExporter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	e := &FFmpegExporter{ffmpegPath: ffmpegPath, runner: execRunner{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Probe returns the duration of an audio file.
func (e *FFmpegExporter) Probe(ctx context.Context, src string) (time.Duration, error) {
	if _, err := os.Stat(src); err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}

	// ffmpeg exits non-zero without an output file but still prints the
	// input header, including the duration, to stderr.
	stderr, _ := e.runner.Run(ctx, e.ffmpegPath, "-hide_banner", "-nostdin", "-i", src)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return parseDuration(stderr)
}

// parseDuration extracts "Duration: HH:MM:SS.frac" from ffmpeg output.
func parseDuration(output string) (time.Duration, error) {
	matches := durationRe.FindStringSubmatch(output)
	if len(matches) < 5 {
		return 0, ErrDurationNotFound
	}

	hours, _ := strconv.Atoi(matches[1])
	minutes, _ := strconv.Atoi(matches[2])
	seconds, _ := strconv.Atoi(matches[3])
	frac, _ := strconv.Atoi(matches[4])

	// Fractional digits vary in precision ("95.25" vs "95.250").
	fracUnit := time.Second
	for range len(matches[4]) {
		fracUnit /= 10
	}

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(frac)*fracUnit, nil
}

// Export transcodes the selected range of src into dst.
func (e *FFmpegExporter) Export(ctx context.Context, src, dst string, r *TimeRange, enc Encoding) error {
	if _, ok := supportedCodecs[enc.Codec]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc.Codec)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	args := buildExportArgs(src, dst, r, enc)
	if stderr, err := e.runner.Run(ctx, e.ffmpegPath, args...); err != nil {
		return fmt.Errorf("ffmpeg error: %w, stderr: %s", err, stderr)
	}
	return nil
}

// buildExportArgs builds the ffmpeg arguments for one export. Seeking before
// -i keeps segment exports fast; re-encoding makes each unit decodable on
// its own.
func buildExportArgs(src, dst string, r *TimeRange, enc Encoding) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	if r != nil {
		args = append(args,
			"-ss", formatSeconds(r.Start),
			"-t", formatSeconds(r.Duration),
		)
	}
	args = append(args, "-i", src, "-vn", "-c:a", enc.Codec)
	if enc.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(enc.SampleRate))
	}
	if enc.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(enc.Channels))
	}
	return append(args, dst)
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// Verify interface implementation at compile time.
var _ Exporter = (*FFmpegExporter)(nil)
