package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkFFmpeg skips test if ffmpeg is not available.
func checkFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// createTestAudio creates a sine-wave file of the given duration. The
// container follows the extension of outputPath.
func createTestAudio(t *testing.T, outputPath string, durationSec float64) {
	t.Helper()

	filter := fmt.Sprintf("sine=frequency=440:duration=%.3f", durationSec)
	cmd := exec.Command("ffmpeg", "-y",
		"-f", "lavfi", "-i", filter,
		"-ar", "16000", "-ac", "1",
		outputPath,
	)
	stderr, _ := cmd.CombinedOutput()
	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		t.Fatalf("failed to create test audio: %s", string(stderr))
	}
}

// fakeRunner records invocations and returns canned output.
type fakeRunner struct {
	stderr string
	err    error
	calls  [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.stderr, f.err
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    time.Duration
		wantErr bool
	}{
		{"centiseconds", "  Duration: 00:01:35.25, start: 0.000000, bitrate: 256 kb/s", 95*time.Second + 250*time.Millisecond, false},
		{"milliseconds", "Duration: 01:00:00.125", time.Hour + 125*time.Millisecond, false},
		{"single digit", "Duration: 00:00:07.5", 7*time.Second + 500*time.Millisecond, false},
		{"missing", "Input #0, wav, from 'x.wav':", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDuration(tt.output)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDurationNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildExportArgs(t *testing.T) {
	r := &TimeRange{Start: 30 * time.Second, Duration: 5 * time.Second}
	args := buildExportArgs("in.m4a", "out.wav", r, SpeechEncoding())

	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", "30.000", "-t", "5.000",
		"-i", "in.m4a", "-vn", "-c:a", "pcm_s16le",
		"-ar", "16000", "-ac", "1",
		"out.wav",
	}, args)

	whole := buildExportArgs("in.mp3", "out.wav", nil, SpeechEncoding())
	assert.NotContains(t, whole, "-ss")
	assert.NotContains(t, whole, "-t")
}

func TestFFmpegExporter_UsesConfiguredBinary(t *testing.T) {
	runner := &fakeRunner{stderr: "Duration: 00:00:40.00, start"}
	exp := NewFFmpegExporter("/opt/ffmpeg/bin/ffmpeg", withRunner(runner))

	src := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, os.WriteFile(src, []byte("RIFF"), 0o600))

	d, err := exp.Probe(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, d)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", runner.calls[0][0])
}

func TestFFmpegExporter_DefaultPath(t *testing.T) {
	exp := NewFFmpegExporter("")
	assert.Equal(t, "ffmpeg", exp.ffmpegPath)
}

func TestFFmpegExporter_ProbeMissingSource(t *testing.T) {
	exp := NewFFmpegExporter("", withRunner(&fakeRunner{}))
	_, err := exp.Probe(context.Background(), "/non/existent/file.wav")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFFmpegExporter_ExportFailure(t *testing.T) {
	runner := &fakeRunner{stderr: "Invalid data found", err: errors.New("exit status 1")}
	exp := NewFFmpegExporter("", withRunner(runner))

	dst := filepath.Join(t.TempDir(), "out.wav")
	err := exp.Export(context.Background(), "in.wav", dst, nil, SpeechEncoding())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestFFmpegExporter_UnsupportedEncoding(t *testing.T) {
	runner := &fakeRunner{}
	exp := NewFFmpegExporter("", withRunner(runner))

	err := exp.Export(context.Background(), "in.wav", "out.xyz", nil, Encoding{Codec: "nope", Extension: "xyz"})
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
	assert.Empty(t, runner.calls)
}

func TestFFmpegExporter_ProbeRealFile(t *testing.T) {
	checkFFmpeg(t)

	input := filepath.Join(t.TempDir(), "tone.wav")
	createTestAudio(t, input, 12.5)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d, err := NewFFmpegExporter("").Probe(ctx, input)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, d.Seconds(), 0.1)
}

func TestFFmpegExporter_ExportSegmentRealFile(t *testing.T) {
	checkFFmpeg(t)

	dir := t.TempDir()
	input := filepath.Join(dir, "tone.mp3")
	createTestAudio(t, input, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exp := NewFFmpegExporter("")
	out := filepath.Join(dir, "segments", "seg_001.wav")
	err := exp.Export(ctx, input, out, &TimeRange{Start: 4 * time.Second, Duration: 3 * time.Second}, SpeechEncoding())
	require.NoError(t, err)

	d, err := exp.Probe(ctx, out)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, d.Seconds(), 0.1)
}
