// Package audio provides the media exporter used to materialize segment
// artifacts and the scoped cleanup of those artifacts.
package audio

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsupportedEncoding is returned when the exporter cannot produce the
// requested target encoding.
var ErrUnsupportedEncoding = errors.New("audio: unsupported target encoding")

// TimeRange selects a window of the source. A nil *TimeRange means the whole file.
type TimeRange struct {
	Start    time.Duration
	Duration time.Duration
}

// Encoding describes the target format of an exported artifact.
type Encoding struct {
	// Codec is the ffmpeg audio codec name, e.g. "pcm_s16le".
	Codec string
	// Extension is the artifact file extension without the dot.
	Extension  string
	SampleRate int
	Channels   int
}

// SpeechEncoding returns the encoding recognizers accept directly:
// 16 kHz mono 16-bit PCM in a WAV container.
func SpeechEncoding() Encoding {
	return Encoding{
		Codec:      "pcm_s16le",
		Extension:  "wav",
		SampleRate: 16000,
		Channels:   1,
	}
}

// Exporter produces independently decodable audio units from a source.
type Exporter interface {
	// Probe returns the total duration of src.
	Probe(ctx context.Context, src string) (time.Duration, error)

	// Export writes the selected range of src to dst using enc.
	// On failure dst may be partially written; the caller owns its removal.
	Export(ctx context.Context, src, dst string, r *TimeRange, enc Encoding) error
}

// speechFriendlyExtensions are containers recognizers decode without a
// normalization pre-pass.
var speechFriendlyExtensions = map[string]struct{}{
	"m4a":  {},
	"caf":  {},
	"wav":  {},
	"aif":  {},
	"aiff": {},
}

// IsSpeechFriendly reports whether path can be segmented without first
// transcoding the whole file.
func IsSpeechFriendly(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	_, ok := speechFriendlyExtensions[ext]
	return ok
}
