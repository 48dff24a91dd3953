// Package segment computes the fixed-length time windows a recording is
// split into before transcription.
package segment

import (
	"fmt"
	"time"

	"github.com/maauso/meetnote-api/internal/failure"
)

// DefaultLength is the window length used when none is configured.
const DefaultLength = 30 * time.Second

// Segment is one window of the source audio. Index is the ordering key.
type Segment struct {
	Index    int
	Start    time.Duration
	Duration time.Duration
}

// End returns the exclusive end offset of the segment.
func (s Segment) End() time.Duration {
	return s.Start + s.Duration
}

// String returns a human-readable representation for logging.
func (s Segment) String() string {
	return fmt.Sprintf("segment %d: %s+%s", s.Index, s.Start, s.Duration)
}

// Compute splits [0, total) into consecutive windows of the given length.
// The last window is truncated to the remainder.
func Compute(total, length time.Duration) ([]Segment, error) {
	if total <= 0 {
		return nil, failure.New(failure.KindInvalidDuration,
			fmt.Errorf("total duration must be positive, got %s", total))
	}
	if length <= 0 {
		return nil, failure.New(failure.KindInvalidDuration,
			fmt.Errorf("segment length must be positive, got %s", length))
	}

	count := int(total / length)
	if total%length != 0 {
		count++
	}

	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		start := time.Duration(i) * length
		segments = append(segments, Segment{
			Index:    i,
			Start:    start,
			Duration: min(length, total-start),
		})
	}

	return segments, nil
}
