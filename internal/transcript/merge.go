// Package transcript assembles per-segment recognition outcomes into the
// final transcript.
package transcript

import (
	"errors"
	"strings"

	"github.com/maauso/meetnote-api/internal/failure"
)

// Separator joins consecutive segment texts.
const Separator = " "

// Outcomes is the read side of a scheduler table.
type Outcomes interface {
	Get(index int) (string, bool)
	Err() error
}

// Merge concatenates the outcomes for segments 0..count-1 in index order.
// A recorded failure is returned unchanged. Missing segments are skipped.
func Merge(outcomes Outcomes, count int) (string, error) {
	if err := outcomes.Err(); err != nil {
		return "", err
	}

	parts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if text, ok := outcomes.Get(i); ok {
			parts = append(parts, text)
		}
	}

	text := strings.TrimSpace(strings.Join(parts, Separator))
	if text == "" {
		return "", failure.New(failure.KindEmptyTranscript, errors.New("merged transcript is empty"))
	}
	return text, nil
}
