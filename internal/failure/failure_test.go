package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	cause := errors.New("boom")
	err := ForSegment(KindExportFailed, 1, cause)

	assert.ErrorIs(t, err, ErrExportFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrRecognitionFailed)

	wrapped := fmt.Errorf("job: %w", err)
	assert.ErrorIs(t, wrapped, ErrExportFailed)
	assert.Equal(t, KindExportFailed, KindOf(wrapped))
	assert.Equal(t, 1, SegmentOf(wrapped))
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", New(KindEmptyTranscript, nil), "EMPTY_TRANSCRIPT"},
		{"with cause", New(KindPermissionDenied, errors.New("401")), "PERMISSION_DENIED: 401"},
		{"with segment", ForSegment(KindRecognitionFailed, 3, errors.New("timeout")), "RECOGNITION_FAILED (segment 3): timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf_NotAFailure(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, NoSegment, SegmentOf(errors.New("plain")))
}

func TestAtSegment(t *testing.T) {
	assert.NoError(t, AtSegment(nil, KindExportFailed, 2))

	plain := AtSegment(errors.New("exit status 1"), KindExportFailed, 2)
	assert.ErrorIs(t, plain, ErrExportFailed)
	assert.Equal(t, 2, SegmentOf(plain))

	classified := AtSegment(New(KindEmptyTranscript, nil), KindRecognitionFailed, 4)
	assert.Equal(t, KindEmptyTranscript, KindOf(classified))
	assert.Equal(t, 4, SegmentOf(classified))

	owned := ForSegment(KindExportFailed, 1, nil)
	assert.Same(t, owned, AtSegment(owned, KindRecognitionFailed, 7))
}
