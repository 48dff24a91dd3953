// Package failure defines the typed terminal failures a transcription job can
// resolve with. Every failure carries a Kind used for errors.Is matching and
// for mapping to API error codes, an optional segment index and the
// underlying cause.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a job failure.
type Kind string

const (
	// KindInvalidDuration means the source duration could not be segmented.
	KindInvalidDuration Kind = "INVALID_DURATION"
	// KindExportFailed means a segment could not be exported to an artifact.
	KindExportFailed Kind = "EXPORT_FAILED"
	// KindRecognitionFailed means the recognizer errored after all attempts.
	KindRecognitionFailed Kind = "RECOGNITION_FAILED"
	// KindEmptyTranscript means recognition produced no usable text.
	KindEmptyTranscript Kind = "EMPTY_TRANSCRIPT"
	// KindPermissionDenied means the recognizer refused our credentials.
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	// KindCapabilityUnavailable means no recognizer can currently serve requests.
	KindCapabilityUnavailable Kind = "CAPABILITY_UNAVAILABLE"
	// KindCancelled means the job was cancelled by the caller.
	KindCancelled Kind = "CANCELLED"
	// KindInvalidRequest means the request arguments were malformed.
	KindInvalidRequest Kind = "INVALID_REQUEST"
	// KindSourceNotFound means the source audio does not exist.
	KindSourceNotFound Kind = "SOURCE_NOT_FOUND"
)

// NoSegment marks failures that are not tied to a particular segment.
const NoSegment = -1

// Sentinel values for errors.Is checks. They match any *Error of the same Kind.
var (
	ErrInvalidDuration       = &Error{Kind: KindInvalidDuration, Segment: NoSegment}
	ErrExportFailed          = &Error{Kind: KindExportFailed, Segment: NoSegment}
	ErrRecognitionFailed     = &Error{Kind: KindRecognitionFailed, Segment: NoSegment}
	ErrEmptyTranscript       = &Error{Kind: KindEmptyTranscript, Segment: NoSegment}
	ErrPermissionDenied      = &Error{Kind: KindPermissionDenied, Segment: NoSegment}
	ErrCapabilityUnavailable = &Error{Kind: KindCapabilityUnavailable, Segment: NoSegment}
	ErrCancelled             = &Error{Kind: KindCancelled, Segment: NoSegment}
	ErrInvalidRequest        = &Error{Kind: KindInvalidRequest, Segment: NoSegment}
	ErrSourceNotFound        = &Error{Kind: KindSourceNotFound, Segment: NoSegment}
)

// Error is a classified job failure.
type Error struct {
	Kind    Kind
	Segment int
	Err     error
}

// New creates a failure of the given kind that is not tied to a segment.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Segment: NoSegment, Err: err}
}

// ForSegment creates a failure of the given kind for one segment.
func ForSegment(kind Kind, segment int, err error) *Error {
	return &Error{Kind: kind, Segment: segment, Err: err}
}

// Error formats the failure for logs and API responses.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Segment != NoSegment {
		msg = fmt.Sprintf("%s (segment %d)", msg, e.Segment)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is a failure of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// SegmentOf returns the segment index of the first *Error in err's chain,
// or NoSegment.
func SegmentOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Segment
	}
	return NoSegment
}

// AtSegment attaches a segment index to err. Failures already tied to a
// segment are returned unchanged; other errors are classified as kind.
func AtSegment(err error, kind Kind, segment int) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Segment != NoSegment {
			return err
		}
		return &Error{Kind: e.Kind, Segment: segment, Err: e.Err}
	}
	return &Error{Kind: kind, Segment: segment, Err: err}
}
