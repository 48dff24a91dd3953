// Package recognizer turns exported segment artifacts into text.
//
// Engines report results through a callback that may fire many times with
// partial text before a final result. The Adapter collapses that stream into
// one blocking call per attempt and applies the on-device to online fallback
// policy.
package recognizer

import (
	"context"
	"errors"
	"sync"
)

// Static errors for recognizer operations.
var (
	// ErrNoEngine is returned when no engine can serve the requested mode.
	ErrNoEngine = errors.New("recognizer: no engine available for request")
	// ErrOnDeviceUnsupported is returned by network engines asked to run on-device.
	ErrOnDeviceUnsupported = errors.New("recognizer: on-device recognition not supported")
	// ErrTaskCancelled is reported to handlers of cancelled tasks.
	ErrTaskCancelled = errors.New("recognizer: task cancelled")
)

// Event is one notification from a running recognition task.
type Event struct {
	Text  string
	Final bool
}

// Handler receives task notifications. It may be called from any goroutine
// and more than once, including after a final event.
type Handler func(ev Event, err error)

// Request describes one recognition attempt.
type Request struct {
	// Path is the segment artifact to recognize.
	Path string
	// Locale is a BCP-47 tag such as "ko-KR".
	Locale string
	// ForceOnDevice requires recognition without network services.
	ForceOnDevice bool
}

// Task is an in-flight recognition.
type Task interface {
	// Cancel stops the task. It is safe to call more than once.
	Cancel()
}

// Engine is a speech recognizer.
type Engine interface {
	// Authorize checks that the engine may be used. A denial is reported
	// as a PERMISSION_DENIED failure.
	Authorize(ctx context.Context) error

	// Available reports whether the engine can currently accept work.
	Available() bool

	// SupportsOnDevice reports whether requests may force on-device recognition.
	SupportsOnDevice() bool

	// Start begins recognizing req and reports through handler.
	Start(ctx context.Context, req Request, handler Handler) (Task, error)
}

type outcome struct {
	text string
	err  error
}

// await runs one recognition and blocks until the first final event or
// error. Non-final events are dropped. Cancelling ctx cancels the task.
func await(ctx context.Context, engine Engine, req Request) (string, error) {
	done := make(chan outcome, 1)
	var once sync.Once
	resolve := func(o outcome) {
		once.Do(func() { done <- o })
	}

	task, err := engine.Start(ctx, req, func(ev Event, err error) {
		switch {
		case err != nil:
			resolve(outcome{err: err})
		case ev.Final:
			resolve(outcome{text: ev.Text})
		}
	})
	if err != nil {
		return "", err
	}

	select {
	case o := <-done:
		return o.text, o.err
	case <-ctx.Done():
		task.Cancel()
		return "", ctx.Err()
	}
}

// taskFunc adapts a cancel function to Task.
type taskFunc func()

// Cancel implements Task.
func (f taskFunc) Cancel() { f() }
