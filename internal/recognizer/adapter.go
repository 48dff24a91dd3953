package recognizer

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/maauso/meetnote-api/internal/failure"
)

var errNoText = errors.New("recognizer returned no text")

// Adapter recognizes one artifact with an optional single online retry.
type Adapter struct {
	engine Engine
	logger *slog.Logger
}

// NewAdapter creates an Adapter over engine.
func NewAdapter(engine Engine, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{engine: engine, logger: logger}
}

// Recognize returns the trimmed, non-empty text of artifact.
//
// The first attempt forces on-device recognition when preferOnDevice is set.
// If that attempt errors or yields no text and allowOnlineFallback is also
// set, exactly one more attempt runs with on-device off. The outcome of the
// last attempt decides the failure: RECOGNITION_FAILED if it errored,
// EMPTY_TRANSCRIPT if it was empty. Errors that already carry a kind, such
// as PERMISSION_DENIED, keep it. Cancellation is reported as CANCELLED.
func (a *Adapter) Recognize(ctx context.Context, artifact, locale string, preferOnDevice, allowOnlineFallback bool) (string, error) {
	req := Request{Path: artifact, Locale: locale, ForceOnDevice: preferOnDevice}

	text, err := a.attempt(ctx, req)
	if err == nil && text != "" {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", failure.New(failure.KindCancelled, ctx.Err())
	}

	if preferOnDevice && allowOnlineFallback {
		a.logger.Info("on-device recognition unusable, retrying online",
			slog.String("artifact", artifact),
			slog.String("reason", reason(err)),
		)
		req.ForceOnDevice = false
		text, err = a.attempt(ctx, req)
		if err == nil && text != "" {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", failure.New(failure.KindCancelled, ctx.Err())
		}
	}

	if err != nil {
		if failure.KindOf(err) != "" {
			return "", err
		}
		return "", failure.New(failure.KindRecognitionFailed, err)
	}
	return "", failure.New(failure.KindEmptyTranscript, errNoText)
}

func (a *Adapter) attempt(ctx context.Context, req Request) (string, error) {
	text, err := await(ctx, a.engine, req)
	if err != nil {
		a.logger.Debug("recognition attempt failed",
			slog.String("artifact", req.Path),
			slog.Bool("on_device", req.ForceOnDevice),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func reason(err error) string {
	if err != nil {
		return err.Error()
	}
	return "empty text"
}
