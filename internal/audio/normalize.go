package audio

import (
	"context"
	"log/slog"
)

// Normalize runs the whole-file pre-pass for sources the recognizer cannot
// segment directly. It returns the path segmentation should read from: the
// transcoded copy on success, or src unchanged when no pre-pass is needed or
// the pre-pass fails. A failed pre-pass is not an error.
func Normalize(ctx context.Context, exp Exporter, scope *Scope, src string, enc Encoding, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	if IsSpeechFriendly(src) {
		return src
	}

	tmp := scope.New("normalized", enc.Extension)
	if err := exp.Export(ctx, src, tmp.Path, nil, enc); err != nil {
		_ = tmp.Release()
		logger.Warn("normalization pre-pass failed, using original source",
			slog.String("source", src),
			slog.String("error", err.Error()),
		)
		return src
	}

	logger.Debug("source normalized",
		slog.String("source", src),
		slog.String("normalized", tmp.Path),
	)
	return tmp.Path
}
