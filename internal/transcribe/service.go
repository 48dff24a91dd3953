// Package transcribe runs one long recording through the full pipeline:
// segmentation, parallel segment export, parallel recognition with online
// fallback, merge and artifact cleanup.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/maauso/meetnote-api/internal/audio"
	"github.com/maauso/meetnote-api/internal/failure"
	"github.com/maauso/meetnote-api/internal/recognizer"
	"github.com/maauso/meetnote-api/internal/scheduler"
	"github.com/maauso/meetnote-api/internal/segment"
	"github.com/maauso/meetnote-api/internal/storage"
	"github.com/maauso/meetnote-api/internal/transcript"
)

// DefaultLocale is used when a request carries no locale.
const DefaultLocale = "ko-KR"

// Request describes one transcription job.
type Request struct {
	// Source is a local path or an "s3://bucket/key" URI.
	Source string
	// Locale overrides the default locale when non-blank.
	Locale string
	// AllowOnlineFallback overrides the service default when set.
	AllowOnlineFallback *bool
}

// Result is the outcome of a successful job.
type Result struct {
	Transcript string
	Locale     string
	Duration   time.Duration
	Segments   int
}

// ProgressFunc receives recognition progress snapshots.
type ProgressFunc func(scheduler.Progress)

// Service orchestrates transcription jobs.
type Service struct {
	engine   recognizer.Engine
	adapter  *recognizer.Adapter
	exporter audio.Exporter
	store    storage.Storage
	logger   *slog.Logger

	concurrency   int
	segmentLength time.Duration
	defaultLocale string
	allowFallback bool
	encoding      audio.Encoding
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithConcurrency sets how many segments are exported or recognized at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSegmentLength sets the segment window length.
func WithSegmentLength(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.segmentLength = d
		}
	}
}

// WithDefaultLocale sets the locale used when requests carry none.
func WithDefaultLocale(locale string) Option {
	return func(s *Service) {
		if l := strings.TrimSpace(locale); l != "" {
			s.defaultLocale = l
		}
	}
}

// WithOnlineFallback sets whether failed on-device attempts retry online
// when the request does not say.
func WithOnlineFallback(allow bool) Option {
	return func(s *Service) {
		s.allowFallback = allow
	}
}

// WithEncoding sets the segment artifact encoding.
func WithEncoding(enc audio.Encoding) Option {
	return func(s *Service) {
		s.encoding = enc
	}
}

// NewService creates a transcription service.
func NewService(engine recognizer.Engine, exporter audio.Exporter, store storage.Storage, opts ...Option) *Service {
	s := &Service{
		engine:        engine,
		exporter:      exporter,
		store:         store,
		logger:        slog.Default(),
		concurrency:   scheduler.DefaultLimit,
		segmentLength: segment.DefaultLength,
		defaultLocale: DefaultLocale,
		allowFallback: true,
		encoding:      audio.SpeechEncoding(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.adapter = recognizer.NewAdapter(engine, s.logger)
	return s
}

// Transcribe runs req to completion and returns the merged transcript or
// the first failure. onProgress may be nil; every call to it happens before
// Transcribe returns. All artifacts created for the job are deleted before
// Transcribe returns, whatever the outcome.
func (s *Service) Transcribe(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return Result{}, failure.New(failure.KindInvalidRequest, errors.New("source is required"))
	}

	locale := strings.TrimSpace(req.Locale)
	if locale == "" {
		locale = s.defaultLocale
	}
	allowFallback := s.allowFallback
	if req.AllowOnlineFallback != nil {
		allowFallback = *req.AllowOnlineFallback
	}

	if err := s.checkCapability(ctx); err != nil {
		return Result{}, err
	}

	logger := s.logger.With(slog.String("source", source), slog.String("locale", locale))
	scope := audio.NewScope(s.store.TempDir(), audio.WithScopeLogger(logger))
	defer scope.Release()

	path, err := s.resolve(ctx, scope, source)
	if err != nil {
		return Result{}, err
	}

	input := audio.Normalize(ctx, s.exporter, scope, path, s.encoding, logger)

	total, err := s.exporter.Probe(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, failure.New(failure.KindCancelled, ctx.Err())
		}
		return Result{}, failure.New(failure.KindInvalidDuration, fmt.Errorf("probe duration: %w", err))
	}

	segments, err := segment.Compute(total, s.segmentLength)
	if err != nil {
		return Result{}, err
	}

	logger.Info("transcription started",
		slog.Duration("duration", total),
		slog.Int("segments", len(segments)),
		slog.Int("concurrency", s.concurrency),
	)
	started := time.Now()

	artifacts := s.export(ctx, scope, input, segments, logger)
	if err := artifacts.Err(); err != nil {
		return Result{}, err
	}

	texts := s.recognize(ctx, artifacts, locale, allowFallback, logger, onProgress)

	merged, err := transcript.Merge(texts, len(segments))
	if err != nil {
		logger.Warn("transcription failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(started)),
		)
		return Result{}, err
	}

	logger.Info("transcription completed",
		slog.Int("characters", len(merged)),
		slog.Int("artifacts", scope.Len()),
		slog.Duration("elapsed", time.Since(started)),
	)

	return Result{
		Transcript: merged,
		Locale:     locale,
		Duration:   total,
		Segments:   len(segments),
	}, nil
}

// checkCapability runs the authorization and availability checks that
// precede any segmentation.
func (s *Service) checkCapability(ctx context.Context) error {
	if err := s.engine.Authorize(ctx); err != nil {
		if failure.KindOf(err) != "" {
			return err
		}
		return failure.New(failure.KindPermissionDenied, err)
	}
	if !s.engine.Available() {
		return failure.New(failure.KindCapabilityUnavailable, recognizer.ErrNoEngine)
	}
	return nil
}

// resolve makes the source available locally. Downloaded copies are
// tracked by scope.
func (s *Service) resolve(ctx context.Context, scope *audio.Scope, source string) (string, error) {
	path, temp, err := s.store.Fetch(ctx, source)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", failure.New(failure.KindCancelled, ctx.Err())
		case errors.Is(err, storage.ErrInvalidS3URI), errors.Is(err, storage.ErrS3NotConfigured):
			return "", failure.New(failure.KindInvalidRequest, err)
		default:
			return "", failure.New(failure.KindSourceNotFound, err)
		}
	}
	if temp {
		scope.Track(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", failure.New(failure.KindSourceNotFound, err)
	}
	if info.IsDir() {
		return "", failure.New(failure.KindInvalidRequest, fmt.Errorf("source %s is a directory", path))
	}
	return path, nil
}

// export materializes one artifact per segment.
func (s *Service) export(ctx context.Context, scope *audio.Scope, input string, segments []segment.Segment, logger *slog.Logger) *scheduler.Table[*audio.Artifact] {
	opts := scheduler.Options{Limit: s.concurrency, Name: "export", Logger: logger}

	return scheduler.Run(ctx, opts, len(segments), func(ctx context.Context, i int) (*audio.Artifact, error) {
		seg := segments[i]
		artifact := scope.New(fmt.Sprintf("segment_%03d", seg.Index), s.encoding.Extension)

		r := &audio.TimeRange{Start: seg.Start, Duration: seg.Duration}
		if err := s.exporter.Export(ctx, input, artifact.Path, r, s.encoding); err != nil {
			_ = artifact.Release()
			if ctx.Err() != nil {
				return nil, failure.ForSegment(failure.KindCancelled, i, ctx.Err())
			}
			return nil, failure.ForSegment(failure.KindExportFailed, i, err)
		}

		logger.Debug("segment exported", slog.String("segment", seg.String()))
		return artifact, nil
	}, nil)
}

// recognize turns every exported artifact into text. An initial snapshot
// with nothing completed is emitted before any segment is admitted.
func (s *Service) recognize(ctx context.Context, artifacts *scheduler.Table[*audio.Artifact], locale string, allowFallback bool, logger *slog.Logger, onProgress ProgressFunc) *scheduler.Table[string] {
	total := artifacts.Total()
	if onProgress != nil {
		onProgress(scheduler.Progress{Total: total})
	}

	preferOnDevice := s.engine.SupportsOnDevice()
	opts := scheduler.Options{Limit: s.concurrency, Name: "recognize", Logger: logger}

	return scheduler.Run(ctx, opts, total, func(ctx context.Context, i int) (string, error) {
		artifact, ok := artifacts.Get(i)
		if !ok {
			return "", failure.ForSegment(failure.KindExportFailed, i, errors.New("segment artifact missing"))
		}
		// The scope still owns the artifact; releasing here only frees disk early.
		defer func() { _ = artifact.Release() }()

		text, err := s.adapter.Recognize(ctx, artifact.Path, locale, preferOnDevice, allowFallback)
		if err != nil {
			return "", failure.AtSegment(err, failure.KindRecognitionFailed, i)
		}
		return text, nil
	}, onProgress)
}
