// Package bootstrap provides dependency initialization for the meetnote API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maauso/meetnote-api/internal/audio"
	"github.com/maauso/meetnote-api/internal/config"
	"github.com/maauso/meetnote-api/internal/job"
	"github.com/maauso/meetnote-api/internal/recognizer"
	"github.com/maauso/meetnote-api/internal/storage"
	"github.com/maauso/meetnote-api/internal/transcribe"
)

const redisPingTimeout = 3 * time.Second

// Dependencies holds all initialized dependencies for the HTTP server and CLI.
type Dependencies struct {
	Storage     storage.Storage
	Engine      recognizer.Engine
	Transcriber *transcribe.Service
	JobService  *job.Service

	closers []func() error
}

// Close releases connections opened by NewDependencies.
func (d *Dependencies) Close() error {
	var firstErr error
	for _, c := range d.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	engine := initRecognizer(cfg, logger)
	exporter := audio.NewFFmpegExporter(cfg.FFmpegPath)

	transcriber := transcribe.NewService(engine, exporter, store,
		transcribe.WithLogger(logger),
		transcribe.WithConcurrency(cfg.MaxConcurrentSegments),
		transcribe.WithSegmentLength(cfg.SegmentLength()),
		transcribe.WithDefaultLocale(cfg.DefaultLocale),
		transcribe.WithOnlineFallback(cfg.AllowOnlineFallback),
	)

	deps := &Dependencies{
		Storage:     store,
		Engine:      engine,
		Transcriber: transcriber,
	}

	repo, err := deps.initRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.JobService = job.NewService(repo, transcriber, store, logger)

	return deps, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}

// initRecognizer routes between the local Vosk server and the online API,
// whichever are configured.
func initRecognizer(cfg *config.Config, logger *slog.Logger) recognizer.Engine {
	var local, online recognizer.Engine

	if cfg.VoskURL != "" {
		local = recognizer.NewVoskEngine(cfg.VoskURL,
			recognizer.WithSampleRate(cfg.VoskSampleRate),
			recognizer.WithVoskLogger(logger),
		)
		logger.Info("on-device recognizer configured", slog.String("vosk_url", cfg.VoskURL))
	}

	if cfg.OnlineAPIKey != "" {
		online = recognizer.NewOnlineEngine(cfg.OnlineAPIKey,
			recognizer.WithBaseURL(cfg.OnlineBaseURL),
			recognizer.WithModel(cfg.OnlineModel),
			recognizer.WithOnlineLogger(logger),
		)
		logger.Info("online recognizer configured",
			slog.String("base_url", cfg.OnlineBaseURL),
			slog.String("model", cfg.OnlineModel),
		)
	}

	return recognizer.NewRouter(local, online)
}

// initRepository uses Redis when REDIS_ADDR is set, memory otherwise.
func (d *Dependencies) initRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Repository, error) {
	if !cfg.RedisEnabled() {
		logger.Info("in-memory job repository configured")
		return job.NewMemoryRepository(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	d.closers = append(d.closers, client.Close)

	logger.Info("redis job repository configured",
		slog.String("addr", cfg.RedisAddr),
		slog.Int("db", cfg.RedisDB),
		slog.String("prefix", cfg.RedisPrefix),
	)
	return job.NewRedisRepository(client, job.WithRedisPrefix(cfg.RedisPrefix)), nil
}
