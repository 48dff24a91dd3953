package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/maauso/meetnote-api/internal/failure"
	"github.com/maauso/meetnote-api/internal/scheduler"
	"github.com/maauso/meetnote-api/internal/transcribe"
)

var (
	// ErrSourceRequired is returned when a job is created without a source.
	ErrSourceRequired = errors.New("source is required")
	// ErrJobFinished is returned when cancelling a job that already resolved.
	ErrJobFinished = errors.New("job already finished")
	// ErrServiceClosed is returned when creating jobs after Close.
	ErrServiceClosed = errors.New("job service closed")
	// ErrJobActive is returned when deleting a job that has not resolved.
	ErrJobActive = errors.New("job is still running")
)

// TranscriptKeyPrefix is where pushed transcripts are stored.
const TranscriptKeyPrefix = "transcripts/"

// Transcriber runs a transcription to completion.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request, onProgress transcribe.ProgressFunc) (transcribe.Result, error)
}

// Store uploads transcripts and removes uploaded sources.
type Store interface {
	Upload(ctx context.Context, key string, data io.Reader) (string, error)
	CleanupTemp(ctx context.Context, paths []string) error
}

// CreateInput contains the parameters for a new job.
type CreateInput struct {
	// Source is a local path or s3:// URI.
	Source string
	// Locale overrides the default locale when non-blank.
	Locale string
	// AllowOnlineFallback overrides the service default when set.
	AllowOnlineFallback *bool
	// PushToS3 uploads the transcript when the job completes.
	PushToS3 bool
	// TempSource marks Source as an upload the job must delete when done.
	TempSource bool
}

// Update is one notification delivered to subscribers.
type Update struct {
	JobID         string   `json:"job_id"`
	Status        Status   `json:"status"`
	Progress      Progress `json:"progress"`
	ErrorCode     string   `json:"error_code,omitempty"`
	Error         string   `json:"error,omitempty"`
	FailedSegment int      `json:"failed_segment"`
}

func updateOf(j *Job) Update {
	c := j.Clone()
	return Update{
		JobID:         c.ID,
		Status:        c.Status,
		Progress:      c.Progress,
		ErrorCode:     c.ErrorCode,
		Error:         c.Error,
		FailedSegment: c.FailedSegment,
	}
}

// Service creates transcription jobs, runs them in the background and fans
// their progress out to subscribers.
type Service struct {
	repo        Repository
	transcriber Transcriber
	store       Store
	logger      *slog.Logger

	base     context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	inFlight map[string]*run
}

// run tracks one job between creation and terminal resolution.
type run struct {
	job    *Job
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[*subscriber]struct{}
	done bool
}

// NewService creates a job service. store may be nil when neither S3 push
// nor uploaded sources are used.
func NewService(repo Repository, transcriber Transcriber, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		repo:        repo,
		transcriber: transcriber,
		store:       store,
		logger:      logger,
		base:        base,
		stop:        stop,
		inFlight:    make(map[string]*run),
	}
}

// CreateJob persists a new IN_QUEUE job and starts it in the background.
// The job outlives ctx; use Cancel to stop it.
func (s *Service) CreateJob(ctx context.Context, input CreateInput) (*Job, error) {
	source := strings.TrimSpace(input.Source)
	if source == "" {
		return nil, ErrSourceRequired
	}
	if s.isClosed() {
		return nil, ErrServiceClosed
	}

	job := New()
	job.Source = source
	job.Locale = strings.TrimSpace(input.Locale)
	job.AllowOnlineFallback = input.AllowOnlineFallback
	job.PushToS3 = input.PushToS3
	job.TempSource = input.TempSource

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("source", job.Source),
		slog.String("locale", job.Locale),
		slog.Bool("push_to_s3", job.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	runCtx, cancel := context.WithCancel(s.base)
	r := &run{job: job, cancel: cancel, subs: make(map[*subscriber]struct{})}
	s.inFlight[job.ID] = r
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(runCtx, r)

	return job.Clone(), nil
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all known jobs, newest first.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Cancel requests cancellation of a job. The job resolves CANCELLED
// asynchronously; subscribers observe the terminal status.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.inFlight[id]
	s.mu.Unlock()
	if ok {
		s.logger.Info("cancelling job", slog.String("job_id", id))
		r.cancel()
		return nil
	}

	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrJobFinished
	}
	// Known to the repository but not to this process, e.g. after a restart.
	if err := job.Cancel(); err != nil {
		return err
	}
	return s.repo.Save(ctx, job)
}

// DeleteJob removes a resolved job. Jobs still queued or running must be
// cancelled first.
// A terminal status is persisted last, so it is safe to act on.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return ErrJobActive
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}

// Subscribe returns a channel of updates for a job. The first value is the
// current state; the channel is closed after the terminal update. Slow
// subscribers may miss intermediate progress but always receive the
// terminal update. unsubscribe releases the subscription early.
func (s *Service) Subscribe(ctx context.Context, id string) (updates <-chan Update, unsubscribe func(), err error) {
	s.mu.Lock()
	r, ok := s.inFlight[id]
	s.mu.Unlock()

	if ok {
		sub := newSubscriber()
		r.mu.Lock()
		sub.offer(updateOf(r.job))
		if r.done {
			sub.close()
		} else {
			r.subs[sub] = struct{}{}
		}
		r.mu.Unlock()

		return sub.ch, func() {
			r.mu.Lock()
			delete(r.subs, sub)
			r.mu.Unlock()
			sub.close()
		}, nil
	}

	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	sub := newSubscriber()
	sub.offer(updateOf(job))
	sub.close()
	return sub.ch, func() {}, nil
}

// Close cancels every running job and waits for them to resolve or for ctx
// to expire.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute drives a job from IN_QUEUE to a terminal state.
func (s *Service) execute(ctx context.Context, r *run) {
	defer s.wg.Done()
	defer r.cancel()

	job := r.job
	logger := s.logger.With(slog.String("job_id", job.ID))

	defer s.finish(r, logger)
	defer s.cleanupSource(job, logger)

	if ctx.Err() != nil {
		_ = job.Cancel()
		return
	}
	if err := job.Start(); err != nil {
		logger.Error("failed to start job", slog.String("error", err.Error()))
		return
	}
	s.persist(job, logger)
	s.publish(r)

	result, err := s.transcriber.Transcribe(ctx, transcribe.Request{
		Source:              job.Source,
		Locale:              job.Locale,
		AllowOnlineFallback: job.AllowOnlineFallback,
	}, func(p scheduler.Progress) {
		job.UpdateProgress(p.Total, p.Completed, p.Index)
		s.persist(job, logger)
		s.publish(r)
	})

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, failure.ErrCancelled) {
			logger.Info("job cancelled")
			_ = job.Cancel()
			return
		}
		code := string(failure.KindOf(err))
		if code == "" {
			code = string(failure.KindRecognitionFailed)
		}
		logger.Warn("job failed",
			slog.String("error_code", code),
			slog.String("error", err.Error()),
		)
		_ = job.Fail(code, err.Error(), failure.SegmentOf(err))
		return
	}

	if job.PushToS3 {
		s.pushTranscript(ctx, job, result.Transcript, logger)
	}
	if err := job.Complete(result.Transcript, result.Duration, result.Segments); err != nil {
		logger.Error("failed to complete job", slog.String("error", err.Error()))
		return
	}
	logger.Info("job completed",
		slog.Int("segments", result.Segments),
		slog.Duration("duration", result.Duration),
	)
}

// pushTranscript uploads the transcript. Upload failures are logged; the
// transcript stays available on the job.
func (s *Service) pushTranscript(ctx context.Context, job *Job, text string, logger *slog.Logger) {
	if s.store == nil {
		logger.Warn("push_to_s3 requested but no store configured")
		return
	}
	url, err := s.store.Upload(ctx, TranscriptKeyPrefix+job.ID+".txt", strings.NewReader(text))
	if err != nil {
		logger.Warn("failed to upload transcript", slog.String("error", err.Error()))
		return
	}
	job.SetTranscriptURL(url)
	logger.Info("transcript uploaded", slog.String("url", url))
}

func (s *Service) cleanupSource(job *Job, logger *slog.Logger) {
	if !job.TempSource || s.store == nil {
		return
	}
	if err := s.store.CleanupTemp(context.Background(), []string{job.Source}); err != nil {
		logger.Warn("failed to remove uploaded source", slog.String("error", err.Error()))
	}
}

// finish persists the terminal state, then delivers the terminal update
// and closes every subscription.
func (s *Service) finish(r *run, logger *slog.Logger) {
	s.persist(r.job, logger)

	s.mu.Lock()
	delete(s.inFlight, r.job.ID)
	s.mu.Unlock()

	r.mu.Lock()
	update := updateOf(r.job)
	r.done = true
	for sub := range r.subs {
		sub.offer(update)
		sub.close()
		delete(r.subs, sub)
	}
	r.mu.Unlock()
}

func (s *Service) persist(job *Job, logger *slog.Logger) {
	if err := s.repo.Save(context.Background(), job); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}

func (s *Service) publish(r *run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	update := updateOf(r.job)
	for sub := range r.subs {
		sub.offer(update)
	}
}

const subscriberBuffer = 8

type subscriber struct {
	ch   chan Update
	once sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Update, subscriberBuffer)}
}

// offer enqueues u, dropping the oldest pending update when the buffer is
// full. Callers serialize offer and close.
func (sub *subscriber) offer(u Update) {
	for {
		select {
		case sub.ch <- u:
			return
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
	}
}

func (sub *subscriber) close() {
	sub.once.Do(func() { close(sub.ch) })
}
