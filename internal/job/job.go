// Package job provides the Job aggregate for tracking transcription jobs.
// It includes the Job entity with its state machine, as well as repository
// interfaces for persistence.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/meetnote-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job was accepted but has not started.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job is being transcribed.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job produced a transcript.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job resolved with a failure.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by the caller.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Progress is a snapshot of how many segments have been recognized.
// Index is the most recently recognized segment and is only meaningful
// once Completed is positive.
type Progress struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Index      int     `json:"index"`
	Percentage float64 `json:"percentage"`
}

// Job represents one transcription request and its outcome.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string `json:"id"`
	// Status is the current job state.
	Status Status `json:"status"`
	// Source is the local path or s3:// URI being transcribed.
	Source string `json:"source"`
	// Locale is the requested locale; empty means the service default.
	Locale string `json:"locale,omitempty"`
	// AllowOnlineFallback overrides the service default when set.
	AllowOnlineFallback *bool `json:"allow_online_fallback,omitempty"`
	// PushToS3 indicates whether to upload the transcript to S3.
	PushToS3 bool `json:"push_to_s3"`
	// Progress is the latest recognition snapshot.
	Progress Progress `json:"progress"`
	// Transcript is the merged text once the job completes.
	Transcript string `json:"transcript,omitempty"`
	// TranscriptURL is the S3 URL if PushToS3 was true.
	TranscriptURL string `json:"transcript_url,omitempty"`
	// Duration is the length of the source recording.
	Duration time.Duration `json:"duration,omitempty"`
	// Segments is how many segments the recording was split into.
	Segments int `json:"segments,omitempty"`
	// ErrorCode is the failure kind if the job failed.
	ErrorCode string `json:"error_code,omitempty"`
	// Error contains the failure message if the job failed.
	Error string `json:"error,omitempty"`
	// FailedSegment is the index of the segment that failed, or -1.
	FailedSegment int `json:"failed_segment"`
	// TempSource marks an uploaded source the job owns and must delete.
	TempSource bool `json:"temp_source,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:            jobID,
		Status:        StatusInQueue,
		FailedSegment: -1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete records the transcript and transitions the job to COMPLETED.
func (j *Job) Complete(transcript string, duration time.Duration, segments int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Transcript = transcript
	j.Duration = duration
	j.Segments = segments
	return nil
}

// Fail records the failure and transitions the job to FAILED.
func (j *Job) Fail(code, errMsg string, segment int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.ErrorCode = code
	j.Error = errMsg
	j.FailedSegment = segment
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// UpdateProgress stores a recognition snapshot. Snapshots that would move
// the completed count backwards are ignored.
func (j *Job) UpdateProgress(total, completed, index int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if completed < j.Progress.Completed && total == j.Progress.Total {
		return
	}
	pct := 0.0
	if total > 0 {
		pct = float64(completed) / float64(total)
	}
	j.Progress = Progress{Total: total, Completed: completed, Index: index, Percentage: pct}
	j.UpdatedAt = time.Now()
}

// SetTranscriptURL records where the transcript was uploaded.
func (j *Job) SetTranscriptURL(url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.TranscriptURL = url
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status.IsTerminal()
}

// IsTerminal reports whether no further transitions are possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var fallback *bool
	if j.AllowOnlineFallback != nil {
		v := *j.AllowOnlineFallback
		fallback = &v
	}

	return &Job{
		ID:                  j.ID,
		Status:              j.Status,
		Source:              j.Source,
		Locale:              j.Locale,
		AllowOnlineFallback: fallback,
		PushToS3:            j.PushToS3,
		Progress:            j.Progress,
		Transcript:          j.Transcript,
		TranscriptURL:       j.TranscriptURL,
		Duration:            j.Duration,
		Segments:            j.Segments,
		ErrorCode:           j.ErrorCode,
		Error:               j.Error,
		FailedSegment:       j.FailedSegment,
		TempSource:          j.TempSource,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
		StartedAt:           j.StartedAt,
		CompletedAt:         j.CompletedAt,
	}
}
