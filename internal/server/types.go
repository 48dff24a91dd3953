// Package server provides the HTTP server for the meetnote API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateTranscriptionRequest is the HTTP request body for creating a job.
// Exactly one of Source or AudioBase64 must be set.
type CreateTranscriptionRequest struct {
	// Source is a local path on the server or an s3://bucket/key URI.
	Source string `json:"source" validate:"required_without=AudioBase64,excluded_with=AudioBase64,max=2048"`
	// AudioBase64 is an uploaded recording.
	AudioBase64 string `json:"audio_base64" validate:"required_without=Source,omitempty,base64"`
	// Filename names the uploaded recording; its extension selects the decoder.
	Filename string `json:"filename" validate:"required_with=AudioBase64,omitempty,max=255"`
	// Locale overrides the server default locale, e.g. "ko-KR".
	Locale string `json:"locale" validate:"omitempty,max=35"`
	// AllowOnlineFallback overrides the server default when present.
	AllowOnlineFallback *bool `json:"allow_online_fallback"`
	// PushToS3 uploads the transcript to S3 when the job completes.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateTranscriptionResponse is the HTTP response after creating a job.
type CreateTranscriptionResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// ProgressResponse is a recognition progress snapshot.
type ProgressResponse struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	// Index is the most recently recognized segment, absent until one is.
	Index      *int    `json:"index,omitempty"`
	Percentage float64 `json:"percentage"`
}

// TranscriptionResponse is the HTTP response for getting job details.
type TranscriptionResponse struct {
	ID       string           `json:"id"`
	Status   string           `json:"status"`
	Source   string           `json:"source,omitempty"`
	Locale   string           `json:"locale,omitempty"`
	Progress ProgressResponse `json:"progress"`
	// Transcript is the merged text (completed jobs only).
	Transcript string `json:"transcript,omitempty"`
	// TranscriptURL is the S3 URL of the transcript (if push_to_s3 was set).
	TranscriptURL string  `json:"transcript_url,omitempty"`
	DurationSec   float64 `json:"duration_sec,omitempty"`
	Segments      int     `json:"segments,omitempty"`
	// ErrorCode is the failure kind (failed jobs only).
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
	// FailedSegment is the index of the segment that failed, when known.
	FailedSegment *int       `json:"failed_segment,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ProgressMessage is one frame on the progress websocket.
type ProgressMessage struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	Progress  ProgressResponse `json:"progress"`
	ErrorCode string           `json:"error_code,omitempty"`
	Error     string           `json:"error,omitempty"`
	Final     bool             `json:"final"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Recognizer reports whether any recognizer engine is available.
	Recognizer bool `json:"recognizer"`
	// OnDevice reports whether the on-device engine is available.
	OnDevice bool `json:"on_device"`
}
