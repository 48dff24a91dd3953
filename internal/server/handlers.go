package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/maauso/meetnote-api/internal/job"
	"github.com/maauso/meetnote-api/internal/storage"
)

const (
	// DefaultMaxBodyBytes bounds JSON request bodies, uploads included.
	DefaultMaxBodyBytes = 512 << 20

	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Capability reports which recognizer engines are usable.
type Capability interface {
	Available() bool
	SupportsOnDevice() bool
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service      *job.Service
	uploads      storage.Storage
	capability   Capability
	validator    *validator.Validate
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	maxBodyBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithCapability reports recognizer availability on /health.
func WithCapability(c Capability) HandlerOption {
	return func(h *Handlers) {
		h.capability = c
	}
}

// WithMaxBodyBytes sets the request body limit.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance. uploads stores recordings
// sent inline as base64.
func NewHandlers(service *job.Service, uploads storage.Storage, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		uploads:   uploads,
		validator: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:       logger,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.capability != nil {
		resp.Recognizer = h.capability.Available()
		resp.OnDevice = h.capability.SupportsOnDevice()
		if !resp.Recognizer {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateTranscription handles POST /transcriptions requests.
func (h *Handlers) CreateTranscription(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req CreateTranscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		return
	}

	input := job.CreateInput{
		Source:              req.Source,
		Locale:              req.Locale,
		AllowOnlineFallback: req.AllowOnlineFallback,
		PushToS3:            req.PushToS3,
	}

	if req.AudioBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "audio_base64 is not valid base64", "INVALID_REQUEST")
			return
		}
		path, err := h.uploads.SaveTemp(r.Context(), filepath.Base(req.Filename), bytes.NewReader(data))
		if err != nil {
			h.logger.Error("failed to store upload",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to store upload", "UPLOAD_FAILED")
			return
		}
		input.Source = path
		input.TempSource = true
	}

	createdJob, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		if input.TempSource {
			_ = h.uploads.CleanupTemp(r.Context(), []string{input.Source})
		}
		switch {
		case errors.Is(err, job.ErrSourceRequired):
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		case errors.Is(err, job.ErrServiceClosed):
			writeError(w, http.StatusServiceUnavailable, "server is shutting down", "SHUTTING_DOWN")
		default:
			h.logger.Error("failed to create job",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		}
		return
	}

	h.logger.Info("transcription job created",
		slog.String("job_id", createdJob.ID),
		slog.Bool("upload", input.TempSource),
		slog.Bool("push_to_s3", req.PushToS3),
	)

	writeJSON(w, http.StatusAccepted, CreateTranscriptionResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

// GetTranscription handles GET /transcriptions/{id} requests.
func (h *Handlers) GetTranscription(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, jobID, err)
		return
	}

	writeJSON(w, http.StatusOK, toTranscriptionResponse(foundJob))
}

// ListTranscriptions handles GET /transcriptions requests.
func (h *Handlers) ListTranscriptions(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}

	resp := make([]TranscriptionResponse, 0, len(jobs))
	for _, j := range jobs {
		item := toTranscriptionResponse(j)
		item.Transcript = ""
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelTranscription handles POST /transcriptions/{id}/cancel requests.
func (h *Handlers) CancelTranscription(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	if err := h.service.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrJobFinished) {
			writeError(w, http.StatusConflict, "job already finished", "JOB_FINISHED")
			return
		}
		h.writeJobError(w, jobID, err)
		return
	}

	writeJSON(w, http.StatusAccepted, CreateTranscriptionResponse{
		ID:     jobID,
		Status: "CANCELLING",
	})
}

// DeleteTranscription handles DELETE /transcriptions/{id} requests.
func (h *Handlers) DeleteTranscription(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrJobActive) {
			writeError(w, http.StatusConflict, "job is still running; cancel it first", "JOB_ACTIVE")
			return
		}
		h.writeJobError(w, jobID, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StreamProgress handles GET /transcriptions/{id}/progress by upgrading to a
// websocket and sending one ProgressMessage per update. The last message
// has Final set, after which the server closes the connection.
func (h *Handlers) StreamProgress(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	updates, unsubscribe, err := h.service.Subscribe(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, jobID, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Warn("websocket upgrade failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	// Reads only serve to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(toProgressMessage(u)); err != nil {
				h.logger.Debug("progress stream closed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *Handlers) writeJobError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	h.logger.Error("failed to get job",
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
}

func toTranscriptionResponse(j *job.Job) TranscriptionResponse {
	resp := TranscriptionResponse{
		ID:     j.ID,
		Status: string(j.Status),
		Locale: j.Locale,
		Progress:  toProgressResponse(j.Progress),
		ErrorCode: j.ErrorCode,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
	}
	if !j.TempSource {
		resp.Source = j.Source
	}
	if j.Status == job.StatusCompleted {
		resp.Transcript = j.Transcript
		resp.TranscriptURL = j.TranscriptURL
		resp.DurationSec = j.Duration.Seconds()
		resp.Segments = j.Segments
	}
	if j.FailedSegment >= 0 {
		seg := j.FailedSegment
		resp.FailedSegment = &seg
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

func toProgressMessage(u job.Update) ProgressMessage {
	return ProgressMessage{
		ID:     u.JobID,
		Status: string(u.Status),
		Progress:  toProgressResponse(u.Progress),
		ErrorCode: u.ErrorCode,
		Error:     u.Error,
		Final:     u.Status.IsTerminal(),
	}
}

func toProgressResponse(p job.Progress) ProgressResponse {
	resp := ProgressResponse{
		Total:      p.Total,
		Completed:  p.Completed,
		Percentage: p.Percentage,
	}
	if p.Completed > 0 {
		index := p.Index
		resp.Index = &index
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
