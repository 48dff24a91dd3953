package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/meetnote-api/internal/failure"
)

// Static errors for online recognizer operations.
var (
	// ErrAPIKeyNotSet is returned when no API key is configured.
	ErrAPIKeyNotSet = errors.New("online: API key is not set")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("online: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("online: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("online: request failed")
)

// OnlineEngine recognizes audio with an OpenAI-compatible transcription API.
type OnlineEngine struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	logger      *slog.Logger
}

// OnlineOption configures an OnlineEngine.
type OnlineOption func(*OnlineEngine)

// WithBaseURL sets the API base URL, e.g. "https://api.openai.com/v1".
func WithBaseURL(url string) OnlineOption {
	return func(e *OnlineEngine) {
		e.baseURL = strings.TrimRight(url, "/")
	}
}

// WithModel sets the transcription model.
func WithModel(model string) OnlineOption {
	return func(e *OnlineEngine) {
		e.model = model
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OnlineOption {
	return func(e *OnlineEngine) {
		e.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) OnlineOption {
	return func(e *OnlineEngine) {
		e.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) OnlineOption {
	return func(e *OnlineEngine) {
		e.baseBackoff = d
	}
}

// WithOnlineLogger sets the engine logger.
func WithOnlineLogger(logger *slog.Logger) OnlineOption {
	return func(e *OnlineEngine) {
		e.logger = logger
	}
}

// NewOnlineEngine creates a network engine authenticating with apiKey.
func NewOnlineEngine(apiKey string, opts ...OnlineOption) *OnlineEngine {
	e := &OnlineEngine{
		apiKey:      apiKey,
		baseURL:     "https://api.openai.com/v1",
		model:       "whisper-1",
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize implements Engine.
func (e *OnlineEngine) Authorize(context.Context) error {
	if e.apiKey == "" {
		return failure.New(failure.KindPermissionDenied, ErrAPIKeyNotSet)
	}
	return nil
}

// Available implements Engine.
func (e *OnlineEngine) Available() bool { return e.apiKey != "" && e.baseURL != "" }

// SupportsOnDevice implements Engine.
func (e *OnlineEngine) SupportsOnDevice() bool { return false }

// Start implements Engine. The API returns a single final result.
func (e *OnlineEngine) Start(ctx context.Context, req Request, handler Handler) (Task, error) {
	if req.ForceOnDevice {
		return nil, ErrOnDeviceUnsupported
	}
	if !e.Available() {
		return nil, ErrNoEngine
	}

	body, contentType, err := e.buildForm(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()

		var resp transcriptionResponse
		url := e.baseURL + "/audio/transcriptions"
		if err := e.doRequestWithRetry(ctx, url, contentType, body, &resp); err != nil {
			handler(Event{}, err)
			return
		}
		handler(Event{Text: resp.Text, Final: true}, nil)
	}()

	return taskFunc(cancel), nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// buildForm encodes the multipart request once so retries can resend it.
func (e *OnlineEngine) buildForm(req Request) ([]byte, string, error) {
	audio, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, "", fmt.Errorf("online: read artifact: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"model":           e.model,
		"response_format": "json",
	}
	if lang := language(req.Locale); lang != "" {
		fields["language"] = lang
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("online: write field %s: %w", name, err)
		}
	}

	part, err := w.CreateFormFile("file", filepath.Base(req.Path))
	if err != nil {
		return nil, "", fmt.Errorf("online: create file part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("online: write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("online: close form: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

// language reduces a locale such as "ko-KR" to its ISO-639-1 code.
func language(locale string) string {
	lang, _, _ := strings.Cut(strings.TrimSpace(locale), "-")
	lang, _, _ = strings.Cut(lang, "_")
	return strings.ToLower(lang)
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (e *OnlineEngine) doRequestWithRetry(ctx context.Context, url, contentType string, body []byte, result any) error {
	var lastErr error
	backoff := e.baseBackoff

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.logger.Debug("retrying transcription request",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("online: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := e.doRequest(ctx, url, contentType, body, result)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("online: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (e *OnlineEngine) doRequest(ctx context.Context, url, contentType string, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("online: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("online: request cancelled: %w", ctx.Err())
		}
		return &retryableError{err: fmt.Errorf("online: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("online: read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return failure.New(failure.KindPermissionDenied,
			fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody)))
	case resp.StatusCode >= 500:
		return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("online: unmarshal response: %w", err)
	}
	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Verify interface implementation at compile time.
var _ Engine = (*OnlineEngine)(nil)
