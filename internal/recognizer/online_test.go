package recognizer

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/meetnote-api/internal/failure"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment_0.wav")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestOnlineEngine_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		assert.NoError(t, err)
		assert.Equal(t, "multipart/form-data", mediaType)

		reader := multipart.NewReader(r.Body, params["boundary"])
		fields := make(map[string]string)
		var fileName, fileData string
		for {
			part, err := reader.NextPart()
			if err != nil {
				break
			}
			data, _ := io.ReadAll(part)
			if part.FormName() == "file" {
				fileName = part.FileName()
				fileData = string(data)
			} else {
				fields[part.FormName()] = string(data)
			}
		}

		assert.Equal(t, "whisper-large", fields["model"])
		assert.Equal(t, "ko", fields["language"])
		assert.Equal(t, "segment_0.wav", fileName)
		assert.Equal(t, "fake-audio-bytes", fileData)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "안녕하세요"}`))
	}))
	defer server.Close()

	engine := NewOnlineEngine("test-key",
		WithBaseURL(server.URL+"/"),
		WithModel("whisper-large"),
		WithHTTPClient(server.Client()),
	)

	text, err := await(context.Background(), engine, Request{
		Path:   writeArtifact(t, "fake-audio-bytes"),
		Locale: "ko-KR",
	})
	require.NoError(t, err)
	assert.Equal(t, "안녕하세요", text)
}

func TestOnlineEngine_RetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch attempts.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{"text": "hello"}`))
		}
	}))
	defer server.Close()

	engine := NewOnlineEngine("test-key",
		WithBaseURL(server.URL),
		WithBaseBackoff(time.Millisecond),
	)

	text, err := await(context.Background(), engine, Request{Path: writeArtifact(t, "a")})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestOnlineEngine_MaxRetriesExceeded(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	engine := NewOnlineEngine("test-key",
		WithBaseURL(server.URL),
		WithMaxRetries(2),
		WithBaseBackoff(time.Millisecond),
	)

	_, err := await(context.Background(), engine, Request{Path: writeArtifact(t, "a")})
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestOnlineEngine_Unauthorized(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "invalid api key"}`))
	}))
	defer server.Close()

	engine := NewOnlineEngine("bad-key", WithBaseURL(server.URL))

	_, err := await(context.Background(), engine, Request{Path: writeArtifact(t, "a")})
	assert.ErrorIs(t, err, failure.ErrPermissionDenied)
	assert.Equal(t, int32(1), attempts.Load(), "auth errors are not retried")
}

func TestAdapter_OnlineUnauthorizedIsPermissionDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "invalid api key"}`))
	}))
	defer server.Close()

	adapter := NewAdapter(NewRouter(nil, NewOnlineEngine("bad-key", WithBaseURL(server.URL))), nil)

	_, err := adapter.Recognize(context.Background(), writeArtifact(t, "a"), "ko-KR", false, true)
	require.Error(t, err)
	assert.Equal(t, failure.KindPermissionDenied, failure.KindOf(err))
	assert.Equal(t, failure.KindPermissionDenied, failure.KindOf(failure.AtSegment(err, failure.KindRecognitionFailed, 3)))
}

func TestOnlineEngine_BadRequestNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	engine := NewOnlineEngine("test-key", WithBaseURL(server.URL))

	_, err := await(context.Background(), engine, Request{Path: writeArtifact(t, "a")})
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestOnlineEngine_CancelAbortsRequest(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	engine := NewOnlineEngine("test-key", WithBaseURL(server.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := await(ctx, engine, Request{Path: writeArtifact(t, "a")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOnlineEngine_RefusesOnDevice(t *testing.T) {
	engine := NewOnlineEngine("test-key")
	assert.False(t, engine.SupportsOnDevice())

	_, err := engine.Start(context.Background(), Request{Path: "x.wav", ForceOnDevice: true}, func(Event, error) {})
	assert.ErrorIs(t, err, ErrOnDeviceUnsupported)
}

func TestOnlineEngine_Authorize(t *testing.T) {
	assert.NoError(t, NewOnlineEngine("key").Authorize(context.Background()))

	err := NewOnlineEngine("").Authorize(context.Background())
	assert.ErrorIs(t, err, failure.ErrPermissionDenied)
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
	assert.False(t, NewOnlineEngine("").Available())
}

func TestLanguage(t *testing.T) {
	tests := map[string]string{
		"ko-KR":   "ko",
		"en_US":   "en",
		" JA-jp ": "ja",
		"de":      "de",
		"":        "",
	}
	for locale, want := range tests {
		assert.Equal(t, want, language(locale), locale)
	}
}
