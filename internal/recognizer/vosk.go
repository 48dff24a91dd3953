package recognizer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// voskFrameSize is the number of PCM bytes sent per websocket frame.
const voskFrameSize = 8 * 1024

// voskMessage is a result message from a Vosk server.
type voskMessage struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

type voskConfig struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
	} `json:"config"`
}

// VoskEngine recognizes audio on a local Vosk server. It never sends audio
// off the host and therefore serves on-device requests.
type VoskEngine struct {
	url        string
	sampleRate int
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

// VoskOption configures a VoskEngine.
type VoskOption func(*VoskEngine)

// WithSampleRate sets the sample rate announced to the server.
func WithSampleRate(rate int) VoskOption {
	return func(e *VoskEngine) {
		e.sampleRate = rate
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) VoskOption {
	return func(e *VoskEngine) {
		e.dialer = d
	}
}

// WithVoskLogger sets the engine logger.
func WithVoskLogger(logger *slog.Logger) VoskOption {
	return func(e *VoskEngine) {
		e.logger = logger
	}
}

// NewVoskEngine creates an engine for the server at url, e.g. "ws://localhost:2700".
func NewVoskEngine(url string, opts ...VoskOption) *VoskEngine {
	e := &VoskEngine{
		url:        url,
		sampleRate: 16000,
		dialer:     websocket.DefaultDialer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize implements Engine. A local server needs no credentials.
func (e *VoskEngine) Authorize(context.Context) error { return nil }

// Available implements Engine.
func (e *VoskEngine) Available() bool { return e.url != "" }

// SupportsOnDevice implements Engine.
func (e *VoskEngine) SupportsOnDevice() bool { return true }

// Start implements Engine. Partial and intermediate results are reported as
// non-final events; the final event carries every recognized utterance
// joined with spaces and is sent once the server closes the stream.
func (e *VoskEngine) Start(ctx context.Context, req Request, handler Handler) (Task, error) {
	if !e.Available() {
		return nil, ErrNoEngine
	}

	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, fmt.Errorf("vosk: read artifact: %w", err)
	}

	conn, _, err := e.dialer.DialContext(ctx, e.url, nil)
	if err != nil {
		return nil, fmt.Errorf("vosk: connect: %w", err)
	}

	s := &voskSession{
		conn:    conn,
		handler: handler,
		logger:  e.logger,
	}
	go s.send(pcmPayload(data), e.sampleRate)
	go s.receive()

	return taskFunc(s.cancel), nil
}

// voskSession streams one artifact over one connection.
type voskSession struct {
	conn    *websocket.Conn
	handler Handler
	logger  *slog.Logger

	mu        sync.Mutex
	cancelled bool
	eofSent   bool
}

func (s *voskSession) send(pcm []byte, sampleRate int) {
	var cfg voskConfig
	cfg.Config.SampleRate = sampleRate
	if err := s.conn.WriteJSON(cfg); err != nil {
		s.fail(fmt.Errorf("vosk: send config: %w", err))
		return
	}

	for off := 0; off < len(pcm); off += voskFrameSize {
		end := min(off+voskFrameSize, len(pcm))
		if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			s.fail(fmt.Errorf("vosk: send audio: %w", err))
			return
		}
	}

	// Marked before writing: the server may answer and close before
	// WriteMessage returns.
	s.mu.Lock()
	s.eofSent = true
	s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"eof": 1}`)); err != nil {
		s.fail(fmt.Errorf("vosk: send eof: %w", err))
	}
}

func (s *voskSession) receive() {
	defer func() { _ = s.conn.Close() }()

	var utterances []string
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			cancelled, eofSent := s.cancelled, s.eofSent
			s.mu.Unlock()

			switch {
			case cancelled:
				s.handler(Event{}, ErrTaskCancelled)
			case eofSent && isNormalClose(err):
				s.handler(Event{Text: strings.Join(utterances, " "), Final: true}, nil)
			default:
				s.handler(Event{}, fmt.Errorf("vosk: read result: %w", err))
			}
			return
		}

		var msg voskMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Warn("failed to parse vosk result", slog.String("error", err.Error()))
			continue
		}

		if msg.Partial != "" {
			s.handler(Event{Text: msg.Partial}, nil)
		}
		if text := strings.TrimSpace(msg.Text); text != "" {
			utterances = append(utterances, text)
			s.handler(Event{Text: text}, nil)
		}
	}
}

func (s *voskSession) fail(err error) {
	s.handler(Event{}, err)
	_ = s.conn.Close()
}

func (s *voskSession) cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	_ = s.conn.Close()
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) ||
		errors.Is(err, websocket.ErrCloseSent)
}

// pcmPayload returns the sample data of a RIFF/WAVE file. Input that is not
// a WAV container is returned unchanged.
func pcmPayload(data []byte) []byte {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return data
	}

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if id == "data" {
			return data[body:min(body+size, len(data))]
		}
		off = body + size + size&1
	}
	return nil
}

// Verify interface implementation at compile time.
var _ Engine = (*VoskEngine)(nil)
