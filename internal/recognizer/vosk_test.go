package recognizer

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// voskServer mimics a Vosk server: it collects audio until EOF, replies with
// the given messages and closes normally.
type voskServer struct {
	replies   []string
	dropEarly bool

	config   chan []byte
	received chan []byte
}

func newVoskServer(t *testing.T, vs *voskServer) string {
	t.Helper()
	vs.config = make(chan []byte, 1)
	vs.received = make(chan []byte, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		_, cfg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		vs.config <- cfg

		if vs.dropEarly {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "model crashed"))
			return
		}

		var audio bytes.Buffer
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				audio.Write(msg)
				continue
			}
			if strings.Contains(string(msg), "eof") {
				break
			}
		}
		vs.received <- audio.Bytes()

		for _, reply := range vs.replies {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(20 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// writeWAV writes a minimal 16-bit mono WAV file containing pcm.
func writeWAV(t *testing.T, path string, pcm []byte) {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))     // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))     // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16000)) // sample rate
	_ = binary.Write(&buf, binary.LittleEndian, uint32(32000)) // byte rate
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))     // block align
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))    // bits per sample
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestVoskEngine_StreamsPCMAndJoinsResults(t *testing.T) {
	vs := &voskServer{replies: []string{
		`{"partial": "안녕"}`,
		`{"text": "안녕하세요"}`,
		`{"partial": ""}`,
		`{"text": "회의를 시작합니다"}`,
	}}
	url := newVoskServer(t, vs)

	pcm := bytes.Repeat([]byte{0x01, 0x02}, 10000) // spans several frames
	path := filepath.Join(t.TempDir(), "segment.wav")
	writeWAV(t, path, pcm)

	engine := NewVoskEngine(url, WithSampleRate(8000))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text, err := await(ctx, engine, Request{Path: path, Locale: "ko-KR", ForceOnDevice: true})
	require.NoError(t, err)
	assert.Equal(t, "안녕하세요 회의를 시작합니다", text)

	assert.JSONEq(t, `{"config": {"sample_rate": 8000}}`, string(<-vs.config))
	assert.Equal(t, pcm, <-vs.received, "WAV header must be stripped")
}

func TestVoskEngine_EmptyResult(t *testing.T) {
	url := newVoskServer(t, &voskServer{replies: []string{`{"text": ""}`}})

	path := filepath.Join(t.TempDir(), "silence.wav")
	writeWAV(t, path, make([]byte, 3200))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text, err := await(ctx, NewVoskEngine(url), Request{Path: path})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestVoskEngine_ServerError(t *testing.T) {
	url := newVoskServer(t, &voskServer{dropEarly: true})

	path := filepath.Join(t.TempDir(), "segment.wav")
	writeWAV(t, path, make([]byte, 64*1024))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := await(ctx, NewVoskEngine(url), Request{Path: path})
	assert.Error(t, err)
}

func TestVoskEngine_MissingArtifact(t *testing.T) {
	engine := NewVoskEngine("ws://127.0.0.1:1")
	_, err := engine.Start(context.Background(), Request{Path: "/non/existent.wav"}, func(Event, error) {})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestVoskEngine_NotConfigured(t *testing.T) {
	engine := NewVoskEngine("")
	assert.False(t, engine.Available())
	assert.True(t, engine.SupportsOnDevice())
	assert.NoError(t, engine.Authorize(context.Background()))

	_, err := engine.Start(context.Background(), Request{Path: "x.wav"}, func(Event, error) {})
	assert.ErrorIs(t, err, ErrNoEngine)
}

func TestPCMPayload(t *testing.T) {
	pcm := []byte("0123456789")
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, pcm)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, pcm, pcmPayload(data))
	assert.Equal(t, []byte("raw pcm bytes"), pcmPayload([]byte("raw pcm bytes")))

	truncated := data[:len(data)-4]
	assert.Equal(t, pcm[:6], pcmPayload(truncated))
}
