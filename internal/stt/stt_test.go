package stt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukasbauer/hotline/internal/audio"
	"github.com/lukasbauer/hotline/internal/engine"
)

type fakeEngine struct {
	name  string
	cap   engine.Capability
	text  string
	err   error
	panic bool
	calls atomic.Int32
	got   []byte
}

func (f *fakeEngine) Name() string                  { return f.name }
func (f *fakeEngine) Capability() engine.Capability { return f.cap }
func (f *fakeEngine) Transcribe(_ context.Context, b []byte) (string, error) {
	f.calls.Add(1)
	f.got = b
	if f.panic {
		panic("engine blew up")
	}
	return f.text, f.err
}

type fakeDecoder struct {
	out []byte
	err error
}

func (d fakeDecoder) Decode(context.Context, []byte) ([]byte, error) { return d.out, d.err }

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newGateway(decoder audio.Decoder, engines ...Engine) *Gateway {
	return NewGateway(engines, decoder, engine.NewPool(2, time.Second), quietLogger())
}

func isStandIn(s string) bool {
	for _, c := range StandInCorpus {
		if c == s {
			return true
		}
	}
	return false
}

func TestGatewayNeverFails(t *testing.T) {
	input := []byte("OggS payload")
	tests := []struct {
		name      string
		engines   []Engine
		want      string
		wantStand bool
	}{
		{"no engines", nil, "", true},
		{"both unavailable", []Engine{
			&fakeEngine{name: "a", cap: engine.Unavailable, text: "x"},
			&fakeEngine{name: "b", cap: engine.Unavailable, text: "y"},
		}, "", true},
		{"primary ok", []Engine{
			&fakeEngine{name: "a", cap: engine.Degraded, text: "  перший  "},
			&fakeEngine{name: "b", cap: engine.Degraded, text: "другий"},
		}, "перший", false},
		{"primary errors", []Engine{
			&fakeEngine{name: "a", cap: engine.Degraded, err: errors.New("codec")},
			&fakeEngine{name: "b", cap: engine.Degraded, text: "другий"},
		}, "другий", false},
		{"primary empty", []Engine{
			&fakeEngine{name: "a", cap: engine.Degraded, text: "   "},
			&fakeEngine{name: "b", cap: engine.Degraded, text: "другий"},
		}, "другий", false},
		{"primary panics", []Engine{
			&fakeEngine{name: "a", cap: engine.Degraded, panic: true},
			&fakeEngine{name: "b", cap: engine.Degraded, text: "другий"},
		}, "другий", false},
		{"only secondary loaded", []Engine{
			&fakeEngine{name: "a", cap: engine.Unavailable},
			&fakeEngine{name: "b", cap: engine.Degraded, text: "другий"},
		}, "другий", false},
		{"both fail", []Engine{
			&fakeEngine{name: "a", cap: engine.Degraded, err: errors.New("x")},
			&fakeEngine{name: "b", cap: engine.Degraded, err: errors.New("y")},
		}, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := newGateway(nil, tc.engines...)
			got := g.Transcribe(context.Background(), input)
			require.NotEmpty(t, got)
			if tc.wantStand {
				assert.True(t, isStandIn(got), "got %q", got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGatewaySkipsUnavailableWithoutCalling(t *testing.T) {
	off := &fakeEngine{name: "a", cap: engine.Unavailable, text: "x"}
	g := newGateway(nil, off)
	g.Transcribe(context.Background(), []byte("data"))
	assert.Equal(t, int32(0), off.calls.Load())
}

func TestGatewayDecodesForReadyEngines(t *testing.T) {
	wav := audio.SilentWAV(10*time.Millisecond, 16000)
	ready := &fakeEngine{name: "a", cap: engine.Ready, text: "ok"}
	g := newGateway(fakeDecoder{out: wav}, ready)

	assert.Equal(t, "ok", g.Transcribe(context.Background(), []byte("OggS raw")))
	assert.Equal(t, wav, ready.got)
}

func TestGatewayDegradedEngineGetsRawBytes(t *testing.T) {
	degraded := &fakeEngine{name: "a", cap: engine.Degraded, text: "ok"}
	g := newGateway(fakeDecoder{out: []byte("decoded")}, degraded)

	raw := []byte("OggS raw")
	assert.Equal(t, "ok", g.Transcribe(context.Background(), raw))
	assert.Equal(t, raw, degraded.got)
}

func TestGatewayDecodeFailureIsTransient(t *testing.T) {
	ready := &fakeEngine{name: "a", cap: engine.Ready, text: "never"}
	g := newGateway(fakeDecoder{err: errors.New("corrupt")}, ready)
	g.pick = func(int) int { return 2 }

	assert.Equal(t, StandInCorpus[2], g.Transcribe(context.Background(), []byte("junk")))
	assert.Equal(t, int32(0), ready.calls.Load())
	assert.Equal(t, engine.Ready, ready.Capability(), "availability unchanged by per-call failure")
}

func TestGatewayEmptyInputFallsToStandIn(t *testing.T) {
	e := &fakeEngine{name: "a", cap: engine.Degraded, text: "x"}
	g := newGateway(nil, e)
	assert.True(t, isStandIn(g.Transcribe(context.Background(), nil)))
	assert.Equal(t, int32(0), e.calls.Load())
}

func TestTranscribeFileMissing(t *testing.T) {
	g := newGateway(nil, &fakeEngine{name: "a", cap: engine.Degraded, text: "x"})
	assert.True(t, isStandIn(g.TranscribeFile(context.Background(), "/nonexistent/file.wav")))
}

func TestTranscribeFile(t *testing.T) {
	path := t.TempDir() + "/call.wav"
	require.NoError(t, os.WriteFile(path, audio.SilentWAV(10*time.Millisecond, 16000), 0o600))

	g := newGateway(nil, &fakeEngine{name: "a", cap: engine.Degraded, text: "з файлу"})
	assert.Equal(t, "з файлу", g.TranscribeFile(context.Background(), path))
}

func TestGatewayStatus(t *testing.T) {
	g := newGateway(nil,
		&fakeEngine{name: "a", cap: engine.Ready},
		&fakeEngine{name: "b", cap: engine.Unavailable},
	)
	st := g.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "a", st[0].Name)
	assert.Equal(t, engine.Unavailable, st[1].Capability)
}

func TestCapabilityFor(t *testing.T) {
	assert.Equal(t, engine.Unavailable, capabilityFor("", true))
	assert.Equal(t, engine.Degraded, capabilityFor("key", false))
	assert.Equal(t, engine.Ready, capabilityFor("key", true))
}

func TestWhisperEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "uk", r.FormValue("language"))
		_, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "audio.wav", hdr.Filename)
		_, _ = w.Write([]byte(`{"text":"Протікає стеля"}`))
	}))
	defer srv.Close()

	e := NewWhisperEngine(WhisperConfig{APIKey: "sk-test", Language: "uk", BaseURL: srv.URL, DecoderOK: true})
	assert.Equal(t, engine.Ready, e.Capability())

	text, err := e.Transcribe(context.Background(), audio.SilentWAV(10*time.Millisecond, 16000))
	require.NoError(t, err)
	assert.Equal(t, "Протікає стеля", text)
}

func TestWhisperEngineHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	e := NewWhisperEngine(WhisperConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := e.Transcribe(context.Background(), []byte("ID3xx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestWhisperEngineEmptyAudio(t *testing.T) {
	e := NewWhisperEngine(WhisperConfig{APIKey: "k"})
	_, err := e.Transcribe(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyAudio)
}

func deepgramServer(t *testing.T, segments []deepgramResponse, gotQuery *string, gotBytes *atomic.Int64) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token dg-key", r.Header.Get("Authorization"))
		*gotQuery = r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				gotBytes.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		for _, seg := range segments {
			b, _ := json.Marshal(seg)
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
}

func result(text string, final bool) deepgramResponse {
	var r deepgramResponse
	r.Type = "Results"
	r.IsFinal = final
	r.Channel.Alternatives = []struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
	}{{Transcript: text, Confidence: 0.9}}
	return r
}

func TestDeepgramEngineJoinsFinalSegments(t *testing.T) {
	var query string
	var sent atomic.Int64
	srv := deepgramServer(t, []deepgramResponse{
		result("Немає", false),
		result("Немає холодної води", true),
		{Type: "Metadata"},
		result("в будинку", true),
	}, &query, &sent)
	defer srv.Close()

	e := NewDeepgramEngine(DeepgramConfig{
		APIKey:    "dg-key",
		Language:  "uk",
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		DecoderOK: true,
	})
	wav := audio.SilentWAV(250*time.Millisecond, 16000)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	text, err := e.Transcribe(ctx, wav)
	require.NoError(t, err)
	assert.Equal(t, "Немає холодної води в будинку", text)
	assert.Equal(t, int64(len(wav)-44), sent.Load(), "WAV header stripped for linear16")
	assert.Contains(t, query, "encoding=linear16")
	assert.Contains(t, query, "language=uk")
}

func TestDeepgramEngineDegradedSendsContainer(t *testing.T) {
	var query string
	var sent atomic.Int64
	srv := deepgramServer(t, []deepgramResponse{result("текст", true)}, &query, &sent)
	defer srv.Close()

	e := NewDeepgramEngine(DeepgramConfig{APIKey: "dg-key", URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.Equal(t, engine.Degraded, e.Capability())

	raw := []byte("OggS not decoded")
	text, err := e.Transcribe(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "текст", text)
	assert.Equal(t, int64(len(raw)), sent.Load())
	assert.NotContains(t, query, "encoding=")
}

func TestDeepgramEngineSendsNonCanonicalWAVRaw(t *testing.T) {
	var query string
	var sent atomic.Int64
	srv := deepgramServer(t, []deepgramResponse{result("текст", true)}, &query, &sent)
	defer srv.Close()

	e := NewDeepgramEngine(DeepgramConfig{
		APIKey:    "dg-key",
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		DecoderOK: true,
	})
	canonical := audio.SilentWAV(100*time.Millisecond, 16000)
	wav := append([]byte{}, canonical[:36]...)
	wav = append(wav, "LIST\x04\x00\x00\x00INFO"...)
	wav = append(wav, canonical[36:]...)

	_, err := e.Transcribe(context.Background(), wav)
	require.NoError(t, err)
	assert.Equal(t, int64(len(wav)), sent.Load(), "whole file streamed")
	assert.NotContains(t, query, "encoding=")
}

func TestDeepgramEngineDialFailure(t *testing.T) {
	e := NewDeepgramEngine(DeepgramConfig{APIKey: "k", URL: "ws://127.0.0.1:1"})
	_, err := e.Transcribe(context.Background(), []byte("OggS"))
	assert.Error(t, err)
}
