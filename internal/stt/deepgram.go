package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lukasbauer/hotline/internal/audio"
	"github.com/lukasbauer/hotline/internal/engine"
)

const (
	deepgramWSURL = "wss://api.deepgram.com/v1/listen"

	// 100ms of 16 kHz 16-bit mono per frame.
	deepgramChunkSize = 3200
)

// Segment is one result frame from the streaming API.
type Segment struct {
	Text       string
	Confidence float64
	IsFinal    bool
}

// DeepgramConfig holds configuration for the Deepgram engine.
type DeepgramConfig struct {
	APIKey     string
	Language   string // e.g. "uk"
	Model      string // e.g. "nova-2"
	SampleRate int
	Punctuate  bool
	URL        string
	DecoderOK  bool
}

// deepgramResponse represents a Deepgram WebSocket response.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

// DeepgramClient is one streaming connection to Deepgram.
type DeepgramClient struct {
	conn      *websocket.Conn
	results   chan Segment
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	finished  bool
	mu        sync.Mutex
	wg        sync.WaitGroup
}

// dialDeepgram opens a stream. raw=true lets Deepgram detect the container itself.
func dialDeepgram(ctx context.Context, cfg DeepgramConfig, raw bool) (*DeepgramClient, error) {
	q := url.Values{}
	q.Set("model", cfg.Model)
	q.Set("language", cfg.Language)
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))
	if !raw {
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
		q.Set("channels", "1")
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL+"?"+q.Encode(), headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	client := &DeepgramClient{
		conn:    conn,
		results: make(chan Segment, 100),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}

	client.wg.Add(1)
	go client.readLoop()

	return client, nil
}

// StreamAudio sends one binary frame.
func (c *DeepgramClient) StreamAudio(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("client is closed")
	default:
	}

	return c.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Finish asks Deepgram to flush pending results and close the stream.
func (c *DeepgramClient) Finish() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = true
	return c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`))
}

// Results is closed once the server ends the stream or the client is closed.
func (c *DeepgramClient) Results() <-chan Segment {
	return c.results
}

func (c *DeepgramClient) Errors() <-chan error {
	return c.errors
}

// Close closes the Deepgram connection.
func (c *DeepgramClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
		// Wait for readLoop to finish before returning
		c.wg.Wait()
	})
	return err
}

func (c *DeepgramClient) readLoop() {
	defer c.wg.Done()
	defer close(c.results)

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			finished := c.finished
			c.mu.Unlock()
			if finished && websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return
			}
			select {
			case <-c.done:
			case c.errors <- fmt.Errorf("read error: %w", err):
			default:
			}
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			log.Printf("deepgram: failed to parse response: %v", err)
			continue
		}
		if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
			continue
		}

		alt := resp.Channel.Alternatives[0]
		seg := Segment{Text: alt.Transcript, Confidence: alt.Confidence, IsFinal: resp.IsFinal}

		select {
		case <-c.done:
			return
		case c.results <- seg:
		}
	}
}

// DeepgramEngine is the secondary transcription engine. It drives one
// streaming connection per call and joins the final segments.
type DeepgramEngine struct {
	cfg        DeepgramConfig
	capability engine.Capability
}

func NewDeepgramEngine(cfg DeepgramConfig) *DeepgramEngine {
	if cfg.URL == "" {
		cfg.URL = deepgramWSURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &DeepgramEngine{cfg: cfg, capability: capabilityFor(cfg.APIKey, cfg.DecoderOK)}
}

func (e *DeepgramEngine) Name() string { return "deepgram" }

func (e *DeepgramEngine) Capability() engine.Capability { return e.capability }

func (e *DeepgramEngine) Transcribe(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}

	payload := data
	raw := true
	if _, err := audio.ParseWAVHeader(data); err == nil && e.capability == engine.Ready {
		payload = data[44:]
		raw = false
	}

	client, err := dialDeepgram(ctx, e.cfg, raw)
	if err != nil {
		return "", err
	}
	defer client.Close()

	for off := 0; off < len(payload); off += deepgramChunkSize {
		end := min(off+deepgramChunkSize, len(payload))
		if err := client.StreamAudio(payload[off:end]); err != nil {
			return "", fmt.Errorf("deepgram stream: %w", err)
		}
	}
	if err := client.Finish(); err != nil {
		return "", fmt.Errorf("deepgram finish: %w", err)
	}

	var parts []string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err := <-client.Errors():
			return "", err
		case seg, ok := <-client.Results():
			if !ok {
				// readLoop reports its error before closing results
				select {
				case err := <-client.Errors():
					return "", err
				default:
				}
				return strings.Join(parts, " "), nil
			}
			if seg.IsFinal && strings.TrimSpace(seg.Text) != "" {
				parts = append(parts, strings.TrimSpace(seg.Text))
			}
		}
	}
}
