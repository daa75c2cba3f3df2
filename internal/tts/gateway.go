package tts

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/lukasbauer/hotline/internal/audio"
	"github.com/lukasbauer/hotline/internal/engine"
	"github.com/lukasbauer/hotline/internal/metrics"
)

const (
	stage = "tts"

	PlaceholderSampleRate = 16000
	PlaceholderDuration   = 2 * time.Second
)

// Placeholder is the deterministic last step: two seconds of 16-bit mono silence.
func Placeholder() Audio {
	return Audio{
		Data:       audio.SilentWAV(PlaceholderDuration, PlaceholderSampleRate),
		SampleRate: PlaceholderSampleRate,
	}
}

// Gateway walks its engines in order and never fails.
type Gateway struct {
	engines []Engine
	voices  VoiceMap
	pool    *engine.Pool
	logger  *log.Logger
}

func NewGateway(engines []Engine, voices VoiceMap, pool *engine.Pool, logger *log.Logger) *Gateway {
	if voices == nil {
		voices = DefaultVoices()
	}
	if pool == nil {
		pool = engine.NewPool(0, 0)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{engines: engines, voices: voices, pool: pool, logger: logger}
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

// Synthesize returns audio for text in the voice named by voiceID.
func (g *Gateway) Synthesize(ctx context.Context, text, voiceID string) Audio {
	text = strings.TrimSpace(text)
	if voiceID == "" {
		voiceID = DefaultVoice
	}

	if text != "" {
		for _, e := range g.engines {
			if !e.Capability().Usable() {
				metrics.RecordEngineAttempt(stage, e.Name(), "skipped", 0)
				continue
			}
			out, err := g.attempt(ctx, e, text, g.voices.Resolve(voiceID, e.Name()))
			if err == nil {
				return out
			}
			g.logger.Printf("tts: %s failed, falling back: %v", e.Name(), err)
		}
	}

	metrics.RecordStandIn(stage)
	return Placeholder()
}

func (g *Gateway) attempt(ctx context.Context, e Engine, text, voice string) (out Audio, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("engine panicked")
			g.logger.Printf("tts: %s panic: %v", e.Name(), r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.RecordEngineAttempt(stage, e.Name(), outcome, time.Since(start).Seconds())
	}()

	err = g.pool.Do(ctx, func(ctx context.Context) error {
		a, err := e.Synthesize(ctx, text, voice)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return Audio{}, err
	}
	if len(out.Data) == 0 || out.SampleRate <= 0 {
		return Audio{}, ErrEmptyAudio
	}
	return out, nil
}
