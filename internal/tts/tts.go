// Package tts turns response text into audio. Gateway tries engines in
// order and falls back to a silent placeholder, so it always returns audio.
package tts

import (
	"context"
	"errors"

	"github.com/lukasbauer/hotline/internal/engine"
)

var (
	ErrEmptyText  = errors.New("empty text")
	ErrEmptyAudio = errors.New("engine returned no audio")
)

// Audio is a synthesized payload. Data may be WAV or a compressed container;
// callers detect which with audio.Sniff.
type Audio struct {
	Data       []byte
	SampleRate int
}

// Engine is one synthesis backend. voice is already resolved for this engine.
type Engine interface {
	Name() string
	Capability() engine.Capability
	Synthesize(ctx context.Context, text, voice string) (Audio, error)
}
