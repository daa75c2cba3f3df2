// Package stt turns caller audio into text. Engines are tried in a fixed
// order by Gateway, which always returns some text.
package stt

import (
	"context"
	"errors"

	"github.com/lukasbauer/hotline/internal/engine"
)

var (
	ErrEmptyAudio      = errors.New("empty audio")
	ErrEmptyTranscript = errors.New("engine returned empty transcript")
)

// Engine is one transcription backend.
type Engine interface {
	Name() string
	Capability() engine.Capability
	// Transcribe receives mono 16-bit WAV when the engine is Ready and the
	// caller's original bytes when it is Degraded.
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// capabilityFor derives an engine's flag from its credentials and the decoder probe.
func capabilityFor(apiKey string, decoderOK bool) engine.Capability {
	switch {
	case apiKey == "":
		return engine.Unavailable
	case !decoderOK:
		return engine.Degraded
	default:
		return engine.Ready
	}
}
