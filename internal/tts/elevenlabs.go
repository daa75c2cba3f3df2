package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lukasbauer/hotline/internal/audio"
	"github.com/lukasbauer/hotline/internal/engine"
)

const (
	elevenLabsAPIURL = "https://api.elevenlabs.io/v1/text-to-speech"

	elevenLabsSampleRate = 22050
)

// ElevenLabsEngine is the primary synthesis engine.
type ElevenLabsEngine struct {
	apiKey     string
	baseURL    string
	voiceID    string
	modelID    string
	stability  float64
	similarity float64
	httpClient *http.Client
}

// ElevenLabsConfig holds configuration for the ElevenLabs engine.
type ElevenLabsConfig struct {
	APIKey     string
	VoiceID    string  // default voice when the caller passes none
	ModelID    string  // e.g. "eleven_multilingual_v2"
	Stability  float64 // 0.0-1.0, -1 for default
	Similarity float64 // 0.0-1.0, -1 for default
	BaseURL    string
}

func NewElevenLabsEngine(cfg ElevenLabsConfig) *ElevenLabsEngine {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "eleven_multilingual_v2" // covers Ukrainian
	}
	voiceID := cfg.VoiceID
	if voiceID == "" {
		voiceID = "21m00Tcm4TlvDq8ikWAM" // Rachel - default voice
	}
	stability := cfg.Stability
	if stability < 0 {
		stability = 0.5
	}
	similarity := cfg.Similarity
	if similarity < 0 {
		similarity = 0.75
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsAPIURL
	}
	return &ElevenLabsEngine{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		voiceID:    voiceID,
		modelID:    modelID,
		stability:  stability,
		similarity: similarity,
		httpClient: &http.Client{},
	}
}

func (e *ElevenLabsEngine) Name() string { return "elevenlabs" }

func (e *ElevenLabsEngine) Capability() engine.Capability {
	if e.apiKey == "" {
		return engine.Unavailable
	}
	return engine.Ready
}

// ttsRequest represents an ElevenLabs TTS request.
type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize requests raw 22.05 kHz PCM and wraps it as WAV.
func (e *ElevenLabsEngine) Synthesize(ctx context.Context, text, voice string) (Audio, error) {
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	if voice == "" {
		voice = e.voiceID
	}
	url := fmt.Sprintf("%s/%s?output_format=pcm_%d", e.baseURL, voice, elevenLabsSampleRate)

	body, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: e.modelID,
		VoiceSettings: voiceSettings{
			Stability:       e.stability,
			SimilarityBoost: e.similarity,
		},
	})
	if err != nil {
		return Audio{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Audio{}, fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(pcm) == 0 {
		return Audio{}, ErrEmptyAudio
	}
	return Audio{
		Data:       audio.WrapPCMAsWAV(pcm, elevenLabsSampleRate, 1, 16),
		SampleRate: elevenLabsSampleRate,
	}, nil
}
