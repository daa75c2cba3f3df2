package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lukasbauer/hotline/internal/engine"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	openAITTSEndpoint = "/audio/speech"

	ModelTTS1 = "tts-1"

	// OpenAI speech output is fixed at 24 kHz.
	openAISampleRate = 24000
)

// OpenAIEngine is the secondary synthesis engine. It returns mp3.
type OpenAIEngine struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	if cfg.Model == "" {
		cfg.Model = ModelTTS1
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIBaseURL
	}
	return &OpenAIEngine{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		httpClient: &http.Client{},
	}
}

func (e *OpenAIEngine) Name() string { return "openai" }

func (e *OpenAIEngine) Capability() engine.Capability {
	if e.apiKey == "" {
		return engine.Unavailable
	}
	return engine.Ready
}

type openAIRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (e *OpenAIEngine) Synthesize(ctx context.Context, text, voice string) (Audio, error) {
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	if voice == "" {
		voice = "alloy"
	}

	body, err := json.Marshal(openAIRequest{
		Model:          e.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return Audio{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+openAITTSEndpoint, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Audio{}, fmt.Errorf("OpenAI speech API error: %s - %s", resp.Status, string(respBody))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(data) == 0 {
		return Audio{}, ErrEmptyAudio
	}
	return Audio{Data: data, SampleRate: openAISampleRate}, nil
}
