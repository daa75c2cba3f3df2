package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/lukasbauer/hotline/internal/audio"
	"github.com/lukasbauer/hotline/internal/engine"
)

const (
	openAIBaseURL            = "https://api.openai.com/v1"
	openAITranscribeEndpoint = "/audio/transcriptions"

	ModelWhisper1 = "whisper-1"
)

// WhisperConfig holds configuration for the OpenAI Whisper engine.
type WhisperConfig struct {
	APIKey    string
	Model     string // default whisper-1
	Language  string // ISO-639-1 hint, e.g. "uk"
	BaseURL   string
	DecoderOK bool
}

// WhisperEngine is the primary transcription engine.
type WhisperEngine struct {
	cfg        WhisperConfig
	capability engine.Capability
	httpClient *http.Client
}

func NewWhisperEngine(cfg WhisperConfig) *WhisperEngine {
	if cfg.Model == "" {
		cfg.Model = ModelWhisper1
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIBaseURL
	}
	return &WhisperEngine{
		cfg:        cfg,
		capability: capabilityFor(cfg.APIKey, cfg.DecoderOK),
		httpClient: &http.Client{},
	}
}

func (e *WhisperEngine) Name() string { return "openai-whisper" }

func (e *WhisperEngine) Capability() engine.Capability { return e.capability }

func (e *WhisperEngine) Transcribe(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio"+audio.Sniff(data).Ext())
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.WriteField("model", e.cfg.Model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if e.cfg.Language != "" {
		if err := writer.WriteField("language", e.cfg.Language); err != nil {
			return "", fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+openAITranscribeEndpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper API error: %s - %s", resp.Status, string(body))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return result.Text, nil
}
