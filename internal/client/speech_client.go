package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adforge/api/internal/config"
)

// SpeechGenerator defines the interface for voiceover synthesis
type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, text string) (string, error)
}

// SpeechClient implements SpeechGenerator for a hosted TTS service
type SpeechClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	voiceID    string
}

type speechRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	Format  string `json:"format"`
}

type speechResponse struct {
	AudioURL string  `json:"audio_url"`
	Duration float64 `json:"duration"`
}

// NewSpeechClient creates a new TTS client
func NewSpeechClient(cfg *config.SpeechConfig) *SpeechClient {
	return &SpeechClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		voiceID: cfg.VoiceID,
	}
}

// GenerateSpeech synthesizes narration for one scene and returns the hosted
// audio URL. TTS is fast enough that the service responds synchronously.
func (c *SpeechClient) GenerateSpeech(ctx context.Context, text string) (string, error) {
	reqBody := speechRequest{
		Text:    text,
		VoiceID: c.voiceID,
		Format:  "mp3",
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/speech", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError("speech", "tts", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError("speech", "tts", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("speech", "tts", resp.StatusCode, string(respBody))
	}

	var result speechResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if result.AudioURL == "" {
		return "", permanentError("speech", "tts", fmt.Errorf("no audio URL in response"))
	}

	return result.AudioURL, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SpeechClient) IsConfigured() bool {
	return c.apiKey != ""
}
