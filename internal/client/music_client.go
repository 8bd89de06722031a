package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/adforge/api/internal/config"
)

// MusicGenerator defines the interface for background music generation
type MusicGenerator interface {
	GenerateMusic(ctx context.Context, prompt string, duration float64) (string, error)
}

// MusicClient implements MusicGenerator for a Suno-style music API
type MusicClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxWait      time.Duration
}

type generateMusicRequest struct {
	Prompt          string  `json:"prompt"`
	DurationSeconds float64 `json:"duration_seconds"`
	Instrumental    bool    `json:"instrumental"`
}

type musicTask struct {
	TaskID   string  `json:"task_id"`
	Status   string  `json:"status"`
	AudioURL string  `json:"audio_url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// NewMusicClient creates a new music generation client
func NewMusicClient(cfg *config.MusicConfig) *MusicClient {
	return &MusicClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		pollInterval: time.Duration(cfg.PollIntervalSec) * time.Second,
		maxWait:      time.Duration(cfg.MaxWaitSec) * time.Second,
	}
}

// GenerateMusic requests an instrumental track sized to the composed video
// duration and blocks until it is ready.
func (c *MusicClient) GenerateMusic(ctx context.Context, prompt string, duration float64) (string, error) {
	reqBody := generateMusicRequest{
		Prompt:          prompt,
		DurationSeconds: duration,
		Instrumental:    true,
	}

	var task musicTask
	if err := c.post(ctx, "/v1/music/generate", reqBody, &task); err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		var status musicTask
		if err := c.get(ctx, "/v1/music/status/"+task.TaskID, &status); err != nil {
			return "", err
		}

		log.Printf("[Music] Poll #%d (task=%s) — status: %s", attempt, task.TaskID, status.Status)

		switch status.Status {
		case "completed", "success":
			if status.AudioURL == "" {
				return "", permanentError("music", "generate", fmt.Errorf("task %s completed without audio URL", task.TaskID))
			}
			return status.AudioURL, nil
		case "failed", "error":
			return "", permanentError("music", "generate", fmt.Errorf("music generation failed: %s", status.Status))
		}

		select {
		case <-ctx.Done():
			return "", transportError("music", "generate", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}

	return "", transportError("music", "generate", fmt.Errorf("music generation timed out after %v", c.maxWait))
}

func (c *MusicClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *MusicClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *MusicClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError("music", "generate", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError("music", "generate", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("music", "generate", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *MusicClient) IsConfigured() bool {
	return c.apiKey != ""
}
