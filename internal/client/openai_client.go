package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adforge/api/internal/config"
	"github.com/adforge/api/internal/model"
)

// ImageGenerator defines the interface for reference image generation
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// StorylineGenerator defines the interface for script generation
type StorylineGenerator interface {
	GenerateStoryline(ctx context.Context, brief *model.Brief) (*model.Storyline, error)
}

// OpenAIClient talks to an OpenAI-compatible API for reference images and
// storyline scripts.
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	chatModel  string
	imageModel string
}

// NewOpenAIClient creates a new OpenAI API client
func NewOpenAIClient(cfg *config.OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		chatModel:  cfg.ChatModel,
		imageModel: cfg.ImageModel,
	}
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// GenerateImage creates one brand reference image and returns its hosted URL
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	req := imageRequest{
		Model:          c.imageModel,
		Prompt:         prompt,
		N:              1,
		Size:           "1024x1024",
		ResponseFormat: "url",
	}

	var resp imageResponse
	if err := c.post(ctx, "image", "/images/generations", req, &resp); err != nil {
		return "", err
	}

	if len(resp.Data) == 0 {
		return "", permanentError("openai", "image", fmt.Errorf("no images in response"))
	}
	return resp.Data[0].URL, nil
}

const storylineSystemPrompt = `You are a video ad creative director. Respond with a single JSON object and nothing else:
{"scenes":[{"duration":<seconds>,"visualPrompt":"...","narration":"..."}],"overlays":[],"musicHint":"..."}
Every scene needs a duration between 3 and 10 seconds and a concrete visualPrompt. Narration may be empty for purely visual scenes.`

// GenerateStoryline asks the chat model for a structured script covering the
// brief. A response that does not parse into the requested scene count is
// reported as transient so the orchestrator retries the call.
func (c *OpenAIClient) GenerateStoryline(ctx context.Context, brief *model.Brief) (*model.Storyline, error) {
	user := fmt.Sprintf(
		"Write a %d-scene video ad script.\nProduct: %s\nDescription: %s\nTone: %s\nCall to action: %s",
		brief.SceneCount, brief.ProductName, brief.Description, brief.Tone, brief.CallToAction,
	)

	req := chatCompletionRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: storylineSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   2048,
	}

	var resp chatCompletionResponse
	if err := c.post(ctx, "storyline", "/chat/completions", req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, malformedStoryline("no choices in response", "")
	}

	content := stripCodeFences(resp.Choices[0].Message.Content)

	var storyline model.Storyline
	if err := json.Unmarshal([]byte(content), &storyline); err != nil {
		return nil, malformedStoryline(fmt.Sprintf("not valid JSON: %v", err), content)
	}

	if err := validateStoryline(&storyline, brief.SceneCount); err != nil {
		return nil, malformedStoryline(err.Error(), content)
	}

	return &storyline, nil
}

// malformedStoryline is transient: the model usually produces a valid script
// on a repeat call.
func malformedStoryline(reason, content string) *RemoteError {
	if len(content) > 300 {
		content = content[:300]
	}
	return &RemoteError{
		Service:   "openai",
		Op:        "storyline",
		Transient: true,
		Body:      content,
		Err:       fmt.Errorf("malformed storyline: %s", reason),
	}
}

func validateStoryline(s *model.Storyline, wantScenes int) error {
	if len(s.Scenes) != wantScenes {
		return fmt.Errorf("expected %d scenes, got %d", wantScenes, len(s.Scenes))
	}
	for i, scene := range s.Scenes {
		if scene.Duration <= 0 {
			return fmt.Errorf("scene %d has non-positive duration", i)
		}
		if strings.TrimSpace(scene.VisualPrompt) == "" {
			return fmt.Errorf("scene %d has empty visual prompt", i)
		}
	}
	return nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// post sends a POST request with JSON body and parses the response
func (c *OpenAIClient) post(ctx context.Context, op, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError("openai", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError("openai", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("openai", op, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *OpenAIClient) IsConfigured() bool {
	return c.apiKey != ""
}
