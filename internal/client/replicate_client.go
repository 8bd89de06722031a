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

// VideoGenerator defines the interface for scene video generation
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, prompt, continuityRef string) (string, error)
}

// ReplicateClient implements VideoGenerator against the Replicate
// predictions API. Video generation is slow, so it is a submit/poll flow.
type ReplicateClient struct {
	httpClient   *http.Client
	baseURL      string
	apiToken     string
	modelVersion string
	pollInterval time.Duration
	maxWait      time.Duration
}

// Prediction represents the state of one Replicate prediction
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type predictionRequest struct {
	Version string                 `json:"version"`
	Input   map[string]interface{} `json:"input"`
}

// NewReplicateClient creates a new Replicate API client
func NewReplicateClient(cfg *config.ReplicateConfig) *ReplicateClient {
	return &ReplicateClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL:      cfg.BaseURL,
		apiToken:     cfg.APIToken,
		modelVersion: cfg.ModelVersion,
		pollInterval: time.Duration(cfg.PollIntervalSec) * time.Second,
		maxWait:      time.Duration(cfg.MaxWaitSec) * time.Second,
	}
}

// GenerateVideo submits a scene prediction and blocks until it finishes.
// continuityRef, when set, is the previous scene's asset URL fed as the
// visual conditioning input.
func (c *ReplicateClient) GenerateVideo(ctx context.Context, prompt, continuityRef string) (string, error) {
	input := map[string]interface{}{
		"prompt": prompt,
	}
	if continuityRef != "" {
		input["image"] = continuityRef
	}

	pred, err := c.CreatePrediction(ctx, input)
	if err != nil {
		return "", err
	}

	final, err := c.PollPrediction(ctx, pred.ID)
	if err != nil {
		return "", err
	}

	return outputURL(final)
}

// CreatePrediction submits a new prediction
func (c *ReplicateClient) CreatePrediction(ctx context.Context, input map[string]interface{}) (*Prediction, error) {
	req := predictionRequest{
		Version: c.modelVersion,
		Input:   input,
	}

	var pred Prediction
	if err := c.do(ctx, http.MethodPost, "/v1/predictions", req, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// GetPrediction retrieves the current state of a prediction
func (c *ReplicateClient) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	var pred Prediction
	if err := c.do(ctx, http.MethodGet, "/v1/predictions/"+id, nil, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// PollPrediction polls until the prediction reaches a terminal status
func (c *ReplicateClient) PollPrediction(ctx context.Context, id string) (*Prediction, error) {
	deadline := time.Now().Add(c.maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		pred, err := c.GetPrediction(ctx, id)
		if err != nil {
			return nil, err
		}

		log.Printf("[Replicate] Poll #%d (prediction=%s) — status: %s", attempt, id, pred.Status)

		switch pred.Status {
		case "succeeded":
			return pred, nil
		case "failed":
			// The model rejected the input; a retry with the same prompt
			// would just bill us again.
			return nil, permanentError("replicate", "video", fmt.Errorf("prediction failed: %s", pred.Error))
		case "canceled":
			return nil, permanentError("replicate", "video", fmt.Errorf("prediction canceled upstream"))
		}

		select {
		case <-ctx.Done():
			return nil, transportError("replicate", "video", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}

	return nil, transportError("replicate", "video", fmt.Errorf("prediction timed out after %v", c.maxWait))
}

// outputURL extracts the asset URL from a finished prediction. Replicate
// models return either a bare string or an array of strings.
func outputURL(pred *Prediction) (string, error) {
	var single string
	if err := json.Unmarshal(pred.Output, &single); err == nil && single != "" {
		return single, nil
	}

	var many []string
	if err := json.Unmarshal(pred.Output, &many); err == nil && len(many) > 0 {
		return many[0], nil
	}

	return "", permanentError("replicate", "video", fmt.Errorf("prediction %s has no usable output", pred.ID))
}

func (c *ReplicateClient) do(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiToken)

	log.Printf("[Replicate] → %s %s", method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Replicate] ✗ %s %s — request failed: %v", method, req.URL.String(), err)
		return transportError("replicate", "video", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError("replicate", "video", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("replicate", "video", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *ReplicateClient) IsConfigured() bool {
	return c.apiToken != "" && c.modelVersion != ""
}
