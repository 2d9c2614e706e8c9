package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPInference calls a remote model service over JSON/HTTP
type HTTPInference struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPInference creates an inference client for the given endpoint
func NewHTTPInference(url, apiKey string) *HTTPInference {
	return &HTTPInference{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

var _ Inference = (*HTTPInference)(nil)

type inferRequest struct {
	Features map[string]float64 `json:"features"`
}

type inferResponse struct {
	Probability  float64 `json:"probability"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
}

// Infer posts the feature vector and decodes the model's answer
func (h *HTTPInference) Infer(ctx context.Context, features map[string]float64) (float64, float64, string, error) {
	body, err := json.Marshal(inferRequest{Features: features})
	if err != nil {
		return 0, 0, "", fmt.Errorf("failed to encode inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, "", fmt.Errorf("failed to build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, 0, "", fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, "", fmt.Errorf("inference service returned %d", resp.StatusCode)
	}

	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, "", fmt.Errorf("failed to decode inference response: %w", err)
	}
	return out.Probability, out.Confidence, out.ModelVersion, nil
}
