package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ImageClient generates illustrative images for summary posts. Image
// generation is strictly best-effort; callers must tolerate errors.
type ImageClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewImageClient(apiKey string) *ImageClient {
	return &ImageClient{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
		model:   "gpt-image-1",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *ImageClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Generate renders the prompt into PNG bytes plus a short caption. No image
// (nil bytes) with a nil error never happens; a failed generation is an error.
func (c *ImageClient) Generate(ctx context.Context, prompt string) ([]byte, string, error) {
	if c.apiKey == "" {
		return nil, "", fmt.Errorf("OPENAI_KEY environment variable not set")
	}

	reqBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"size":   "1024x1024",
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image API error (status %d): %s", resp.StatusCode, string(body))
	}

	var response struct {
		Data []struct {
			B64JSON       string `json:"b64_json"`
			RevisedPrompt string `json:"revised_prompt"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Data) == 0 {
		return nil, "", fmt.Errorf("image API returned no images")
	}

	img, err := base64.StdEncoding.DecodeString(response.Data[0].B64JSON)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image data: %w", err)
	}

	caption := response.Data[0].RevisedPrompt
	if caption == "" {
		caption = prompt
	}
	return img, caption, nil
}
