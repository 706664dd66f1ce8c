package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	modelpkg "github.com/stupiduntilnot/windowchat/internal/model"
)

// Client is a minimal client for OpenAI-compatible text completion servers
// (LM Studio, vLLM, llama.cpp server).
type Client struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
}

// NewClient creates a completions client. url is the full
// /v1/completions endpoint.
func NewClient(apiKey, url, model string, timeout time.Duration) *Client {
	return &Client{
		apiKey: apiKey,
		url:    url,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type completionRequest struct {
	Model             string  `json:"model"`
	Prompt            string  `json:"prompt"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Complete sends a completion request for prompt. The generated text is
// returned as-is.
func (c *Client) Complete(ctx context.Context, prompt string, params modelpkg.GenerationParams) (modelpkg.CompletionResponse, error) {
	reqBody := completionRequest{
		Model:             c.model,
		Prompt:            prompt,
		MaxTokens:         params.MaxNewTokens,
		Temperature:       params.Temperature,
		TopP:              params.TopP,
		RepetitionPenalty: params.RepetitionPenalty,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed to marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed to create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed reading openai response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		truncated := truncate(string(body), 400)
		return modelpkg.CompletionResponse{}, fmt.Errorf("openai non-success status=%d body=%s", resp.StatusCode, truncated)
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		truncated := truncate(string(body), 400)
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed to parse openai response: %s", truncated)
	}
	if len(parsed.Choices) == 0 {
		return modelpkg.CompletionResponse{}, fmt.Errorf("openai response has no choices")
	}

	result := modelpkg.CompletionResponse{Content: parsed.Choices[0].Text}
	if parsed.Usage != nil {
		result.InputTokens = parsed.Usage.PromptTokens
		result.OutputTokens = parsed.Usage.CompletionTokens
	}
	return result, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
