// Package ollama is a completion backend for a local Ollama server using the
// raw /api/generate endpoint, so the rendered prompt reaches the model
// without Ollama applying its own chat template.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	modelpkg "github.com/stupiduntilnot/windowchat/internal/model"
)

// ErrorType categorizes client errors.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeInvalidResponse
)

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Options are the sampling options forwarded to the model.
type Options struct {
	NumPredict    int     `json:"num_predict"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Raw     bool    `json:"raw"`
	Options Options `json:"options"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Client talks to an Ollama server.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL
// (e.g. "http://127.0.0.1:11434").
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Complete runs a non-streaming raw generation for prompt.
func (c *Client) Complete(ctx context.Context, prompt string, params modelpkg.GenerationParams) (modelpkg.CompletionResponse, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Raw:    true,
		Options: Options{
			NumPredict:    params.MaxNewTokens,
			Temperature:   params.Temperature,
			TopP:          params.TopP,
			RepeatPenalty: params.RepetitionPenalty,
		},
	})
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return modelpkg.CompletionResponse{}, &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return modelpkg.CompletionResponse{}, &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
		}
		return modelpkg.CompletionResponse{}, &ClientError{Type: ErrTypeNotRunning, Message: "ollama is not reachable", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return modelpkg.CompletionResponse{}, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed reading response", Cause: err}
	}

	var parsed generateResponse
	parseErr := json.Unmarshal(body, &parsed)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return modelpkg.CompletionResponse{}, &ClientError{
			Type:    ErrTypeModelNotFound,
			Message: fmt.Sprintf("model %q not found", c.model),
			Cause:   errors.New(parsed.Error),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := parsed.Error
		if parseErr != nil || msg == "" {
			msg = truncate(string(body), 400)
		}
		return modelpkg.CompletionResponse{}, &ClientError{
			Type:    ErrTypeUnknown,
			Message: fmt.Sprintf("ollama non-success status=%d", resp.StatusCode),
			Cause:   errors.New(msg),
		}
	case parseErr != nil:
		return modelpkg.CompletionResponse{}, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to parse response", Cause: parseErr}
	}

	return modelpkg.CompletionResponse{
		Content:      parsed.Response,
		InputTokens:  parsed.PromptEvalCount,
		OutputTokens: parsed.EvalCount,
	}, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
