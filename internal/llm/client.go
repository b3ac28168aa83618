package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"

var errMissingAPIKey = errors.New("llm api key is required")

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client — OpenAI-совместимый chat completions клиент.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	model       string
	temperature float64
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errMissingAPIKey
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.1
	}

	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		model:       cfg.Model,
		temperature: temperature,
	}, nil
}

func (c *Client) SendMessage(ctx context.Context, messages []Message) (string, error) {
	payload := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &ProviderError{Op: "marshal", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", &ProviderError{Op: "request", Err: err}
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Op: "read", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ProviderError{
			Op:         "send",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", truncate(string(respBody), 512)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &ProviderError{Op: "decode", Err: err}
	}

	if parsed.Error != nil {
		return "", &ProviderError{Op: "send", Err: errors.New(parsed.Error.Message)}
	}

	if len(parsed.Choices) == 0 {
		return "", &ProviderError{Op: "send", Err: errors.New("no choices returned")}
	}

	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
