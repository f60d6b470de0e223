package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 1024
)

// Anthropic calls the Anthropic messages API.
type Anthropic struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

// AnthropicOption configures the client.
type AnthropicOption func(*Anthropic)

// WithAnthropicBaseURL overrides the API base URL.
func WithAnthropicBaseURL(u string) AnthropicOption {
	return func(c *Anthropic) { c.baseURL = u }
}

// WithAnthropicHTTPClient overrides the HTTP client.
func WithAnthropicHTTPClient(h *http.Client) AnthropicOption {
	return func(c *Anthropic) { c.httpc = h }
}

// NewAnthropic creates an Anthropic backend.
func NewAnthropic(apiKey string, opts ...AnthropicOption) *Anthropic {
	c := &Anthropic{apiKey: apiKey, baseURL: defaultAnthropicBaseURL, httpc: newHTTPClient()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Provider.
func (c *Anthropic) Name() string { return "anthropic" }

type anthropicContentBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Provider.
func (c *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	blocks := []anthropicContentBlock{}
	if req.ImageBase64 != "" {
		blocks = append(blocks, anthropicContentBlock{
			Type: "image",
			Source: &anthropicSource{
				Type:      "base64",
				MediaType: req.ImageMediaType,
				Data:      req.ImageBase64,
			},
		})
	}
	blocks = append(blocks, anthropicContentBlock{Type: "text", Text: userPrompt(req)})

	body, err := json.Marshal(anthropicRequest{
		Model:     req.Model,
		MaxTokens: anthropicMaxTokens,
		System:    req.System,
		Messages:  []anthropicMessage{{Role: "user", Content: blocks}},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}

	var envelope anthropicResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, statusError("anthropic", resp.StatusCode, raw)
		}
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("anthropic: %s", envelope.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("anthropic", resp.StatusCode, raw)
	}
	for _, block := range envelope.Content {
		if block.Type == "text" && block.Text != "" {
			return &Response{Text: block.Text, Provider: c.Name()}, nil
		}
	}
	return nil, fmt.Errorf("anthropic: %w", ErrNoContent)
}
