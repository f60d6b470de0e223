package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI calls the OpenAI chat completions API.
type OpenAI struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

// OpenAIOption configures the client.
type OpenAIOption func(*OpenAI)

// WithOpenAIBaseURL overrides the API base URL (for proxies and tests).
func WithOpenAIBaseURL(u string) OpenAIOption {
	return func(c *OpenAI) { c.baseURL = u }
}

// WithOpenAIHTTPClient overrides the HTTP client.
func WithOpenAIHTTPClient(h *http.Client) OpenAIOption {
	return func(c *OpenAI) { c.httpc = h }
}

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	c := &OpenAI{apiKey: apiKey, baseURL: defaultOpenAIBaseURL, httpc: newHTTPClient()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Provider.
func (c *OpenAI) Name() string { return "openai" }

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete implements Provider.
func (c *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	var userContent interface{}
	if req.ImageBase64 != "" {
		userContent = []openAIContentPart{
			{Type: "text", Text: userPrompt(req)},
			{Type: "image_url", ImageURL: &openAIImageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", req.ImageMediaType, req.ImageBase64),
			}},
		}
	} else {
		userContent = userPrompt(req)
	}

	messages := []openAIMessage{}
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: userContent})

	body, err := json.Marshal(openAIRequest{Model: req.Model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	var envelope openAIResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, statusError("openai", resp.StatusCode, raw)
		}
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("openai: %s", envelope.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("openai", resp.StatusCode, raw)
	}
	if len(envelope.Choices) == 0 || envelope.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("openai: %w", ErrNoContent)
	}
	return &Response{Text: envelope.Choices[0].Message.Content, Provider: c.Name()}, nil
}
