package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// Gemini calls the Google Generative Language API.
type Gemini struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

// GeminiOption configures the client.
type GeminiOption func(*Gemini)

// WithGeminiBaseURL overrides the API base URL.
func WithGeminiBaseURL(u string) GeminiOption {
	return func(c *Gemini) { c.baseURL = u }
}

// WithGeminiHTTPClient overrides the HTTP client.
func WithGeminiHTTPClient(h *http.Client) GeminiOption {
	return func(c *Gemini) { c.httpc = h }
}

// NewGemini creates a Gemini backend.
func NewGemini(apiKey string, opts ...GeminiOption) *Gemini {
	c := &Gemini{apiKey: apiKey, baseURL: defaultGeminiBaseURL, httpc: newHTTPClient()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Provider.
func (c *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlobData `json:"inline_data,omitempty"`
}

type geminiBlobData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Provider.
func (c *Gemini) Complete(ctx context.Context, req Request) (*Response, error) {
	parts := []geminiPart{{Text: userPrompt(req)}}
	if req.ImageBase64 != "" {
		parts = append(parts, geminiPart{InlineData: &geminiBlobData{
			MimeType: req.ImageMediaType,
			Data:     req.ImageBase64,
		}})
	}
	payload := geminiRequest{Contents: []geminiContent{{Parts: parts}}}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(req.Model), url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	var envelope geminiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, statusError("gemini", resp.StatusCode, raw)
		}
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("gemini: %s", envelope.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("gemini", resp.StatusCode, raw)
	}
	for _, cand := range envelope.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				return &Response{Text: part.Text, Provider: c.Name()}, nil
			}
		}
	}
	return nil, fmt.Errorf("gemini: %w", ErrNoContent)
}
