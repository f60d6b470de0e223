// Package ai implements the remote completion backends that answer questions
// about selected document regions. Each backend's response is modelled as a
// typed envelope validated at the boundary instead of trusted loose fields.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNoContent means the backend replied successfully but carried no usable
// completion text.
var ErrNoContent = errors.New("provider returned no content")

// Request is one completion call. Context fields are optional: Text carries
// the captured selection, Image a base64-encoded raster snippet.
type Request struct {
	Model          string
	System         string
	Query          string
	ContextText    string
	ImageBase64    string
	ImageMediaType string // e.g. "image/png"; required when ImageBase64 is set
}

// Response is a completed call, tagged with the provider that produced it.
type Response struct {
	Text     string
	Provider string
}

// Provider is a single AI completion backend.
type Provider interface {
	// Name is the stable provider tag recorded on annotations.
	Name() string
	// Complete runs one synchronous completion. Errors carry the message
	// extracted from the backend's error envelope where one exists.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// userPrompt combines the question with the captured selection context.
func userPrompt(req Request) string {
	if req.ContextText == "" {
		return req.Query
	}
	return fmt.Sprintf("%s\n\nSelected passage:\n%s", req.Query, req.ContextText)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 120 * time.Second}
}

// statusError formats a non-2xx response whose body carried no parseable
// error envelope.
func statusError(provider string, status int, body []byte) error {
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("%s: http %d: %s", provider, status, msg)
}
