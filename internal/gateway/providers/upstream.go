package providers

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmbeddingsUnsupported is returned by adapters whose vendor has no
// embeddings endpoint.
var ErrEmbeddingsUnsupported = errors.New("provider does not support embeddings")

// UpstreamError wraps a failed provider call: non-2xx status or an
// unparseable body. The gateway never retries these; retry policy belongs to
// the caller.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s request failed (status %d)", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
}

// upstreamErrorFromBody extracts the provider's own message when the error
// body is OpenAI- or Anthropic-shaped JSON; otherwise the message stays
// generic rather than leaking a raw body.
func upstreamErrorFromBody(provider string, status int, body []byte) *UpstreamError {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return &UpstreamError{Provider: provider, StatusCode: status, Message: parsed.Error.Message}
	}
	return &UpstreamError{Provider: provider, StatusCode: status}
}
