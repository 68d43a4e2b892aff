package providers

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// Provider identifiers. These are the values stored on model routes and
// provider connections.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderMistral   = "mistral"
	ProviderXAI       = "xai"
)

// ChatRequest is the gateway's provider-neutral chat request.
type ChatRequest struct {
	Model       string                         `json:"model"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	Temperature *float32                       `json:"temperature,omitempty"`
	MaxTokens   *int                           `json:"max_tokens,omitempty"`
	TopP        *float32                       `json:"top_p,omitempty"`
	Stream      bool                           `json:"stream,omitempty"`
}

// ChatResponse is the normalized reply. UsageEstimated marks token counts
// the gateway derived itself because the provider omitted them.
type ChatResponse struct {
	ID                string                        `json:"id"`
	Object            string                        `json:"object"`
	Created           int64                         `json:"created"`
	Model             string                        `json:"model"`
	Choices           []openai.ChatCompletionChoice `json:"choices"`
	Usage             openai.Usage                  `json:"usage"`
	SystemFingerprint string                        `json:"system_fingerprint,omitempty"`
	LatencyMs         int                           `json:"-"`
	UsageEstimated    bool                          `json:"-"`
}

// EmbeddingsRequest is the provider-neutral embeddings request.
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingsResponse mirrors OpenAI's embeddings list object.
type EmbeddingsResponse struct {
	Object         string             `json:"object"`
	Data           []openai.Embedding `json:"data"`
	Model          string             `json:"model"`
	Usage          openai.Usage       `json:"usage"`
	LatencyMs      int                `json:"-"`
	UsageEstimated bool               `json:"-"`
}

// StreamReader yields incremental chunks in OpenAI delta format.
type StreamReader interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Provider is the uniform call contract for one upstream vendor. The secret
// is passed per call; adapters never hold credentials.
type Provider interface {
	ChatCompletion(ctx context.Context, secret string, req ChatRequest) (*ChatResponse, error)
	ChatCompletionStream(ctx context.Context, secret string, req ChatRequest) (StreamReader, error)
	Embeddings(ctx context.Context, secret string, req EmbeddingsRequest) (*EmbeddingsResponse, error)
	Name() string
}
