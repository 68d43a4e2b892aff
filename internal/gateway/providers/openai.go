package providers

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider relays requests to the OpenAI API via the official-style
// client. A client is built per call from the routed connection secret.
type OpenAIProvider struct {
	baseURL string
}

// NewOpenAIProvider creates the OpenAI adapter.
func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{}
}

// NewOpenAIProviderWithBaseURL overrides the endpoint, used by tests.
func NewOpenAIProviderWithBaseURL(baseURL string) *OpenAIProvider {
	return &OpenAIProvider{baseURL: baseURL}
}

func (p *OpenAIProvider) client(secret string) *openai.Client {
	cfg := openai.DefaultConfig(secret)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (p *OpenAIProvider) buildRequest(req ChatRequest) openai.ChatCompletionRequest {
	openaiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: req.Messages,
	}

	if req.Temperature != nil {
		openaiReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		openaiReq.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		openaiReq.TopP = *req.TopP
	}

	return openaiReq
}

// ChatCompletion makes a chat completion request to OpenAI.
func (p *OpenAIProvider) ChatCompletion(ctx context.Context, secret string, req ChatRequest) (*ChatResponse, error) {
	startTime := time.Now()

	resp, err := p.client(secret).CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return nil, p.wrapError(err)
	}

	return &ChatResponse{
		ID:                resp.ID,
		Object:            resp.Object,
		Created:           resp.Created,
		Model:             resp.Model,
		Choices:           resp.Choices,
		Usage:             resp.Usage,
		SystemFingerprint: resp.SystemFingerprint,
		LatencyMs:         int(time.Since(startTime).Milliseconds()),
	}, nil
}

// ChatCompletionStream creates a streaming chat completion request.
func (p *OpenAIProvider) ChatCompletionStream(ctx context.Context, secret string, req ChatRequest) (StreamReader, error) {
	openaiReq := p.buildRequest(req)
	openaiReq.Stream = true
	openaiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client(secret).CreateChatCompletionStream(ctx, openaiReq)
	if err != nil {
		return nil, p.wrapError(err)
	}

	return &openAIStreamReader{stream: stream}, nil
}

// Embeddings makes an embeddings request to OpenAI.
func (p *OpenAIProvider) Embeddings(ctx context.Context, secret string, req EmbeddingsRequest) (*EmbeddingsResponse, error) {
	startTime := time.Now()

	resp, err := p.client(secret).CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: req.Input,
		Model: openai.EmbeddingModel(req.Model),
	})
	if err != nil {
		return nil, p.wrapError(err)
	}

	return &EmbeddingsResponse{
		Object:    "list",
		Data:      resp.Data,
		Model:     string(resp.Model),
		Usage:     resp.Usage,
		LatencyMs: int(time.Since(startTime).Milliseconds()),
	}, nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Provider: ProviderOpenAI, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	return &UpstreamError{Provider: ProviderOpenAI, Message: err.Error()}
}

// openAIStreamReader wraps the client's native stream.
type openAIStreamReader struct {
	stream *openai.ChatCompletionStream
}

func (r *openAIStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	return r.stream.Recv()
}

func (r *openAIStreamReader) Close() error {
	r.stream.Close()
	return nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return ProviderOpenAI
}
