package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pulseops/ai-gateway/internal/gateway/tokencount"
)

// openAICompat relays to vendors that speak the OpenAI wire format on their
// own endpoints (Mistral, xAI). estimateUsage enables a token-count fallback
// for vendors that omit the usage block.
type openAICompat struct {
	name          string
	baseURL       string
	httpClient    *http.Client
	estimateUsage bool
	embeddings    bool
}

// compatResponse is the OpenAI-shaped completion body.
type compatResponse struct {
	ID      string                        `json:"id"`
	Object  string                        `json:"object"`
	Created int64                         `json:"created"`
	Model   string                        `json:"model"`
	Choices []openai.ChatCompletionChoice `json:"choices"`
	Usage   openai.Usage                  `json:"usage"`
}

// compatEmbeddingsResponse is the OpenAI-shaped embeddings body.
type compatEmbeddingsResponse struct {
	Object string             `json:"object"`
	Data   []openai.Embedding `json:"data"`
	Model  string             `json:"model"`
	Usage  openai.Usage       `json:"usage"`
}

func (p *openAICompat) post(ctx context.Context, secret, path string, payload any) (*http.Response, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+secret)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: p.name, Message: err.Error()}
	}
	return resp, nil
}

// ChatCompletion makes a chat completion request.
func (p *openAICompat) ChatCompletion(ctx context.Context, secret string, req ChatRequest) (*ChatResponse, error) {
	startTime := time.Now()

	resp, err := p.post(ctx, secret, "/v1/chat/completions", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamErrorFromBody(p.name, resp.StatusCode, body)
	}

	var parsed compatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &UpstreamError{Provider: p.name, StatusCode: resp.StatusCode, Message: "malformed response body"}
	}

	out := &ChatResponse{
		ID:        parsed.ID,
		Object:    "chat.completion",
		Created:   parsed.Created,
		Model:     parsed.Model,
		Choices:   parsed.Choices,
		Usage:     parsed.Usage,
		LatencyMs: int(time.Since(startTime).Milliseconds()),
	}

	if p.estimateUsage && out.Usage.TotalTokens == 0 {
		in := tokencount.EstimateMessages(req.Messages)
		outTok := 0
		for _, c := range parsed.Choices {
			outTok += tokencount.Estimate(c.Message.Content)
		}
		out.Usage = openai.Usage{PromptTokens: in, CompletionTokens: outTok, TotalTokens: in + outTok}
		out.UsageEstimated = true
	}

	return out, nil
}

// ChatCompletionStream makes a streaming request.
func (p *openAICompat) ChatCompletionStream(ctx context.Context, secret string, req ChatRequest) (StreamReader, error) {
	req.Stream = true

	resp, err := p.post(ctx, secret, "/v1/chat/completions", req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, upstreamErrorFromBody(p.name, resp.StatusCode, body)
	}

	return &compatStreamReader{
		reader: bufio.NewReader(resp.Body),
		resp:   resp,
	}, nil
}

// Embeddings makes an embeddings request for vendors that support it.
func (p *openAICompat) Embeddings(ctx context.Context, secret string, req EmbeddingsRequest) (*EmbeddingsResponse, error) {
	if !p.embeddings {
		return nil, ErrEmbeddingsUnsupported
	}

	startTime := time.Now()

	resp, err := p.post(ctx, secret, "/v1/embeddings", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamErrorFromBody(p.name, resp.StatusCode, body)
	}

	var parsed compatEmbeddingsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &UpstreamError{Provider: p.name, StatusCode: resp.StatusCode, Message: "malformed response body"}
	}

	return &EmbeddingsResponse{
		Object:    "list",
		Data:      parsed.Data,
		Model:     parsed.Model,
		Usage:     parsed.Usage,
		LatencyMs: int(time.Since(startTime).Milliseconds()),
	}, nil
}

// Name returns the provider identifier.
func (p *openAICompat) Name() string {
	return p.name
}

// compatStreamReader parses OpenAI-format SSE chunks.
type compatStreamReader struct {
	reader *bufio.Reader
	resp   *http.Response
}

// Recv reads the next streaming chunk.
func (r *compatStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			return openai.ChatCompletionStreamResponse{}, err
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		dataStr := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if dataStr == "[DONE]" {
			return openai.ChatCompletionStreamResponse{}, io.EOF
		}

		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(dataStr), &chunk); err != nil {
			continue
		}

		return chunk, nil
	}
}

// Close closes the stream.
func (r *compatStreamReader) Close() error {
	if r.resp != nil && r.resp.Body != nil {
		return r.resp.Body.Close()
	}
	return nil
}

// MistralProvider relays to Mistral's OpenAI-compatible API.
type MistralProvider struct {
	openAICompat
}

// NewMistralProvider creates a new Mistral adapter.
func NewMistralProvider(timeout time.Duration) *MistralProvider {
	return NewMistralProviderWithBaseURL("https://api.mistral.ai", timeout)
}

// NewMistralProviderWithBaseURL overrides the endpoint, used by tests.
func NewMistralProviderWithBaseURL(baseURL string, timeout time.Duration) *MistralProvider {
	return &MistralProvider{openAICompat{
		name:       ProviderMistral,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		embeddings: true,
	}}
}

// XAIProvider relays to xAI's OpenAI-compatible API. Grok responses omit the
// usage block often enough that the adapter estimates missing counts.
type XAIProvider struct {
	openAICompat
}

// NewXAIProvider creates a new xAI adapter.
func NewXAIProvider(timeout time.Duration) *XAIProvider {
	return NewXAIProviderWithBaseURL("https://api.x.ai", timeout)
}

// NewXAIProviderWithBaseURL overrides the endpoint, used by tests.
func NewXAIProviderWithBaseURL(baseURL string, timeout time.Duration) *XAIProvider {
	return &XAIProvider{openAICompat{
		name:          ProviderXAI,
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: timeout},
		estimateUsage: true,
	}}
}
