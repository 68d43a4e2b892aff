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

// GoogleProvider handles Gemini API requests.
type GoogleProvider struct {
	baseURL    string
	httpClient *http.Client
}

// GeminiRequest represents a request to Gemini's generateContent API.
type GeminiRequest struct {
	Contents         []GeminiContent         `json:"contents"`
	GenerationConfig *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// GeminiContent represents content in Gemini format.
type GeminiContent struct {
	Role  string       `json:"role"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart represents a part of the content.
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiGenerationConfig represents generation parameters.
type GeminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// GeminiResponse represents a response from the Gemini API.
type GeminiResponse struct {
	Candidates    []GeminiCandidate `json:"candidates"`
	UsageMetadata GeminiUsage       `json:"usageMetadata"`
}

// GeminiCandidate represents a candidate response.
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

// GeminiUsage represents token usage.
type GeminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// geminiEmbedRequest is the batchEmbedContents payload.
type geminiEmbedRequest struct {
	Requests []geminiEmbedItem `json:"requests"`
}

type geminiEmbedItem struct {
	Model   string        `json:"model"`
	Content GeminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// NewGoogleProvider creates a new Gemini adapter.
func NewGoogleProvider(timeout time.Duration) *GoogleProvider {
	return &GoogleProvider{
		baseURL:    "https://generativelanguage.googleapis.com",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewGoogleProviderWithBaseURL overrides the endpoint, used by tests.
func NewGoogleProviderWithBaseURL(baseURL string, timeout time.Duration) *GoogleProvider {
	return &GoogleProvider{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// ChatCompletion makes a chat completion request to Gemini.
func (p *GoogleProvider) ChatCompletion(ctx context.Context, secret string, req ChatRequest) (*ChatResponse, error) {
	startTime := time.Now()

	geminiReq := p.convertRequest(req)

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, req.Model, secret)

	reqBody, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: ProviderGoogle, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamErrorFromBody(ProviderGoogle, resp.StatusCode, body)
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, &UpstreamError{Provider: ProviderGoogle, StatusCode: resp.StatusCode, Message: "malformed response body"}
	}

	return p.convertResponse(geminiResp, req, int(time.Since(startTime).Milliseconds())), nil
}

// ChatCompletionStream makes a streaming request.
func (p *GoogleProvider) ChatCompletionStream(ctx context.Context, secret string, req ChatRequest) (StreamReader, error) {
	geminiReq := p.convertRequest(req)

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse", p.baseURL, req.Model, secret)

	reqBody, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: ProviderGoogle, Message: err.Error()}
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(httpResp.Body)
		return nil, upstreamErrorFromBody(ProviderGoogle, httpResp.StatusCode, body)
	}

	return &googleStreamReader{
		reader: bufio.NewReader(httpResp.Body),
		resp:   httpResp,
		model:  req.Model,
	}, nil
}

// Embeddings makes a batch embedContent request. Gemini reports no usage for
// embeddings, so token counts are estimated and flagged.
func (p *GoogleProvider) Embeddings(ctx context.Context, secret string, req EmbeddingsRequest) (*EmbeddingsResponse, error) {
	startTime := time.Now()

	embedReq := geminiEmbedRequest{}
	for _, input := range req.Input {
		embedReq.Requests = append(embedReq.Requests, geminiEmbedItem{
			Model:   "models/" + req.Model,
			Content: GeminiContent{Parts: []GeminiPart{{Text: input}}},
		})
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:batchEmbedContents?key=%s", p.baseURL, req.Model, secret)

	reqBody, err := json.Marshal(embedReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: ProviderGoogle, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamErrorFromBody(ProviderGoogle, resp.StatusCode, body)
	}

	var embedResp geminiEmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, &UpstreamError{Provider: ProviderGoogle, StatusCode: resp.StatusCode, Message: "malformed response body"}
	}

	out := &EmbeddingsResponse{
		Object:         "list",
		Model:          req.Model,
		LatencyMs:      int(time.Since(startTime).Milliseconds()),
		UsageEstimated: true,
	}

	tokens := 0
	for i, emb := range embedResp.Embeddings {
		out.Data = append(out.Data, openai.Embedding{
			Object:    "embedding",
			Index:     i,
			Embedding: emb.Values,
		})
	}
	for _, input := range req.Input {
		tokens += tokencount.Estimate(input)
	}
	out.Usage = openai.Usage{PromptTokens: tokens, TotalTokens: tokens}

	return out, nil
}

// googleStreamReader wraps the HTTP response for streaming.
type googleStreamReader struct {
	reader *bufio.Reader
	resp   *http.Response
	model  string
}

// Recv reads the next streaming chunk.
func (r *googleStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			return openai.ChatCompletionStreamResponse{}, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "data:") {
			dataStr := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var geminiResp GeminiResponse
			if err := json.Unmarshal([]byte(dataStr), &geminiResp); err != nil {
				continue
			}

			return r.convertChunk(geminiResp), nil
		}
	}
}

// Close closes the stream.
func (r *googleStreamReader) Close() error {
	if r.resp != nil && r.resp.Body != nil {
		return r.resp.Body.Close()
	}
	return nil
}

// convertChunk converts a Gemini chunk to OpenAI delta format.
func (r *googleStreamReader) convertChunk(resp GeminiResponse) openai.ChatCompletionStreamResponse {
	chunk := openai.ChatCompletionStreamResponse{
		ID:      fmt.Sprintf("gemini-stream-%d", time.Now().UnixNano()),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   r.model,
		Choices: []openai.ChatCompletionStreamChoice{},
	}

	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		var content string
		for _, part := range candidate.Content.Parts {
			content += part.Text
		}

		choice := openai.ChatCompletionStreamChoice{
			Index: candidate.Index,
			Delta: openai.ChatCompletionStreamChoiceDelta{},
		}

		if candidate.Content.Role != "" {
			choice.Delta.Role = "assistant"
		}
		if content != "" {
			choice.Delta.Content = content
		}
		if candidate.FinishReason != "" {
			choice.FinishReason = openai.FinishReason("stop")
		}

		chunk.Choices = []openai.ChatCompletionStreamChoice{choice}
	}

	if resp.UsageMetadata.TotalTokenCount > 0 {
		chunk.Usage = &openai.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	return chunk
}

// convertRequest converts to Gemini format.
func (p *GoogleProvider) convertRequest(req ChatRequest) GeminiRequest {
	geminiReq := GeminiRequest{
		Contents: make([]GeminiContent, 0),
	}

	for _, msg := range req.Messages {
		role := msg.Role
		if role == "assistant" {
			role = "model"
		}
		if role == "system" {
			role = "user"
		}

		geminiReq.Contents = append(geminiReq.Contents, GeminiContent{
			Role:  role,
			Parts: []GeminiPart{{Text: msg.Content}},
		})
	}

	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil {
		geminiReq.GenerationConfig = &GeminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	return geminiReq
}

// convertResponse converts a Gemini response to the normalized format. When
// usageMetadata is absent the counts are estimated and flagged.
func (p *GoogleProvider) convertResponse(resp GeminiResponse, req ChatRequest, latencyMs int) *ChatResponse {
	var content string
	if len(resp.Candidates) > 0 {
		for _, part := range resp.Candidates[0].Content.Parts {
			content += part.Text
		}
	}

	out := &ChatResponse{
		ID:      fmt.Sprintf("gemini-%d", time.Now().Unix()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
		Usage: openai.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
		LatencyMs: latencyMs,
	}

	if out.Usage.TotalTokens == 0 {
		in := tokencount.EstimateMessages(req.Messages)
		outTok := tokencount.Estimate(content)
		out.Usage = openai.Usage{PromptTokens: in, CompletionTokens: outTok, TotalTokens: in + outTok}
		out.UsageEstimated = true
	}

	return out
}

// Name returns the provider identifier.
func (p *GoogleProvider) Name() string {
	return ProviderGoogle
}
