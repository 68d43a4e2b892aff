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
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider handles Anthropic Messages API requests.
type AnthropicProvider struct {
	baseURL    string
	httpClient *http.Client
}

// AnthropicRequest represents a request to Anthropic's Messages API.
type AnthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []AnthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

// AnthropicMessage represents a message in Anthropic format.
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicResponse represents a response from Anthropic's API.
type AnthropicResponse struct {
	ID      string                  `json:"id"`
	Type    string                  `json:"type"`
	Role    string                  `json:"role"`
	Content []AnthropicContentBlock `json:"content"`
	Model   string                  `json:"model"`
	Usage   AnthropicUsage          `json:"usage"`
}

// AnthropicContentBlock represents a content block.
type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AnthropicUsage represents token usage.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewAnthropicProvider creates a new Anthropic adapter.
func NewAnthropicProvider(timeout time.Duration) *AnthropicProvider {
	return &AnthropicProvider{
		baseURL:    "https://api.anthropic.com",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewAnthropicProviderWithBaseURL overrides the endpoint, used by tests.
func NewAnthropicProviderWithBaseURL(baseURL string, timeout time.Duration) *AnthropicProvider {
	return &AnthropicProvider{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

func (p *AnthropicProvider) newRequest(ctx context.Context, secret string, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", secret)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return httpReq, nil
}

// ChatCompletion makes a chat completion request to Anthropic.
func (p *AnthropicProvider) ChatCompletion(ctx context.Context, secret string, req ChatRequest) (*ChatResponse, error) {
	startTime := time.Now()

	anthropicReq := p.convertRequest(req)

	reqBody, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := p.newRequest(ctx, secret, reqBody)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: ProviderAnthropic, Message: err.Error()}
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(httpResp.Body)

	if httpResp.StatusCode != http.StatusOK {
		return nil, upstreamErrorFromBody(ProviderAnthropic, httpResp.StatusCode, respBody)
	}

	var anthropicResp AnthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return nil, &UpstreamError{Provider: ProviderAnthropic, StatusCode: httpResp.StatusCode, Message: "malformed response body"}
	}

	return p.convertResponse(anthropicResp, int(time.Since(startTime).Milliseconds())), nil
}

// ChatCompletionStream makes a streaming request.
func (p *AnthropicProvider) ChatCompletionStream(ctx context.Context, secret string, req ChatRequest) (StreamReader, error) {
	anthropicReq := p.convertRequest(req)
	anthropicReq.Stream = true

	reqBody, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := p.newRequest(ctx, secret, reqBody)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: ProviderAnthropic, Message: err.Error()}
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, upstreamErrorFromBody(ProviderAnthropic, httpResp.StatusCode, respBody)
	}

	return &anthropicStreamReader{
		reader: bufio.NewReader(httpResp.Body),
		resp:   httpResp,
		model:  req.Model,
	}, nil
}

// Embeddings is not offered by Anthropic.
func (p *AnthropicProvider) Embeddings(ctx context.Context, secret string, req EmbeddingsRequest) (*EmbeddingsResponse, error) {
	return nil, ErrEmbeddingsUnsupported
}

// anthropicStreamReader translates Anthropic SSE events into OpenAI delta
// chunks. Usage arrives split across events: input tokens on message_start,
// output tokens on message_delta.
type anthropicStreamReader struct {
	reader      *bufio.Reader
	resp        *http.Response
	model       string
	inputTokens int
}

// anthropicStreamEvent covers the event fields the reader consumes.
type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		ID    string         `json:"id"`
		Usage AnthropicUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage *AnthropicUsage `json:"usage"`
}

// Recv reads the next streaming chunk.
func (r *anthropicStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			return openai.ChatCompletionStreamResponse{}, err
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		dataStr := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(dataStr), &event); err != nil {
			continue
		}

		chunk := openai.ChatCompletionStreamResponse{
			Object: "chat.completion.chunk",
			Model:  r.model,
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				chunk.ID = event.Message.ID
				r.inputTokens = event.Message.Usage.InputTokens
			}
			chunk.Choices = []openai.ChatCompletionStreamChoice{
				{Index: 0, Delta: openai.ChatCompletionStreamChoiceDelta{Role: "assistant"}},
			}
			return chunk, nil

		case "content_block_delta":
			if event.Delta != nil && event.Delta.Text != "" {
				chunk.Choices = []openai.ChatCompletionStreamChoice{
					{Index: 0, Delta: openai.ChatCompletionStreamChoiceDelta{Content: event.Delta.Text}},
				}
				return chunk, nil
			}

		case "message_delta":
			if event.Usage != nil {
				chunk.Choices = []openai.ChatCompletionStreamChoice{
					{Index: 0, FinishReason: openai.FinishReason("stop")},
				}
				chunk.Usage = &openai.Usage{
					PromptTokens:     r.inputTokens,
					CompletionTokens: event.Usage.OutputTokens,
					TotalTokens:      r.inputTokens + event.Usage.OutputTokens,
				}
				return chunk, nil
			}

		case "message_stop":
			return openai.ChatCompletionStreamResponse{}, io.EOF
		}
	}
}

// Close closes the stream.
func (r *anthropicStreamReader) Close() error {
	if r.resp != nil && r.resp.Body != nil {
		return r.resp.Body.Close()
	}
	return nil
}

// convertRequest converts to Anthropic format. System messages move to the
// dedicated system field.
func (p *AnthropicProvider) convertRequest(req ChatRequest) AnthropicRequest {
	anthropicReq := AnthropicRequest{
		Model:       req.Model,
		Messages:    []AnthropicMessage{},
		MaxTokens:   4096,
		Temperature: req.Temperature,
	}

	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		anthropicReq.MaxTokens = *req.MaxTokens
	}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			anthropicReq.System = msg.Content
		} else {
			anthropicReq.Messages = append(anthropicReq.Messages, AnthropicMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}

	return anthropicReq
}

// convertResponse converts an Anthropic response to the normalized format.
func (p *AnthropicProvider) convertResponse(resp AnthropicResponse, latencyMs int) *ChatResponse {
	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
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
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		LatencyMs: latencyMs,
	}
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return ProviderAnthropic
}
