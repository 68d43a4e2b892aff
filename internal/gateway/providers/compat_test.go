package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compatBody(usage openai.Usage) compatResponse {
	return compatResponse{
		ID:      "cmpl-1",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   "test-model",
		Choices: []openai.ChatCompletionChoice{
			{Index: 0, Message: openai.ChatCompletionMessage{Role: "assistant", Content: "Hello there"}, FinishReason: "stop"},
		},
		Usage: usage,
	}
}

func chatReq(model string) ChatRequest {
	return ChatRequest{
		Model:    model,
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "Hi"}},
	}
}

func TestMistral_ChatCompletionPassesUsageThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-mistral", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(compatBody(openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}))
	}))
	defer srv.Close()

	p := NewMistralProviderWithBaseURL(srv.URL, 5*time.Second)
	resp, err := p.ChatCompletion(context.Background(), "sk-mistral", chatReq("mistral-large-latest"))
	require.NoError(t, err)

	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.False(t, resp.UsageEstimated)
	assert.Equal(t, "Hello there", resp.Choices[0].Message.Content)
}

func TestXAI_EstimatesMissingUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(compatBody(openai.Usage{}))
	}))
	defer srv.Close()

	p := NewXAIProviderWithBaseURL(srv.URL, 5*time.Second)
	resp, err := p.ChatCompletion(context.Background(), "sk-xai", chatReq("grok-3"))
	require.NoError(t, err)

	assert.True(t, resp.UsageEstimated)
	assert.Greater(t, resp.Usage.TotalTokens, 0)
	assert.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
}

func TestXAI_ReportedUsageNotOverridden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(compatBody(openai.Usage{PromptTokens: 8, CompletionTokens: 4, TotalTokens: 12}))
	}))
	defer srv.Close()

	p := NewXAIProviderWithBaseURL(srv.URL, 5*time.Second)
	resp, err := p.ChatCompletion(context.Background(), "sk-xai", chatReq("grok-3"))
	require.NoError(t, err)

	assert.False(t, resp.UsageEstimated)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestMistral_Embeddings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(compatEmbeddingsResponse{
			Object: "list",
			Data: []openai.Embedding{
				{Object: "embedding", Index: 0, Embedding: []float32{0.1, 0.2}},
			},
			Model: "mistral-embed",
			Usage: openai.Usage{PromptTokens: 6, TotalTokens: 6},
		})
	}))
	defer srv.Close()

	p := NewMistralProviderWithBaseURL(srv.URL, 5*time.Second)
	resp, err := p.Embeddings(context.Background(), "sk-mistral", EmbeddingsRequest{Model: "mistral-embed", Input: []string{"hello"}})
	require.NoError(t, err)

	require.Len(t, resp.Data, 1)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestXAI_EmbeddingsUnsupported(t *testing.T) {
	p := NewXAIProviderWithBaseURL("http://unused", 5*time.Second)

	_, err := p.Embeddings(context.Background(), "sk-xai", EmbeddingsRequest{Model: "grok-3", Input: []string{"x"}})
	assert.ErrorIs(t, err, ErrEmbeddingsUnsupported)
}

func TestCompat_UpstreamErrorSurfacesProviderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "capacity exceeded, slow down"}}`)
	}))
	defer srv.Close()

	p := NewMistralProviderWithBaseURL(srv.URL, 5*time.Second)
	_, err := p.ChatCompletion(context.Background(), "sk-mistral", chatReq("mistral-large-latest"))

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusTooManyRequests, upErr.StatusCode)
	assert.Equal(t, "capacity exceeded, slow down", upErr.Message)
	assert.Equal(t, ProviderMistral, upErr.Provider)
}

func TestCompat_UnparseableErrorBodyStaysGeneric(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>upstream proxy error, internal hostname db-7.internal</html>")
	}))
	defer srv.Close()

	p := NewMistralProviderWithBaseURL(srv.URL, 5*time.Second)
	_, err := p.ChatCompletion(context.Background(), "sk-mistral", chatReq("mistral-large-latest"))

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Empty(t, upErr.Message)
	assert.NotContains(t, upErr.Error(), "db-7.internal")
}

func TestCompat_StreamParsesChunksUntilDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ChatRequest
		json.NewDecoder(r.Body).Decode(&body)
		assert.True(t, body.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "\n")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewMistralProviderWithBaseURL(srv.URL, 5*time.Second)
	stream, err := p.ChatCompletionStream(context.Background(), "sk-mistral", chatReq("mistral-large-latest"))
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hel", chunk.Choices[0].Delta.Content)

	chunk, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "lo", chunk.Choices[0].Delta.Content)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}
