package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiChatReq() ChatRequest {
	return ChatRequest{
		Model: "gemini-2.5-flash",
		Messages: []openai.ChatCompletionMessage{
			{Role: "system", Content: "Be brief."},
			{Role: "user", Content: "Hello"},
			{Role: "assistant", Content: "Hi!"},
			{Role: "user", Content: "How are you?"},
		},
	}
}

func TestGoogle_ChatCompletionWithUsageMetadata(t *testing.T) {
	var captured GeminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		// The credential travels as a query parameter, not a header.
		assert.Equal(t, "sk-goog", r.URL.Query().Get("key"))
		json.NewDecoder(r.Body).Decode(&captured)

		json.NewEncoder(w).Encode(GeminiResponse{
			Candidates: []GeminiCandidate{
				{Content: GeminiContent{Role: "model", Parts: []GeminiPart{{Text: "Doing well."}}}, FinishReason: "STOP"},
			},
			UsageMetadata: GeminiUsage{PromptTokenCount: 20, CandidatesTokenCount: 3, TotalTokenCount: 23},
		})
	}))
	defer srv.Close()

	p := NewGoogleProviderWithBaseURL(srv.URL, 5*time.Second)
	resp, err := p.ChatCompletion(context.Background(), "sk-goog", geminiChatReq())
	require.NoError(t, err)

	// Role mapping: assistant becomes model, system becomes user.
	require.Len(t, captured.Contents, 4)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[2].Role)

	assert.Equal(t, "Doing well.", resp.Choices[0].Message.Content)
	assert.Equal(t, 23, resp.Usage.TotalTokens)
	assert.False(t, resp.UsageEstimated)
}

func TestGoogle_ChatCompletionEstimatesMissingUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GeminiResponse{
			Candidates: []GeminiCandidate{
				{Content: GeminiContent{Role: "model", Parts: []GeminiPart{{Text: "Hello!"}}}, FinishReason: "STOP"},
			},
		})
	}))
	defer srv.Close()

	p := NewGoogleProviderWithBaseURL(srv.URL, 5*time.Second)
	resp, err := p.ChatCompletion(context.Background(), "sk-goog", geminiChatReq())
	require.NoError(t, err)

	assert.True(t, resp.UsageEstimated)
	assert.Greater(t, resp.Usage.TotalTokens, 0)
}

func TestGoogle_EmbeddingsAlwaysEstimated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/text-embedding-004:batchEmbedContents", r.URL.Path)

		var body geminiEmbedRequest
		json.NewDecoder(r.Body).Decode(&body)
		assert.Len(t, body.Requests, 2)

		json.NewEncoder(w).Encode(geminiEmbedResponse{
			Embeddings: []struct {
				Values []float32 `json:"values"`
			}{
				{Values: []float32{0.1, 0.2}},
				{Values: []float32{0.3, 0.4}},
			},
		})
	}))
	defer srv.Close()

	p := NewGoogleProviderWithBaseURL(srv.URL, 5*time.Second)
	resp, err := p.Embeddings(context.Background(), "sk-goog", EmbeddingsRequest{
		Model: "text-embedding-004",
		Input: []string{"first", "second"},
	})
	require.NoError(t, err)

	require.Len(t, resp.Data, 2)
	assert.Equal(t, 1, resp.Data[1].Index)
	assert.True(t, resp.UsageEstimated)
	assert.Greater(t, resp.Usage.TotalTokens, 0)
}

func TestGoogle_StreamConvertsChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		chunk, _ := json.Marshal(GeminiResponse{
			Candidates: []GeminiCandidate{
				{Content: GeminiContent{Role: "model", Parts: []GeminiPart{{Text: "Hey"}}}},
			},
			UsageMetadata: GeminiUsage{PromptTokenCount: 5, CandidatesTokenCount: 1, TotalTokenCount: 6},
		})
		w.Write([]byte("data: " + string(chunk) + "\n\n"))
	}))
	defer srv.Close()

	p := NewGoogleProviderWithBaseURL(srv.URL, 5*time.Second)
	stream, err := p.ChatCompletionStream(context.Background(), "sk-goog", geminiChatReq())
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hey", chunk.Choices[0].Delta.Content)
	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 6, chunk.Usage.TotalTokens)
}
