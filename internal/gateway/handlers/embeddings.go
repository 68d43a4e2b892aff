package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pulseops/ai-gateway/internal/gateway/apierror"
	"github.com/pulseops/ai-gateway/internal/gateway/metrics"
	"github.com/pulseops/ai-gateway/internal/gateway/providers"
	"github.com/pulseops/ai-gateway/internal/shared/models"
	openai "github.com/sashabaranov/go-openai"
)

// embeddingsBody accepts OpenAI's flexible input field: a string or a list
// of strings.
type embeddingsBody struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

func (b *embeddingsBody) inputs() ([]string, error) {
	var single string
	if err := json.Unmarshal(b.Input, &single); err == nil {
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(b.Input, &many); err == nil {
		return many, nil
	}
	return nil, errors.New("input must be a string or an array of strings")
}

// HandleEmbeddings handles POST /v1/embeddings.
func (g *Gateway) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	started := g.now()

	key, ok := keyFromContext(ctx)
	if !ok {
		apierror.Write(w, apierror.Internal())
		return
	}

	var body embeddingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		g.fail(w, r, key, models.Dimensions{}, "", started, apierror.MissingParameter("body"))
		return
	}
	if body.Model == "" {
		g.fail(w, r, key, models.Dimensions{}, "", started, apierror.MissingParameter("model"))
		return
	}
	inputs, err := body.inputs()
	if err != nil || len(inputs) == 0 {
		g.fail(w, r, key, models.Dimensions{}, body.Model, started, apierror.MissingParameter("input"))
		return
	}

	dims := resolveDims(r, key)

	if err := g.Enforcer.CheckModel(key, body.Model); err != nil {
		g.fail(w, r, key, dims, body.Model, started, err)
		return
	}
	if err := g.Enforcer.CheckCostLimits(ctx, key); err != nil {
		g.fail(w, r, key, dims, body.Model, started, err)
		return
	}
	if err := g.Enforcer.CheckAttribution(ctx, key, dims); err != nil {
		g.fail(w, r, key, dims, body.Model, started, err)
		return
	}

	res, err := g.Router.Resolve(ctx, key.OrgID, body.Model)
	if err != nil {
		g.fail(w, r, key, dims, body.Model, started, err)
		return
	}

	provider, err := g.Registry.Get(res.Route.Provider)
	if err != nil {
		g.fail(w, r, key, dims, body.Model, started, apierror.ProviderNotConfigured(res.Route.Provider))
		return
	}

	upstreamCtx, cancel := context.WithTimeout(ctx, g.UpstreamTimeout)
	defer cancel()

	resp, err := provider.Embeddings(upstreamCtx, res.Secret, providers.EmbeddingsRequest{
		Model: body.Model,
		Input: inputs,
	})
	if errors.Is(err, providers.ErrEmbeddingsUnsupported) {
		g.fail(w, r, key, dims, body.Model, started, apierror.ModelNotFound(body.Model))
		return
	}
	if err != nil {
		g.failUpstream(w, r, key, dims, providers.ChatRequest{Model: body.Model}, provider.Name(), started, err)
		return
	}

	metrics.UpstreamLatency.WithLabelValues(provider.Name()).Observe(float64(resp.LatencyMs) / 1000)

	g.settle(ctx, key, dims, providers.ChatRequest{Model: body.Model}, provider.Name(),
		"embeddings", "", resp.Usage, resp.UsageEstimated, started)

	metrics.RequestsTotal.WithLabelValues(r.URL.Path, "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Object string             `json:"object"`
		Data   []openai.Embedding `json:"data"`
		Model  string             `json:"model"`
		Usage  openai.Usage       `json:"usage"`
	}{
		Object: "list",
		Data:   resp.Data,
		Model:  resp.Model,
		Usage:  resp.Usage,
	})
}
