package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/pulseops/ai-gateway/internal/gateway/apierror"
	"github.com/pulseops/ai-gateway/internal/gateway/attribution"
	"github.com/pulseops/ai-gateway/internal/gateway/ledger"
	"github.com/pulseops/ai-gateway/internal/gateway/metrics"
	"github.com/pulseops/ai-gateway/internal/gateway/providers"
	"github.com/pulseops/ai-gateway/internal/gateway/tokencount"
	"github.com/pulseops/ai-gateway/internal/shared/models"
)

func resolveDims(r *http.Request, key *models.GatewayKey) models.Dimensions {
	return attribution.Resolve(r.Header, key)
}

// HandleChatCompletion handles POST /v1/chat/completions.
func (g *Gateway) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	started := g.now()

	key, ok := keyFromContext(ctx)
	if !ok {
		apierror.Write(w, apierror.Internal())
		return
	}

	var req providers.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.fail(w, r, key, models.Dimensions{}, "", started, apierror.MissingParameter("body"))
		return
	}
	if req.Model == "" {
		g.fail(w, r, key, models.Dimensions{}, "", started, apierror.MissingParameter("model"))
		return
	}
	if len(req.Messages) == 0 {
		g.fail(w, r, key, models.Dimensions{}, req.Model, started, apierror.MissingParameter("messages"))
		return
	}

	dims := resolveDims(r, key)

	// Policy gate: model restriction, spend limits, attribution. All of it
	// before any upstream spend.
	if err := g.Enforcer.CheckModel(key, req.Model); err != nil {
		g.fail(w, r, key, dims, req.Model, started, err)
		return
	}
	if err := g.Enforcer.CheckCostLimits(ctx, key); err != nil {
		g.fail(w, r, key, dims, req.Model, started, err)
		return
	}
	if err := g.Enforcer.CheckAttribution(ctx, key, dims); err != nil {
		g.fail(w, r, key, dims, req.Model, started, err)
		return
	}

	res, err := g.Router.Resolve(ctx, key.OrgID, req.Model)
	if err != nil {
		g.fail(w, r, key, dims, req.Model, started, err)
		return
	}

	if err := g.checkRouteCeiling(res.Route.MaxCostPerRequest, req); err != nil {
		g.fail(w, r, key, dims, req.Model, started, err)
		return
	}

	provider, err := g.Registry.Get(res.Route.Provider)
	if err != nil {
		g.fail(w, r, key, dims, req.Model, started, apierror.ProviderNotConfigured(res.Route.Provider))
		return
	}

	if req.Stream {
		g.streamChat(w, r, key, dims, provider, res.Secret, req, started)
		return
	}

	upstreamCtx, cancel := context.WithTimeout(ctx, g.UpstreamTimeout)
	defer cancel()

	resp, err := provider.ChatCompletion(upstreamCtx, res.Secret, req)
	if err != nil {
		g.failUpstream(w, r, key, dims, req, provider.Name(), started, err)
		return
	}

	metrics.UpstreamLatency.WithLabelValues(provider.Name()).Observe(float64(resp.LatencyMs) / 1000)

	g.settle(ctx, key, dims, req, provider.Name(), "chat", resp.ID,
		resp.Usage, resp.UsageEstimated, started)

	metrics.RequestsTotal.WithLabelValues(r.URL.Path, "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// checkRouteCeiling enforces a route's max_cost_per_request before dispatch,
// assuming the worst case: the full output budget is consumed.
func (g *Gateway) checkRouteCeiling(maxCost *float64, req providers.ChatRequest) error {
	if maxCost == nil {
		return nil
	}

	maxOut := 4096
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxOut = *req.MaxTokens
	}

	promptTokens := tokencount.EstimateMessages(req.Messages)
	_, eur := g.Estimator.MaxCost(req.Model, promptTokens, maxOut)
	if eur > *maxCost {
		return apierror.CostLimit(fmt.Sprintf("request could exceed the route's per-request cost ceiling of %.4f", *maxCost))
	}

	return nil
}

// settle records the billable outcome of a successful call: one cost event
// and one request log, queued off the response path.
func (g *Gateway) settle(ctx context.Context, key *models.GatewayKey, dims models.Dimensions, req providers.ChatRequest, providerName, usageType, rawRef string, usage openai.Usage, estimated bool, started time.Time) {
	requestID := requestIDFromContext(ctx)
	now := g.now().UTC()
	usd, eur := g.Estimator.Cost(req.Model, usage.PromptTokens, usage.CompletionTokens)
	model := req.Model
	latency := int(time.Since(started).Milliseconds())

	event := &models.CostEvent{
		ID:                  uuid.NewString(),
		OrgID:               key.OrgID,
		Source:              "AI",
		OccurredAt:          now,
		AmountEUR:           eur,
		AmountUSD:           &usd,
		Provider:            providerName,
		ResourceType:        "llm",
		Service:             providerName,
		UsageType:           usageType,
		Quantity:            float64(usage.TotalTokens),
		Unit:                "tokens",
		CostCategory:        "ai",
		Dimensions:          dims,
		Model:               &model,
		APIKeyID:            &key.ID,
		APIKeyLabelSnapshot: &key.Label,
		UniqueHash:          ledger.UniqueHash(key.OrgID, requestID, eur, 0),
	}
	if rawRef != "" {
		event.RawRef = &rawRef
	}

	reqLog := &models.AiRequestLog{
		ID:            uuid.NewString(),
		OrgID:         key.OrgID,
		OccurredAt:    now,
		Dimensions:    dims,
		Provider:      providerName,
		Model:         req.Model,
		PromptHash:    promptHash(req.Messages),
		InputTokens:   usage.PromptTokens,
		OutputTokens:  usage.CompletionTokens,
		TotalTokens:   usage.TotalTokens,
		EstimatedCost: &eur,
		LatencyMs:     latency,
		StatusCode:    http.StatusOK,
		APIKeyID:      &key.ID,
	}

	if estimated {
		log.Debug().Str("model", req.Model).Str("provider", providerName).Msg("usage estimated from content length")
	}

	g.Ledger.Enqueue(ledger.Entry{Event: event, Log: reqLog})
}

// fail rejects a request before upstream dispatch: uniform envelope out,
// diagnostic log row queued.
func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, key *models.GatewayKey, dims models.Dimensions, model string, started time.Time, err error) {
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierror.Internal()
	}

	metrics.RequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(apiErr.Status)).Inc()
	g.recordRejection(key, dims, model, apiErr.Status, started)
	apierror.Write(w, apiErr)
}

// failUpstream translates a provider failure into the uniform envelope. The
// attempt is logged; no cost event is written because nothing billable
// completed.
func (g *Gateway) failUpstream(w http.ResponseWriter, r *http.Request, key *models.GatewayKey, dims models.Dimensions, req providers.ChatRequest, providerName string, started time.Time, err error) {
	var upErr *providers.UpstreamError
	apiErr := apierror.Internal()
	if errors.As(err, &upErr) {
		apiErr = apierror.Upstream(providerName, upErr.Message)
	}

	log.Warn().Err(err).Str("provider", providerName).Str("model", req.Model).Msg("upstream call failed")

	metrics.RequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(apiErr.Status)).Inc()
	g.Ledger.Enqueue(ledger.Entry{
		Log: &models.AiRequestLog{
			ID:         uuid.NewString(),
			OrgID:      key.OrgID,
			OccurredAt: g.now().UTC(),
			Dimensions: dims,
			Provider:   providerName,
			Model:      req.Model,
			PromptHash: promptHash(req.Messages),
			LatencyMs:  int(time.Since(started).Milliseconds()),
			StatusCode: apiErr.Status,
			APIKeyID:   &key.ID,
		},
	})
	apierror.Write(w, apiErr)
}

// streamChat relays provider chunks as server-sent events and settles the
// ledger once, whether the stream completes, errors, or the client drops.
func (g *Gateway) streamChat(w http.ResponseWriter, r *http.Request, key *models.GatewayKey, dims models.Dimensions, provider providers.Provider, secret string, req providers.ChatRequest, started time.Time) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.fail(w, r, key, dims, req.Model, started, apierror.Internal())
		return
	}

	upstreamCtx, cancel := context.WithTimeout(ctx, g.UpstreamTimeout)
	defer cancel()

	stream, err := provider.ChatCompletionStream(upstreamCtx, secret, req)
	if err != nil {
		g.failUpstream(w, r, key, dims, req, provider.Name(), started, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	metrics.RequestsTotal.WithLabelValues(r.URL.Path, "200").Inc()

	// Per-stream accumulator: usage from provider chunks when reported,
	// otherwise the relayed delta text for a flagged estimate at flush time.
	var usage openai.Usage
	var content strings.Builder
	var sawUsage bool

	// The flush must happen even when the client disconnects mid-stream;
	// usage already consumed upstream is billable.
	defer func() {
		finalUsage := usage
		estimated := false
		if !sawUsage {
			finalUsage.PromptTokens = tokencount.EstimateMessages(req.Messages)
			finalUsage.CompletionTokens = tokencount.Estimate(content.String())
			finalUsage.TotalTokens = finalUsage.PromptTokens + finalUsage.CompletionTokens
			estimated = true
		}
		g.settle(ctx, key, dims, req, provider.Name(), "chat", "", finalUsage, estimated, started)
	}()

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Mid-stream upstream failure or client cancellation. The SSE
			// contract has no status code left to change; emit an error
			// event and stop.
			log.Warn().Err(err).Str("provider", provider.Name()).Msg("stream interrupted")
			fmt.Fprintf(w, "data: {\"error\": {\"message\": %q, \"type\": \"upstream_error\", \"code\": \"upstream_error\"}}\n\n", "stream interrupted")
			flusher.Flush()
			return
		}

		if chunk.Usage != nil {
			usage = *chunk.Usage
			sawUsage = true
		}
		for _, c := range chunk.Choices {
			content.WriteString(c.Delta.Content)
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}
