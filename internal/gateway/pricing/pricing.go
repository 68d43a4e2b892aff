package pricing

import "strings"

// ModelPricing holds per-million-token pricing for a model, in USD.
type ModelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// modelPricingTable maps exact model names to their pricing.
var modelPricingTable = map[string]ModelPricing{
	// OpenAI
	"gpt-4o":                 {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-2024-11-20":      {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-mini":            {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o-mini-2024-07-18": {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4-turbo":            {InputPerMTok: 10, OutputPerMTok: 30},
	"gpt-3.5-turbo":          {InputPerMTok: 0.5, OutputPerMTok: 1.5},

	// Anthropic
	"claude-opus-4-5-20251101":   {InputPerMTok: 5, OutputPerMTok: 25},
	"claude-sonnet-4-5-20250929": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5-20251001":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-5-haiku-20241022":  {InputPerMTok: 1, OutputPerMTok: 5},

	// Google
	"gemini-2.5-pro":   {InputPerMTok: 1.25, OutputPerMTok: 10},
	"gemini-2.5-flash": {InputPerMTok: 0.30, OutputPerMTok: 2.5},
	"gemini-2.0-flash": {InputPerMTok: 0.10, OutputPerMTok: 0.40},

	// Mistral
	"mistral-large-latest": {InputPerMTok: 2, OutputPerMTok: 6},
	"mistral-small-latest": {InputPerMTok: 0.2, OutputPerMTok: 0.6},

	// xAI
	"grok-3":      {InputPerMTok: 3, OutputPerMTok: 15},
	"grok-3-mini": {InputPerMTok: 0.30, OutputPerMTok: 0.50},

	// Embeddings (output rate unused)
	"text-embedding-3-small": {InputPerMTok: 0.02, OutputPerMTok: 0},
	"text-embedding-3-large": {InputPerMTok: 0.13, OutputPerMTok: 0},
	"mistral-embed":          {InputPerMTok: 0.10, OutputPerMTok: 0},
}

// defaultPricing is used for unknown models. Deliberately conservative so an
// unpriced model can never bill as zero.
var defaultPricing = ModelPricing{InputPerMTok: 15, OutputPerMTok: 75}

// modelFamilyPricing maps model family prefixes to pricing. Lookup takes the
// longest matching prefix so "gpt-4o" beats "gpt-4" for "gpt-4o-mini-...".
var modelFamilyPricing = map[string]ModelPricing{
	"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o":            {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4":             {InputPerMTok: 10, OutputPerMTok: 30},
	"gpt-3.5":           {InputPerMTok: 0.5, OutputPerMTok: 1.5},
	"claude-opus":       {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet":     {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku":      {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-5-haiku":  {InputPerMTok: 1, OutputPerMTok: 5},
	"gemini-2.5-pro":    {InputPerMTok: 1.25, OutputPerMTok: 10},
	"gemini-2.5-flash":  {InputPerMTok: 0.30, OutputPerMTok: 2.5},
	"gemini":            {InputPerMTok: 1.25, OutputPerMTok: 10},
	"mistral-large":     {InputPerMTok: 2, OutputPerMTok: 6},
	"mistral-small":     {InputPerMTok: 0.2, OutputPerMTok: 0.6},
	"grok-3-mini":       {InputPerMTok: 0.30, OutputPerMTok: 0.50},
	"grok":              {InputPerMTok: 3, OutputPerMTok: 15},
	"text-embedding-3":  {InputPerMTok: 0.13, OutputPerMTok: 0},
}

// Lookup returns pricing for a model: exact match, then longest family
// prefix, then the conservative default.
func Lookup(model string) ModelPricing {
	if p, ok := modelPricingTable[model]; ok {
		return p
	}

	bestPrefix := ""
	var bestPricing ModelPricing
	for prefix, p := range modelFamilyPricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestPricing = p
		}
	}
	if bestPrefix != "" {
		return bestPricing
	}

	return defaultPricing
}

// Estimator converts token counts into monetary amounts. It is pure: the
// same inputs always yield the same cost.
type Estimator struct {
	usdToEUR float64
}

func NewEstimator(usdToEUR float64) *Estimator {
	return &Estimator{usdToEUR: usdToEUR}
}

// CostUSD computes the USD cost for a call.
func (e *Estimator) CostUSD(model string, inputTokens, outputTokens int) float64 {
	p := Lookup(model)
	return float64(inputTokens)/1_000_000*p.InputPerMTok + float64(outputTokens)/1_000_000*p.OutputPerMTok
}

// Cost computes both the USD cost and its EUR settlement amount.
func (e *Estimator) Cost(model string, inputTokens, outputTokens int) (usd, eur float64) {
	usd = e.CostUSD(model, inputTokens, outputTokens)
	return usd, usd * e.usdToEUR
}

// MaxCost bounds the worst-case cost of a call before dispatch, assuming the
// full output budget is consumed.
func (e *Estimator) MaxCost(model string, inputTokens, maxOutputTokens int) (usd, eur float64) {
	return e.Cost(model, inputTokens, maxOutputTokens)
}
