package gateway

import (
	"strings"

	"github.com/mtzanidakis/orca/internal/config"
)

var defaultRoutes = map[string]string{
	"plan":     "@anthropic/claude-3.7",
	"review":   "@anthropic/claude-3.7",
	"code":     "@deepseek/deepseek-coder",
	"fix":      "@deepseek/deepseek-coder",
	"refactor": "@deepseek/deepseek-coder",
}

// USD per 1k tokens.
var defaultPricing = map[string]config.ModelPrice{
	"gpt-4o-mini":      {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4o":           {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"claude-3.7":       {InputPer1K: 0.003, OutputPer1K: 0.015},
	"deepseek-coder":   {InputPer1K: 0.00014, OutputPer1K: 0.00028},
	"claude-3-5-haiku": {InputPer1K: 0.0008, OutputPer1K: 0.004},
}

// Router picks a model for a task kind and prices completions.
type Router struct {
	routes   map[string]string
	fallback string
	pricing  map[string]config.ModelPrice
}

// NewRouter merges overrides on top of the built-in routes and prices.
func NewRouter(cfg config.GatewayConfig) *Router {
	r := &Router{
		routes:   make(map[string]string, len(defaultRoutes)+len(cfg.Routing)),
		fallback: cfg.DefaultModel,
		pricing:  make(map[string]config.ModelPrice, len(defaultPricing)+len(cfg.Pricing)),
	}
	for k, v := range defaultRoutes {
		r.routes[k] = v
	}
	for k, v := range cfg.Routing {
		r.routes[strings.ToLower(k)] = v
	}
	for k, v := range defaultPricing {
		r.pricing[k] = v
	}
	for k, v := range cfg.Pricing {
		r.pricing[k] = v
	}
	if r.fallback == "" {
		r.fallback = "@openai/gpt-4o-mini"
	}
	return r
}

// ModelForTask returns the model routed for task, or the default model.
func (r *Router) ModelForTask(task string) string {
	if m, ok := r.routes[strings.ToLower(strings.TrimSpace(task))]; ok {
		return m
	}
	return r.fallback
}

// Cost estimates the USD cost of usage on model. Unknown models cost 0.
func (r *Router) Cost(model string, u Usage) float64 {
	p, ok := r.pricing[model]
	if !ok {
		// "@provider/name" catalog ids are priced by bare name.
		if i := strings.LastIndex(model, "/"); i >= 0 {
			p, ok = r.pricing[model[i+1:]]
		}
	}
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1000*p.InputPer1K + float64(u.CompletionTokens)/1000*p.OutputPer1K
}
