// Package llm routes per-stage text generation across configured providers
// with ordered fallback. The gateway holds connection state only; prompts and
// completions are never retained.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/circuitbreaker"
	"github.com/haneulab/deepresearch/internal/config"
	"github.com/haneulab/deepresearch/internal/metrics"
	"github.com/haneulab/deepresearch/internal/research"
)

// Stage selects the generation parameter profile.
type Stage string

const (
	StageSummarization Stage = "summarization"
	StageResearch      Stage = "research"
	StageCompression   Stage = "compression"
	StageFinalReport   Stage = "final_report"
)

// Profile is the sampling configuration for one stage.
type Profile struct {
	Temperature float64
	TopP        float64
}

var profiles = map[Stage]Profile{
	StageSummarization: {Temperature: 0.1, TopP: 0.9},
	StageResearch:      {Temperature: 0.3, TopP: 0.95},
	StageCompression:   {Temperature: 0.2, TopP: 0.9},
	StageFinalReport:   {Temperature: 0.4, TopP: 0.95},
}

// ProfileFor returns the sampling profile for stage, defaulting to research.
func ProfileFor(stage Stage) Profile {
	if p, ok := profiles[stage]; ok {
		return p
	}
	return profiles[StageResearch]
}

// ErrUnavailable reports that every configured provider failed for a call.
var ErrUnavailable = errors.New("all llm providers unavailable")

// Provider is one backend capable of completing a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, p Profile) (string, error)
	Probe(ctx context.Context) error
}

// Streamer is implemented by providers that can stream completions.
type Streamer interface {
	Stream(ctx context.Context, prompt string, p Profile) (<-chan string, error)
}

// Gateway fans generate calls out to providers with per-stage routing and
// graceful fallback.
type Gateway struct {
	cfg       config.LLMConfig
	providers map[string]Provider
	breakers  map[string]*circuitbreaker.Breaker
	names     []string
	logger    *zap.Logger
}

// NewGateway builds providers from the configured endpoints. The endpoint
// named "local" speaks the local-inference (Ollama) API; every other endpoint
// is treated as OpenAI-compatible.
func NewGateway(cfg config.LLMConfig, logger *zap.Logger) (*Gateway, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("llm: no endpoints configured")
	}
	httpClient := &http.Client{Timeout: cfg.RequestTimeout()}
	providers := make(map[string]Provider, len(cfg.Endpoints))
	breakers := make(map[string]*circuitbreaker.Breaker, len(cfg.Endpoints))
	names := make([]string, 0, len(cfg.Endpoints))
	for name, url := range cfg.Endpoints {
		if name == "local" {
			providers[name] = newLocalProvider(name, url, cfg.Model, httpClient)
		} else {
			providers[name] = newOpenAIProvider(name, url, cfg.Model, cfg.APIKey, httpClient)
		}
		breakers[name] = circuitbreaker.New("llm-"+name, circuitbreaker.DefaultConfig(), logger)
		names = append(names, name)
	}
	sort.Strings(names)
	return &Gateway{cfg: cfg, providers: providers, breakers: breakers, names: names, logger: logger}, nil
}

// order returns the fallback order for a stage: the routed provider first,
// then the remaining providers in stable name order.
func (g *Gateway) order(stage Stage) []string {
	preferred := ""
	switch g.cfg.Provider {
	case config.ProviderLocal:
		preferred = "local"
	case config.ProviderOpenAI:
		for _, n := range g.names {
			if n != "local" {
				preferred = n
				break
			}
		}
	case config.ProviderHybrid:
		preferred = g.cfg.PerStage[string(stage)]
	}
	if _, ok := g.providers[preferred]; !ok {
		preferred = g.names[0]
	}
	out := make([]string, 0, len(g.names))
	out = append(out, preferred)
	for _, n := range g.names {
		if n != preferred {
			out = append(out, n)
		}
	}
	return out
}

// Generate completes prompt with the stage's profile. On provider error or
// timeout it falls back to the next configured provider; when every provider
// fails it returns an LLM_UNAVAILABLE taxonomy error.
func (g *Gateway) Generate(ctx context.Context, stage Stage, prompt string) (string, error) {
	profile := ProfileFor(stage)
	var lastErr error
	order := g.order(stage)
	for i, name := range order {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := g.providers[name]
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout())
		start := time.Now()
		var text string
		err := g.breakers[name].Execute(func() error {
			var genErr error
			text, genErr = p.Generate(callCtx, prompt, profile)
			return genErr
		})
		cancel()
		metrics.LLMRequestDuration.WithLabelValues(name, string(stage)).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.LLMRequests.WithLabelValues(name, string(stage), "ok").Inc()
			return text, nil
		}
		metrics.LLMRequests.WithLabelValues(name, string(stage), "error").Inc()
		lastErr = err
		// the parent being cancelled is not a provider failure
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if i < len(order)-1 {
			metrics.LLMFallbacks.WithLabelValues(name, string(stage)).Inc()
			g.logger.Warn("llm provider failed, falling back",
				zap.String("provider", name),
				zap.String("stage", string(stage)),
				zap.Error(err),
			)
		}
	}
	return "", research.NewError(research.KindLLMUnavailable,
		fmt.Sprintf("%v: %v", ErrUnavailable, lastErr), ErrUnavailable)
}

// Stream streams a completion when the routed provider supports it and
// streaming is enabled; otherwise it falls back to a single Generate call
// delivered as one chunk.
func (g *Gateway) Stream(ctx context.Context, stage Stage, prompt string) (<-chan string, error) {
	if g.cfg.StreamEnabled {
		name := g.order(stage)[0]
		if s, ok := g.providers[name].(Streamer); ok {
			ch, err := s.Stream(ctx, prompt, ProfileFor(stage))
			if err == nil {
				return ch, nil
			}
			g.logger.Warn("llm stream failed, degrading to generate",
				zap.String("provider", name), zap.Error(err))
		}
	}
	text, err := g.Generate(ctx, stage, prompt)
	if err != nil {
		return nil, err
	}
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return ch, nil
}

// Probe reports whether any configured provider answers within the timeout.
func (g *Gateway) Probe(ctx context.Context, timeout time.Duration) bool {
	for _, name := range g.names {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := g.providers[name].Probe(probeCtx)
		cancel()
		if err == nil {
			return true
		}
	}
	return false
}
