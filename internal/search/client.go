// Package search wraps a Tavily-style web search API behind a bounded,
// time-expiring cache. Without an API key the gateway runs in degraded mode:
// every query returns an empty, degraded-flagged result and the workflow
// carries on.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/haneulab/deepresearch/internal/circuitbreaker"
	"github.com/haneulab/deepresearch/internal/config"
	"github.com/haneulab/deepresearch/internal/metrics"
	"github.com/haneulab/deepresearch/internal/research"
)

// Result is one ranked search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Response carries the ranked results plus the degraded marker.
type Response struct {
	Results  []Result
	Degraded bool
}

const (
	cacheTTL     = 15 * time.Minute
	cacheEntries = 512
	// upstream allowance; Tavily free tier tolerates about this much
	requestsPerSecond = 10
)

// Client is the search gateway.
type Client struct {
	cfg     config.SearchConfig
	http    *http.Client
	cache   *lru.LRU[string, []Result]
	flight  singleflight.Group
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
}

// NewClient builds the gateway. A missing API key is not an error; the client
// starts degraded.
func NewClient(cfg config.SearchConfig, logger *zap.Logger) *Client {
	if cfg.APIKey == "" {
		logger.Warn("no search api key configured, search gateway degraded")
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		cache:   lru.NewLRU[string, []Result](cacheEntries, nil, cacheTTL),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		breaker: circuitbreaker.New("search", circuitbreaker.DefaultConfig(), logger),
		logger:  logger,
	}
}

// Degraded reports whether the gateway has no configured provider.
func (c *Client) Degraded() bool { return c.cfg.APIKey == "" }

// Search returns up to maxResults hits ordered by score descending. Results
// are cached for 15 minutes keyed by (normalized query, language, maxResults);
// identical concurrent misses share one upstream call.
func (c *Client) Search(ctx context.Context, query string, lang research.Language, maxResults int) (Response, error) {
	if maxResults <= 0 {
		maxResults = c.cfg.MaxResults
	}
	if c.Degraded() {
		return Response{Results: []Result{}, Degraded: true}, nil
	}

	key := fmt.Sprintf("%s|%s|%d", normalizeQuery(query), lang, maxResults)
	if cached, ok := c.cache.Get(key); ok {
		metrics.SearchCacheHits.Inc()
		return Response{Results: cached}, nil
	}
	metrics.SearchCacheMisses.Inc()

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		var results []Result
		err := c.breaker.Execute(func() error {
			var fetchErr error
			results, fetchErr = c.fetch(ctx, query, maxResults)
			return fetchErr
		})
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, results)
		return results, nil
	})
	if err != nil {
		metrics.SearchRequests.WithLabelValues("error").Inc()
		c.logger.Warn("search failed", zap.String("query", query), zap.Error(err))
		// failures degrade rather than fail the workflow
		return Response{Results: []Result{}, Degraded: true}, nil
	}
	metrics.SearchRequests.WithLabelValues("ok").Inc()
	return Response{Results: v.([]Result)}, nil
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (c *Client) fetch(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(searchRequest{
		APIKey:      c.cfg.APIKey,
		Query:       query,
		SearchDepth: "advanced",
		MaxResults:  maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("search: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search: provider returned %d: %s", resp.StatusCode, string(msg))
	}
	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}

	results := make([]Result, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Score:   r.Score,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// Probe runs a minimal search to confirm the provider answers.
func (c *Client) Probe(ctx context.Context) bool {
	if c.Degraded() {
		return false
	}
	_, err := c.fetch(ctx, "ping", 1)
	return err == nil
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
