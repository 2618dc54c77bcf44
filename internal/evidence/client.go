package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/victorx64/biohack-debunker/internal/cache"
	"github.com/victorx64/biohack-debunker/internal/logging"
	"github.com/victorx64/biohack-debunker/internal/metrics"
	"github.com/victorx64/biohack-debunker/internal/model"
	"github.com/victorx64/biohack-debunker/internal/ratelimit"
)

// ErrFetch wraps every evidence lookup failure
var ErrFetch = errors.New("evidence: fetch failed")

const maxResponseBytes = 10 * 1024 * 1024

var tracer = otel.Tracer("biohack-debunker/evidence")

// Query is one literature search
type Query struct {
	Query      string
	MaxResults int
	Sources    []string
}

// Counters are the per-provider request counts declared by the collaborator
type Counters struct {
	PubMed   int `json:"pubmed_requests"`
	Tavily   int `json:"tavily_requests"`
	OpenAlex int `json:"openalex_requests"`
}

// Costs converts counters into a claim cost record
func (c Counters) Costs() model.ClaimCosts {
	return model.ClaimCosts{
		PubMedRequests:   c.PubMed,
		TavilyRequests:   c.Tavily,
		OpenAlexRequests: c.OpenAlex,
	}
}

// Response is the ordered, truncated evidence for a query
type Response struct {
	Results  []model.EvidenceSource
	Counters Counters
	Cached   bool
}

// wireRequest is the collaborator request body
type wireRequest struct {
	Query      string   `json:"query"`
	MaxResults int      `json:"max_results"`
	Sources    []string `json:"sources"`
}

// wireResponse is the collaborator response body
type wireResponse struct {
	Query   string                 `json:"query"`
	Results []model.EvidenceSource `json:"results"`
	Counters
}

// Options configures a Client
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	Limiter    ratelimit.Limiter // Optional
	Cache      cache.Cache       // Optional
	CacheTTL   time.Duration
	Logger     *slog.Logger
}

// Client queries the research collaborator
type Client struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string
	limiter    ratelimit.Limiter
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// NewClient creates a new evidence client
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:   strings.TrimRight(opts.BaseURL, "/") + "/research",
		httpClient: httpClient,
		userAgent:  opts.UserAgent,
		limiter:    opts.Limiter,
		cache:      opts.Cache,
		cacheTTL:   ttl,
		logger:     logger.With("component", "evidence"),
	}
}

// CacheKeyFor returns the cache key of a query; source order does not matter
func CacheKeyFor(q Query) string {
	sources := append([]string(nil), q.Sources...)
	sort.Strings(sources)
	return cache.CacheKey("evidence", q.Query+"::"+strings.Join(sources, ",")+"::"+strconv.Itoa(q.MaxResults))
}

// limiterKeys returns each queried provider once, in a stable order, since
// the collaborator calls every listed provider
func limiterKeys(sources []string) []string {
	keys := make([]string, 0, len(sources))
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		keys = append(keys, s)
	}
	sort.Strings(keys)
	return keys
}

// Search returns up to MaxResults sources ordered by relevance. Cached
// responses report zero request counters.
func (c *Client) Search(ctx context.Context, q Query) (*Response, error) {
	ctx, span := tracer.Start(ctx, "evidence.Search")
	defer span.End()

	resp, err := c.search(ctx, q)
	if err != nil {
		metrics.EvidenceRequests.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("evidence.results", len(resp.Results)),
		attribute.Bool("evidence.cached", resp.Cached),
	)
	return resp, nil
}

func (c *Client) search(ctx context.Context, q Query) (*Response, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrFetch)
	}
	if q.MaxResults <= 0 {
		q.MaxResults = 5
	}
	if len(q.Sources) == 0 {
		q.Sources = []string{"pubmed"}
	}

	key := CacheKeyFor(q)
	if c.cache != nil {
		if data, found := c.cache.Get(ctx, key); found {
			var results []model.EvidenceSource
			if err := json.Unmarshal(data, &results); err == nil {
				metrics.EvidenceRequests.WithLabelValues("hit").Inc()
				logging.Ctx(ctx, c.logger).Debug("evidence cache hit", "query", q.Query, "results", len(results))
				return &Response{Results: results, Cached: true}, nil
			}
		}
	}

	if c.limiter != nil {
		for _, source := range limiterKeys(q.Sources) {
			if err := c.limiter.Acquire(ctx, source); err != nil {
				return nil, fmt.Errorf("%w: rate limiter: %w", ErrFetch, err)
			}
		}
	}

	wire, err := c.post(ctx, q)
	if err != nil {
		return nil, err
	}

	results := Normalize(wire.Results, q.MaxResults)

	metrics.EvidenceRequests.WithLabelValues("miss").Inc()
	metrics.ProviderCalls.WithLabelValues("pubmed").Add(float64(wire.PubMed))
	metrics.ProviderCalls.WithLabelValues("tavily").Add(float64(wire.Tavily))
	metrics.ProviderCalls.WithLabelValues("openalex").Add(float64(wire.OpenAlex))

	if c.cache != nil {
		if data, err := json.Marshal(results); err == nil {
			if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
				logging.Ctx(ctx, c.logger).Warn("evidence cache write failed", "error", err)
			}
		}
	}

	logging.Ctx(ctx, c.logger).Debug("evidence fetched",
		"query", q.Query,
		"sources", q.Sources,
		"results", len(results),
		"pubmed_requests", wire.PubMed,
		"tavily_requests", wire.Tavily,
		"openalex_requests", wire.OpenAlex,
	)

	return &Response{Results: results, Counters: wire.Counters}, nil
}

func (c *Client) post(ctx context.Context, q Query) (*wireResponse, error) {
	body, err := json.Marshal(wireRequest{Query: q.Query, MaxResults: q.MaxResults, Sources: q.Sources})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrFetch, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	// Read body with size limit
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrFetch, resp.StatusCode, truncate(string(data), 200))
	}

	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrFetch, err)
	}

	return &wire, nil
}

// Normalize sorts by relevance (stable, descending), truncates to limit and
// strips markup from snippets
func Normalize(results []model.EvidenceSource, limit int) []model.EvidenceSource {
	out := append([]model.EvidenceSource(nil), results...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	for i := range out {
		if out[i].Snippet == nil {
			continue
		}
		clean := StripHTML(*out[i].Snippet)
		if clean == "" {
			out[i].Snippet = nil
			continue
		}
		out[i].Snippet = &clean
	}

	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
