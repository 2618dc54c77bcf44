package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/victorx64/biohack-debunker/internal/cache"
	"github.com/victorx64/biohack-debunker/internal/evidence"
	"github.com/victorx64/biohack-debunker/internal/extract"
	"github.com/victorx64/biohack-debunker/internal/llm"
	"github.com/victorx64/biohack-debunker/internal/logging"
	"github.com/victorx64/biohack-debunker/internal/model"
	"github.com/victorx64/biohack-debunker/internal/pipeline"
	"github.com/victorx64/biohack-debunker/internal/ratelimit"
	"github.com/victorx64/biohack-debunker/internal/server"
	"github.com/victorx64/biohack-debunker/internal/util"
	"github.com/victorx64/biohack-debunker/internal/verdict"
)

// app holds the wired components for one command
type app struct {
	cfg      *model.Config
	logger   *slog.Logger
	pipeline *pipeline.Pipeline
	health   server.Health
	redis    redis.UniversalClient
}

// Close releases shared connections
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// buildApp wires the pipeline from configuration
func buildApp(ctx context.Context, cfg *model.Config) (*app, error) {
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	if needsRedis(cfg) {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		a.redis = client
	}

	limiter, err := ratelimit.New(cfg.RateLimit, a.redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var evidenceCache cache.Cache
	if cfg.Cache.Enabled {
		evidenceCache, err = cache.New(cfg.Cache, a.redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("cache: %w", err)
		}
	}

	llmOpts := llm.OptionsFromConfig(cfg.LLM, logger)
	generator, err := llm.NewClient(llmOpts)
	if err != nil {
		a.Close()
		return nil, err
	}

	httpClient, err := util.NewHTTPClient(cfg.Research.Timeout, cfg.Research.Proxy)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("research client: %w", err)
	}

	taxonomy := verdict.Default()
	if cfg.Analysis.TaxonomyFile != "" {
		taxonomy, err = verdict.LoadFile(cfg.Analysis.TaxonomyFile)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	extractor := extract.NewExtractor(generator, extract.Options{
		MaxConcurrentChunks: cfg.Analysis.MaxConcurrentChunks,
		QueryGeneration:     cfg.Analysis.QueryGeneration,
		QueryMaxAttempts:    cfg.Analysis.QueryMaxAttempts,
		Logger:              logger,
	})

	searcher := evidence.NewClient(evidence.Options{
		BaseURL:    cfg.Research.URL,
		HTTPClient: httpClient,
		UserAgent:  cfg.Research.UserAgent,
		Limiter:    limiter,
		Cache:      evidenceCache,
		CacheTTL:   cfg.Research.CacheTTL,
		Logger:     logger,
	})

	a.pipeline = pipeline.NewPipeline(extractor, searcher, generator, verdict.NewPolicy(taxonomy), pipeline.Options{
		MaxConcurrentClaims: cfg.Analysis.MaxConcurrentClaims,
		PartialFailure:      cfg.Analysis.PartialFailure,
		Logger:              logger,
	})

	a.health = server.Health{
		LLMRoutes:   countRoutes(llmOpts),
		ResearchURL: cfg.Research.URL,
		RateLimiter: limiterName(cfg.RateLimit.Backend),
	}

	logger.Debug("pipeline ready",
		"llm_routes", a.health.LLMRoutes,
		"research_url", cfg.Research.URL,
		"rate_limiter", a.health.RateLimiter,
		"cache", cfg.Cache.Enabled,
	)

	return a, nil
}

func needsRedis(cfg *model.Config) bool {
	if strings.EqualFold(cfg.RateLimit.Backend, "redis") {
		return true
	}
	if !cfg.Cache.Enabled {
		return false
	}
	return cfg.Cache.Backend == "redis" || cfg.Cache.Backend == "layered"
}

// countRoutes counts distinct enabled routes across the table
func countRoutes(opts llm.Options) int {
	seen := make(map[string]bool)
	add := func(r llm.Route) {
		if r.Enabled() {
			seen[r.String()] = true
		}
	}

	add(opts.Default)
	for _, routes := range opts.Stages {
		for _, r := range routes {
			add(r)
		}
	}
	return len(seen)
}

func limiterName(backend string) string {
	if backend == "" {
		return "memory"
	}
	return strings.ToLower(backend)
}

// analysisTemplate builds request options from flags, leaving zero values
// to the request defaults
func analysisTemplate() model.AnalysisRequest {
	req := model.AnalysisRequest{
		ClaimsPerChunk:     claimsPerChunk,
		ChunkSizeChars:     chunkSizeChars,
		ResearchMaxResults: researchMaxResults,
	}
	if len(researchSources) > 0 {
		req.ResearchSources = researchSources
	}
	return req
}
