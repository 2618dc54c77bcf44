package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLMRequests counts LLM attempts by stage, provider and outcome
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_requests_total",
		Help: "Total LLM attempts by stage, provider and outcome",
	}, []string{"stage", "provider", "outcome"})

	// LLMTokens counts prompt and completion tokens by stage
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Total LLM tokens by stage and kind",
	}, []string{"stage", "kind"})

	// LLMDuration tracks end-to-end Generate latency including fallbacks
	LLMDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generate_duration_seconds",
		Help:    "LLM generate duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
	}, []string{"stage"})

	// RateLimitWait tracks how long callers sleep for a reserved slot
	RateLimitWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ratelimit_wait_seconds",
		Help:    "Time spent waiting for a rate limiter slot",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"key"})

	// EvidenceRequests counts evidence lookups by outcome (hit, miss, error)
	EvidenceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_requests_total",
		Help: "Total evidence lookups by outcome",
	}, []string{"outcome"})

	// ProviderCalls counts literature provider calls reported by the research collaborator
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_provider_calls_total",
		Help: "Literature provider calls reported by the research service",
	}, []string{"provider"})

	// Analyses counts pipeline runs by outcome
	Analyses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyses_total",
		Help: "Total analyses by outcome",
	}, []string{"outcome"})

	// HTTPRequests counts HTTP requests by method, route and status
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})
)
