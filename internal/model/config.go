package model

import "time"

// Config is the complete runtime configuration
type Config struct {
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Research  ResearchConfig  `yaml:"research" mapstructure:"research"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// RouteConfig describes one provider/model endpoint
type RouteConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // openai, openrouter
	Model    string `yaml:"model" mapstructure:"model"`
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
}

// LLMConfig holds LLM routing and request settings
type LLMConfig struct {
	Default              RouteConfig              `yaml:"default" mapstructure:"default"`
	Stages               map[string][]RouteConfig `yaml:"stages,omitempty" mapstructure:"stages"` // extraction, query, analysis, report
	MaxFallbacksPerStage int                      `yaml:"max_fallbacks_per_stage" mapstructure:"max_fallbacks_per_stage"`
	MaxRetries           int                      `yaml:"max_retries" mapstructure:"max_retries"`
	Backoff              time.Duration            `yaml:"backoff" mapstructure:"backoff"`
	Temperature          float32                  `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens            int                      `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout              time.Duration            `yaml:"timeout" mapstructure:"timeout"` // Per attempt
}

// AnalysisConfig controls pipeline fan-out and failure policy
type AnalysisConfig struct {
	MaxConcurrentChunks int    `yaml:"max_concurrent_chunks" mapstructure:"max_concurrent_chunks"`
	MaxConcurrentClaims int    `yaml:"max_concurrent_claims" mapstructure:"max_concurrent_claims"`
	QueryGeneration     bool   `yaml:"query_generation" mapstructure:"query_generation"`
	QueryMaxAttempts    int    `yaml:"query_max_attempts" mapstructure:"query_max_attempts"`
	PartialFailure      bool   `yaml:"partial_failure" mapstructure:"partial_failure"` // Mark failed claims not_assessable instead of failing the run
	TaxonomyFile        string `yaml:"taxonomy_file,omitempty" mapstructure:"taxonomy_file"`
}

// ResearchConfig points at the evidence search collaborator
type ResearchConfig struct {
	URL       string        `yaml:"url" mapstructure:"url"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	UserAgent string        `yaml:"user_agent" mapstructure:"user_agent"`
	Proxy     string        `yaml:"proxy,omitempty" mapstructure:"proxy"` // Falls back to HTTP(S)_PROXY
}

// RateLimitConfig controls outbound literature API pacing
type RateLimitConfig struct {
	Backend   string  `yaml:"backend" mapstructure:"backend"` // memory, redis
	MaxRPS    float64 `yaml:"max_rps" mapstructure:"max_rps"`
	KeyPrefix string  `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// CacheConfig controls the evidence cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Backend string        `yaml:"backend" mapstructure:"backend"` // memory, disk, redis, layered
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Dir     string        `yaml:"dir,omitempty" mapstructure:"dir"` // Disk backend directory, defaults to ~/.debunker/cache

	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"` // Memory layer cap, 0 for unbounded
}

// RedisConfig is shared by the redis limiter and cache
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr        string `yaml:"addr" mapstructure:"addr"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text, json
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Default: RouteConfig{
				Provider: "openai",
				Model:    "gpt-4o-mini",
				BaseURL:  "https://api.openai.com/v1",
			},
			MaxFallbacksPerStage: 1,
			MaxRetries:           2,
			Backoff:              500 * time.Millisecond,
			Temperature:          0.2,
			MaxTokens:            16384,
			Timeout:              60 * time.Second,
		},
		Analysis: AnalysisConfig{
			MaxConcurrentChunks: 10,
			MaxConcurrentClaims: 5,
			QueryGeneration:     true,
			QueryMaxAttempts:    3,
			PartialFailure:      false,
		},
		Research: ResearchConfig{
			URL:       "http://localhost:8002",
			Timeout:   30 * time.Second,
			CacheTTL:  time.Hour,
			UserAgent: "biohack-debunker/1.0",
		},
		RateLimit: RateLimitConfig{
			Backend:   "memory",
			MaxRPS:    3,
			KeyPrefix: "ratelimit",
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend:    "memory",
			TTL:        time.Hour,
			MaxEntries: 10000,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Server: ServerConfig{
			Addr:        ":8080",
			ServiceName: "biohack-debunker",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Redacted returns a copy with credentials masked, safe for display
func (c Config) Redacted() Config {
	c.LLM.Default.APIKey = mask(c.LLM.Default.APIKey)
	if c.LLM.Stages != nil {
		stages := make(map[string][]RouteConfig, len(c.LLM.Stages))
		for stage, routes := range c.LLM.Stages {
			masked := make([]RouteConfig, len(routes))
			for i, r := range routes {
				r.APIKey = mask(r.APIKey)
				masked[i] = r
			}
			stages[stage] = masked
		}
		c.LLM.Stages = stages
	}
	c.Redis.Password = mask(c.Redis.Password)
	return c
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
