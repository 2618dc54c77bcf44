package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/victorx64/biohack-debunker/internal/llm"
	"github.com/victorx64/biohack-debunker/internal/model"
)

func TestSetDefaults_EnvOverride(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	t.Setenv("DEBUNKER_RESEARCH_URL", "http://research:9000")
	t.Setenv("DEBUNKER_ANALYSIS_MAX_CONCURRENT_CLAIMS", "9")

	if err := setDefaults(model.DefaultConfig()); err != nil {
		t.Fatalf("setDefaults failed: %v", err)
	}
	viper.SetEnvPrefix("DEBUNKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.Research.URL != "http://research:9000" {
		t.Errorf("expected research URL from env, got %s", cfg.Research.URL)
	}
	if cfg.Analysis.MaxConcurrentClaims != 9 {
		t.Errorf("expected 9 concurrent claims, got %d", cfg.Analysis.MaxConcurrentClaims)
	}
	if cfg.Research.Timeout != 30*time.Second {
		t.Errorf("expected default timeout to survive, got %v", cfg.Research.Timeout)
	}
}

func TestLoadConfig_OpenAIKeyFallback(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.LLM.Default.APIKey != "sk-test" {
		t.Errorf("expected fallback key, got %q", cfg.LLM.Default.APIKey)
	}
}

func TestNeedsRedis(t *testing.T) {
	tests := []struct {
		name    string
		limiter string
		cache   string
		enabled bool
		want    bool
	}{
		{"memory only", "memory", "memory", true, false},
		{"redis limiter", "redis", "memory", true, true},
		{"redis cache", "memory", "redis", true, true},
		{"layered cache", "memory", "layered", true, true},
		{"cache disabled", "memory", "redis", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := model.DefaultConfig()
			cfg.RateLimit.Backend = tt.limiter
			cfg.Cache.Backend = tt.cache
			cfg.Cache.Enabled = tt.enabled
			if got := needsRedis(cfg); got != tt.want {
				t.Errorf("needsRedis() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCountRoutes(t *testing.T) {
	route := llm.Route{Provider: "openai", Model: "gpt-4o-mini", APIKey: "k", BaseURL: "https://api.openai.com/v1"}
	other := llm.Route{Provider: "openai", Model: "gpt-4o", APIKey: "k", BaseURL: "https://api.openai.com/v1"}
	disabled := llm.Route{Provider: "openai", Model: "gpt-4o"}

	opts := llm.Options{
		Default: route,
		Stages: map[llm.Stage][]llm.Route{
			llm.StageExtraction: {route, other},
			llm.StageAnalysis:   {disabled},
		},
	}

	if got := countRoutes(opts); got != 2 {
		t.Errorf("expected 2 distinct routes, got %d", got)
	}
	if got := countRoutes(llm.Options{}); got != 0 {
		t.Errorf("expected 0 routes, got %d", got)
	}
}

func TestAnalysisTemplate(t *testing.T) {
	claimsPerChunk, researchSources = 3, []string{"openalex"}
	defer func() { claimsPerChunk, researchSources = 0, nil }()

	req := analysisTemplate()
	if req.ClaimsPerChunk != 3 || len(req.ResearchSources) != 1 || req.ResearchSources[0] != "openalex" {
		t.Errorf("unexpected template: %+v", req)
	}
	if req.ChunkSizeChars != 0 {
		t.Errorf("expected zero chunk size to defer to request defaults, got %d", req.ChunkSizeChars)
	}
}

func TestMarshalConfig_Redacted(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.LLM.Default.APIKey = "sk-secret"

	data, err := marshalConfig(cfg.Redacted())
	if err != nil {
		t.Fatalf("marshalConfig failed: %v", err)
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Error("API key leaked into rendered config")
	}
	if !strings.Contains(string(data), "research:") {
		t.Errorf("expected research section, got:\n%s", data)
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("writeDefaultConfig failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "# Debunker configuration file") {
		t.Error("missing header comment")
	}
	if !strings.Contains(content, "service_name: biohack-debunker") {
		t.Errorf("expected defaults in file, got:\n%s", content)
	}

	if err := writeDefaultConfig(path); err == nil {
		t.Error("expected error when config already exists")
	}
}
