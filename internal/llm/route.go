package llm

import (
	"log/slog"
	"strings"

	"github.com/victorx64/biohack-debunker/internal/model"
)

// Stage names a pipeline step that selects its own route list
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageQuery      Stage = "query"
	StageAnalysis   Stage = "analysis"
	StageReport     Stage = "report"
)

// Route is one provider/model/credentials tuple a call can be sent to
type Route struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// RouteFromConfig converts a configured route
func RouteFromConfig(rc model.RouteConfig) Route {
	return Route{
		Provider: strings.ToLower(strings.TrimSpace(rc.Provider)),
		Model:    strings.TrimSpace(rc.Model),
		APIKey:   strings.TrimSpace(rc.APIKey),
		BaseURL:  strings.TrimRight(strings.TrimSpace(rc.BaseURL), "/"),
	}
}

// Enabled reports whether every field is set and the provider is supported
func (r Route) Enabled() bool {
	return r.Model != "" && r.APIKey != "" && r.BaseURL != "" && supportedProvider(r.Provider)
}

// String identifies the route without credentials
func (r Route) String() string {
	return r.Provider + "/" + r.Model
}

// LogValue keeps the API key out of structured logs
func (r Route) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", r.Provider),
		slog.String("model", r.Model),
		slog.String("base_url", r.BaseURL),
	)
}

// SelectRoutes returns the ordered routes to try for a stage: the stage's
// own list, or the default route when it has none, capped at
// maxFallbacks+1 entries
func SelectRoutes(stages map[Stage][]Route, defaultRoute Route, stage Stage, maxFallbacks int) []Route {
	routes := stages[stage]
	if len(routes) == 0 {
		routes = []Route{defaultRoute}
	}

	if maxFallbacks < 0 {
		maxFallbacks = 0
	}
	if len(routes) > maxFallbacks+1 {
		routes = routes[:maxFallbacks+1]
	}

	out := make([]Route, len(routes))
	copy(out, routes)
	return out
}

// anyEnabled reports whether at least one route can be used
func anyEnabled(defaultRoute Route, stages map[Stage][]Route) bool {
	if defaultRoute.Enabled() {
		return true
	}
	for _, routes := range stages {
		for _, r := range routes {
			if r.Enabled() {
				return true
			}
		}
	}
	return false
}
