package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/victorx64/biohack-debunker/internal/llm"
	"github.com/victorx64/biohack-debunker/internal/logging"
	"github.com/victorx64/biohack-debunker/internal/model"
	"github.com/victorx64/biohack-debunker/internal/verdict"
)

// Overall ratings
const (
	RatingAccurate       = "accurate"
	RatingMostlyAccurate = "mostly_accurate"
	RatingMixed          = "mixed"
)

// Report is the aggregate summary of an analysis
type Report struct {
	Summary       string
	OverallRating string
	Usage         model.Usage
	Stub          bool // True when the deterministic fallback produced the report
}

// Aggregator writes the summary and overall rating for a set of claim results
type Aggregator struct {
	gen      llm.Generator
	taxonomy *verdict.Taxonomy
	logger   *slog.Logger
}

// NewAggregator creates a new report aggregator. A nil generator always
// yields the deterministic report.
func NewAggregator(gen llm.Generator, taxonomy *verdict.Taxonomy, logger *slog.Logger) *Aggregator {
	if taxonomy == nil {
		taxonomy = verdict.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		gen:      gen,
		taxonomy: taxonomy,
		logger:   logger.With("component", "report"),
	}
}

type claimLine struct {
	Claim       string        `json:"claim"`
	Verdict     model.Verdict `json:"verdict"`
	Confidence  float64       `json:"confidence"`
	Explanation string        `json:"explanation"`
}

type reportPayload struct {
	Summary       any `json:"summary"`
	OverallRating any `json:"overall_rating"`
}

// Aggregate produces the report. It never fails: any problem with the
// report call falls back to the deterministic report.
func (a *Aggregator) Aggregate(ctx context.Context, claims []model.ClaimResult) Report {
	stub := a.Stub(claims)
	if a.gen == nil || len(claims) == 0 {
		return stub
	}

	log := logging.Ctx(ctx, a.logger)

	lines := make([]claimLine, len(claims))
	for i, c := range claims {
		lines[i] = claimLine{
			Claim:       c.Claim,
			Verdict:     c.Verdict,
			Confidence:  c.Confidence,
			Explanation: c.Explanation,
		}
	}

	user, err := json.Marshal(lines)
	if err != nil {
		log.Warn("report input encoding failed, using fallback", "error", err)
		return stub
	}

	result, err := a.gen.Generate(ctx, llm.Request{
		Stage:  llm.StageReport,
		System: llm.ReportPrompt(),
		User:   string(user),
	})
	if err != nil {
		log.Warn("report generation failed, using fallback", "error", err)
		return stub
	}

	var payload reportPayload
	if err := result.Decode(&payload); err != nil {
		log.Warn("report output unusable, using fallback", "error", err)
		stub.Usage = result.Usage
		return stub
	}

	summary := textValue(payload.Summary)
	rating, ok := NormalizeRating(textValue(payload.OverallRating))
	if summary == "" || !ok {
		log.Warn("report output incomplete, using fallback",
			"has_summary", summary != "",
			"overall_rating", textValue(payload.OverallRating),
		)
		stub.Usage = result.Usage
		return stub
	}

	return Report{
		Summary:       summary,
		OverallRating: rating,
		Usage:         result.Usage,
	}
}

// Stub builds the deterministic report from verdict counts
func (a *Aggregator) Stub(claims []model.ClaimResult) Report {
	if len(claims) == 0 {
		return Report{Summary: "No claims were analyzed.", OverallRating: RatingMixed, Stub: true}
	}

	counts := make(map[model.Verdict]int)
	negative := 0
	for _, c := range claims {
		counts[c.Verdict]++
		if a.taxonomy.IsNegative(c.Verdict) {
			negative++
		}
	}

	parts := make([]string, 0, len(counts))
	for _, label := range a.taxonomy.Labels() {
		parts = append(parts, fmt.Sprintf("%d %s", counts[label], strings.ReplaceAll(string(label), "_", " ")))
	}

	return Report{
		Summary:       fmt.Sprintf("Analyzed %d claims: %s.", len(claims), strings.Join(parts, ", ")),
		OverallRating: RatingForShare(float64(negative) / float64(len(claims))),
		Stub:          true,
	}
}

// RatingForShare maps the share of negative verdicts to an overall rating
func RatingForShare(share float64) string {
	switch {
	case share <= 0:
		return RatingAccurate
	case share <= 0.25:
		return RatingMostlyAccurate
	default:
		return RatingMixed
	}
}

// NormalizeRating maps a model-written rating onto the allowed set
func NormalizeRating(raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)

	switch key {
	case RatingAccurate:
		return RatingAccurate, true
	case RatingMostlyAccurate:
		return RatingMostlyAccurate, true
	case RatingMixed, "misleading", "inaccurate":
		return RatingMixed, true
	}
	return "", false
}

func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
