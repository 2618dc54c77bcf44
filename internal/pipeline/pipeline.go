package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/victorx64/biohack-debunker/internal/evidence"
	"github.com/victorx64/biohack-debunker/internal/llm"
	"github.com/victorx64/biohack-debunker/internal/logging"
	"github.com/victorx64/biohack-debunker/internal/metrics"
	"github.com/victorx64/biohack-debunker/internal/model"
	"github.com/victorx64/biohack-debunker/internal/report"
	"github.com/victorx64/biohack-debunker/internal/verdict"
)

var (
	// ErrInvalidRequest wraps request validation failures
	ErrInvalidRequest = errors.New("invalid analysis request")
	// ErrNoClaims is returned when extraction found nothing to judge
	ErrNoClaims = errors.New("no claims extracted")
	// ErrClaimJudgment wraps a failed analysis-stage call for one claim
	ErrClaimJudgment = errors.New("claim judgment failed")
)

const warningClaimChars = 80

// Extractor turns transcript segments into claim drafts
type Extractor interface {
	Extract(ctx context.Context, segments []model.TranscriptSegment, claimsPerChunk, chunkSizeChars int) ([]model.ClaimDraft, model.Usage, error)
}

// Searcher looks up literature for a claim
type Searcher interface {
	Search(ctx context.Context, q evidence.Query) (*evidence.Response, error)
}

// Options configures a Pipeline
type Options struct {
	MaxConcurrentClaims int  // Claims judged at once across all analyses
	PartialFailure      bool // Mark failed claims not_assessable instead of failing the run
	Logger              *slog.Logger
}

// Pipeline orchestrates extraction, evidence lookup, judgment and the report
type Pipeline struct {
	extractor Extractor
	searcher  Searcher
	gen       llm.Generator
	policy    *verdict.Policy
	reporter  *report.Aggregator
	claims    *semaphore.Weighted
	validate  *validator.Validate
	partial   bool
	logger    *slog.Logger
}

// NewPipeline creates a new pipeline
func NewPipeline(extractor Extractor, searcher Searcher, gen llm.Generator, policy *verdict.Policy, opts Options) *Pipeline {
	if policy == nil {
		policy = verdict.NewPolicy(verdict.Default())
	}
	if opts.MaxConcurrentClaims <= 0 {
		opts.MaxConcurrentClaims = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		extractor: extractor,
		searcher:  searcher,
		gen:       gen,
		policy:    policy,
		reporter:  report.NewAggregator(gen, policy.Taxonomy(), logger),
		claims:    semaphore.NewWeighted(int64(opts.MaxConcurrentClaims)),
		validate:  validator.New(),
		partial:   opts.PartialFailure,
		logger:    logger.With("component", "pipeline"),
	}
}

// Analyze runs a complete analysis. The result is either complete and
// policy-compliant, with warnings for recovered problems, or an error.
func (p *Pipeline) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResponse, error) {
	start := time.Now()
	id := uuid.NewString()
	ctx = logging.WithAttrs(ctx, "analysis_id", id)
	log := logging.Ctx(ctx, p.logger)

	resp, err := p.analyze(ctx, log, req)
	if err != nil {
		metrics.Analyses.WithLabelValues("error").Inc()
		log.Error("analysis failed", "error", err, "took_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	resp.ID = id
	resp.TookMS = time.Since(start).Milliseconds()

	metrics.Analyses.WithLabelValues("success").Inc()
	log.Info("analysis complete",
		"claims", len(resp.Claims),
		"warnings", len(resp.Warnings),
		"overall_rating", resp.OverallRating,
		"took_ms", resp.TookMS,
	)
	return resp, nil
}

func (p *Pipeline) analyze(ctx context.Context, log *slog.Logger, req model.AnalysisRequest) (*model.AnalysisResponse, error) {
	// 1. Validate
	req = req.WithDefaults()
	if err := p.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// 2. Extract claims
	drafts, extractUsage, err := p.extractor.Extract(ctx, req.Segments, req.ClaimsPerChunk, req.ChunkSizeChars)
	if err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	if len(drafts) == 0 {
		return nil, ErrNoClaims
	}
	log.Info("claims extracted", "segments", len(req.Segments), "claims", len(drafts))

	// 3. Judge claims concurrently, results by claim index
	results := make([]model.ClaimResult, len(drafts))
	warnings := make([][]string, len(drafts))

	g, gctx := errgroup.WithContext(ctx)
	for i, draft := range drafts {
		i, draft := i, draft
		g.Go(func() error {
			if err := p.claims.Acquire(gctx, 1); err != nil {
				return err
			}
			defer p.claims.Release(1)

			result, warns, err := p.judgeClaim(gctx, log, req, draft)
			if err != nil {
				return fmt.Errorf("claim %d: %w", i, err)
			}
			results[i] = result
			warnings[i] = warns
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 4. Report
	rep := p.reporter.Aggregate(ctx, results)

	// 5. Costs
	costs := model.ClaimCosts{}.AddUsage(extractUsage).AddUsage(rep.Usage)
	for _, r := range results {
		costs = costs.Add(r.Costs)
	}

	flat := []string{}
	for _, w := range warnings {
		flat = append(flat, w...)
	}

	return &model.AnalysisResponse{
		Claims:        results,
		Summary:       rep.Summary,
		OverallRating: rep.OverallRating,
		Warnings:      flat,
		Costs:         costs,
	}, nil
}

// evidenceItem is the view of a source the analysis stage sees
type evidenceItem struct {
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	SourceType      string   `json:"source_type"`
	PublicationType []string `json:"publication_type,omitempty"`
	PublicationDate *string  `json:"publication_date,omitempty"`
	RelevanceScore  float64  `json:"relevance_score"`
	Snippet         *string  `json:"snippet"`
}

type judgmentInput struct {
	Claim    string         `json:"claim"`
	Evidence []evidenceItem `json:"evidence"`
}

// rawJudgment is the analysis-stage output before the policy pass
type rawJudgment struct {
	Verdict       string      `json:"verdict" validate:"max=64"`
	Confidence    json.Number `json:"confidence"`
	Explanation   string      `json:"explanation" validate:"max=4000"`
	Nuance        *string     `json:"nuance"`
	EvidenceLevel string      `json:"evidence_level"`
	StudyType     string      `json:"study_type"`
}

// judgeClaim fetches evidence then asks for a verdict and applies the policy.
// Evidence failures become warnings; judgment failures are returned as
// ErrClaimJudgment unless partial failure is enabled.
func (p *Pipeline) judgeClaim(ctx context.Context, log *slog.Logger, req model.AnalysisRequest, draft model.ClaimDraft) (model.ClaimResult, []string, error) {
	var warnings []string
	result := model.ClaimResult{ClaimDraft: draft, Sources: []model.EvidenceSource{}}

	found, err := p.searcher.Search(ctx, evidence.Query{
		Query:      draft.Query(),
		MaxResults: req.ResearchMaxResults,
		Sources:    req.ResearchSources,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, nil, ctxErr
		}
		log.Warn("evidence lookup failed", "claim", shorten(draft.Claim), "error", err)
		warnings = append(warnings, fmt.Sprintf("Research lookup failed for claim: %s (%v)", shorten(draft.Claim), err))
	} else {
		if found.Results != nil {
			result.Sources = found.Results
		}
		result.Costs = found.Counters.Costs()
	}

	analysis, usage, err := p.judge(ctx, draft.Claim, result.Sources)
	result.Costs = result.Costs.AddUsage(usage)
	if err != nil {
		if ctx.Err() != nil || !p.partial {
			return result, nil, err
		}
		log.Warn("claim marked not assessable", "claim", shorten(draft.Claim), "error", err)
		warnings = append(warnings, fmt.Sprintf("Claim analysis failed for claim: %s (%v)", shorten(draft.Claim), err))
		result.ClaimAnalysis = model.ClaimAnalysis{
			Verdict:     p.policy.Taxonomy().Label(verdict.RoleNotAssessable),
			Confidence:  0,
			Explanation: "The claim could not be assessed.",
		}
		return result, warnings, nil
	}

	result.ClaimAnalysis = analysis
	log.Debug("claim judged",
		"claim", shorten(draft.Claim),
		"verdict", analysis.Verdict,
		"confidence", analysis.Confidence,
		"sources", len(result.Sources),
	)
	return result, warnings, nil
}

// judge runs the analysis-stage call and the policy pass
func (p *Pipeline) judge(ctx context.Context, claim string, sources []model.EvidenceSource) (model.ClaimAnalysis, model.Usage, error) {
	input := judgmentInput{Claim: claim, Evidence: make([]evidenceItem, len(sources))}
	for i, s := range sources {
		input.Evidence[i] = evidenceItem{
			Title:           s.Title,
			URL:             s.URL,
			SourceType:      s.SourceType,
			PublicationType: s.PublicationType,
			PublicationDate: s.PublicationDate,
			RelevanceScore:  s.RelevanceScore,
			Snippet:         s.Snippet,
		}
	}

	user, err := json.Marshal(input)
	if err != nil {
		return model.ClaimAnalysis{}, model.Usage{}, fmt.Errorf("%w: encode input: %v", ErrClaimJudgment, err)
	}

	labels := p.policy.Taxonomy().Labels()
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = string(l)
	}

	res, err := p.gen.Generate(ctx, llm.Request{
		Stage:  llm.StageAnalysis,
		System: llm.AnalysisPrompt(names),
		User:   string(user),
	})
	if err != nil {
		return model.ClaimAnalysis{}, model.Usage{}, fmt.Errorf("%w: %w", ErrClaimJudgment, err)
	}

	var raw rawJudgment
	if err := res.Decode(&raw); err != nil {
		return model.ClaimAnalysis{}, res.Usage, fmt.Errorf("%w: %w", ErrClaimJudgment, err)
	}
	if err := p.validate.Struct(raw); err != nil {
		return model.ClaimAnalysis{}, res.Usage, fmt.Errorf("%w: %v", ErrClaimJudgment, err)
	}

	confidence := 0.5
	if raw.Confidence != "" {
		c, err := raw.Confidence.Float64()
		if err != nil {
			return model.ClaimAnalysis{}, res.Usage, fmt.Errorf("%w: confidence: %v", ErrClaimJudgment, err)
		}
		confidence = c
	}

	explanation := strings.TrimSpace(raw.Explanation)
	if explanation == "" {
		explanation = "Insufficient evidence available."
	}

	var nuance *string
	if raw.Nuance != nil {
		if n := strings.TrimSpace(*raw.Nuance); n != "" {
			nuance = &n
		}
	}

	analysis := p.policy.Apply(model.ClaimAnalysis{
		Verdict:       model.Verdict(raw.Verdict),
		Confidence:    confidence,
		Explanation:   explanation,
		Nuance:        nuance,
		EvidenceLevel: model.EvidenceLevel(strings.ToLower(strings.TrimSpace(raw.EvidenceLevel))),
		StudyType:     model.StudyType(strings.TrimSpace(raw.StudyType)),
	}, sources)

	return analysis, res.Usage, nil
}

// shorten truncates a claim for warnings and logs
func shorten(claim string) string {
	runes := []rune(claim)
	if len(runes) <= warningClaimChars {
		return claim
	}
	return string(runes[:warningClaimChars])
}
