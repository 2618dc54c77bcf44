package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorx64/biohack-debunker/internal/evidence"
	"github.com/victorx64/biohack-debunker/internal/llm"
	"github.com/victorx64/biohack-debunker/internal/model"
	"github.com/victorx64/biohack-debunker/internal/verdict"
)

type fakeExtractor struct {
	drafts []model.ClaimDraft
	err    error
}

func (f *fakeExtractor) Extract(context.Context, []model.TranscriptSegment, int, int) ([]model.ClaimDraft, model.Usage, error) {
	return f.drafts, model.Usage{PromptTokens: 100, CompletionTokens: 50}, f.err
}

// fakeSearcher answers by query text
type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]model.EvidenceSource
	fail    map[string]error
	queries []evidence.Query
}

func (f *fakeSearcher) Search(ctx context.Context, q evidence.Query) (*evidence.Response, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if err := f.fail[q.Query]; err != nil {
		return nil, err
	}
	return &evidence.Response{
		Results:  f.results[q.Query],
		Counters: evidence.Counters{PubMed: 1},
	}, nil
}

// stageGenerator answers analysis calls per claim and report calls with a
// fixed payload
type stageGenerator struct {
	analysis func(claim string) (string, error)
	report   string
	calls    atomic.Int32
}

func (g *stageGenerator) Generate(_ context.Context, req llm.Request) (*llm.Result, error) {
	g.calls.Add(1)
	usage := model.Usage{PromptTokens: 10, CompletionTokens: 4}

	switch req.Stage {
	case llm.StageAnalysis:
		var in judgmentInput
		if err := json.Unmarshal([]byte(req.User), &in); err != nil {
			return nil, err
		}
		payload, err := g.analysis(in.Claim)
		if err != nil {
			return nil, err
		}
		return &llm.Result{Payload: json.RawMessage(payload), Usage: usage}, nil
	case llm.StageReport:
		if g.report == "" {
			return nil, llm.ErrRoutesExhausted
		}
		return &llm.Result{Payload: json.RawMessage(g.report), Usage: usage}, nil
	}
	return nil, errors.New("unexpected stage " + string(req.Stage))
}

func ptr(s string) *string { return &s }

func request() model.AnalysisRequest {
	return model.AnalysisRequest{
		Segments: []model.TranscriptSegment{{Start: 0, End: 12, Text: "Vitamin D prevents colds and exercise improves sleep."}},
	}
}

func vitaminDrafts() []model.ClaimDraft {
	return []model.ClaimDraft{
		{Claim: "Vitamin D prevents colds", Timestamp: ptr("00:03"), SearchQuery: ptr("'vitamin d' AND 'common cold'")},
		{Claim: "Exercise improves sleep"},
	}
}

var metaAnalysis = model.EvidenceSource{
	Title:           "Vitamin D supplementation to prevent acute respiratory infections",
	URL:             "https://pubmed.ncbi.nlm.nih.gov/28202713/",
	SourceType:      "pubmed",
	PublicationType: []string{"Meta-Analysis", "Humans"},
	RelevanceScore:  0.92,
}

func TestPipeline_Analyze(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]model.EvidenceSource{
		"'vitamin d' AND 'common cold'": {metaAnalysis},
	}}
	gen := &stageGenerator{
		analysis: func(string) (string, error) {
			return `{"verdict": "supported", "confidence": 0.9, "explanation": "Trials agree.", "nuance": " "}`, nil
		},
		report: `{"summary": "Claims hold up.", "overall_rating": "accurate"}`,
	}

	p := NewPipeline(&fakeExtractor{drafts: vitaminDrafts()}, searcher, gen, nil, Options{})
	resp, err := p.Analyze(context.Background(), request())
	require.NoError(t, err)

	assert.NotEmpty(t, resp.ID)
	require.Len(t, resp.Claims, 2)
	assert.Empty(t, resp.Warnings)
	assert.NotNil(t, resp.Warnings)

	vitD := resp.Claims[0]
	assert.Equal(t, "Vitamin D prevents colds", vitD.Claim)
	assert.Equal(t, model.VerdictSupported, vitD.Verdict)
	assert.Equal(t, model.EvidenceHigh, vitD.EvidenceLevel)
	assert.Equal(t, model.StudyMetaAnalysis, vitD.StudyType)
	assert.InDelta(t, 0.9, vitD.Confidence, 1e-9)
	assert.Nil(t, vitD.Nuance)
	assert.Len(t, vitD.Sources, 1)

	sleep := resp.Claims[1]
	assert.Equal(t, model.VerdictNoEvidence, sleep.Verdict)
	assert.LessOrEqual(t, sleep.Confidence, 0.2)
	assert.NotNil(t, sleep.Sources)

	assert.Equal(t, "Claims hold up.", resp.Summary)
	assert.Equal(t, "accurate", resp.OverallRating)

	// Extraction 100/50, two judgments and the report at 10/4 each
	assert.Equal(t, 2, resp.Costs.PubMedRequests)
	assert.Equal(t, 130, resp.Costs.LLMPromptTokens)
	assert.Equal(t, 62, resp.Costs.LLMCompletionTokens)
	assert.Equal(t, model.ClaimCosts{PubMedRequests: 1, LLMPromptTokens: 10, LLMCompletionTokens: 4}, vitD.Costs)

	require.Len(t, searcher.queries, 2)
	for _, q := range searcher.queries {
		assert.Equal(t, 5, q.MaxResults)
		assert.Equal(t, []string{"pubmed"}, q.Sources)
	}
}

func TestPipeline_Analyze_InvalidRequest(t *testing.T) {
	p := NewPipeline(&fakeExtractor{drafts: vitaminDrafts()}, &fakeSearcher{}, &stageGenerator{}, nil, Options{})

	_, err := p.Analyze(context.Background(), model.AnalysisRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req := request()
	req.ResearchSources = []string{"scholar"}
	_, err = p.Analyze(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = request()
	req.ClaimsPerChunk = 31
	_, err = p.Analyze(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPipeline_Analyze_NoClaims(t *testing.T) {
	gen := &stageGenerator{}
	p := NewPipeline(&fakeExtractor{}, &fakeSearcher{}, gen, nil, Options{})

	_, err := p.Analyze(context.Background(), request())
	assert.ErrorIs(t, err, ErrNoClaims)
	assert.Zero(t, gen.calls.Load())
}

func TestPipeline_Analyze_ExtractionFailure(t *testing.T) {
	p := NewPipeline(&fakeExtractor{err: llm.ErrRoutesExhausted}, &fakeSearcher{}, &stageGenerator{}, nil, Options{})

	_, err := p.Analyze(context.Background(), request())
	assert.ErrorIs(t, err, llm.ErrRoutesExhausted)
}

func TestPipeline_Analyze_EvidenceFailureIsAWarning(t *testing.T) {
	long := "Cold plunges every morning " + strings.Repeat("x", 100)
	searcher := &fakeSearcher{fail: map[string]error{long: evidence.ErrFetch}}
	gen := &stageGenerator{analysis: func(string) (string, error) {
		return `{"verdict": "supported", "confidence": 0.8, "explanation": "ok"}`, nil
	}}

	p := NewPipeline(&fakeExtractor{drafts: []model.ClaimDraft{{Claim: long}}}, searcher, gen, nil, Options{})
	resp, err := p.Analyze(context.Background(), request())
	require.NoError(t, err)

	require.Len(t, resp.Warnings, 1)
	assert.True(t, strings.HasPrefix(resp.Warnings[0], "Research lookup failed for claim: "+long[:80]+" ("))
	assert.Equal(t, model.VerdictNoEvidence, resp.Claims[0].Verdict)
	assert.Zero(t, resp.Claims[0].Costs.PubMedRequests)

	// Report failed too; the deterministic report is used
	assert.Equal(t, "Analyzed 1 claims: 0 supported, 0 partially supported, 0 unsupported by evidence, 1 no evidence found, 0 not assessable.", resp.Summary)
	assert.Equal(t, "accurate", resp.OverallRating)
}

func TestPipeline_Analyze_JudgmentFailure(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]model.EvidenceSource{
		"'vitamin d' AND 'common cold'": {metaAnalysis},
	}}
	gen := &stageGenerator{analysis: func(claim string) (string, error) {
		if claim == "Exercise improves sleep" {
			return "", llm.ErrRoutesExhausted
		}
		return `{"verdict": "partially supported", "confidence": "0.7", "explanation": "Mixed trials."}`, nil
	}}

	t.Run("fatal by default", func(t *testing.T) {
		p := NewPipeline(&fakeExtractor{drafts: vitaminDrafts()}, searcher, gen, nil, Options{})
		_, err := p.Analyze(context.Background(), request())
		assert.ErrorIs(t, err, ErrClaimJudgment)
		assert.ErrorIs(t, err, llm.ErrRoutesExhausted)
	})

	t.Run("partial failure", func(t *testing.T) {
		p := NewPipeline(&fakeExtractor{drafts: vitaminDrafts()}, searcher, gen, nil, Options{PartialFailure: true})
		resp, err := p.Analyze(context.Background(), request())
		require.NoError(t, err)

		assert.Equal(t, model.VerdictPartiallySupported, resp.Claims[0].Verdict)
		assert.InDelta(t, 0.7, resp.Claims[0].Confidence, 1e-9)

		failed := resp.Claims[1]
		assert.Equal(t, model.VerdictNotAssessable, failed.Verdict)
		assert.Zero(t, failed.Confidence)
		require.Len(t, resp.Warnings, 1)
		assert.Contains(t, resp.Warnings[0], "Exercise improves sleep")
	})
}

func TestPipeline_Analyze_MissingVerdict(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]model.EvidenceSource{
		"'vitamin d' AND 'common cold'": {metaAnalysis},
	}}
	gen := &stageGenerator{analysis: func(claim string) (string, error) {
		if claim == "Exercise improves sleep" {
			return `{"verdict": "  ", "confidence": 0.4, "explanation": "blank verdict"}`, nil
		}
		return `{"confidence": 0.4, "explanation": "no verdict"}`, nil
	}}
	p := NewPipeline(&fakeExtractor{drafts: vitaminDrafts()}, searcher, gen, nil, Options{})

	resp, err := p.Analyze(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, resp.Claims, 2)

	assert.Equal(t, model.VerdictUnsupported, resp.Claims[0].Verdict, "evidence but no verdict")
	assert.Equal(t, model.VerdictNoEvidence, resp.Claims[1].Verdict, "no evidence and no verdict")
	assert.Empty(t, resp.Warnings)
}

func TestPipeline_Analyze_InvalidJudgment(t *testing.T) {
	gen := &stageGenerator{analysis: func(string) (string, error) {
		return `{"verdict": "` + strings.Repeat("x", 65) + `", "confidence": 0.4}`, nil
	}}
	p := NewPipeline(&fakeExtractor{drafts: vitaminDrafts()[:1]}, &fakeSearcher{}, gen, nil, Options{})

	_, err := p.Analyze(context.Background(), request())
	assert.ErrorIs(t, err, ErrClaimJudgment)
}

func TestPipeline_Analyze_MouseOnlyEvidence(t *testing.T) {
	mouse := model.EvidenceSource{
		Title:          "Cholecalciferol reduces viral load in mice",
		URL:            "https://example.org/mice",
		SourceType:     "pubmed",
		RelevanceScore: 0.7,
	}
	searcher := &fakeSearcher{results: map[string][]model.EvidenceSource{
		"'vitamin d' AND 'common cold'": {mouse},
	}}
	gen := &stageGenerator{analysis: func(string) (string, error) {
		return `{"verdict": "supported", "confidence": 0.95, "explanation": "Strong effect.", "evidence_level": "moderate"}`, nil
	}}

	p := NewPipeline(&fakeExtractor{drafts: vitaminDrafts()[:1]}, searcher, gen, verdict.NewPolicy(verdict.Default()), Options{})
	resp, err := p.Analyze(context.Background(), request())
	require.NoError(t, err)

	c := resp.Claims[0]
	assert.Equal(t, model.VerdictUnsupported, c.Verdict)
	assert.LessOrEqual(t, c.Confidence, 0.4)
	require.NotNil(t, c.Nuance)
	assert.Equal(t, 1, strings.Count(*c.Nuance, verdict.NonHumanCaveat))
	assert.Equal(t, "Strong effect.", c.Explanation)
}

func TestPipeline_Analyze_Cancelled(t *testing.T) {
	gen := &stageGenerator{analysis: func(string) (string, error) {
		return "", context.Canceled
	}}
	p := NewPipeline(&fakeExtractor{drafts: vitaminDrafts()}, &fakeSearcher{}, gen, nil, Options{PartialFailure: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Analyze(ctx, request())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", shorten("short"))
	assert.Equal(t, 80, len([]rune(shorten(strings.Repeat("é", 120)))))
}
