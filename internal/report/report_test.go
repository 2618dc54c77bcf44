package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorx64/biohack-debunker/internal/llm"
	"github.com/victorx64/biohack-debunker/internal/logging"
	"github.com/victorx64/biohack-debunker/internal/model"
	"github.com/victorx64/biohack-debunker/internal/verdict"
)

type stubGenerator struct {
	payload string
	err     error
	last    llm.Request
}

func (s *stubGenerator) Generate(_ context.Context, req llm.Request) (*llm.Result, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Result{
		Payload: json.RawMessage(s.payload),
		Usage:   model.Usage{PromptTokens: 40, CompletionTokens: 12},
	}, nil
}

func results(verdicts ...model.Verdict) []model.ClaimResult {
	out := make([]model.ClaimResult, len(verdicts))
	for i, v := range verdicts {
		out[i] = model.ClaimResult{
			ClaimDraft:    model.ClaimDraft{Claim: "claim " + string(v)},
			ClaimAnalysis: model.ClaimAnalysis{Verdict: v, Confidence: 0.5, Explanation: "because"},
		}
	}
	return out
}

func TestAggregator_Aggregate_UsesModelOutput(t *testing.T) {
	gen := &stubGenerator{payload: `{"summary": " Mostly sound advice. ", "overall_rating": "Mostly Accurate"}`}
	agg := NewAggregator(gen, nil, nil)

	rep := agg.Aggregate(context.Background(), results(model.VerdictSupported, model.VerdictNoEvidence))

	assert.Equal(t, "Mostly sound advice.", rep.Summary)
	assert.Equal(t, RatingMostlyAccurate, rep.OverallRating)
	assert.False(t, rep.Stub)
	assert.Equal(t, model.Usage{PromptTokens: 40, CompletionTokens: 12}, rep.Usage)

	assert.Equal(t, llm.StageReport, gen.last.Stage)
	var lines []claimLine
	require.NoError(t, json.Unmarshal([]byte(gen.last.User), &lines))
	require.Len(t, lines, 2)
	assert.Equal(t, model.VerdictNoEvidence, lines[1].Verdict)
}

func TestAggregator_Aggregate_FallsBack(t *testing.T) {
	tests := []struct {
		name   string
		gen    *stubGenerator
		tokens int
	}{
		{"provider error", &stubGenerator{err: llm.ErrRoutesExhausted}, 0},
		{"unknown rating", &stubGenerator{payload: `{"summary": "ok", "overall_rating": "excellent"}`}, 40},
		{"missing summary", &stubGenerator{payload: `{"summary": null, "overall_rating": "mixed"}`}, 40},
		{"not an object", &stubGenerator{payload: `["summary"]`}, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(tt.gen, nil, nil)
			rep := agg.Aggregate(context.Background(), results(model.VerdictSupported, model.VerdictUnsupported))

			assert.True(t, rep.Stub)
			assert.Equal(t, RatingMixed, rep.OverallRating)
			assert.Contains(t, rep.Summary, "Analyzed 2 claims:")
			assert.Equal(t, tt.tokens, rep.Usage.PromptTokens)
		})
	}
}

func TestAggregator_Stub(t *testing.T) {
	agg := NewAggregator(nil, verdict.Default(), nil)

	rep := agg.Aggregate(context.Background(), results(
		model.VerdictSupported,
		model.VerdictSupported,
		model.VerdictPartiallySupported,
		model.VerdictUnsupported,
	))

	assert.True(t, rep.Stub)
	assert.Equal(t, "Analyzed 4 claims: 2 supported, 1 partially supported, 1 unsupported by evidence, 0 no evidence found, 0 not assessable.", rep.Summary)
	assert.Equal(t, RatingMostlyAccurate, rep.OverallRating)

	empty := agg.Stub(nil)
	assert.Equal(t, "No claims were analyzed.", empty.Summary)
	assert.Equal(t, RatingMixed, empty.OverallRating)
}

func TestAggregator_Stub_NoEvidenceIsNotNegative(t *testing.T) {
	agg := NewAggregator(nil, nil, nil)
	rep := agg.Stub(results(model.VerdictNoEvidence, model.VerdictNoEvidence, model.VerdictNotAssessable))
	assert.Equal(t, RatingAccurate, rep.OverallRating)
}

func TestRatingForShare(t *testing.T) {
	tests := []struct {
		share float64
		want  string
	}{
		{0, RatingAccurate},
		{0.1, RatingMostlyAccurate},
		{0.25, RatingMostlyAccurate},
		{0.26, RatingMixed},
		{1, RatingMixed},
	}
	for _, tt := range tests {
		if got := RatingForShare(tt.share); got != tt.want {
			t.Errorf("RatingForShare(%v) = %s, want %s", tt.share, got, tt.want)
		}
	}
}

func TestNormalizeRating(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"accurate", RatingAccurate, true},
		{"mostly-accurate", RatingMostlyAccurate, true},
		{" MIXED ", RatingMixed, true},
		{"misleading", RatingMixed, true},
		{"", "", false},
		{"great", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeRating(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeRating(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAggregator_Aggregate_IgnoresContextErrors(t *testing.T) {
	gen := &stubGenerator{err: errors.New("boom")}
	agg := NewAggregator(gen, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := agg.Aggregate(ctx, results(model.VerdictSupported))
	assert.True(t, rep.Stub)
	assert.Equal(t, RatingAccurate, rep.OverallRating)
}

func TestAggregator_Aggregate_LogsCarryAnalysisID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "debug", "json")
	agg := NewAggregator(&stubGenerator{err: llm.ErrRoutesExhausted}, nil, logger)

	ctx := logging.WithAttrs(context.Background(), "analysis_id", "a-123")
	rep := agg.Aggregate(ctx, results(model.VerdictSupported))
	require.True(t, rep.Stub)

	assert.Contains(t, buf.String(), `"analysis_id":"a-123"`)
	assert.Contains(t, buf.String(), "report generation failed")
}
