package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/victorx64/biohack-debunker/internal/llm"
	"github.com/victorx64/biohack-debunker/internal/model"
)

// fakeGenerator answers stage calls from a responder function
type fakeGenerator struct {
	mu      sync.Mutex
	calls   []llm.Request
	respond func(req llm.Request) (string, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := f.respond(req)
	if err != nil {
		return nil, err
	}
	return &llm.Result{
		Payload: json.RawMessage(payload),
		Usage:   model.Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

func (f *fakeGenerator) callsFor(stage llm.Stage) []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []llm.Request
	for _, c := range f.calls {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

func segments(texts ...string) []model.TranscriptSegment {
	out := make([]model.TranscriptSegment, len(texts))
	for i, text := range texts {
		out[i] = model.TranscriptSegment{Start: float64(i * 30), End: float64(i*30 + 29), Text: text}
	}
	return out
}

func TestExtractor_Extract_NoSegments(t *testing.T) {
	ex := NewExtractor(&fakeGenerator{}, Options{})

	_, _, err := ex.Extract(context.Background(), nil, 8, 5000)
	if !errors.Is(err, ErrNoSegments) {
		t.Errorf("Expected ErrNoSegments, got %v", err)
	}

	_, _, err = ex.Extract(context.Background(), segments("   "), 8, 5000)
	if !errors.Is(err, ErrNoSegments) {
		t.Errorf("Expected ErrNoSegments for blank text, got %v", err)
	}
}

func TestExtractor_Extract_DedupAcrossChunks(t *testing.T) {
	gen := &fakeGenerator{respond: func(req llm.Request) (string, error) {
		if strings.Contains(req.User, "first part") {
			// Finish after the second chunk; order must still follow the transcript
			time.Sleep(20 * time.Millisecond)
			return `[{"claim":"Exercise improves sleep","category":"sleep","timestamp":"00:00"}]`, nil
		}
		return `[{"claim":"exercise  IMPROVES sleep","timestamp":"00:30"},{"claim":"Magnesium cures insomnia"}]`, nil
	}}

	ex := NewExtractor(gen, Options{})
	drafts, usage, err := ex.Extract(context.Background(),
		segments("first part: exercise improves sleep", "second part: magnesium and sleep"), 8, 60)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(gen.callsFor(llm.StageExtraction)) != 2 {
		t.Fatalf("Expected 2 extraction calls, got %d", len(gen.callsFor(llm.StageExtraction)))
	}
	if len(drafts) != 2 {
		t.Fatalf("Expected 2 unique drafts, got %d: %+v", len(drafts), drafts)
	}
	if drafts[0].Claim != "Exercise improves sleep" || drafts[0].Chunk != 0 {
		t.Errorf("Expected the first chunk's claim to win, got %+v", drafts[0])
	}
	if drafts[0].Timestamp == nil || *drafts[0].Timestamp != "00:00" {
		t.Errorf("Expected timestamp 00:00, got %v", drafts[0].Timestamp)
	}
	if drafts[1].Claim != "Magnesium cures insomnia" || drafts[1].Chunk != 1 {
		t.Errorf("Unexpected second draft: %+v", drafts[1])
	}
	if usage.PromptTokens != 20 || usage.CompletionTokens != 10 {
		t.Errorf("Expected usage summed over chunks, got %+v", usage)
	}
}

func TestExtractor_Extract_CapsClaimsPerChunk(t *testing.T) {
	gen := &fakeGenerator{respond: func(req llm.Request) (string, error) {
		if !strings.Contains(req.System, "at most 2 objects") {
			t.Errorf("Expected the prompt to carry the limit, got %q", req.System)
		}
		return `[{"claim":"a1"},{"claim":"a2"},{"claim":"a3"},{"claim":"a4"}]`, nil
	}}

	ex := NewExtractor(gen, Options{})
	drafts, _, err := ex.Extract(context.Background(), segments("one chunk only"), 2, 5000)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(drafts) != 2 || drafts[1].Claim != "a2" {
		t.Errorf("Expected the first 2 claims, got %+v", drafts)
	}
}

func TestExtractor_Extract_DropsInvalidItems(t *testing.T) {
	gen := &fakeGenerator{respond: func(req llm.Request) (string, error) {
		return `{"claims":[{"claim":"  "},{"claim":"Zinc shortens colds","timestamp":75,"specificity":"specific"},{"category":"x"}]}`, nil
	}}

	ex := NewExtractor(gen, Options{})
	drafts, _, err := ex.Extract(context.Background(), segments("zinc talk"), 8, 5000)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("Expected 1 valid draft, got %+v", drafts)
	}
	if drafts[0].Timestamp == nil || *drafts[0].Timestamp != "75" {
		t.Errorf("Expected numeric timestamp kept as text, got %v", drafts[0].Timestamp)
	}
	if drafts[0].Specificity != "specific" {
		t.Errorf("Expected specificity specific, got %q", drafts[0].Specificity)
	}
}

func TestExtractor_Extract_RequestsArrayRecovery(t *testing.T) {
	gen := &fakeGenerator{respond: func(req llm.Request) (string, error) {
		if req.Stage == llm.StageExtraction && !req.ArrayRecovery {
			t.Error("Expected extraction calls to allow array recovery")
		}
		return `[]`, nil
	}}

	ex := NewExtractor(gen, Options{})
	drafts, _, err := ex.Extract(context.Background(), segments("nothing medical"), 8, 5000)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(drafts) != 0 {
		t.Errorf("Expected no drafts, got %+v", drafts)
	}
}

func TestExtractor_Extract_ChunkFailureFailsExtraction(t *testing.T) {
	gen := &fakeGenerator{respond: func(req llm.Request) (string, error) {
		if strings.Contains(req.User, "broken") {
			return "", &llm.ExhaustedError{Stage: llm.StageExtraction, Routes: 1, Reason: "http_503"}
		}
		return `[{"claim":"fine"}]`, nil
	}}

	ex := NewExtractor(gen, Options{MaxConcurrentChunks: 1})
	_, _, err := ex.Extract(context.Background(), segments("broken chunk here", "healthy chunk here"), 8, 40)
	if !errors.Is(err, llm.ErrRoutesExhausted) {
		t.Errorf("Expected the chunk error to propagate, got %v", err)
	}
}

func TestExtractor_Extract_AttachesQueries(t *testing.T) {
	gen := &fakeGenerator{respond: func(req llm.Request) (string, error) {
		switch req.Stage {
		case llm.StageExtraction:
			return `[{"claim":"Creatine improves memory"},{"claim":"Cold showers boost immunity"}]`, nil
		case llm.StageQuery:
			var in struct {
				Claims []queryInput `json:"claims"`
			}
			if err := json.Unmarshal([]byte(req.User), &in); err != nil {
				return "", err
			}
			if len(in.Claims) != 2 || in.Claims[0].ID != 1 || in.Claims[1].Claim != "Cold showers boost immunity" {
				t.Errorf("Unexpected query input: %+v", in)
			}
			return `{"claims":[{"id":2,"search_query":"'Cold Water Immersion'[tiab] AND Immunity[mh]"},{"id":1,"search_query":"Creatine[mh] AND Memory[mh]"}]}`, nil
		}
		return "", fmt.Errorf("unexpected stage %s", req.Stage)
	}}

	ex := NewExtractor(gen, Options{QueryGeneration: true})
	drafts, usage, err := ex.Extract(context.Background(), segments("creatine and cold showers"), 8, 5000)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(drafts) != 2 {
		t.Fatalf("Expected 2 drafts, got %d", len(drafts))
	}
	if drafts[0].SearchQuery == nil || *drafts[0].SearchQuery != "Creatine[mh] AND Memory[mh]" {
		t.Errorf("Query matched to wrong claim: %v", drafts[0].SearchQuery)
	}
	if drafts[1].Query() != "'Cold Water Immersion'[tiab] AND Immunity[mh]" {
		t.Errorf("Unexpected second query: %s", drafts[1].Query())
	}
	if usage.PromptTokens != 20 {
		t.Errorf("Expected extraction and query usage, got %+v", usage)
	}
}

func TestExtractor_Extract_RepairsInvalidQuery(t *testing.T) {
	var queryCalls int
	gen := &fakeGenerator{respond: func(req llm.Request) (string, error) {
		if req.Stage == llm.StageExtraction {
			return `[{"claim":"Fasting resets the immune system"}]`, nil
		}
		queryCalls++
		if queryCalls == 1 {
			return `{"claims":[{"id":1,"search_query":"(Fasting[mh] AND"}]}`, nil
		}
		return `{"claims":[{"id":1,"search_query":"Fasting[mh] AND 'Immune System'[mh]"}]}`, nil
	}}

	ex := NewExtractor(gen, Options{QueryGeneration: true})
	drafts, _, err := ex.Extract(context.Background(), segments("fasting"), 8, 5000)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	calls := gen.callsFor(llm.StageQuery)
	if len(calls) != 2 {
		t.Fatalf("Expected 2 query calls, got %d", len(calls))
	}
	if !strings.Contains(calls[1].User, "previous output was invalid") {
		t.Errorf("Expected a corrective instruction, got %q", calls[1].User)
	}
	if drafts[0].Query() != "Fasting[mh] AND 'Immune System'[mh]" {
		t.Errorf("Unexpected query: %s", drafts[0].Query())
	}
}

func TestExtractor_Extract_InvalidQueryAfterAttempts(t *testing.T) {
	gen := &fakeGenerator{respond: func(req llm.Request) (string, error) {
		if req.Stage == llm.StageExtraction {
			return `[{"claim":"Sauna prevents dementia"}]`, nil
		}
		return `{"claims":[{"id":1,"search_query":"OR sauna"}]}`, nil
	}}

	ex := NewExtractor(gen, Options{QueryGeneration: true, QueryMaxAttempts: 3})
	_, _, err := ex.Extract(context.Background(), segments("sauna"), 8, 5000)
	if !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("Expected ErrInvalidQuery, got %v", err)
	}
	if n := len(gen.callsFor(llm.StageQuery)); n != 3 {
		t.Errorf("Expected 3 query attempts, got %d", n)
	}
}

func TestDedupe(t *testing.T) {
	drafts := []model.ClaimDraft{
		{Claim: "Exercise improves sleep", Chunk: 0},
		{Claim: "Omega-3 lowers triglycerides", Chunk: 0},
		{Claim: "  exercise improves   SLEEP ", Chunk: 1},
		{Claim: "", Chunk: 1},
		{Claim: "omega-3 lowers triglycerides", Chunk: 2},
	}

	got := Dedupe(drafts)
	if len(got) != 2 {
		t.Fatalf("Expected 2 unique drafts, got %d", len(got))
	}
	if got[0].Claim != "Exercise improves sleep" || got[0].Chunk != 0 {
		t.Errorf("Expected first occurrence to win, got %+v", got[0])
	}
	if got[1].Claim != "Omega-3 lowers triglycerides" {
		t.Errorf("Unexpected second draft: %+v", got[1])
	}
}
