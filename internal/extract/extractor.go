package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/victorx64/biohack-debunker/internal/llm"
	"github.com/victorx64/biohack-debunker/internal/logging"
	"github.com/victorx64/biohack-debunker/internal/model"
)

var (
	// ErrNoSegments is returned for an empty transcript
	ErrNoSegments = errors.New("extract: transcript has no segments")

	// ErrInvalidQuery is returned when a chunk's search queries stay invalid
	ErrInvalidQuery = errors.New("extract: invalid search query")
)

var draftValidate = validator.New()

// Options configures an Extractor
type Options struct {
	MaxConcurrentChunks int
	QueryGeneration     bool
	QueryMaxAttempts    int
	Logger              *slog.Logger
}

// Extractor turns transcript segments into deduplicated claim drafts
type Extractor struct {
	gen    llm.Generator
	opts   Options
	logger *slog.Logger
}

// NewExtractor creates a new extractor
func NewExtractor(gen llm.Generator, opts Options) *Extractor {
	if opts.MaxConcurrentChunks <= 0 {
		opts.MaxConcurrentChunks = 10
	}
	if opts.QueryMaxAttempts <= 0 {
		opts.QueryMaxAttempts = 3
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Extractor{
		gen:    gen,
		opts:   opts,
		logger: logger.With("component", "extract"),
	}
}

type chunkResult struct {
	drafts []model.ClaimDraft
	usage  model.Usage
}

// Extract chunks the transcript, extracts claims per chunk concurrently,
// attaches search queries and deduplicates in chunk order. Any chunk failure
// cancels the others and fails the extraction.
func (e *Extractor) Extract(ctx context.Context, segments []model.TranscriptSegment, claimsPerChunk, chunkSizeChars int) ([]model.ClaimDraft, model.Usage, error) {
	var usage model.Usage

	if len(segments) == 0 {
		return nil, usage, ErrNoSegments
	}

	chunks := Chunk(segments, chunkSizeChars)
	if len(chunks) == 0 {
		return nil, usage, ErrNoSegments
	}

	logging.Ctx(ctx, e.logger).Info("extracting claims", "chunks", len(chunks), "claims_per_chunk", claimsPerChunk)

	results := make([]chunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrentChunks)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			res, err := e.processChunk(gctx, i, chunk, claimsPerChunk)
			if err != nil {
				return err
			}
			// Write by index so order follows the transcript
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, usage, err
	}

	var all []model.ClaimDraft
	for _, res := range results {
		all = append(all, res.drafts...)
		usage = usage.Add(res.usage)
	}

	drafts := Dedupe(all)
	logging.Ctx(ctx, e.logger).Info("claims extracted", "raw", len(all), "unique", len(drafts))

	return drafts, usage, nil
}

func (e *Extractor) processChunk(ctx context.Context, index int, chunk string, claimsPerChunk int) (chunkResult, error) {
	var res chunkResult

	drafts, usage, err := e.extractChunk(ctx, index, chunk, claimsPerChunk)
	if err != nil {
		return res, err
	}
	res.usage = usage

	if e.opts.QueryGeneration && len(drafts) > 0 {
		qUsage, err := e.attachQueries(ctx, index, drafts)
		res.usage = res.usage.Add(qUsage)
		if err != nil {
			return res, err
		}
	}

	res.drafts = drafts
	return res, nil
}

// rawClaim is the extraction stage's output item
type rawClaim struct {
	Claim       string     `json:"claim" validate:"required"`
	Category    flexString `json:"category"`
	Timestamp   flexString `json:"timestamp"`
	Specificity flexString `json:"specificity"`
}

func (e *Extractor) extractChunk(ctx context.Context, index int, chunk string, claimsPerChunk int) ([]model.ClaimDraft, model.Usage, error) {
	result, err := e.gen.Generate(ctx, llm.Request{
		Stage:         llm.StageExtraction,
		System:        llm.ExtractionPrompt(claimsPerChunk),
		User:          chunk,
		ArrayRecovery: true,
	})
	if err != nil {
		return nil, model.Usage{}, fmt.Errorf("chunk %d extraction: %w", index, err)
	}

	items, err := decodeClaims(result.Payload)
	if err != nil {
		return nil, result.Usage, fmt.Errorf("chunk %d extraction: %w", index, err)
	}

	var drafts []model.ClaimDraft
	for _, item := range items {
		item.Claim = strings.TrimSpace(item.Claim)
		if err := draftValidate.Struct(item); err != nil {
			logging.Ctx(ctx, e.logger).Debug("dropping invalid claim item", "chunk", index, "error", err)
			continue
		}

		drafts = append(drafts, model.ClaimDraft{
			Claim:       item.Claim,
			Category:    item.Category.String(),
			Timestamp:   item.Timestamp.Ptr(),
			Specificity: item.Specificity.String(),
			Chunk:       index,
		})

		if len(drafts) == claimsPerChunk {
			break
		}
	}

	if len(items) > claimsPerChunk {
		logging.Ctx(ctx, e.logger).Warn("claim list truncated", "chunk", index, "returned", len(items), "limit", claimsPerChunk)
	}

	return drafts, result.Usage, nil
}

// decodeClaims accepts a bare array or an object wrapping it under "claims"
func decodeClaims(payload json.RawMessage) ([]rawClaim, error) {
	trimmed := bytes.TrimSpace(payload)

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Claims []rawClaim `json:"claims"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", llm.ErrInvalidJSON, err)
		}
		return wrapped.Claims, nil
	}

	var items []rawClaim
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrInvalidJSON, err)
	}
	return items, nil
}

// flexString accepts a JSON string, number or null
type flexString struct {
	value string
	set   bool
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = flexString{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		*f = flexString{value: s, set: s != ""}
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString{value: n.String(), set: true}
	return nil
}

func (f flexString) String() string {
	return f.value
}

func (f flexString) Ptr() *string {
	if !f.set {
		return nil
	}
	v := f.value
	return &v
}
