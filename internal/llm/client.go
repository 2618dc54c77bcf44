package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/victorx64/biohack-debunker/internal/logging"
	"github.com/victorx64/biohack-debunker/internal/metrics"
	"github.com/victorx64/biohack-debunker/internal/model"
)

const logTextLimit = 3000

var tracer = otel.Tracer("biohack-debunker/llm")

// generateSleepFunc is swapped out in tests
var generateSleepFunc = sleepWithContext

// Options configures a Client
type Options struct {
	Default              Route
	Stages               map[Stage][]Route
	MaxFallbacksPerStage int
	MaxRetries           int
	Backoff              time.Duration
	Temperature          float32
	MaxTokens            int
	Timeout              time.Duration // Per attempt
	Logger               *slog.Logger
}

// Request is one stage call
type Request struct {
	Stage  Stage
	System string
	User   string

	// ArrayRecovery keeps the parsed prefix of a malformed bare JSON array
	ArrayRecovery bool
}

// Result is the validated JSON payload of a successful call
type Result struct {
	Payload json.RawMessage
	Usage   model.Usage // Summed over every attempt, failed ones included
	Route   Route
	// Attempts counts provider calls made across all routes
	Attempts  int
	Fallback  bool
	Recovered bool
}

// Decode unmarshals the payload into v
func (r *Result) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// Generator is implemented by Client; stage consumers depend on it
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Client sends stage calls through the configured route table with retry
// and fallback
type Client struct {
	opts        Options
	logger      *slog.Logger
	newProvider func(Route) (Provider, error)
}

// NewClient creates a new client. It fails with ErrNotConfigured when no
// route is usable.
func NewClient(opts Options) (*Client, error) {
	if !anyEnabled(opts.Default, opts.Stages) {
		return nil, ErrNotConfigured
	}

	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 16384
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		opts:        opts,
		logger:      logger.With("component", "llm"),
		newProvider: NewProvider,
	}, nil
}

// Routes returns the routes a stage would try, in order
func (c *Client) Routes(stage Stage) []Route {
	return SelectRoutes(c.opts.Stages, c.opts.Default, stage, c.opts.MaxFallbacksPerStage)
}

// Generate runs the stage call. Each route gets up to MaxRetries+1 attempts
// for retryable failures; any failure moves on to the next route.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "llm.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.stage", string(req.Stage)))
	defer func() {
		metrics.LLMDuration.WithLabelValues(string(req.Stage)).Observe(time.Since(start).Seconds())
	}()

	routes := c.Routes(req.Stage)

	var (
		usage    model.Usage
		attempts int
		lastErr  error
		reason   string
	)

	for i, route := range routes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("llm stage %s: %w", req.Stage, err)
		}

		log := logging.Ctx(ctx, c.logger).With(
			"stage", req.Stage,
			"route", route,
			"fallback_used", i > 0,
			"fallback_reason", reason,
		)

		if !route.Enabled() {
			lastErr = fmt.Errorf("%s: %w", route, ErrRouteNotConfigured)
			reason = fallbackReason(lastErr)
			metrics.LLMRequests.WithLabelValues(string(req.Stage), route.Provider, "skipped").Inc()
			log.Warn("skipping route", "reason", reason)
			continue
		}

		provider, err := c.newProvider(route)
		if err != nil {
			lastErr = err
			reason = fallbackReason(err)
			log.Warn("provider unavailable", "error", err)
			continue
		}

		payload, recovered, n, err := c.tryRoute(ctx, log, provider, route, req, &usage)
		attempts += n
		if err == nil {
			span.SetAttributes(
				attribute.String("llm.route", route.String()),
				attribute.Int("llm.attempts", attempts),
				attribute.Bool("llm.fallback", i > 0),
			)
			return &Result{
				Payload:   payload,
				Usage:     usage,
				Route:     route,
				Attempts:  attempts,
				Fallback:  i > 0,
				Recovered: recovered,
			}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			span.RecordError(ctxErr)
			span.SetStatus(codes.Error, ctxErr.Error())
			return nil, fmt.Errorf("llm stage %s: %w", req.Stage, ctxErr)
		}

		lastErr = err
		reason = fallbackReason(err)
		log.Warn("route failed", "reason", reason, "error", err)
	}

	exhausted := &ExhaustedError{
		Stage:  req.Stage,
		Routes: len(routes),
		Reason: reason,
		Last:   lastErr,
	}
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, exhausted.Error())
	logging.Ctx(ctx, c.logger).Error("all routes exhausted", "stage", req.Stage, "routes", len(routes), "reason", reason)

	return nil, exhausted
}

// tryRoute makes up to MaxRetries+1 attempts against one route
func (c *Client) tryRoute(ctx context.Context, log *slog.Logger, provider Provider, route Route, req Request, usage *model.Usage) (json.RawMessage, bool, int, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		attempts++

		log.Debug("llm request",
			"attempt", attempt+1,
			"system", truncateForLog(req.System),
			"prompt", truncateForLog(req.User),
		)

		payload, recovered, err := c.attempt(ctx, log, provider, route, req, usage)
		if err == nil {
			metrics.LLMRequests.WithLabelValues(string(req.Stage), route.Provider, "success").Inc()
			return payload, recovered, attempts, nil
		}

		lastErr = err
		metrics.LLMRequests.WithLabelValues(string(req.Stage), route.Provider, "error").Inc()

		if ctx.Err() != nil || !isRetryable(err) {
			break
		}
		if attempt == c.opts.MaxRetries {
			break
		}

		backoff := c.opts.Backoff * time.Duration(1<<uint(attempt))
		log.Warn("retrying llm request",
			"attempt", attempt+1,
			"reason", fallbackReason(err),
			"backoff", backoff,
			"error", err,
		)
		if err := generateSleepFunc(ctx, backoff); err != nil {
			return nil, false, attempts, err
		}
	}

	return nil, false, attempts, lastErr
}

// attempt performs one provider call under the per-attempt timeout
func (c *Client) attempt(ctx context.Context, log *slog.Logger, provider Provider, route Route, req Request, usage *model.Usage) (json.RawMessage, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := provider.Complete(attemptCtx, CompletionRequest{
		System:      req.System,
		User:        req.User,
		Model:       route.Model,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, false, fmt.Errorf("%s: %w", route, context.DeadlineExceeded)
		}
		return nil, false, err
	}

	*usage = usage.Add(resp.Usage)
	metrics.LLMTokens.WithLabelValues(string(req.Stage), "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokens.WithLabelValues(string(req.Stage), "completion").Add(float64(resp.Usage.CompletionTokens))

	log.Debug("llm response",
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"response", truncateForLog(resp.Content),
	)

	if resp.Content == "" {
		return nil, false, fmt.Errorf("%s: %w", route, ErrEmptyContent)
	}

	payload, recovered, err := decodePayload(resp.Content, req.ArrayRecovery)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", route, err)
	}
	if recovered {
		log.Warn("recovered partial JSON array", "finish_reason", resp.FinishReason)
	}

	return payload, recovered, nil
}

// truncateForLog caps logged prompt and response text
func truncateForLog(text string) string {
	if len(text) <= logTextLimit {
		return text
	}
	return fmt.Sprintf("%s... [truncated, total_chars=%d]", text[:logTextLimit], len(text))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
