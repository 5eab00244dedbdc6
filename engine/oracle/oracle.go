// Package oracle writes the plain-language explanations that accompany a
// decision, a fraud alert or an improvement plan. Text comes from an
// optional language model; every method falls back to a fixed template so
// callers never see an error.
package oracle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/vectorcm/credit-memory/pkg/metrics"
	"github.com/vectorcm/credit-memory/pkg/resilience"
)

// Explanation kinds, used as the metric label of a fallback.
const (
	KindDecision    = "decision"
	KindFraud       = "fraud"
	KindImprovement = "improvement"
)

var errEmpty = errors.New("oracle: empty generation")

// Generator produces a completion for a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Options configures an Oracle.
type Options struct {
	SystemPrompt string
	// Timeout bounds a single generation.
	Timeout time.Duration
	// Breaker and Limiter guard the generator; both are optional.
	Breaker *resilience.Breaker
	Limiter *resilience.Limiter
	Logger  *slog.Logger
	Metrics *metrics.Manager
}

// DefaultOptions returns the production configuration.
func DefaultOptions() Options {
	return Options{
		SystemPrompt: defaultSystemPrompt,
		Timeout:      20 * time.Second,
	}
}

const defaultSystemPrompt = `You are a compassionate credit analyst at a microfinance institution.
You explain decisions to informal workers using the outcomes of similar past
clients. Use simple language, speak as "we found", never "the system decided",
and do not use quotation marks.`

// Oracle generates explanations. A nil Generator always uses templates.
type Oracle struct {
	gen     Generator
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Manager
}

// New creates an Oracle.
func New(gen Generator, opts Options) *Oracle {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{gen: gen, opts: opts, logger: logger, metrics: opts.Metrics}
}

// Enabled reports whether a generator is configured.
func (o *Oracle) Enabled() bool { return o != nil && o.gen != nil }

// generate returns the model text for prompt, or false when the caller
// must fall back.
func (o *Oracle) generate(ctx context.Context, kind, prompt string) (string, bool) {
	if !o.Enabled() {
		o.metrics.RecordOracleFallback(kind)
		return "", false
	}
	if o.opts.Limiter != nil && !o.opts.Limiter.Allow() {
		o.logger.Debug("oracle: rate limited", "kind", kind)
		o.metrics.RecordOracleFallback(kind)
		return "", false
	}
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	call := func(ctx context.Context) (string, error) {
		text, err := o.gen.Generate(ctx, o.opts.SystemPrompt, prompt)
		if err != nil {
			return "", err
		}
		if text = clean(text); text == "" {
			return "", errEmpty
		}
		return text, nil
	}
	var (
		text string
		err  error
	)
	if o.opts.Breaker != nil {
		text, err = resilience.Do(o.opts.Breaker, ctx, call)
	} else {
		text, err = call(ctx)
	}
	if err != nil {
		o.logger.Warn("oracle: generation failed, using template", "kind", kind, "error", err)
		o.metrics.RecordOracleFallback(kind)
		return "", false
	}
	return text, true
}

// clean strips quoting and markdown bold the models like to add.
func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"“”")
	s = strings.ReplaceAll(s, "**", "*")
	return strings.TrimSpace(s)
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
