// Package advisory produces supportive, non-authoritative content for an
// open warning. Nothing here influences the risk tier; the classifier in
// package core is the only source of that decision.
package advisory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
)

const DefaultTimeout = 10 * time.Second

// Provider is a text-completion backend.
type Provider interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Recorder receives one observation per Analyze call.
type Recorder interface {
	Advisory(source, reason string, seconds float64)
}

// Analyzer wraps a Provider with a deadline and a static fallback.
type Analyzer struct {
	provider Provider
	timeout  time.Duration
	log      *zap.SugaredLogger
	recorder Recorder
	now      func() time.Time
}

// NewAnalyzer returns an Analyzer. A nil provider always yields the fallback.
func NewAnalyzer(provider Provider, timeout time.Duration, log *zap.SugaredLogger, recorder Recorder) *Analyzer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Analyzer{
		provider: provider,
		timeout:  timeout,
		log:      log.Named("advisory"),
		recorder: recorder,
		now:      time.Now,
	}
}

// Analyze never fails: provider errors, timeouts, cancellation and
// unparsable responses all return Fallback. The cause is only logged.
func (a *Analyzer) Analyze(ctx context.Context, r core.EmotionReading) core.AdvisoryContent {
	start := time.Now()
	content, err := a.generate(ctx, r)
	elapsed := time.Since(start)

	if err != nil {
		reason := failureReason(ctx, err)
		a.log.Warnw("advisory fallback",
			"reason", reason,
			"error", err,
			"user", r.UserID,
			"emotion", r.Emotion,
			"elapsed", elapsed.String(),
		)
		a.record(string(core.SourceFallback), reason, elapsed)
		return Fallback(a.now())
	}

	a.record(string(core.SourceProvider), "", elapsed)
	content.GeneratedAt = a.now()
	return content
}

func (a *Analyzer) record(source, reason string, elapsed time.Duration) {
	if a.recorder != nil {
		a.recorder.Advisory(source, reason, elapsed.Seconds())
	}
}

type completion struct {
	text string
	err  error
}

func (a *Analyzer) generate(ctx context.Context, r core.EmotionReading) (core.AdvisoryContent, error) {
	if a.provider == nil {
		return core.AdvisoryContent{}, fmt.Errorf("%w: no provider configured", core.ErrAdvisoryUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// The select bounds the wait even if the provider ignores ctx.
	done := make(chan completion, 1)
	go func() {
		text, err := a.provider.Complete(ctx, SystemPrompt, BuildPrompt(r))
		done <- completion{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return core.AdvisoryContent{}, fmt.Errorf("%w: %w", core.ErrAdvisoryUnavailable, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return core.AdvisoryContent{}, fmt.Errorf("%w: %w", core.ErrAdvisoryUnavailable, res.err)
		}
		content, err := Parse(res.text)
		if err != nil {
			return core.AdvisoryContent{}, fmt.Errorf("%w: %w", core.ErrAdvisoryUnavailable, err)
		}
		return content, nil
	}
}

func failureReason(parent context.Context, err error) string {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	}
	return "provider_error"
}

var fallbackSuggestions = []string{
	"Take a few slow, deep breaths and notice where you feel tension.",
	"Talk with the AI coach or a mentor about what is on your mind.",
	"If you feel unsafe, contact emergency support right away.",
}

// Fallback is the pre-approved content shown whenever the provider cannot be used.
func Fallback(now time.Time) core.AdvisoryContent {
	return core.AdvisoryContent{
		Summary:     "Thank you for sharing how you feel. Support is available right now.",
		Insight:     "Strong feelings can be overwhelming, and reaching out is a meaningful step.",
		Suggestions: append([]string(nil), fallbackSuggestions...),
		RiskLevel:   core.TierUnknown,
		Source:      core.SourceFallback,
		GeneratedAt: now,
	}
}
