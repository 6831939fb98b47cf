package engine

import (
	"context"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
)

// prefetch generates advisory content for a freshly opened warning in the
// background. CancelAdvisory or Close stop it; the warning is not touched.
func (e *Engine) prefetch(w *core.Warning) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.prefetches[w.ID] = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.dropPrefetch(w.ID)
		defer cancel()

		content := e.advisor.Analyze(ctx, w.Reading)
		if ctx.Err() != nil {
			e.log.Debugw("advisory prefetch canceled", "warning", w.ID)
			return
		}
		e.attach(ctx, w, content)
	}()
}

func (e *Engine) dropPrefetch(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.prefetches, id)
}

// CancelAdvisory stops an in-flight prefetch, e.g. when the user closes the
// support view. It reports whether one was running.
func (e *Engine) CancelAdvisory(id string) bool {
	e.mu.Lock()
	cancel, ok := e.prefetches[id]
	delete(e.prefetches, id)
	e.mu.Unlock()

	if ok {
		cancel()
		e.log.Infow("advisory canceled", "warning", id)
	}
	return ok
}

// release drops per-warning resources once a warning is terminal.
func (e *Engine) release(id string) {
	e.CancelAdvisory(id)
}

// Advisory returns the content attached to a warning, generating it if
// nothing is cached. Failures inside the advisor surface as fallback content,
// so the only errors come from loading the warning.
func (e *Engine) Advisory(ctx context.Context, id string) (core.AdvisoryContent, error) {
	w, err := e.get(ctx, id)
	if err != nil {
		return core.AdvisoryContent{}, err
	}

	content, ok, err := e.cache.Get(ctx, id)
	if err != nil {
		e.log.Warnw("advisory cache read failed", "warning", id, "error", err)
	}
	if ok {
		return content, nil
	}

	content = e.advisor.Analyze(ctx, w.Reading)
	if ctx.Err() == nil {
		e.attach(ctx, w, content)
	}
	return content, nil
}

// attach caches provider content and logs its risk opinion next to the
// classifier tier, louder where they disagree. Fallback content is not cached so a later read retries the provider.
func (e *Engine) attach(ctx context.Context, w *core.Warning, content core.AdvisoryContent) {
	if content.Source != core.SourceProvider {
		return
	}
	e.log.Debugw("advisory attached",
		"warning", w.ID,
		"tier", w.Tier,
		"advisory_risk", content.RiskLevel,
		"should_escalate", content.ShouldEscalate,
	)
	if content.RiskLevel != w.Tier {
		e.log.Infow("advisory risk differs from classifier",
			"warning", w.ID,
			"tier", w.Tier,
			"advisory_risk", content.RiskLevel,
		)
	}
	if content.ShouldEscalate {
		e.log.Warnw("advisory suggests escalation", "warning", w.ID, "tier", w.Tier, "status", w.Status)
	}
	if err := e.cache.Put(ctx, w.ID, content); err != nil {
		e.log.Warnw("advisory cache write failed", "warning", w.ID, "error", err)
	}
}
