package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/workers"
)

// Notifier consumes engine events. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, ev core.Event)
}

// DropRecorder counts events that could not be queued.
type DropRecorder interface {
	EventDropped(eventType string)
}

// Async hands events to a worker pool keyed by warning id, so events of one
// warning keep their order while the caller never waits on delivery.
type Async struct {
	next     Notifier
	pool     *workers.WorkerPool
	recorder DropRecorder
	log      *zap.SugaredLogger
}

func NewAsync(next Notifier, pool *workers.WorkerPool, recorder DropRecorder, log *zap.SugaredLogger) *Async {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Async{next: next, pool: pool, recorder: recorder, log: log.Named("notify")}
}

func (a *Async) Notify(ctx context.Context, ev core.Event) {
	// Delivery outlives the request that produced the event.
	ctx = context.WithoutCancel(ctx)
	if a.pool.TryDispatch(ev.WarningID, func() { a.next.Notify(ctx, ev) }) {
		return
	}
	a.log.Warnw("event dropped", "type", ev.Type, "warning", ev.WarningID)
	if a.recorder != nil {
		a.recorder.EventDropped(string(ev.Type))
	}
}

// Log writes every event to the structured log.
type Log struct {
	log *zap.SugaredLogger
}

func NewLog(log *zap.SugaredLogger) *Log {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Log{log: log.Named("events")}
}

func (l *Log) Notify(_ context.Context, ev core.Event) {
	if ev.Type == core.EventEmergencyRequested {
		l.log.Warnw("emergency requested", "warning", ev.WarningID, "user", ev.UserID, "tier", ev.Tier)
		return
	}
	l.log.Infow("event", "type", ev.Type, "warning", ev.WarningID, "user", ev.UserID, "tier", ev.Tier, "channel", ev.Channel)
}

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev core.Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}
