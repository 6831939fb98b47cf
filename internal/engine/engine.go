// Package engine owns the lifecycle of warnings: opening them from
// classified readings, moving them through support, and closing them.
//
// Every decision here is rule-based. Advisory content is fetched on the
// side and attached for display only.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/advisory"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/cache"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
)

//go:generate mockgen -destination=mock_notifier_test.go -package=engine . Notifier

// WarningStore is the durable home of warnings.
type WarningStore interface {
	Create(ctx context.Context, w *core.Warning) (string, error)
	// Update fails with core.ErrNotFound or, when patch.ExpectedVersion is
	// stale, core.ErrConflict.
	Update(ctx context.Context, id string, patch core.WarningPatch) error
	Get(ctx context.Context, id string) (*core.Warning, error)
	ListActive(ctx context.Context, userID string) ([]*core.Warning, error)
}

// Notifier receives events. It must not block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, ev core.Event)
}

// Advisor produces advisory content and never fails.
type Advisor interface {
	Analyze(ctx context.Context, r core.EmotionReading) core.AdvisoryContent
}

// AdvisoryCache keeps advisory content next to a warning for display.
type AdvisoryCache interface {
	Put(ctx context.Context, warningID string, content core.AdvisoryContent) error
	Get(ctx context.Context, warningID string) (core.AdvisoryContent, bool, error)
	Delete(ctx context.Context, warningID string) error
}

// Recorder receives engine counters.
type Recorder interface {
	Classified(tier string)
	Opened(tier string)
	Transition(op string, err error)
}

type Options struct {
	Store    WarningStore
	Notifier Notifier
	Advisor  Advisor
	Cache    AdvisoryCache
	Recorder Recorder
	Logger   *zap.SugaredLogger
	Clock    func() time.Time

	// ReadAttempts bounds retries of idempotent store reads. Writes are never retried.
	ReadAttempts int
	ReadBackoff  time.Duration
}

// Outcome is the result of ingesting one reading.
type Outcome struct {
	Tier    core.RiskTier `json:"tier"`
	Warning *core.Warning `json:"warning,omitempty"`
}

type Engine struct {
	store    WarningStore
	notifier Notifier
	advisor  Advisor
	cache    AdvisoryCache
	recorder Recorder
	log      *zap.SugaredLogger
	now      func() time.Time

	readAttempts int
	readBackoff  time.Duration

	locks *keyedMutex

	mu         sync.Mutex
	closed     bool
	prefetches map[string]context.CancelFunc
	baseCtx    context.Context
	cancelAll  context.CancelFunc
	wg         sync.WaitGroup
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: a warning store is required")
	}
	e := &Engine{
		store:        opts.Store,
		notifier:     opts.Notifier,
		advisor:      opts.Advisor,
		cache:        opts.Cache,
		recorder:     opts.Recorder,
		log:          opts.Logger,
		now:          opts.Clock,
		readAttempts: opts.ReadAttempts,
		readBackoff:  opts.ReadBackoff,
		locks:        newKeyedMutex(),
		prefetches:   make(map[string]context.CancelFunc),
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.advisor == nil {
		e.advisor = advisory.NewAnalyzer(nil, 0, opts.Logger, nil)
	}
	if e.cache == nil {
		e.cache = cache.NewMemory(30 * time.Minute)
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.log == nil {
		e.log = zap.NewNop().Sugar()
	}
	e.log = e.log.Named("engine")
	if e.now == nil {
		e.now = time.Now
	}
	if e.readAttempts <= 0 {
		e.readAttempts = 3
	}
	if e.readBackoff <= 0 {
		e.readBackoff = 50 * time.Millisecond
	}
	e.baseCtx, e.cancelAll = context.WithCancel(context.Background())
	return e, nil
}

// Classify validates a reading and returns its tier without side effects.
func (e *Engine) Classify(r core.EmotionReading) (core.RiskTier, error) {
	if err := core.Validate(r); err != nil {
		return core.TierUnknown, err
	}
	return core.ClassifyReading(r)
}

// Ingest classifies r and opens a warning when the tier is Medium or higher.
func (e *Engine) Ingest(ctx context.Context, r core.EmotionReading) (Outcome, error) {
	r, tier, err := e.prepare(r)
	if err != nil {
		return Outcome{}, err
	}
	if tier < core.TierMedium {
		return Outcome{Tier: tier}, nil
	}
	w, err := e.open(ctx, r, tier)
	if err != nil {
		return Outcome{Tier: tier}, err
	}
	return Outcome{Tier: tier, Warning: w}, nil
}

// Open creates a warning for r. Low-tier readings are rejected with
// core.ErrBelowThreshold.
func (e *Engine) Open(ctx context.Context, r core.EmotionReading) (*core.Warning, error) {
	r, tier, err := e.prepare(r)
	if err != nil {
		return nil, err
	}
	if tier < core.TierMedium {
		return nil, fmt.Errorf("%w: tier %s", core.ErrBelowThreshold, tier)
	}
	return e.open(ctx, r, tier)
}

// RequestSupport opens a warning because the user asked for help, whatever
// the classified tier. The tier is still recorded as classified.
func (e *Engine) RequestSupport(ctx context.Context, r core.EmotionReading) (*core.Warning, error) {
	r, tier, err := e.prepare(r)
	if err != nil {
		return nil, err
	}
	return e.open(ctx, r, tier)
}

func (e *Engine) prepare(r core.EmotionReading) (core.EmotionReading, core.RiskTier, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = e.now()
	}
	tier, err := e.Classify(r)
	if err != nil {
		return r, core.TierUnknown, err
	}
	e.recorder.Classified(tier.String())
	return r, tier, nil
}

func (e *Engine) open(ctx context.Context, r core.EmotionReading, tier core.RiskTier) (*core.Warning, error) {
	now := e.now()
	w := &core.Warning{
		ID:       uuid.New().String(),
		UserID:   r.UserID,
		Reading:  r,
		Tier:     tier,
		Status:   core.StatusActive,
		OpenedAt: now,
		Version:  1,
	}
	// At High the coach is engaged immediately; the user may still switch.
	if tier == core.TierHigh {
		w.Status = core.StatusInSupport
		w.Channel = core.ChannelAICoach
	}

	if _, err := e.store.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create warning: %w", err)
	}
	e.recorder.Opened(tier.String())
	e.log.Infow("warning opened", "warning", w.ID, "user", w.UserID, "tier", tier, "emotion", r.Emotion, "intensity", r.Intensity, "channel", w.Channel)

	e.emit(ctx, core.EventWarningOpened, w, now)
	if w.Channel != core.ChannelNone {
		e.emit(ctx, core.EventChannelSelected, w, now)
	}
	e.prefetch(w.Clone())
	return w.Clone(), nil
}

// SelectChannel engages a support channel. Emergency is accepted at any tier
// and additionally emits EmergencyRequested.
func (e *Engine) SelectChannel(ctx context.Context, id string, channel core.Channel) (*core.Warning, error) {
	if !channel.Valid() {
		err := fmt.Errorf("%w: %q", core.ErrUnsupportedChannel, channel)
		e.recorder.Transition("select_channel", err)
		return nil, err
	}

	w, err := e.transition(ctx, id, "select_channel", func(w *core.Warning, _ time.Time) (core.WarningPatch, []core.EventType, error) {
		events := []core.EventType{core.EventChannelSelected}
		if channel == core.ChannelEmergency {
			events = append(events, core.EventEmergencyRequested)
		}
		return core.WarningPatch{Status: core.StatusInSupport, Channel: &channel}, events, nil
	})
	if err != nil {
		return nil, err
	}

	if channel == core.ChannelEmergency {
		e.log.Warnw("emergency channel selected", "warning", w.ID, "user", w.UserID, "tier", w.Tier)
	}
	return w, nil
}

// Resolve closes an engaged warning. An active warning with no channel
// cannot be resolved.
func (e *Engine) Resolve(ctx context.Context, id string) (*core.Warning, error) {
	w, err := e.transition(ctx, id, "resolve", func(w *core.Warning, now time.Time) (core.WarningPatch, []core.EventType, error) {
		if w.Status != core.StatusInSupport {
			return core.WarningPatch{}, nil, &core.TransitionError{WarningID: w.ID, Op: "resolve", From: w.Status}
		}
		return core.WarningPatch{Status: core.StatusResolved, ResolvedAt: &now}, []core.EventType{core.EventWarningResolved}, nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Infow("warning resolved", "warning", w.ID, "user", w.UserID, "channel", w.Channel)
	e.release(w.ID)
	return w, nil
}

// Escalate closes a warning through the emergency channel, whatever
// channel was selected before.
func (e *Engine) Escalate(ctx context.Context, id string) (*core.Warning, error) {
	emergency := core.ChannelEmergency
	w, err := e.transition(ctx, id, "escalate", func(w *core.Warning, now time.Time) (core.WarningPatch, []core.EventType, error) {
		patch := core.WarningPatch{Status: core.StatusEscalated, Channel: &emergency, ResolvedAt: &now}
		return patch, []core.EventType{core.EventEmergencyRequested, core.EventWarningEscalated}, nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Warnw("warning escalated", "warning", w.ID, "user", w.UserID, "tier", w.Tier)
	e.release(w.ID)
	return w, nil
}

// patchFunc decides a transition from the current state and names the
// events to emit once it is committed.
type patchFunc func(w *core.Warning, now time.Time) (core.WarningPatch, []core.EventType, error)

// transition runs one state change under the warning's lock. The store write
// carries the version read here, so a writer in another process holding
// stale state loses with core.ErrConflict. Events are emitted before the lock
// is released so they reach the notifier in commit order.
func (e *Engine) transition(ctx context.Context, id, op string, fn patchFunc) (w *core.Warning, err error) {
	defer func() { e.recorder.Transition(op, err) }()

	unlock := e.locks.Lock(id)
	defer unlock()

	w, err = e.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status.Terminal() {
		return nil, &core.TransitionError{WarningID: id, Op: op, From: w.Status}
	}

	now := e.now()
	patch, events, err := fn(w, now)
	if err != nil {
		return nil, err
	}
	patch.ExpectedVersion = w.Version

	if err := e.store.Update(ctx, id, patch); err != nil {
		return nil, fmt.Errorf("%s warning %s: %w", op, id, err)
	}
	patch.Apply(w)

	for _, t := range events {
		e.emit(ctx, t, w, now)
	}
	return w, nil
}

// Get returns the stored warning.
func (e *Engine) Get(ctx context.Context, id string) (*core.Warning, error) {
	return e.get(ctx, id)
}

// ListActive returns the user's open warnings.
func (e *Engine) ListActive(ctx context.Context, userID string) ([]*core.Warning, error) {
	var out []*core.Warning
	err := e.retryRead(ctx, "list_active", func() error {
		var err error
		out, err = e.store.ListActive(ctx, userID)
		return err
	})
	return out, err
}

func (e *Engine) get(ctx context.Context, id string) (*core.Warning, error) {
	var w *core.Warning
	err := e.retryRead(ctx, "get", func() error {
		var err error
		w, err = e.store.Get(ctx, id)
		return err
	})
	return w, err
}

func (e *Engine) retryRead(ctx context.Context, op string, read func() error) error {
	var err error
	for attempt := 0; attempt < e.readAttempts; attempt++ {
		if err = read(); err == nil {
			return nil
		}
		if errors.Is(err, core.ErrNotFound) || ctx.Err() != nil {
			return err
		}
		backoff := time.Duration(attempt+1) * e.readBackoff
		e.log.Warnw("store read failed", "op", op, "attempt", attempt+1, "error", err, "backoff", backoff.String())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

func (e *Engine) emit(ctx context.Context, t core.EventType, w *core.Warning, at time.Time) {
	e.notifier.Notify(ctx, core.NewEvent(t, w, at))
}

// Close cancels in-flight advisory work and waits for it to stop.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancelAll()
	e.wg.Wait()
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, core.Event) {}

type nopRecorder struct{}

func (nopRecorder) Classified(string)        {}
func (nopRecorder) Opened(string)            {}
func (nopRecorder) Transition(string, error) {}
