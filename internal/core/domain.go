package core

import (
	"fmt"
	"strings"
	"time"
)

// Emotion is a label from the fixed set a user can report.
type Emotion string

const (
	Joy         Emotion = "joy"
	Excitement  Emotion = "excitement"
	Calm        Emotion = "calm"
	Gratitude   Emotion = "gratitude"
	Neutral     Emotion = "neutral"
	Sadness     Emotion = "sadness"
	Anger       Emotion = "anger"
	Fear        Emotion = "fear"
	Anxiety     Emotion = "anxiety"
	Frustration Emotion = "frustration"
	Loneliness  Emotion = "loneliness"
)

var knownEmotions = map[Emotion]struct{}{
	Joy: {}, Excitement: {}, Calm: {}, Gratitude: {}, Neutral: {},
	Sadness: {}, Anger: {}, Fear: {}, Anxiety: {}, Frustration: {}, Loneliness: {},
}

// Emotions returns every known label in a stable order.
func Emotions() []Emotion {
	return []Emotion{Joy, Excitement, Calm, Gratitude, Neutral, Sadness, Anger, Fear, Anxiety, Frustration, Loneliness}
}

// Valid reports whether e is part of the enumerated set.
func (e Emotion) Valid() bool {
	_, ok := knownEmotions[e]
	return ok
}

// ParseEmotion normalizes s and rejects labels outside the known set.
func ParseEmotion(s string) (Emotion, error) {
	e := Emotion(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("%w: unknown emotion %q", ErrInvalidInput, s)
	}
	return e, nil
}

const (
	MinIntensity = 1
	MaxIntensity = 10
)

// EmotionReading is one self-reported emotional state.
type EmotionReading struct {
	UserID    string    `json:"user_id"`
	Emotion   Emotion   `json:"emotion"`
	Intensity int       `json:"intensity"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"` // free-text context for the advisory prompt
}

// Validate checks the ingestion invariants. Values are never coerced.
func Validate(r EmotionReading) error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if !r.Emotion.Valid() {
		return fmt.Errorf("%w: unknown emotion %q", ErrInvalidInput, r.Emotion)
	}
	if r.Intensity < MinIntensity || r.Intensity > MaxIntensity {
		return fmt.Errorf("%w: intensity %d outside [%d,%d]", ErrInvalidInput, r.Intensity, MinIntensity, MaxIntensity)
	}
	return nil
}

// Status is the lifecycle position of a Warning.
type Status string

const (
	StatusActive    Status = "active"
	StatusInSupport Status = "in_support"
	StatusResolved  Status = "resolved"
	StatusEscalated Status = "escalated"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusEscalated
}

// Open reports whether the warning still needs attention.
func (s Status) Open() bool {
	return s == StatusActive || s == StatusInSupport
}

// Channel is one of the three support paths.
type Channel string

const (
	ChannelNone      Channel = ""
	ChannelAICoach   Channel = "ai_coach"
	ChannelMentor    Channel = "mentor"
	ChannelEmergency Channel = "emergency"
)

// Valid reports whether c names a supported channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelAICoach, ChannelMentor, ChannelEmergency:
		return true
	}
	return false
}

// ParseChannel maps s onto a supported channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return ChannelNone, fmt.Errorf("%w: %q", ErrUnsupportedChannel, s)
	}
	return c, nil
}

// Warning is the record of one escalation episode.
type Warning struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Reading    EmotionReading `json:"reading"`
	Tier       RiskTier       `json:"tier"`
	Status     Status         `json:"status"`
	Channel    Channel        `json:"support_channel,omitempty"`
	OpenedAt   time.Time      `json:"opened_at"`
	ResolvedAt *time.Time     `json:"resolved_at"`
	Version    int64          `json:"version"`
}

// Clone returns a copy that shares no pointers with w.
func (w *Warning) Clone() *Warning {
	c := *w
	if w.ResolvedAt != nil {
		t := *w.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// WarningPatch is a partial update guarded by the version the writer read.
type WarningPatch struct {
	ExpectedVersion int64
	Status          Status
	Channel         *Channel
	ResolvedAt      *time.Time
}

// Apply mutates w with the patch and bumps its version.
func (p WarningPatch) Apply(w *Warning) {
	if p.Status != "" {
		w.Status = p.Status
	}
	if p.Channel != nil {
		w.Channel = *p.Channel
	}
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		w.ResolvedAt = &t
	}
	w.Version = p.ExpectedVersion + 1
}

// AdvisorySource tells whether content came from the provider or the static fallback.
type AdvisorySource string

const (
	SourceProvider AdvisorySource = "provider"
	SourceFallback AdvisorySource = "fallback"
)

// AdvisoryContent is supplementary supportive text. It never decides the tier.
type AdvisoryContent struct {
	Summary        string         `json:"summary"`
	Insight        string         `json:"insight"`
	Suggestions    []string       `json:"suggestions"`
	RiskLevel      RiskTier       `json:"risk_level"`
	ShouldEscalate bool           `json:"should_escalate"`
	Source         AdvisorySource `json:"source"`
	GeneratedAt    time.Time      `json:"generated_at"`
}
