package core

import (
	"fmt"
	"strings"
)

// RiskTier orders how urgently a reading warrants support. The zero value
// means "unknown" and is never produced by Classify.
type RiskTier int

const (
	TierUnknown RiskTier = iota
	TierLow
	TierMedium
	TierHigh
)

func (t RiskTier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	}
	return "unknown"
}

// ParseRiskTier accepts the lowercase names produced by String.
func ParseRiskTier(s string) (RiskTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return TierLow, nil
	case "medium":
		return TierMedium, nil
	case "high":
		return TierHigh, nil
	case "unknown", "":
		return TierUnknown, nil
	}
	return TierUnknown, fmt.Errorf("%w: unknown risk tier %q", ErrInvalidInput, s)
}

func (t RiskTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *RiskTier) UnmarshalText(b []byte) error {
	v, err := ParseRiskTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// High-risk labels escalate one intensity step earlier.
var highRiskEmotions = map[Emotion]bool{
	Anger:   true,
	Sadness: true,
	Fear:    true,
}

// Classify maps a label and intensity onto a tier.
//
// High is checked first: intensity >= 9, or a high-risk label at >= 8.
// Anything else from 6 to 8 is Medium, so an intensity 8 reading with a
// non-high-risk label (e.g. excitement) stays Medium. Below 6 is Low.
func Classify(e Emotion, intensity int) (RiskTier, error) {
	if !e.Valid() {
		return TierUnknown, fmt.Errorf("%w: unknown emotion %q", ErrInvalidInput, e)
	}
	if intensity < MinIntensity || intensity > MaxIntensity {
		return TierUnknown, fmt.Errorf("%w: intensity %d outside [%d,%d]", ErrInvalidInput, intensity, MinIntensity, MaxIntensity)
	}

	if intensity >= 9 || (highRiskEmotions[e] && intensity >= 8) {
		return TierHigh, nil
	}
	if intensity >= 6 {
		return TierMedium, nil
	}
	return TierLow, nil
}

// ClassifyReading is Classify over a reading's label and intensity.
func ClassifyReading(r EmotionReading) (RiskTier, error) {
	return Classify(r.Emotion, r.Intensity)
}
