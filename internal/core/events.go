package core

import "time"

// EventType names a notification the engine emits.
type EventType string

const (
	EventWarningOpened      EventType = "warning_opened"
	EventChannelSelected    EventType = "channel_selected"
	EventEmergencyRequested EventType = "emergency_requested"
	EventWarningResolved    EventType = "warning_resolved"
	EventWarningEscalated   EventType = "warning_escalated"
)

// Event is delivered best-effort to the notifier.
type Event struct {
	Type      EventType `json:"type"`
	WarningID string    `json:"warning_id"`
	UserID    string    `json:"user_id"`
	Tier      RiskTier  `json:"tier"`
	Channel   Channel   `json:"channel,omitempty"`
	At        time.Time `json:"at"`
}

// NewEvent builds an event from the warning's current state.
func NewEvent(t EventType, w *Warning, at time.Time) Event {
	return Event{
		Type:      t,
		WarningID: w.ID,
		UserID:    w.UserID,
		Tier:      w.Tier,
		Channel:   w.Channel,
		At:        at,
	}
}
