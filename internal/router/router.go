package router

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
)

// HandleKind tells the UI which experience to open.
type HandleKind string

const (
	KindChatSession     HandleKind = "chat_session"
	KindMentorDirectory HandleKind = "mentor_directory"
	KindEmergencyCall   HandleKind = "emergency_call"
)

// Handle is what the UI needs to open a support experience.
type Handle struct {
	Channel   core.Channel `json:"channel"`
	Kind      HandleKind   `json:"kind"`
	Target    string       `json:"target"`
	WarningID string       `json:"warning_id"`
}

// Option is one entry of the channel picker.
type Option struct {
	Channel  core.Channel `json:"channel"`
	Label    string       `json:"label"`
	Selected bool         `json:"selected"`
}

// Recorder is told every time a handle is issued.
type Recorder interface {
	ChannelOpened(channel string)
}

type Config struct {
	CoachChatURL       string
	MentorDirectoryURL string
	EmergencyNumber    string
}

// Router maps a channel onto a handle. It holds no per-warning state.
type Router struct {
	cfg      Config
	recorder Recorder
	log      *zap.SugaredLogger
}

func New(cfg Config, recorder Recorder, log *zap.SugaredLogger) *Router {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Router{cfg: cfg, recorder: recorder, log: log.Named("router")}
}

// Route returns the handle for channel, or ErrUnsupportedChannel.
func (r *Router) Route(channel core.Channel, w *core.Warning) (Handle, error) {
	h := Handle{Channel: channel, WarningID: w.ID}

	switch channel {
	case core.ChannelAICoach:
		h.Kind = KindChatSession
		h.Target = withQuery(r.cfg.CoachChatURL, "warning", w.ID)
	case core.ChannelMentor:
		h.Kind = KindMentorDirectory
		h.Target = withQuery(r.cfg.MentorDirectoryURL, "warning", w.ID)
	case core.ChannelEmergency:
		h.Kind = KindEmergencyCall
		h.Target = "tel:" + strings.ReplaceAll(r.cfg.EmergencyNumber, " ", "")
	default:
		return Handle{}, fmt.Errorf("%w: %q", core.ErrUnsupportedChannel, channel)
	}

	if r.recorder != nil {
		r.recorder.ChannelOpened(string(channel))
	}
	r.log.Infow("channel opened", "channel", channel, "warning", w.ID, "tier", w.Tier)
	return h, nil
}

var labels = map[core.Channel]string{
	core.ChannelAICoach:   "Talk to the AI coach",
	core.ChannelMentor:    "Reach a human mentor",
	core.ChannelEmergency: "Contact emergency support",
}

// Options lists every channel. Emergency is always offered, whatever the tier.
func (r *Router) Options(w *core.Warning) []Option {
	order := []core.Channel{core.ChannelAICoach, core.ChannelMentor, core.ChannelEmergency}
	out := make([]Option, 0, len(order))
	for _, c := range order {
		out = append(out, Option{Channel: c, Label: labels[c], Selected: w.Channel == c})
	}
	return out
}

func withQuery(base, key, value string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + key + "=" + url.QueryEscape(value)
}
