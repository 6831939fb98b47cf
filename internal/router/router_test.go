package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
)

type countingRecorder map[string]int

func (c countingRecorder) ChannelOpened(channel string) { c[channel]++ }

func newRouter(rec Recorder) *Router {
	return New(Config{
		CoachChatURL:       "/chat/coach",
		MentorDirectoryURL: "https://example.org/mentors?lang=en",
		EmergencyNumber:    "1 800 273",
	}, rec, nil)
}

func TestRouteEachChannel(t *testing.T) {
	rec := countingRecorder{}
	r := newRouter(rec)
	w := &core.Warning{ID: "w-1", Tier: core.TierMedium}

	tests := []struct {
		channel core.Channel
		kind    HandleKind
		target  string
	}{
		{core.ChannelAICoach, KindChatSession, "/chat/coach?warning=w-1"},
		{core.ChannelMentor, KindMentorDirectory, "https://example.org/mentors?lang=en&warning=w-1"},
		{core.ChannelEmergency, KindEmergencyCall, "tel:1800273"},
	}
	for _, tt := range tests {
		h, err := r.Route(tt.channel, w)
		require.NoError(t, err)
		assert.Equal(t, tt.kind, h.Kind)
		assert.Equal(t, tt.target, h.Target)
		assert.Equal(t, "w-1", h.WarningID)
		assert.Equal(t, 1, rec[string(tt.channel)])
	}
}

func TestRouteUnsupported(t *testing.T) {
	rec := countingRecorder{}
	_, err := newRouter(rec).Route(core.Channel("fax"), &core.Warning{ID: "w"})
	assert.ErrorIs(t, err, core.ErrUnsupportedChannel)
	assert.Empty(t, rec)

	_, err = newRouter(nil).Route(core.ChannelNone, &core.Warning{ID: "w"})
	assert.ErrorIs(t, err, core.ErrUnsupportedChannel)
}

func TestOptionsAlwaysOfferEmergency(t *testing.T) {
	r := newRouter(nil)

	opts := r.Options(&core.Warning{Tier: core.TierLow})
	require.Len(t, opts, 3)
	assert.Equal(t, core.ChannelEmergency, opts[2].Channel)
	for _, o := range opts {
		assert.False(t, o.Selected)
		assert.NotEmpty(t, o.Label)
	}

	opts = r.Options(&core.Warning{Tier: core.TierHigh, Channel: core.ChannelAICoach})
	assert.True(t, opts[0].Selected)
}
