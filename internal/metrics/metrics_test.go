package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New("test")

	m.Classified("high")
	m.Classified("high")
	m.Opened("medium")
	m.Transition("resolve", nil)
	m.Transition("resolve", errors.New("boom"))
	m.Advisory("fallback", "timeout", 0.5)
	m.ChannelOpened("mentor")
	m.EventDropped("warning_opened")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReadingsClassified.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WarningsOpened.WithLabelValues("medium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("resolve", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("resolve", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdvisoryResults.WithLabelValues("fallback", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChannelsOpened.WithLabelValues("mentor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues("warning_opened")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Classified("low")
		m.Transition("escalate", nil)
		m.Advisory("provider", "", 1)
	})
}

func TestHandler(t *testing.T) {
	m := New("test")
	m.Opened("high")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_warnings_opened_total{tier="high"} 1`)
}
