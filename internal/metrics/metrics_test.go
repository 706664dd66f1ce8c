package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/stupiduntilnot/windowchat/internal/session"
)

func TestMetrics_ObservesLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionStarted("a")
	m.SessionStarted("b")
	m.SessionEnded("a")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))

	m.TurnStarted(session.TurnEvent{SessionID: "b", PromptTokens: 40})
	m.TurnFinished(session.TurnEvent{SessionID: "b", Outcome: session.OutcomeCompleted, Duration: time.Second})
	m.TurnFinished(session.TurnEvent{SessionID: "b", Outcome: session.OutcomeFailed, ErrClass: "timeout"})
	m.TurnFinished(session.TurnEvent{SessionID: "b", Outcome: session.OutcomeAbandoned})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("abandoned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnErrors.WithLabelValues("timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PromptTokens))
}
