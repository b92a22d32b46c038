package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := New()

	c.ObserveScore("Review", 65, []string{"G002", "M003"}, 2*time.Millisecond)
	c.ObserveScore("Monitor", 10, nil, time.Millisecond)
	c.ObserveScore("Review", 70, []string{"G002"}, time.Millisecond)
	c.ProviderError()
	c.RuleToggled("rule", "M003", false)
	c.RuleToggled("group", "MULE", true)
	c.StreamClients(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.scoredTotal.WithLabelValues("Review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.scoredTotal.WithLabelValues("Monitor")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ruleTriggers.WithLabelValues("G002")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.providerErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ruleToggles.WithLabelValues("rule", "M003", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ruleToggles.WithLabelValues("group", "MULE", "true")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.websocketClients))
}

func TestHandler(t *testing.T) {
	c := New()
	c.ObserveScore("Escalate (EDD)", 90, []string{"M001"}, time.Millisecond)
	c.ObserveHTTP(http.MethodPost, "/predict", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `heron_transactions_scored_total{action="Escalate (EDD)"} 1`))
	assert.Contains(t, body, `heron_rule_triggers_total{rule_id="M001"} 1`)
	assert.Contains(t, body, "heron_http_request_duration_seconds_bucket")
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ProviderError()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.providerErrors))
}
