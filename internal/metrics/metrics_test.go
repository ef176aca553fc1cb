package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Settlement(OutcomeCharged)
	m.Settlement(OutcomeCharged)
	m.Settlement(OutcomeInsufficientFunds)
	m.LedgerEntry("DEBIT", 3.5)
	m.LedgerEntry("DEBIT", 3.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.settlements.WithLabelValues(OutcomeCharged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements.WithLabelValues(OutcomeInsufficientFunds)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.ledgerAmount.WithLabelValues("DEBIT")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Settlement(OutcomeError)
		m.Webhook("ok")
		m.ReconcileDivergence()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Webhook("settled")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `voicepass_call_webhooks_total{result="settled"} 1`)
}
