// Package metrics exposes settlement and ledger counters for Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicepass"

// Settlement outcomes.
const (
	OutcomeCharged           = "charged"
	OutcomeAlreadySettled    = "already_settled"
	OutcomeInsufficientFunds = "insufficient_funds"
	OutcomeError             = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	settlements    *prometheus.CounterVec
	ledgerEntries  *prometheus.CounterVec
	ledgerAmount   *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	callsInitiated *prometheus.CounterVec
	reconcileDrift prometheus.Counter
}

// New registers every collector on a fresh registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Call settlement attempts by outcome.",
		}, []string{"outcome"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Ledger entries written by type.",
		}, []string{"type"}),
		ledgerAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_amount_total",
			Help:      "Sum of ledger entry amounts by type.",
		}, []string{"type"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_webhooks_total",
			Help:      "Call status webhooks by result.",
		}, []string{"result"}),
		callsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_initiated_total",
			Help:      "Voice OTP call initiations by result.",
		}, []string{"result"}),
		reconcileDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_divergences_total",
			Help:      "Accounts whose stored balance disagreed with their ledger.",
		}),
	}
	reg.MustRegister(m.settlements, m.ledgerEntries, m.ledgerAmount, m.webhooks, m.callsInitiated, m.reconcileDrift)
	return m
}

func (m *Metrics) Settlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LedgerEntry(entryType string, amount float64) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(entryType).Inc()
	m.ledgerAmount.WithLabelValues(entryType).Add(amount)
}

func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}

func (m *Metrics) CallInitiated(result string) {
	if m == nil {
		return
	}
	m.callsInitiated.WithLabelValues(result).Inc()
}

func (m *Metrics) ReconcileDivergence() {
	if m == nil {
		return
	}
	m.reconcileDrift.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
