package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg             *prometheus.Registry
	SessionsStarted prometheus.Counter
	Transitions     *prometheus.CounterVec
	ItemMutations   *prometheus.CounterVec
	InvoicesIssued  prometheus.Counter
	OperationErrors *prometheus.CounterVec
	OperationSec    *prometheus.HistogramVec

	// outbox
	EventsPublished prometheus.Counter
	PublishFailures prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	started := prometheus.NewCounter(prometheus.CounterOpts{Name: "selfcheckout_sessions_started_total"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "selfcheckout_session_transitions_total",
		Help: "Session status changes by target status.",
	}, []string{"to"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "selfcheckout_item_mutations_total",
	}, []string{"op"})
	invoices := prometheus.NewCounter(prometheus.CounterOpts{Name: "selfcheckout_invoices_issued_total"})
	opErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "selfcheckout_operation_errors_total",
	}, []string{"op", "kind"})
	opLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "selfcheckout_operation_latency_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	published := prometheus.NewCounter(prometheus.CounterOpts{Name: "selfcheckout_outbox_published_total"})
	publishFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "selfcheckout_outbox_publish_failures_total"})

	r.MustRegister(started, transitions, items, invoices, opErrors, opLatency, published, publishFailures)
	return &Registry{
		reg:             r,
		SessionsStarted: started,
		Transitions:     transitions,
		ItemMutations:   items,
		InvoicesIssued:  invoices,
		OperationErrors: opErrors,
		OperationSec:    opLatency,
		EventsPublished: published,
		PublishFailures: publishFailures,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
