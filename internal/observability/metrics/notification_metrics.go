package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Notification write outcomes.
const (
	OutcomeCreated    = "created"
	OutcomeUpgraded   = "upgraded"
	OutcomeSkipped    = "skipped"
	OutcomeSuppressed = "suppressed"
	OutcomeShadow     = "shadow"
	OutcomeFailed     = "failed"
)

// DomainMetrics covers the notification pipeline, the event bus, invoices,
// autopay and reconciliation.
type DomainMetrics struct {
	notifications  *prometheus.CounterVec
	dedupCache     *prometheus.CounterVec
	gatewayPath    *prometheus.CounterVec
	busHandlers    *prometheus.CounterVec
	busQueueDepth  prometheus.Gauge
	invoiceMoves   *prometheus.CounterVec
	autopay        *prometheus.CounterVec
	reconGaps      *prometheus.CounterVec
	reconBackfills *prometheus.CounterVec
	publishLimits  *prometheus.CounterVec
}

var (
	domainMetricsOnce sync.Once
	domainMetrics     *DomainMetrics
)

// Domain returns the singleton domain metrics registry.
func Domain() *DomainMetrics {
	return DomainWithConfig(Config{})
}

// DomainWithConfig returns the singleton domain metrics registry using config labels.
func DomainWithConfig(cfg Config) *DomainMetrics {
	domainMetricsOnce.Do(func() {
		domainMetrics = NewDomainMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return domainMetrics
}

// NewDomainMetrics registers a fresh set of collectors. Tests pass their own registry.
func NewDomainMetrics(registerer prometheus.Registerer, cfg Config) *DomainMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := prometheus.Labels(cfg.constLabels())

	m := &DomainMetrics{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gigledger_notifications_total",
			Help:        "Notification writes by type, audience and outcome.",
			ConstLabels: constLabels,
		}, []string{"type", "audience", "outcome"}),
		dedupCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gigledger_dedup_cache_lookups_total",
			Help:        "Recent-repeat cache lookups by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		gatewayPath: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gigledger_notification_gateway_path_total",
			Help:        "Gateway emissions by routing path.",
			ConstLabels: constLabels,
		}, []string{"operation", "path"}),
		busHandlers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gigledger_eventbus_handler_results_total",
			Help:        "Event bus handler results after retries.",
			ConstLabels: constLabels,
		}, []string{"event", "outcome"}),
		busQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "gigledger_eventbus_queue_depth",
			Help:        "Events waiting in the asynchronous publish queue.",
			ConstLabels: constLabels,
		}),
		invoiceMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gigledger_invoice_transitions_total",
			Help:        "Invoice status transitions.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		autopay: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gigledger_autopay_attempts_total",
			Help:        "Autopay attempts by outcome and failure code.",
			ConstLabels: constLabels,
		}, []string{"outcome", "code"}),
		reconGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gigledger_reconciliation_gaps_total",
			Help:        "Missing notifications detected by reconciliation.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		reconBackfills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gigledger_reconciliation_backfills_total",
			Help:        "Notifications backfilled by reconciliation.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		publishLimits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gigledger_publish_rate_limit_total",
			Help:        "Ops API publish rate limit decisions.",
			ConstLabels: constLabels,
		}, []string{"decision"}),
	}

	registerer.MustRegister(
		m.notifications,
		m.dedupCache,
		m.gatewayPath,
		m.busHandlers,
		m.busQueueDepth,
		m.invoiceMoves,
		m.autopay,
		m.reconGaps,
		m.reconBackfills,
		m.publishLimits,
	)
	return m
}

func (m *DomainMetrics) IncNotification(eventType, audience, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(eventType, audience, outcome).Inc()
}

func (m *DomainMetrics) IncDedupCache(result string) {
	if m == nil {
		return
	}
	m.dedupCache.WithLabelValues(result).Inc()
}

func (m *DomainMetrics) IncGatewayPath(operation, path string) {
	if m == nil {
		return
	}
	m.gatewayPath.WithLabelValues(operation, path).Inc()
}

func (m *DomainMetrics) IncBusHandler(event, outcome string) {
	if m == nil {
		return
	}
	m.busHandlers.WithLabelValues(event, outcome).Inc()
}

func (m *DomainMetrics) SetBusQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.busQueueDepth.Set(float64(depth))
}

func (m *DomainMetrics) IncInvoiceTransition(from, to string) {
	if m == nil {
		return
	}
	m.invoiceMoves.WithLabelValues(from, to).Inc()
}

func (m *DomainMetrics) IncAutopayAttempt(outcome, code string) {
	if m == nil {
		return
	}
	m.autopay.WithLabelValues(outcome, code).Inc()
}

func (m *DomainMetrics) AddReconciliation(kind string, found, backfilled int) {
	if m == nil {
		return
	}
	if found > 0 {
		m.reconGaps.WithLabelValues(kind).Add(float64(found))
	}
	if backfilled > 0 {
		m.reconBackfills.WithLabelValues(kind).Add(float64(backfilled))
	}
}

// IncPublishRateLimit counts allowed and denied publishes through the ops API.
func (m *DomainMetrics) IncPublishRateLimit(decision string) {
	if m == nil {
		return
	}
	m.publishLimits.WithLabelValues(decision).Inc()
}
