package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the engine loops and the API.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	actionsTotal             *prometheus.CounterVec
	skipsTotal               *prometheus.CounterVec
	failuresTotal            *prometheus.CounterVec
	cycleDuration            *prometheus.HistogramVec
	attributionOutcomesTotal *prometheus.CounterVec
	notifySendDuration       prometheus.Histogram
}

// Skip reasons recorded per candidate the sentinel decides not to act on.
const (
	SkipBelowThreshold = "below_threshold"
	SkipCooldown       = "cooldown"
	SkipHumanPriority  = "human_priority"
	SkipRateLimit      = "rate_limit"
)

// Failure stages recorded by the loops.
const (
	FailurePersist   = "persist"
	FailureNotify    = "notify"
	FailureEmit      = "emit"
	FailureRiskFetch = "risk_fetch"
	FailureAttribute = "attribute"
)

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "intervention_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "intervention_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "intervention_engine",
				Name:      "actions_total",
				Help:      "Total number of interventions executed or simulated, by action and mode.",
			},
			[]string{"action", "mode"},
		),
		skipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "intervention_engine",
				Name:      "skips_total",
				Help:      "Total number of candidates skipped by the sentinel, by reason.",
			},
			[]string{"reason"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "intervention_engine",
				Name:      "failures_total",
				Help:      "Total number of isolated per-item failures, by stage.",
			},
			[]string{"stage"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "intervention_engine",
				Name:      "cycle_duration_seconds",
				Help:      "Loop cycle duration in seconds by loop name.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"loop"},
		),
		attributionOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "intervention_engine",
				Name:      "attribution_outcomes_total",
				Help:      "Total number of interventions attributed, by outcome.",
			},
			[]string{"outcome"},
		),
		notifySendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "intervention_engine",
				Name:      "notify_send_duration_seconds",
				Help:      "Outbound notification delivery duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.actionsTotal,
		m.skipsTotal,
		m.failuresTotal,
		m.cycleDuration,
		m.attributionOutcomesTotal,
		m.notifySendDuration,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncAction(action string, dryRun bool) {
	if m == nil {
		return
	}
	mode := "live"
	if dryRun {
		mode = "dry_run"
	}
	m.actionsTotal.WithLabelValues(normalizeLabel(action), mode).Inc()
}

func (m *Metrics) IncSkip(reason string) {
	if m == nil {
		return
	}
	m.skipsTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncFailure(stage string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(normalizeLabel(stage)).Inc()
}

func (m *Metrics) ObserveCycleDuration(loop string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.cycleDuration.WithLabelValues(normalizeLabel(loop)).Observe(seconds)
}

func (m *Metrics) IncAttributionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.attributionOutcomesTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveNotifySendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.notifySendDuration.Observe(seconds)
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
