package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the enrollment and billing domain.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	enrollmentsCreated  *prometheus.CounterVec
	waitlistPromotions  prometheus.Counter
	paymentsFinalized   prometheus.Counter
	installmentsOverdue prometheus.Counter
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	enrollmentsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollments_created_total",
		Help: "Enrollments created, labelled by initial status",
	}, []string{"status"})

	waitlistPromotions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "waitlist_promotions_total",
		Help: "Waitlisted enrollments promoted to a freed seat",
	})

	paymentsFinalized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_finalized_total",
		Help: "Payments whose allocations were applied",
	})

	installmentsOverdue := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "installments_overdue_total",
		Help: "Installments that flipped from open to overdue",
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses,
		enrollmentsCreated, waitlistPromotions, paymentsFinalized, installmentsOverdue)

	return &MetricsService{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		cacheHits:           cacheHits,
		cacheMisses:         cacheMisses,
		enrollmentsCreated:  enrollmentsCreated,
		waitlistPromotions:  waitlistPromotions,
		paymentsFinalized:   paymentsFinalized,
		installmentsOverdue: installmentsOverdue,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (m *MetricsService) Handler() http.Handler {
	return m.handler
}

// ObserveRequest records one served HTTP request.
func (m *MetricsService) ObserveRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, code).Inc()
}

// CacheHit records a statement cache hit.
func (m *MetricsService) CacheHit() { m.cacheHits.Inc() }

// CacheMiss records a statement cache miss.
func (m *MetricsService) CacheMiss() { m.cacheMisses.Inc() }

// EnrollmentCreated records a new enrollment by its initial status.
func (m *MetricsService) EnrollmentCreated(status models.EnrollmentStatus) {
	m.enrollmentsCreated.WithLabelValues(string(status)).Inc()
}

// WaitlistPromoted records a waitlist promotion.
func (m *MetricsService) WaitlistPromoted() { m.waitlistPromotions.Inc() }

// PaymentFinalized records a finalized payment.
func (m *MetricsService) PaymentFinalized() { m.paymentsFinalized.Inc() }

// InstallmentOverdue records an open installment turning overdue.
func (m *MetricsService) InstallmentOverdue() { m.installmentsOverdue.Inc() }
