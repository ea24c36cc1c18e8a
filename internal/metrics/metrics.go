package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "subscription_ledger"

// Collector holds the ledger's Prometheus metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	accrualsGenerated  prometheus.Counter
	accrualsDuplicate  prometheus.Counter
	paymentsRegistered prometheus.Counter
	paymentAmount      prometheus.Counter
	allocations        *prometheus.CounterVec
	deallocations      prometheus.Counter
	adjustments        *prometheus.CounterVec
	operationErrors    *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates and registers every ledger metric.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.accrualsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "accruals_generated_total",
		Help:      "Accruals created by generation runs",
	})
	c.accrualsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "accruals_duplicate_total",
		Help:      "Accruals skipped because the period was already generated",
	})
	c.paymentsRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_registered_total",
		Help:      "Payments registered",
	})
	c.paymentAmount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_amount_total",
		Help:      "Sum of registered payment amounts",
	})
	c.allocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "allocations_total",
		Help:      "Allocation rows written, by mode",
	}, []string{"mode"})
	c.deallocations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deallocations_total",
		Help:      "Allocations removed",
	})
	c.adjustments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "adjustments_total",
		Help:      "Adjustments applied, by kind",
	}, []string{"kind"})
	c.operationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_errors_total",
		Help:      "Failed ledger operations, by operation and error kind",
	}, []string{"operation", "kind"})

	c.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})
	c.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	c.registry.MustRegister(
		c.accrualsGenerated, c.accrualsDuplicate, c.paymentsRegistered, c.paymentAmount,
		c.allocations, c.deallocations, c.adjustments, c.operationErrors,
		c.httpRequestsTotal, c.httpRequestDuration,
	)
	return c
}

func (c *Collector) AccrualsGenerated(created, duplicates int) {
	c.accrualsGenerated.Add(float64(created))
	c.accrualsDuplicate.Add(float64(duplicates))
}

func (c *Collector) PaymentRegistered(amount float64) {
	c.paymentsRegistered.Inc()
	c.paymentAmount.Add(amount)
}

// Allocated counts allocation rows; mode is "auto" or "manual".
func (c *Collector) Allocated(mode string, rows int) {
	c.allocations.WithLabelValues(mode).Add(float64(rows))
}

func (c *Collector) Deallocated() { c.deallocations.Inc() }

func (c *Collector) Adjusted(kind string) { c.adjustments.WithLabelValues(kind).Inc() }

func (c *Collector) OperationFailed(operation, kind string) {
	c.operationErrors.WithLabelValues(operation, kind).Inc()
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
