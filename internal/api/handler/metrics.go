package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fiscalRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiscal_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	fiscalRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiscal_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	fiscalJournalEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiscal_journal_entries_total",
		Help: "Total journal entries appended, by entry type.",
	}, []string{"type"})

	fiscalAppendRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiscal_append_rejections_total",
		Help: "Total append attempts rejected, by reason.",
	}, []string{"reason"})

	fiscalChainVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiscal_chain_verifications_total",
		Help: "Total chain verification runs by result.",
	}, []string{"result"})

	fiscalBulletinsSealedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiscal_bulletins_sealed_total",
		Help: "Total closure bulletins sealed.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fiscalRequestsTotal.WithLabelValues(method, path, status).Inc()
		fiscalRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records a successful journal append.
func RecordAppend(entryType string) {
	fiscalJournalEntriesTotal.WithLabelValues(entryType).Inc()
}

// RecordAppendRejection records a rejected append attempt.
func RecordAppendRejection(reason string) {
	fiscalAppendRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordChainVerification records the result of a chain verification run.
func RecordChainVerification(valid bool) {
	if valid {
		fiscalChainVerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		fiscalChainVerificationsTotal.WithLabelValues("divergent").Inc()
	}
}

// RecordBulletinSealed records a sealed closure bulletin.
func RecordBulletinSealed() {
	fiscalBulletinsSealedTotal.Inc()
}
