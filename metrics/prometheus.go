package metrics

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// all metrics and middlewares for the REST API and the webhook queue
var (
	// to prevent metrics from being initialized multiple times
	isMetricsInitVar uint32 = 0

	// active REST API connections
	activeRESTConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_rest_connections",
			Help: "Number of active REST API connections",
		},
	)

	// response times for REST APIs
	responseTimeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_response_time_milliseconds",
			Help:    "REST API response time distributions",
			Buckets: []float64{1, 10, 50, 100, 200, 300, 400, 500},
		},
		[]string{"method", "endpoint"},
	)

	// size of the body for REST APIs
	requestSizeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_request_size_kilobytes",
			Help:    "REST API request size distributions",
			Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000},
		},
		[]string{"method", "endpoint"},
	)

	// Number of requests processed by REST API
	RESTRequestMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rest_requests_processed_total",
		Help: "The total number of processed REST requests",
	}, []string{"method", "endpoint"})

	// Submissions by outcome (accepted, spam, honeypot, verification_pending, rate_limited)
	SubmissionsMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "form_submissions_total",
		Help: "The total number of form submissions by outcome",
	}, []string{"outcome"})

	// Verification emails sent
	VerificationEmailsSentMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "verification_emails_sent_total",
		Help: "The total number of verification emails sent",
	})

	// Notification emails by result (sent, failed)
	NotificationEmailsMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_emails_total",
		Help: "The total number of notification emails by result",
	}, []string{"result"})

	// Webhook delivery attempts by result (success, failure)
	WebhookAttemptsMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_delivery_attempts_total",
		Help: "The total number of webhook delivery attempts by result",
	}, []string{"result"})

	// Webhook lineages that exhausted their attempts
	WebhookFailedMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_deliveries_failed_total",
		Help: "The total number of webhook deliveries marked failed",
	})

	// Latency of webhook delivery attempts
	WebhookDeliveryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_delivery_latency_milliseconds",
		Help:    "Latency of webhook delivery attempts",
		Buckets: prometheus.LinearBuckets(1, 100, 10),
	})
)

func setIsMetricsInit() {
	atomic.StoreUint32(&isMetricsInitVar, 1)
}

func isMetricsInit() bool {
	return atomic.LoadUint32(&isMetricsInitVar) == 1
}

func InitMetrics() {
	if !isMetricsInit() {
		setIsMetricsInit()

		// Metrics have to be registered to be exposed
		prometheus.MustRegister(activeRESTConnections)
		prometheus.MustRegister(responseTimeRESTAPI)
		prometheus.MustRegister(requestSizeRESTAPI)
		prometheus.MustRegister(RESTRequestMetricsTotal)
		prometheus.MustRegister(SubmissionsMetricsTotal)
		prometheus.MustRegister(VerificationEmailsSentMetricsCount)
		prometheus.MustRegister(NotificationEmailsMetricsTotal)
		prometheus.MustRegister(WebhookAttemptsMetricsTotal)
		prometheus.MustRegister(WebhookFailedMetricsCount)
		prometheus.MustRegister(WebhookDeliveryLatency)
	}
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// FullPath keeps the label cardinality bounded (catch-all routes report the pattern)
		endpoint := c.FullPath()
		RESTRequestMetricsTotal.WithLabelValues(c.Request.Method, endpoint).Inc()

		r := c.Request

		// Start timing responseTime histogram
		start := time.Now()

		// Set activeConnections gauge
		activeRESTConnections.Inc()
		defer activeRESTConnections.Dec()

		c.Next()

		// observe request size in kilobtyes
		if r.ContentLength > 0 {
			requestSizeRESTAPI.WithLabelValues(r.Method, endpoint).Observe(float64(r.ContentLength) / 1024)
		}

		latency := time.Since(start)
		responseTimeRESTAPI.WithLabelValues(r.Method, endpoint).Observe(float64(latency.Milliseconds()))
	}
}
