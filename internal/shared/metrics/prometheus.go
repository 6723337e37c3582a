package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Guard metrics
	authorizationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_decisions_total",
			Help: "Total number of authorization guard decisions",
		},
		[]string{"endpoint", "method", "decision"},
	)

	csrfFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrf_failures_total",
			Help: "Total number of rejected CSRF validations",
		},
		[]string{"code"},
	)

	rateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_exceeded_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	mfaVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfa_verifications_total",
			Help: "Total number of MFA verification attempts",
		},
		[]string{"method", "result"},
	)

	mfaLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mfa_lockouts_total",
			Help: "Total number of MFA lockouts created",
		},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// RecordAuthorizationDecision records an authorization guard decision
func RecordAuthorizationDecision(endpoint, method string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	authorizationDecisions.WithLabelValues(endpoint, method, decision).Inc()
}

// RecordCSRFFailure records a rejected CSRF validation
func RecordCSRFFailure(code string) {
	csrfFailures.WithLabelValues(code).Inc()
}

// RecordRateLimitExceeded records a rate-limited request; scope is
// "global" or "endpoint".
func RecordRateLimitExceeded(scope string) {
	rateLimitExceeded.WithLabelValues(scope).Inc()
}

// RecordMFAVerification records an MFA verification attempt; method is
// "totp" or "backup_code".
func RecordMFAVerification(method string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	mfaVerifications.WithLabelValues(method, result).Inc()
}

// RecordMFALockout records a lockout creation
func RecordMFALockout() {
	mfaLockouts.Inc()
}

// RecordAuditEntry records an audit entry creation
func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}
