package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpMetricsOnce sync.Once
	httpDuration    *prometheus.HistogramVec
)

func registerHTTPMetrics() {
	httpMetricsOnce.Do(func() {
		httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codequery_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"})
		prometheus.MustRegister(httpDuration)
	})
}

// MetricsMiddleware records the duration of every request by matched route,
// so path parameters do not explode label cardinality.
func MetricsMiddleware() fiber.Handler {
	registerHTTPMetrics()
	return func(c fiber.Ctx) error {
		start := time.Now()
		// Capture before Next; fiber reuses the context afterwards.
		method := c.Method()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		if route == "" {
			route = "unmatched"
		}
		httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
		return err
	}
}
