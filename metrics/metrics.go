// Package metrics exposes Prometheus counters for the leaderboard API.
package metrics

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SubmissionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dk_stats_submissions_accepted_total",
		Help: "Match submissions committed to storage.",
	})
	SubmissionsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dk_stats_submissions_invalid_total",
		Help: "Match submissions rejected before any storage interaction.",
	})
	SubmissionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dk_stats_submissions_failed_total",
		Help: "Match submissions whose storage batch failed and rolled back.",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dk_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "path", "status"})
)

// RequestCounter counts every request by registered route and final status.
func RequestCounter() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		httpRequests.WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(status)).Inc()
		return err
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
