package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/billingsync/internal/pkg/metrics/billingmetrics"
)

// HTTPMetrics records request counts and latency per route pattern.
func HTTPMetrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		// Route().Path is the pattern, which keeps label cardinality bounded.
		path := c.Route().Path
		labels := []string{c.Method(), path, strconv.Itoa(status)}
		billingmetrics.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
		billingmetrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		return err
	}
}
