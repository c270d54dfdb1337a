package middleware

import (
	"strconv"
	"time"

	"github.com/castla94/gestor-chatbot/prometheus"
	"github.com/labstack/echo/v4"
)

// MetricsMiddleware adds prometheus metrics to track HTTP requests
func MetricsMiddleware(m *prometheus.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			// c.Path() is the route pattern, which keeps label cardinality bounded
			m.RecordHTTPRequest(c.Request().Method, c.Path(), strconv.Itoa(c.Response().Status), time.Since(start))

			return err
		}
	}
}
