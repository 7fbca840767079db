package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mmynk/closeout/internal/metrics"
)

// Metrics returns a middleware recording one observation per request.
// The route template is used as the path label so unmatched URLs do
// not explode metric cardinality.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
