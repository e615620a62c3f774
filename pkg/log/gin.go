package log

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GinMiddleware logs each request with a level chosen from its status code.
func GinMiddleware(entry *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		statusCode := c.Writer.Status()
		fields := entry.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"code":    statusCode,
			"latency": time.Since(start),
		})

		switch {
		case len(c.Errors) != 0:
			fields.Error(c.Errors.String())
		case statusCode >= http.StatusInternalServerError:
			fields.Error(http.StatusText(statusCode))
		case statusCode >= http.StatusBadRequest:
			fields.Warn(http.StatusText(statusCode))
		default:
			fields.Debug(http.StatusText(statusCode))
		}
	}
}
