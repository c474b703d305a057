package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/internal/logger"
	"go-dimension-detective/pkg/models"
)

// maxTrackedClients bounds the per-client limiter table; it is reset when full
const maxTrackedClients = 10000

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		})
		if id := c.Param("id"); id != "" {
			entry = entry.WithField("session_id", id)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request completed")
			return
		}
		entry.Debug("Request completed")
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			respondError(c, determineStatusCode(err), "request processing failed", err)
		}
	}
}

// clientLimiter keeps one token bucket per client IP
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func (l *clientLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= maxTrackedClients {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// rateLimiter rejects clients exceeding perSecond requests; zero disables it
func rateLimiter(perSecond float64, burst int) gin.HandlerFunc {
	if perSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	l := &clientLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			fail(c, "rate limit exceeded", apperrors.NewRateLimitedError("too many requests, slow down"))
			return
		}
		c.Next()
	}
}

func determineStatusCode(err error) int {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.StatusCode
	}

	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// fail responds with the status carried by err
func fail(c *gin.Context, message string, err error) {
	respondError(c, determineStatusCode(err), message, err)
}

func respondError(c *gin.Context, code int, message string, err error) {
	respondErrorWithNotification(c, code, message, err, nil)
}

func respondErrorWithNotification(c *gin.Context, code int, message string, err error, n *models.Notification) {
	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request failed")
	}

	resp := models.ErrorResponse{
		Error:        http.StatusText(code),
		Message:      fmt.Sprintf("%s: %v", message, err),
		Notification: n,
	}
	if appErr, ok := apperrors.As(err); ok {
		resp.Message = appErr.Message
		resp.Type = string(appErr.Type)
		resp.Reason = appErr.Reason
	}
	c.AbortWithStatusJSON(code, resp)
}
