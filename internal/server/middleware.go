package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/telemetry"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled controls whether authentication is required.
	Enabled bool
	// APIKeys is a list of valid API keys.
	APIKeys []string
	// SkipPaths are paths that don't require authentication.
	SkipPaths []string
}

// authMiddleware creates an API key authentication middleware.
func (s *Server) authMiddleware(config AuthConfig) gin.HandlerFunc {
	validKeys := make(map[string]struct{}, len(config.APIKeys))
	for _, key := range config.APIKeys {
		if key != "" {
			validKeys[key] = struct{}{}
		}
	}

	skipPaths := make(map[string]struct{}, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = struct{}{}
	}

	return func(c *gin.Context) {
		if !config.Enabled || len(validKeys) == 0 {
			c.Next()
			return
		}

		if _, skip := skipPaths[c.Request.URL.Path]; skip {
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			apiKey = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}

		if apiKey == "" {
			respondError(c, http.StatusUnauthorized, "Unauthorized", "API key is required", nil)
			return
		}

		if _, valid := validKeys[apiKey]; !valid {
			s.logger.Warn("invalid API key attempt",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			respondError(c, http.StatusUnauthorized, "Unauthorized", "invalid API key", nil)
			return
		}

		c.Next()
	}
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool
	// RequestsPerSecond is the maximum requests per second per client.
	RequestsPerSecond int
	// BurstSize is the maximum burst size.
	BurstSize int
}

// rateLimiter implements a token bucket rate limiter per client IP.
type rateLimiter struct {
	mu       sync.RWMutex
	clients  map[string]*clientBucket
	rps      int
	burst    int
	cleanupT *time.Ticker
	done     chan struct{}
}

type clientBucket struct {
	tokens   float64
	lastTime time.Time
	mu       sync.Mutex
}

// newRateLimiter creates a new rate limiter.
func newRateLimiter(rps, burst int) *rateLimiter {
	rl := &rateLimiter{
		clients: make(map[string]*clientBucket),
		rps:     rps,
		burst:   burst,
		done:    make(chan struct{}),
	}

	rl.cleanupT = time.NewTicker(time.Minute)
	go rl.cleanup()

	return rl
}

// allow checks if a request from the given client is allowed.
func (rl *rateLimiter) allow(clientID string) bool {
	rl.mu.RLock()
	bucket, exists := rl.clients[clientID]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		if bucket, exists = rl.clients[clientID]; !exists {
			bucket = &clientBucket{
				tokens:   float64(rl.burst),
				lastTime: time.Now(),
			}
			rl.clients[clientID] = bucket
		}
		rl.mu.Unlock()
	}

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(bucket.lastTime).Seconds()
	bucket.lastTime = now

	bucket.tokens += elapsed * float64(rl.rps)
	if bucket.tokens > float64(rl.burst) {
		bucket.tokens = float64(rl.burst)
	}

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}

	return false
}

// cleanup removes stale client entries.
func (rl *rateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupT.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-5 * time.Minute)
			for id, bucket := range rl.clients {
				bucket.mu.Lock()
				if bucket.lastTime.Before(cutoff) {
					delete(rl.clients, id)
				}
				bucket.mu.Unlock()
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

// stop stops the rate limiter cleanup goroutine.
func (rl *rateLimiter) stop() {
	rl.cleanupT.Stop()
	close(rl.done)
}

// rateLimitMiddleware creates a rate limiting middleware.
func (s *Server) rateLimitMiddleware(config RateLimitConfig) gin.HandlerFunc {
	if !config.Enabled || config.RequestsPerSecond <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	burst := config.BurstSize
	if burst <= 0 {
		burst = config.RequestsPerSecond * 2
	}

	limiter := newRateLimiter(config.RequestsPerSecond, burst)

	return func(c *gin.Context) {
		clientID := c.ClientIP()

		if !limiter.allow(clientID) {
			s.logger.Warn("rate limit exceeded",
				zap.String("client_ip", clientID),
				zap.String("path", c.Request.URL.Path),
			)
			if s.metrics != nil {
				s.metrics.RecordRateLimited(clientID)
			}
			respondError(c, http.StatusTooManyRequests, "RateLimited", "too many requests, please slow down", nil)
			return
		}

		c.Next()
	}
}

// correlationMiddleware threads the correlation id and, when known, the
// player guid through the request context and echoes both as headers.
func (s *Server) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("x-correlation-id")
		if id == "" {
			id = uuid.NewString()
		}

		ctx := telemetry.WithCorrelationID(c.Request.Context(), id)
		ctx = telemetry.WithStart(ctx, time.Now())
		if guid := c.GetHeader("x-player-guid"); guid != "" {
			ctx = telemetry.WithPlayerGUID(ctx, guid)
			c.Header("x-player-guid", guid)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Set("correlation_id", id)
		c.Header("x-correlation-id", id)
		c.Next()
	}
}

// loggingMiddleware logs requests and records metrics.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		if s.metrics != nil {
			s.metrics.HTTPRequestsInFlight.Inc()
			defer s.metrics.HTTPRequestsInFlight.Dec()
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("correlation_id", correlationID(c)),
			zap.String("client_ip", c.ClientIP()),
		)

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(method, path, status, latency.Seconds())
		}
	}
}

// corsMiddleware handles CORS.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, o := range s.cfg.Server.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, x-correlation-id, x-player-guid")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// timeoutMiddleware adds request timeout.
func (s *Server) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.Server.RequestTimeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// securityHeadersMiddleware adds security headers to responses.
func (s *Server) securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
