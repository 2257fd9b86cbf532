package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/rasterflow/internal/ratelimit"
	"go.uber.org/zap"
)

// Tokens debited per request.
const (
	jobCost     = 1
	inspectCost = 2
)

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(cost int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s.rateLimiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeLabel(r)
			subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
			if subject == "" {
				subject = "anonymous"
			}
			subject = subject + ":" + route

			decision, err := s.rateLimiter.AllowN(r.Context(), subject, cost)
			if err != nil {
				s.logger.Warn("rate limiter check failed", zap.String("subject", subject), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := max(int(decision.RetryAfter.Round(time.Second).Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		})
	}
}
