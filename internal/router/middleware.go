package router

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/infra/observability"
	"github.com/boddenberg/support-agent-go/internal/port"
)

// DefaultCacheTTL is the response cache lifetime used by the agent.
const DefaultCacheTTL = 60 * time.Second

// DefaultNonCacheable lists intents whose replies depend on the session, not
// only on the message text.
var DefaultNonCacheable = []domain.IntentType{
	domain.IntentRepeat,
	domain.IntentFrustration,
	domain.IntentGreeting,
	domain.IntentFarewell,
	domain.IntentFollowUp,
	domain.IntentUnknown,
}

// LoggingMiddleware logs every routed turn with the selected handler.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next RouteFunc) RouteFunc {
		return func(ctx context.Context, message string, intent domain.Intent, hctx *HandlerContext) (*domain.Response, error) {
			start := time.Now()
			resp, err := next(ctx, message, intent, hctx)
			fields := []zap.Field{
				zap.String("intent", string(intent.Type)),
				zap.Float64("confidence", intent.Confidence),
				zap.Int("message_len", len(message)),
				zap.Duration("duration", time.Since(start)),
			}
			if hctx != nil && hctx.State != nil {
				fields = append(fields, zap.String("session_id", hctx.State.SessionID))
			}
			if err != nil {
				logger.Warn("router: routing failed", append(fields, zap.Error(err))...)
				return nil, err
			}
			logger.Info("router: routed",
				append(fields,
					zap.String("handler", resp.Metadata.HandlerName),
					zap.Bool("cached", resp.Metadata.Cached),
				)...,
			)
			return resp, nil
		}
	}
}

// CachingMiddleware serves repeated messages of the same intent from cache.
// Hits are copies flagged Cached. nonCacheable nil selects DefaultNonCacheable.
func CachingMiddleware(c port.Cache[*domain.Response], nonCacheable []domain.IntentType, metrics *observability.Metrics) Middleware {
	if nonCacheable == nil {
		nonCacheable = DefaultNonCacheable
	}
	skip := make(map[domain.IntentType]bool, len(nonCacheable))
	for _, t := range nonCacheable {
		skip[t] = true
	}

	return func(next RouteFunc) RouteFunc {
		return func(ctx context.Context, message string, intent domain.Intent, hctx *HandlerContext) (*domain.Response, error) {
			if skip[intent.Type] {
				return next(ctx, message, intent, hctx)
			}
			key := CacheKey(message, intent)
			if hit, ok := c.Get(key); ok {
				metrics.IncrCacheHit("router")
				out := hit.Clone()
				out.Metadata.Cached = true
				return out, nil
			}
			metrics.IncrCacheMiss("router")

			resp, err := next(ctx, message, intent, hctx)
			if err != nil {
				return nil, err
			}
			c.Set(key, resp.Clone())
			return resp, nil
		}
	}
}

// CacheKey is intentType:lower(trim(message)).
func CacheKey(message string, intent domain.Intent) string {
	return string(intent.Type) + ":" + strings.ToLower(strings.TrimSpace(message))
}

// AnalyticsMiddleware records handler selection and routing latency.
func AnalyticsMiddleware(metrics *observability.Metrics) Middleware {
	return func(next RouteFunc) RouteFunc {
		return func(ctx context.Context, message string, intent domain.Intent, hctx *HandlerContext) (*domain.Response, error) {
			start := time.Now()
			resp, err := next(ctx, message, intent, hctx)
			metrics.RecordRequestDuration("route", time.Since(start))
			if err == nil {
				metrics.IncrHandler(resp.Metadata.HandlerName, intent.Type)
			}
			return resp, err
		}
	}
}
