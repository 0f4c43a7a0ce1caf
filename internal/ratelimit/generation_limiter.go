package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/mediaforge/internal/clock"
	"github.com/smallbiznis/mediaforge/internal/config"
)

const keyGenerationOwner = "mediaforge:generation:owner:%s"

// GenerationLimiter throttles generation requests per owner ahead of credit reservation.
type GenerationLimiter struct {
	counter WindowCounter
	clock   clock.Clock
	limit   config.RateLimitConfig
}

// NewGenerationLimiter returns nil, an always-allow limiter, when no limit is configured.
// Without redis the counters live in process memory.
func NewGenerationLimiter(cfg config.Config, client *redis.Client, clk clock.Clock) *GenerationLimiter {
	if !cfg.GenerationRateLimit.Enabled() {
		return nil
	}
	var counter WindowCounter = NewMemoryWindow()
	if client != nil {
		counter = NewRedisWindow(client)
	}
	return &GenerationLimiter{
		counter: counter,
		clock:   clk,
		limit:   cfg.GenerationRateLimit,
	}
}

func (l *GenerationLimiter) Enabled() bool {
	return l != nil && l.counter != nil
}

func (l *GenerationLimiter) AllowOwner(ctx context.Context, ownerID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyGenerationOwner, strings.TrimSpace(ownerID))
	return l.counter.Allow(ctx, key, l.limit.Max, l.limit.Window, l.clock.Now())
}
