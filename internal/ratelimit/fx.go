package ratelimit

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/partnerly/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewIngestLimiter),
	fx.Provide(NewJobLocker),
)

// NewJobLocker builds the distributed lock the scheduler uses to keep
// replicas from running the same job concurrently. Nil when redis is not
// configured; single-instance deployments don't need it.
func NewJobLocker(cfg config.Config) *Locker {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})
	return NewLocker(client)
}
