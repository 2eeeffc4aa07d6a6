package budget

import (
	"github.com/manyfutures/foresight/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// NewRedisClient returns nil when no redis address is configured; the guard
// then runs in single-process mode against the DB aggregate.
func NewRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

var Module = fx.Module("budget.guard",
	fx.Provide(NewRedisClient),
	fx.Provide(NewReserver),
	fx.Provide(NewService),
)
