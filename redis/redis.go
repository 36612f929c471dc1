// Package redis connects the notification feed cache.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/meinhoongagan/service-marketplace/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewClient connects to cfg.Addr and pings it. It returns nil, nil when no
// address is configured.
func NewClient(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	log.Info("connected to Redis", zap.String("addr", cfg.Addr))
	return client, nil
}
