package plugstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/heating-monitor/internal/plug"
	"github.com/smukkama/heating-monitor/pkg/config"
)

// Open returns the repository selected by PLUG_STORE and a function that releases it
func Open(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (plug.Repository, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Plug.Store {
	case "redis":
		if redisClient == nil {
			return nil, nil, errors.New("redis plug store needs a redis client")
		}
		return NewRedisStore(redisClient), noop, nil
	case "mongo":
		store, err := NewMongoStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "memory":
		return plug.NewMemoryRepository(), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown plug store %q", cfg.Plug.Store)
}
