package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps each table under <prefix>:<table>.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to redisURL (a redis:// URL or a bare host:port).
func NewRedis(ctx context.Context, redisURL, prefix string) (*RedisBackend, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opt.Addr, err)
	}
	if prefix == "" {
		prefix = "pulsebot"
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (b *RedisBackend) key(table Table) string {
	return b.prefix + ":" + string(table)
}

func (b *RedisBackend) Load(ctx context.Context, table Table) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key(table)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load table %s: %w", table, err)
	}
	return data, nil
}

func (b *RedisBackend) Save(ctx context.Context, table Table, data []byte) error {
	if err := b.client.Set(ctx, b.key(table), data, 0).Err(); err != nil {
		return fmt.Errorf("save table %s: %w", table, err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
