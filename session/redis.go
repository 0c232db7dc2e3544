package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "contact:session:"

// Redis is a Backend whose records expire through key TTLs.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// DialRedis parses a redis:// or rediss:// URL and pings the server.
func DialRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

func (b *Redis) Close() error { return b.client.Close() }

func (b *Redis) Get(ctx context.Context, key string) (Record, bool, error) {
	v, err := b.client.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(v, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (b *Redis) Put(ctx context.Context, key string, rec Record) error {
	ttl := rec.Expires.Sub(rec.Last)
	if ttl <= 0 {
		return b.client.Del(ctx, redisPrefix+key).Err()
	}
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, redisPrefix+key, v, ttl).Err()
}
