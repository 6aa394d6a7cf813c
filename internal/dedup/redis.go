package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by two Redis sets, for monitors that share a dedup
// horizon across processes. Entries expire with the key TTL; the wholesale
// clear-on-threshold policy matches the in-memory variant.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	threshold int
	ttl       time.Duration
}

// NewRedis connects and pings before returning, like the rest of the
// codebase's Redis clients.
func NewRedis(ctx context.Context, addr, password string, db int, keyPrefix string, threshold int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("dedup.NewRedis: ping: %w", err)
	}

	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Redis{
		client:    client,
		keyPrefix: keyPrefix,
		threshold: threshold,
		ttl:       ttl,
	}, nil
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("dedup.Redis.Close: %w", err)
	}
	return nil
}

func (r *Redis) idKey() string   { return r.keyPrefix + ":seen:ids" }
func (r *Redis) hashKey() string { return r.keyPrefix + ":seen:hashes" }

// Seen mirrors Memory.Seen over SISMEMBER/SADD.
func (r *Redis) Seen(ctx context.Context, id string, frame []byte) (bool, error) {
	hash := ContentHash(frame)

	if id != "" {
		dup, err := r.client.SIsMember(ctx, r.idKey(), id).Result()
		if err != nil {
			return false, fmt.Errorf("dedup.Redis.Seen: %w", err)
		}
		if dup {
			return true, nil
		}
	}

	dup, err := r.client.SIsMember(ctx, r.hashKey(), hash).Result()
	if err != nil {
		return false, fmt.Errorf("dedup.Redis.Seen: %w", err)
	}
	if dup {
		return true, nil
	}

	size, err := r.client.SCard(ctx, r.hashKey()).Result()
	if err != nil {
		return false, fmt.Errorf("dedup.Redis.Seen: %w", err)
	}
	if size >= int64(r.threshold) {
		if clearErr := r.Clear(ctx); clearErr != nil {
			return false, clearErr
		}
	}

	pipe := r.client.Pipeline()
	if id != "" {
		pipe.SAdd(ctx, r.idKey(), id)
		pipe.Expire(ctx, r.idKey(), r.ttl)
	}
	pipe.SAdd(ctx, r.hashKey(), hash)
	pipe.Expire(ctx, r.hashKey(), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("dedup.Redis.Seen: %w", err)
	}

	return false, nil
}

// Clear drops both sets.
func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.idKey(), r.hashKey()).Err(); err != nil {
		return fmt.Errorf("dedup.Redis.Clear: %w", err)
	}
	return nil
}

// Len reports the hash-set cardinality, best effort.
func (r *Redis) Len() int {
	n, err := r.client.SCard(context.Background(), r.hashKey()).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
