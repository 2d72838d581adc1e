// Package buffer stores in-flight walk samples between walk:start and walk:end.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"example.com/territory/internal/domain"
)

const (
	defaultAttempts = 3
	retryInitial    = 50 * time.Millisecond
	retryMax        = 500 * time.Millisecond
)

// Option configures a RedisBuffer.
type Option func(*RedisBuffer)

// WithLogger sets the buffer logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *RedisBuffer) {
		b.logger = logger
	}
}

// WithTTL sets how long an untouched sample list survives. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(b *RedisBuffer) {
		b.ttl = ttl
	}
}

// WithAttempts bounds how many times a failed command is tried.
func WithAttempts(n uint64) Option {
	return func(b *RedisBuffer) {
		if n > 0 {
			b.attempts = n
		}
	}
}

// RedisBuffer keeps samples in a Redis list per key. Appends are RPUSH and the
// drain reads and deletes the list inside MULTI/EXEC.
type RedisBuffer struct {
	client   redis.Cmdable
	ttl      time.Duration
	attempts uint64
	logger   zerolog.Logger
}

// NewRedisBuffer constructs a RedisBuffer.
func NewRedisBuffer(client redis.Cmdable, opts ...Option) *RedisBuffer {
	b := &RedisBuffer{
		client:   client,
		attempts: defaultAttempts,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewRedisClient builds a client from either a redis:// URL or a bare host:port.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	if strings.HasPrefix(rawURL, "redis://") || strings.HasPrefix(rawURL, "rediss://") {
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: rawURL}), nil
}

// Append adds a sample to the end of the key's list and refreshes its TTL.
// A retry after a lost EXEC reply can push the sample twice; Drain collapses
// adjacent identical entries.
func (b *RedisBuffer) Append(ctx context.Context, key domain.BufferKey, sample domain.LocationSample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	k := key.String()
	return b.retry(ctx, func() error {
		_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, k, payload)
			if b.ttl > 0 {
				pipe.Expire(ctx, k, b.ttl)
			}
			return nil
		})
		return err
	})
}

// Drain returns and deletes all samples for key in one transaction. Adjacent
// byte-identical entries are returned once.
func (b *RedisBuffer) Drain(ctx context.Context, key domain.BufferKey) ([]domain.LocationSample, error) {
	k := key.String()
	var raw []string
	err := b.retry(ctx, func() error {
		var lrange *redis.StringSliceCmd
		_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			lrange = pipe.LRange(ctx, k, 0, -1)
			pipe.Del(ctx, k)
			return nil
		})
		if err != nil {
			return err
		}
		raw = lrange.Val()
		return nil
	})
	if err != nil {
		return nil, err
	}

	samples := make([]domain.LocationSample, 0, len(raw))
	for i, item := range raw {
		if i > 0 && item == raw[i-1] {
			continue
		}
		var s domain.LocationSample
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			b.logger.Warn().Err(err).Str("key", k).Msg("dropping malformed sample")
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func (b *RedisBuffer) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitial
	policy.MaxInterval = retryMax
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		b.logger.Debug().Err(err).Msg("redis command failed, retrying")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, b.attempts-1), ctx))
}
