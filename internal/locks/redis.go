package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/agentstation/fieldsync/pkg/constants"
	"github.com/agentstation/fieldsync/pkg/engine"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/logging"
)

// ErrLockNotHeld is returned by a release whose lock expired or was taken
// over before it was released.
var ErrLockNotHeld = errors.New("lock not held")

// release deletes the key only if it still holds our token.
var release = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// Connect opens a Redis client and checks that the server answers.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Redis is a Locker backed by SET NX with a TTL. Acquire retries with
// capped exponential backoff until the wait limit passes.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	wait   time.Duration
	logger *zerolog.Logger
}

var _ engine.Locker = (*Redis)(nil)

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTTL sets how long an unreleased lock lives.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// WithWait sets how long Acquire keeps retrying a busy key.
func WithWait(d time.Duration) RedisOption {
	return func(r *Redis) { r.wait = d }
}

// WithPrefix sets the key prefix.
func WithPrefix(p string) RedisOption {
	return func(r *Redis) { r.prefix = p }
}

// WithLogger sets the logger.
func WithLogger(l *zerolog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

// NewRedis creates a Redis locker.
func NewRedis(rdb redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:    rdb,
		prefix: "lock:",
		ttl:    constants.LockTTL,
		wait:   constants.LockTTL,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire implements engine.Locker.
func (r *Redis) Acquire(ctx context.Context, key string) (engine.Release, error) {
	lockKey := r.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)
	backoff := 10 * time.Millisecond

	for {
		ok, err := r.rdb.SetNX(ctx, lockKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.WrapResource("acquire", "lock", key, err)
		}
		if ok {
			r.logger.Debug().Str("key", key).Msg("Acquired lock")
			return func(ctx context.Context) error { return r.release(ctx, lockKey, token) }, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%s: %w", key, errors.ErrLockNotAcquired)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, 500*time.Millisecond)
		}
	}
}

func (r *Redis) release(ctx context.Context, lockKey, token string) error {
	n, err := release.Run(ctx, r.rdb, []string{lockKey}, token).Int64()
	if err != nil {
		return errors.WrapResource("release", "lock", lockKey, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", lockKey, ErrLockNotHeld)
	}
	r.logger.Debug().Str("key", lockKey).Msg("Released lock")
	return nil
}
