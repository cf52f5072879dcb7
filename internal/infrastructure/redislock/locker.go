// Package redislock serializes appointment mutations across API replicas
// with a Redis SET NX lease.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyPrefix namespaces lock keys.
const KeyPrefix = "lock:appointment:"

// releaseScript deletes the key only if it still holds our token, so an
// expired lease taken over by another replica is never released by us.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// ErrTimeout is returned when the lock could not be acquired within the wait budget.
var ErrTimeout = errors.New("timed out waiting for lock")

// Locker is a distributed keyed mutex.
type Locker struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	retry  time.Duration
	wait   time.Duration
	token  func() string
	logger *zap.Logger
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets the lease length. A crashed holder blocks others for at most this long.
func WithTTL(d time.Duration) Option { return func(l *Locker) { l.ttl = d } }

// WithRetryInterval sets the pause between acquisition attempts.
func WithRetryInterval(d time.Duration) Option { return func(l *Locker) { l.retry = d } }

// WithWait bounds how long Lock waits before giving up.
func WithWait(d time.Duration) Option { return func(l *Locker) { l.wait = d } }

// WithTokenFunc overrides lease token generation.
func WithTokenFunc(fn func() string) Option { return func(l *Locker) { l.token = fn } }

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option { return func(l *Locker) { l.logger = logger } }

// New creates a Locker on rdb.
func New(rdb redis.Cmdable, opts ...Option) *Locker {
	l := &Locker{
		rdb:    rdb,
		ttl:    10 * time.Second,
		retry:  25 * time.Millisecond,
		wait:   5 * time.Second,
		token:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Lock blocks until the lease on key is ours, ctx is done or the wait budget
// runs out.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := KeyPrefix + key
	token := l.token()

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, l.timeoutErr(ctx, key)
			}
			return nil, fmt.Errorf("acquire %s: %w", redisKey, err)
		}
		if ok {
			return l.unlocker(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, l.timeoutErr(ctx, key)
		case <-time.After(l.retry):
		}
	}
}

func (l *Locker) timeoutErr(ctx context.Context, key string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, key)
	}
	return ctx.Err()
}

func (l *Locker) unlocker(redisKey, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := l.rdb.Eval(ctx, releaseScript, []string{redisKey}, token).Int64()
		if err != nil {
			l.logger.Warn("lock release failed", zap.String("key", redisKey), zap.Error(err))
			return
		}
		if n == 0 {
			l.logger.Warn("lock lease expired before release", zap.String("key", redisKey))
		}
	}
}
