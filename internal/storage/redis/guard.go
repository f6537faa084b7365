// Package redis provides a short-lived claim on inbound notifications so
// concurrent redeliveries of one event do not race to the database.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "checkout:notification:"

const (
	// DefaultInFlightTTL bounds a claim whose holder never settles it, e.g.
	// after a crash.
	DefaultInFlightTTL = 2 * time.Minute
	// DefaultTTL is how long a processed notification stays claimed.
	DefaultTTL = 24 * time.Hour
)

const (
	stateInFlight  = "in-flight"
	stateProcessed = "processed"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", cfg.Addr)
	}
	return rdb, nil
}

// NotificationGuard claims notification keys with SET NX. A claim starts
// short-lived and is extended to the processed TTL once the credit is stored.
type NotificationGuard struct {
	rdb      *redis.Client
	inFlight time.Duration
	ttl      time.Duration
}

// NewNotificationGuard creates a guard whose unsettled claims expire after
// inFlight and whose processed keys expire after ttl.
func NewNotificationGuard(rdb *redis.Client, inFlight, ttl time.Duration) *NotificationGuard {
	if inFlight <= 0 {
		inFlight = DefaultInFlightTTL
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &NotificationGuard{rdb: rdb, inFlight: inFlight, ttl: ttl}
}

// Claim reports whether the caller is the first to see key.
func (g *NotificationGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, keyPrefix+key, stateInFlight, g.inFlight).Result()
	if err != nil {
		return false, errors.Wrap(err, "claim notification")
	}
	return ok, nil
}

// Complete keeps key claimed for the processed TTL.
func (g *NotificationGuard) Complete(ctx context.Context, key string) error {
	if err := g.rdb.Set(ctx, keyPrefix+key, stateProcessed, g.ttl).Err(); err != nil {
		return errors.Wrap(err, "complete notification")
	}
	return nil
}

// Release drops an in-flight claim so a failed notification can be
// redelivered. Processed keys are left alone.
func (g *NotificationGuard) Release(ctx context.Context, key string) error {
	state, err := g.rdb.Get(ctx, keyPrefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return errors.Wrap(err, "release notification")
	case state != stateInFlight:
		return nil
	}
	if err := g.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "release notification")
	}
	return nil
}

// Ping checks the connection for readiness probes.
func (g *NotificationGuard) Ping(ctx context.Context) error {
	return g.rdb.Ping(ctx).Err()
}
