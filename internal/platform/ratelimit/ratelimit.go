// Package ratelimit implements the shared token buckets in front of the
// external APIs. A bucket is one Redis counter: consumers DECR it and a
// separate tokenizer process resets it to the configured per-second rate,
// so every worker in the fleet draws from the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bucket names one rate-limited external API.
type Bucket string

const (
	// Email guards the mail-service API.
	Email Bucket = "EMAIL"
	// Location guards the place-details and nearby-search APIs.
	Location Bucket = "LOCATION"
)

// Key is the Redis key holding the bucket's counter.
func (b Bucket) Key() string {
	return string(b) + "_EXTERNAL_API"
}

// Decision is the outcome of one Allow call. RetryAfter is non-zero only
// when the call was denied and tells the caller when the bucket refills.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
	ResetAfter time.Duration
}

// Limiter consumes tokens. Rates are per-second and may be fractional:
// a rate of 0.5 grants one token every two seconds.
type Limiter struct {
	rdb   *redis.Client
	rates map[Bucket]float64
}

// NewLimiter creates a limiter over an established Redis client.
func NewLimiter(rdb *redis.Client, rates map[Bucket]float64) *Limiter {
	return &Limiter{rdb: rdb, rates: rates}
}

// Allow atomically takes one token from the bucket. A post-decrement value
// below zero is a denial; the counter is left negative and corrected by the
// next tokenizer refill. A bucket with no configured rate denies everything.
func (l *Limiter) Allow(ctx context.Context, bucket Bucket) (Decision, error) {
	n, err := l.rdb.Decr(ctx, bucket.Key()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to take token from %s: %w", bucket.Key(), err)
	}
	rate := l.rates[bucket]
	d := Decision{
		Allowed:    n >= 0,
		Limit:      refillTokens(rate),
		Remaining:  max64(n, 0),
		ResetAfter: refillPeriod(rate),
	}
	if !d.Allowed {
		d.RetryAfter = refillPeriod(rate)
	}
	return d, nil
}

// refillPeriod is the tokenizer's cadence for a rate: every second at one
// token or more per second, every 1/rate seconds below that.
func refillPeriod(rate float64) time.Duration {
	if rate >= 1 || rate <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / rate)
}

// refillTokens is what the tokenizer writes each period.
func refillTokens(rate float64) int64 {
	if rate >= 1 {
		return int64(math.Floor(rate))
	}
	return 1
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
