package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Tokenizer refills the buckets. Exactly one instance should run per
// deployment; a second one is harmless (refills are absolute SETs, not
// increments) but pointless.
type Tokenizer struct {
	rdb   *redis.Client
	rates map[Bucket]float64
	log   zerolog.Logger
}

// NewTokenizer creates a tokenizer for the given bucket rates.
func NewTokenizer(rdb *redis.Client, rates map[Bucket]float64, log zerolog.Logger) *Tokenizer {
	return &Tokenizer{
		rdb:   rdb,
		rates: rates,
		log:   log.With().Str("component", "tokenizer").Logger(),
	}
}

// Run refills every configured bucket on its own cadence until ctx is
// cancelled.
func (t *Tokenizer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	started := 0
	for bucket, rate := range t.rates {
		if rate <= 0 {
			t.log.Warn().Str("bucket", bucket.Key()).Float64("rate", rate).Msg("bucket disabled, no refill")
			continue
		}
		started++
		bucket, rate := bucket, rate
		g.Go(func() error {
			return t.refillLoop(ctx, bucket, rate)
		})
	}
	if started == 0 {
		t.log.Warn().Msg("no buckets to refill")
		<-ctx.Done()
		return nil
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (t *Tokenizer) refillLoop(ctx context.Context, bucket Bucket, rate float64) error {
	t.refill(ctx, bucket, rate)
	ticker := time.NewTicker(refillPeriod(rate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.refill(ctx, bucket, rate)
		}
	}
}

func (t *Tokenizer) refill(ctx context.Context, bucket Bucket, rate float64) {
	err := t.rdb.Set(ctx, bucket.Key(), refillTokens(rate), 0).Err()
	if err != nil && ctx.Err() == nil {
		t.log.Error().Err(err).Str("bucket", bucket.Key()).Msg("failed to refill bucket")
	}
}
