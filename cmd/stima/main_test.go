package main

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/stima/stima/internal/config"
	"github.com/stima/stima/internal/platform/ratelimit"
)

func TestBucketRates(t *testing.T) {
	cfg := &config.Config{
		RateLimits: config.RateLimitConfig{Location: 10, Email: 14},
	}

	rates := bucketRates(cfg)
	if len(rates) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(rates))
	}
	if got := rates[ratelimit.Location]; got != 10 {
		t.Errorf("location rate = %v, want 10", got)
	}
	if got := rates[ratelimit.Email]; got != 14 {
		t.Errorf("email rate = %v, want 14", got)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	cfg := &config.Config{Env: "production", LogLevel: "warn"}
	logger := newLogger(cfg)
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Errorf("level = %v, want warn", logger.GetLevel())
	}
}

func TestNewLoggerBadLevelFallsBackToInfo(t *testing.T) {
	cfg := &config.Config{Env: "production", LogLevel: "shouting"}
	logger := newLogger(cfg)
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %v, want info", logger.GetLevel())
	}
}
