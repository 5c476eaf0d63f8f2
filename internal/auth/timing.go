package auth

import (
	"context"
	"time"
)

// TimingConfig holds the bounds of the artificial authentication latency
type TimingConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
}

// TimingDelay waits a random duration drawn uniformly from [MinDelay, MaxDelay]
// to mimic the latency of a real password check
type TimingDelay struct {
	config TimingConfig
	rnd    RandomSource
}

// NewTimingDelay creates a new TimingDelay instance. A nil source uses CryptoSource.
func NewTimingDelay(config TimingConfig, rnd RandomSource) *TimingDelay {
	if rnd == nil {
		rnd = CryptoSource{}
	}
	return &TimingDelay{
		config: config,
		rnd:    rnd,
	}
}

// Next draws the next delay without waiting
func (td *TimingDelay) Next() time.Duration {
	return UniformDuration(td.rnd, td.config.MinDelay, td.config.MaxDelay)
}

// Wait blocks for the next delay. It returns ctx.Err() if ctx ends first.
func (td *TimingDelay) Wait(ctx context.Context) error {
	delay := td.Next()
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
