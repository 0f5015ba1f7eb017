package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int           // Total attempts including the first call
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Upper bound for any single delay
	Multiplier   float64       // Exponential backoff factor
}

// DefaultConfig returns a default retry configuration: 500ms, 1s, 2s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int
	Success       bool
	TotalDuration time.Duration
	LastError     error
}

// Func is a function that can be retried
type Func func(ctx context.Context, attempt int) error

// permanentError marks an error that must not be retried
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so WithExponentialBackoff returns it immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// WithExponentialBackoff executes fn with exponential backoff retry logic
func WithExponentialBackoff(ctx context.Context, cfg Config, fn Func) *Result {
	startTime := time.Now()
	result := &Result{}

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(startTime)
			if attempt > 1 {
				logrus.WithFields(logrus.Fields{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration,
				}).Debug("Operation succeeded after retry")
			}
			return result
		}
		result.LastError = err

		if IsPermanent(err) || attempt >= cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		delay := calculateDelay(cfg, attempt)
		logrus.WithFields(logrus.Fields{
			"attempt":     attempt,
			"maxAttempts": cfg.MaxAttempts,
			"delay":       delay,
			"error":       err.Error(),
		}).Debug("Operation failed, retrying with exponential backoff")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// Do runs fn with backoff and returns the last error wrapped with the attempt count
func Do(ctx context.Context, cfg Config, fn Func) error {
	result := WithExponentialBackoff(ctx, cfg, fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}

// calculateDelay returns initialDelay * multiplier^(attempt-1), capped at MaxDelay
func calculateDelay(cfg Config, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
