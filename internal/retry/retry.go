// Package retry provides bounded retries with backoff for transient network
// failures, used by the instrument catalog downloader.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"
)

// Config controls the retry budget and backoff schedule.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is a conservative budget for catalog downloads.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Do runs fn until it succeeds, fails permanently, or the attempt budget is
// exhausted. Only transient-looking errors are retried; anything else is
// returned immediately.
func Do(ctx context.Context, logger *log.Logger, cfg Config, op string, fn func(ctx context.Context) error) error {
	if cfg.MaxRetries <= 0 {
		cfg = DefaultConfig
	}

	opCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := opCtx.Err(); err != nil {
			return fmt.Errorf("%s timed out after %v: %w", op, cfg.Timeout, err)
		}

		err := fn(opCtx)
		if err == nil {
			return nil
		}

		lastErr = err
		logger.Printf("%s attempt %d/%d failed: %v", op, attempt+1, cfg.MaxRetries+1, err)

		if !isTransient(err) || attempt == cfg.MaxRetries {
			break
		}

		logger.Printf("transient error, retrying %s in %v", op, backoff)
		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff, cfg.MaxBackoff)
		case <-opCtx.Done():
			return fmt.Errorf("%s timed out during backoff: %w", op, opCtx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, cfg.MaxRetries+1, lastErr)
}

func nextBackoff(current, max time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > max {
		backoff = max
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
		"eof",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
