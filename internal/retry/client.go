// Package retry wraps broker calls that are safe to repeat with bounded,
// jittered retries on transient gateway failures. Order placements are never
// retried here - the periodic tasks retry those naturally on their next tick.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/nopeig/nopebot/internal/broker"
)

// Config bounds the retry loop.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is the default retry configuration.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries idempotent broker operations.
type Client struct {
	broker broker.Broker
	logger *log.Logger
	config Config
}

// NewClient creates a retry client around the broker.
func NewClient(b broker.Broker, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	return &Client{
		broker: b,
		logger: logger,
		config: cfg,
	}
}

// CancelOrderWithRetry cancels an order, retrying on transient errors.
// Cancellation is idempotent at the gateway, so repeating it is safe.
func (c *Client) CancelOrderWithRetry(ctx context.Context, orderID int) error {
	cancelCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-cancelCtx.Done():
			return fmt.Errorf("cancel operation timed out after %v: %w", c.config.Timeout, cancelCtx.Err())
		default:
		}

		err := c.broker.CancelOrder(cancelCtx, orderID)
		if err == nil {
			if attempt > 0 {
				c.logger.Printf("Cancel of order %d succeeded on attempt %d", orderID, attempt+1)
			}
			return nil
		}

		lastErr = err
		c.logger.Printf("Cancel attempt %d/%d for order %d failed: %v",
			attempt+1, c.config.MaxRetries+1, orderID, err)

		if !c.isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-cancelCtx.Done():
			return fmt.Errorf("cancel operation timed out during backoff: %w", cancelCtx.Err())
		}
	}

	return fmt.Errorf("failed to cancel order %d after %d attempts: %w",
		orderID, c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if broker.IsPermanentAPIError(err) {
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
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
