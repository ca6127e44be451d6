package retry

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/nopeig/nopebot/internal/broker"
)

// cancelOnlyBroker stubs the one broker method the retry client exercises.
type cancelOnlyBroker struct {
	broker.Broker
	calls  int
	cancel func(attempt int) error
}

func (b *cancelOnlyBroker) CancelOrder(_ context.Context, _ int) error {
	b.calls++
	return b.cancel(b.calls)
}

func quietLogger() *log.Logger {
	return log.New(devNull{}, "", 0)
}

type devNull struct{}

func (devNull) Write(p []byte) (int, error) { return len(p), nil }

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func TestCancelSucceedsFirstTry(t *testing.T) {
	b := &cancelOnlyBroker{cancel: func(int) error { return nil }}
	c := NewClient(b, quietLogger(), fastConfig())

	if err := c.CancelOrderWithRetry(context.Background(), 42); err != nil {
		t.Fatalf("CancelOrderWithRetry: %v", err)
	}
	if b.calls != 1 {
		t.Errorf("calls = %d, expected 1", b.calls)
	}
}

func TestCancelRetriesTransientErrors(t *testing.T) {
	b := &cancelOnlyBroker{cancel: func(attempt int) error {
		if attempt < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}}
	c := NewClient(b, quietLogger(), fastConfig())

	if err := c.CancelOrderWithRetry(context.Background(), 42); err != nil {
		t.Fatalf("CancelOrderWithRetry: %v", err)
	}
	if b.calls != 3 {
		t.Errorf("calls = %d, expected 3", b.calls)
	}
}

func TestCancelStopsOnPermanentAPIError(t *testing.T) {
	b := &cancelOnlyBroker{cancel: func(int) error {
		return &broker.APIError{Status: 404, Msg: "order not found"}
	}}
	c := NewClient(b, quietLogger(), fastConfig())

	if err := c.CancelOrderWithRetry(context.Background(), 42); err == nil {
		t.Fatal("expected error")
	}
	if b.calls != 1 {
		t.Errorf("permanent errors must not retry, calls = %d", b.calls)
	}
}

func TestCancelExhaustsRetryBudget(t *testing.T) {
	b := &cancelOnlyBroker{cancel: func(int) error {
		return errors.New("timeout waiting for gateway")
	}}
	c := NewClient(b, quietLogger(), fastConfig())

	if err := c.CancelOrderWithRetry(context.Background(), 42); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if b.calls != 4 { // initial attempt + 3 retries
		t.Errorf("calls = %d, expected 4", b.calls)
	}
}

func TestCancelHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := &cancelOnlyBroker{cancel: func(int) error { return nil }}
	c := NewClient(b, quietLogger(), fastConfig())

	if err := c.CancelOrderWithRetry(ctx, 42); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if b.calls != 0 {
		t.Errorf("no attempts should run under a cancelled context, calls = %d", b.calls)
	}
}

func TestIsTransientError(t *testing.T) {
	c := NewClient(&cancelOnlyBroker{}, quietLogger())

	transient := []error{
		errors.New("dial tcp 10.0.0.1:4002: connection refused"),
		errors.New("request timeout"),
		errors.New("HTTP 503 service unavailable"),
		&broker.APIError{Status: 429, Msg: "rate limit exceeded"},
	}
	for _, err := range transient {
		if !c.isTransientError(err) {
			t.Errorf("expected transient: %v", err)
		}
	}

	permanent := []error{
		nil,
		errors.New("invalid order quantity"),
		&broker.APIError{Status: 400, Msg: "bad request"},
	}
	for _, err := range permanent {
		if c.isTransientError(err) {
			t.Errorf("expected not transient: %v", err)
		}
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	c := NewClient(&cancelOnlyBroker{}, quietLogger(), Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		Timeout:        time.Second,
	})

	next := c.calculateNextBackoff(10 * time.Millisecond)
	if next < 15*time.Millisecond {
		t.Errorf("backoff should grow, got %v", next)
	}
	capped := c.calculateNextBackoff(time.Minute)
	// Cap plus at most 25% jitter.
	if capped > 25*time.Millisecond {
		t.Errorf("backoff should cap near MaxBackoff, got %v", capped)
	}
}
