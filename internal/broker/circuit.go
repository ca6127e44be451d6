package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so a
// flapping gateway session trips open instead of hammering every periodic task.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetAccountValue wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetAccountValue(ctx context.Context, tag, currency string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetAccountValue(ctx, tag, currency)
	})
}

// GetPositions wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionItem, error) {
		return b.GetPositions(ctx)
	})
}

// GetOpenOrders wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOpenOrders(ctx context.Context) ([]OrderItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]OrderItem, error) {
		return b.GetOpenOrders(ctx)
	})
}

// GetQuote wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, symbol string) (*UnderlyingQuote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*UnderlyingQuote, error) {
		return b.GetQuote(ctx, symbol)
	})
}

// GetOptionChain wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, symbol string) (*Chain, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Chain, error) {
		return b.GetOptionChain(ctx, symbol)
	})
}

// QuoteContract wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) QuoteContract(ctx context.Context, contract Contract) (*Ticker, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Ticker, error) {
		return b.QuoteContract(ctx, contract)
	})
}

// QuoteContracts wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) QuoteContracts(ctx context.Context, contracts []Contract) ([]Ticker, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Ticker, error) {
		return b.QuoteContracts(ctx, contracts)
	})
}

// GetOptionQuotes wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOptionQuotes(ctx context.Context, symbol string, right Right) ([]Ticker, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Ticker, error) {
		return b.GetOptionQuotes(ctx, symbol, right)
	})
}

// QualifyContract wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) QualifyContract(ctx context.Context, contract Contract) (Contract, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (Contract, error) {
		return b.QualifyContract(ctx, contract)
	})
}

// PlaceOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, contract Contract, order Order) (*Trade, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Trade, error) {
		return b.PlaceOrder(ctx, contract, order)
	})
}

// CancelOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, orderID int) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.CancelOrder(ctx, orderID)
	})
	return err
}

// GetOrderStatus wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOrderStatus(ctx context.Context, orderID int) (OrderStatus, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (OrderStatus, error) {
		return b.GetOrderStatus(ctx, orderID)
	})
}

// ConnectionEvents passes the underlying event stream through unwrapped;
// connectivity transitions are not request/response calls.
func (c *CircuitBreakerBroker) ConnectionEvents() <-chan ConnectionEvent {
	return c.broker.ConnectionEvents()
}
