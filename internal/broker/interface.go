// Package broker defines the gateway surface the trading engine depends on.
// The connectivity layer behind it (session management, wire protocol) is an
// external concern; everything here is expressed in terms of snapshots,
// quotes, and order handles.
package broker

import (
	"context"
	"errors"
)

// Broker defines the interface for interacting with the brokerage gateway.
type Broker interface {
	// Account operations
	GetAccountValue(ctx context.Context, tag, currency string) (float64, error)
	GetPositions(ctx context.Context) ([]PositionItem, error)
	GetOpenOrders(ctx context.Context) ([]OrderItem, error)

	// Market data
	GetQuote(ctx context.Context, symbol string) (*UnderlyingQuote, error)
	GetOptionChain(ctx context.Context, symbol string) (*Chain, error)
	QuoteContract(ctx context.Context, c Contract) (*Ticker, error)
	QuoteContracts(ctx context.Context, cs []Contract) ([]Ticker, error)
	// GetOptionQuotes returns tickers for every contract of the given right
	// across the full chain, used for aggregate order-flow math.
	GetOptionQuotes(ctx context.Context, symbol string, right Right) ([]Ticker, error)

	// Contract qualification: resolves the broker-assigned durable id.
	QualifyContract(ctx context.Context, c Contract) (Contract, error)

	// Order placement and management
	PlaceOrder(ctx context.Context, c Contract, o Order) (*Trade, error)
	CancelOrder(ctx context.Context, orderID int) error
	GetOrderStatus(ctx context.Context, orderID int) (OrderStatus, error)

	// ConnectionEvents streams session connect/disconnect transitions.
	ConnectionEvents() <-chan ConnectionEvent
}

// AccountTagBuyingPower is the account-value tag for available buying power.
const AccountTagBuyingPower = "BuyingPower"

// ErrNoQuote is returned when the broker has no quotable ticker for a contract.
var ErrNoQuote = errors.New("broker: no quotable ticker")

// APIError is a gateway-level request failure with an HTTP-like status code.
type APIError struct {
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	return e.Msg
}

// IsPermanentAPIError checks if an error is a permanent API error that should
// not be retried. 4xx errors are permanent except 429 Too Many Requests.
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}
