package broker

import (
	"fmt"
	"math"
	"time"
)

// Right represents the option class of a contract.
type Right string

const (
	// RightCall represents a call option contract
	RightCall Right = "C"
	// RightPut represents a put option contract
	RightPut Right = "P"
)

// Side returns the order side that opens exposure for this right.
func (r Right) String() string {
	switch r {
	case RightCall:
		return "call"
	case RightPut:
		return "put"
	default:
		return string(r)
	}
}

// Contract identifies a single option contract. Identity is
// symbol+expiry+strike+right; ID is the broker-assigned durable id,
// zero until the contract has been qualified.
type Contract struct {
	ID     int64
	Symbol string
	Expiry string // "2006-01-02"
	Strike float64
	Right  Right
}

// Key returns the canonical identity string for the contract,
// independent of whether it has been qualified yet.
func (c Contract) Key() string {
	return fmt.Sprintf("%s|%s|%08.2f|%s", c.Symbol, c.Expiry, c.Strike, string(c.Right))
}

// UnderlyingQuote is a quote for the underlying equity.
type UnderlyingQuote struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
	Volume int64
}

// Ticker is a quote for a single option contract. Bid/Ask/Last are NaN
// when the broker returned no data; Delta is NaN when greeks are missing.
type Ticker struct {
	Contract Contract
	Bid      float64
	Ask      float64
	Last     float64
	Delta    float64
	Volume   int64
}

// Midpoint returns the bid/ask midpoint, or NaN when either side is missing.
func (t *Ticker) Midpoint() float64 {
	if math.IsNaN(t.Bid) || math.IsNaN(t.Ask) || t.Bid <= 0 || t.Ask <= 0 {
		return math.NaN()
	}
	return (t.Bid + t.Ask) / 2
}

// MarketPrice returns the last traded price, or NaN when unavailable.
func (t *Ticker) MarketPrice() float64 {
	return t.Last
}

// HasDelta reports whether the ticker carries a usable model delta.
func (t *Ticker) HasDelta() bool {
	return !math.IsNaN(t.Delta)
}

// Chain describes the option chain surface for a symbol: the available
// strikes and expirations, both sorted ascending.
type Chain struct {
	Symbol      string
	Strikes     []float64
	Expirations []string // "2006-01-02", ascending
}

// PositionItem is one held position from the broker's portfolio snapshot.
// AvgCost is the broker-reported per-contract cost basis.
type PositionItem struct {
	Contract Contract
	Quantity int
	AvgCost  float64
}

// AvgCostPerShare normalizes the per-contract cost basis to per-share
// premium terms so it compares directly against quoted option prices.
func (p PositionItem) AvgCostPerShare() float64 {
	return p.AvgCost / 100.0
}

// OrderStatus is a broker-reported order status.
type OrderStatus string

const (
	// StatusPendingSubmit means the order has been sent but not acknowledged.
	StatusPendingSubmit OrderStatus = "pending_submit"
	// StatusPreSubmitted means the order is held at the broker awaiting conditions.
	StatusPreSubmitted OrderStatus = "pre_submitted"
	// StatusSubmitted means the order is live at the exchange.
	StatusSubmitted OrderStatus = "submitted"
	// StatusFilled means the order completely filled.
	StatusFilled OrderStatus = "filled"
	// StatusCancelled means the order was cancelled by the client.
	StatusCancelled OrderStatus = "cancelled"
	// StatusAPICancelled means the broker cancelled the order.
	StatusAPICancelled OrderStatus = "api_cancelled"
)

// Terminal reports whether no further transition is expected absent
// manual intervention.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusAPICancelled:
		return true
	default:
		return false
	}
}

// Acknowledged reports whether the status counts as broker acknowledgment
// for the submission wait: live at the broker or already terminal.
func (s OrderStatus) Acknowledged() bool {
	switch s {
	case StatusSubmitted, StatusPreSubmitted, StatusFilled, StatusCancelled, StatusAPICancelled:
		return true
	default:
		return false
	}
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	// SideBuy opens or adds to a position.
	SideBuy OrderSide = "buy"
	// SideSell closes or reduces a position.
	SideSell OrderSide = "sell"
)

// OrderType is the execution type of an order.
type OrderType string

const (
	// TypeLimit is a limit order.
	TypeLimit OrderType = "limit"
	// TypeStop is a stop order.
	TypeStop OrderType = "stop"
)

// OrderDuration is the time-in-force of an order.
type OrderDuration string

const (
	// DurationDay expires the order at the end of the trading day.
	DurationDay OrderDuration = "day"
	// DurationGTC keeps the order working until cancelled.
	DurationGTC OrderDuration = "gtc"
)

// AlgoAdaptive is the fixed algorithmic routing strategy used for entry
// and exit limit orders.
const AlgoAdaptive = "adaptive"

// Order describes an order to be placed or one echoed back by the broker.
type Order struct {
	ID         int
	Side       OrderSide
	Type       OrderType
	Quantity   int
	LimitPrice float64
	StopPrice  float64
	Duration   OrderDuration
	Algo       string
	Tag        string
}

// StatusEvent is one entry in an order's status history.
type StatusEvent struct {
	Status OrderStatus
	At     time.Time
}

// OrderItem is one order from the broker's open-orders snapshot,
// including its status history.
type OrderItem struct {
	Contract  Contract
	Order     Order
	Status    OrderStatus
	Remaining int
	StatusLog []StatusEvent
}

// Active reports whether the order is still working.
func (o OrderItem) Active() bool {
	return !o.Status.Terminal()
}

// SubmittedAt returns the earliest submitted or pre-submitted timestamp
// in the status log. The second return is false when no such entry exists,
// in which case the order's age cannot be computed.
func (o OrderItem) SubmittedAt() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, ev := range o.StatusLog {
		if ev.Status != StatusSubmitted && ev.Status != StatusPreSubmitted {
			continue
		}
		if !found || ev.At.Before(earliest) {
			earliest = ev.At
			found = true
		}
	}
	return earliest, found
}

// Fill is an execution report delivered on a trade's fill channel.
type Fill struct {
	Contract Contract
	Order    Order
	Quantity int
	Price    float64
	At       time.Time
}

// Trade is the handle returned by PlaceOrder. After the submission wait the
// engine treats the order as fire-and-forget and relies on Fills for
// follow-up actions; the channel is closed once the order is terminal.
type Trade struct {
	Contract Contract
	Order    Order
	Fills    <-chan Fill
}

// ConnectionEvent reports a change in broker session connectivity.
type ConnectionEvent struct {
	Connected bool
	At        time.Time
}
