// Package mock provides a simulated paper broker for paper-trading mode and
// tests: random-walk quotes, synthetic option chains, and immediate fills
// for marketable limit orders.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/nopeig/nopebot/internal/broker"
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 between 0 and n-1
func secureInt63n(n int64) int64 {
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return n / 2
	}
	return r.Int64()
}

// PaperBroker simulates the gateway surface in memory.
type PaperBroker struct {
	mu             sync.Mutex
	symbol         string
	price          float64
	balance        float64
	positions      map[string]*broker.PositionItem
	orders         map[int]*broker.OrderItem
	fills          map[int]chan broker.Fill
	qualified      map[string]int64
	nextOrderID    int
	nextContractID int64
	conn           chan broker.ConnectionEvent
	now            func() time.Time
}

// Ensure PaperBroker implements Broker at compile time.
var _ broker.Broker = (*PaperBroker)(nil)

// NewPaperBroker creates a paper broker for the given symbol.
func NewPaperBroker(symbol string) *PaperBroker {
	p := &PaperBroker{
		symbol:         symbol,
		price:          450.0 + secureFloat64()*10, // SPY around 450-460
		balance:        100_000,
		positions:      make(map[string]*broker.PositionItem),
		orders:         make(map[int]*broker.OrderItem),
		fills:          make(map[int]chan broker.Fill),
		qualified:      make(map[string]int64),
		nextOrderID:    1000,
		nextContractID: 500000,
		conn:           make(chan broker.ConnectionEvent, 8),
		now:            time.Now,
	}
	p.conn <- broker.ConnectionEvent{Connected: true, At: p.now()}
	return p
}

// GetQuote returns a random-walk quote for the underlying.
func (p *PaperBroker) GetQuote(_ context.Context, symbol string) (*broker.UnderlyingQuote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Simulate small price movements
	p.price += (secureFloat64() - 0.5) * 2

	spread := 0.02
	return &broker.UnderlyingQuote{
		Symbol: symbol,
		Last:   p.price,
		Bid:    p.price - spread/2,
		Ask:    p.price + spread/2,
		Volume: secureInt63n(100_000_000),
	}, nil
}

// GetOptionChain returns a synthetic chain: $1 strikes around the underlying
// and daily expirations for the next two weeks.
func (p *PaperBroker) GetOptionChain(_ context.Context, symbol string) (*broker.Chain, error) {
	p.mu.Lock()
	price := p.price
	p.mu.Unlock()

	center := math.Round(price)
	var strikes []float64
	for s := center - 25; s <= center+25; s++ {
		strikes = append(strikes, s)
	}

	var expirations []string
	day := p.now()
	for i := 1; i <= 14; i++ {
		expirations = append(expirations, day.AddDate(0, 0, i).Format("2006-01-02"))
	}

	return &broker.Chain{Symbol: symbol, Strikes: strikes, Expirations: expirations}, nil
}

// QuoteContract returns a synthetic option quote with an approximate delta.
func (p *PaperBroker) QuoteContract(_ context.Context, c broker.Contract) (*broker.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.syntheticTicker(c)
	return &t, nil
}

// QuoteContracts quotes a batch of contracts.
func (p *PaperBroker) QuoteContracts(_ context.Context, cs []broker.Contract) ([]broker.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]broker.Ticker, 0, len(cs))
	for _, c := range cs {
		out = append(out, p.syntheticTicker(c))
	}
	return out, nil
}

// GetOptionQuotes returns tickers across the chain for one right.
func (p *PaperBroker) GetOptionQuotes(ctx context.Context, symbol string, right broker.Right) ([]broker.Ticker, error) {
	chain, err := p.GetOptionChain(ctx, symbol)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []broker.Ticker
	for _, expiry := range chain.Expirations[:3] {
		for _, strike := range chain.Strikes {
			t := p.syntheticTicker(broker.Contract{
				Symbol: symbol, Expiry: expiry, Strike: strike, Right: right,
			})
			t.Volume = secureInt63n(5000)
			out = append(out, t)
		}
	}
	return out, nil
}

// syntheticTicker prices a contract from intrinsic value plus a small time
// premium, with a rough moneyness-based delta. Callers hold p.mu.
func (p *PaperBroker) syntheticTicker(c broker.Contract) broker.Ticker {
	var intrinsic, delta float64
	moneyness := (p.price - c.Strike) / 20
	if c.Right == broker.RightCall {
		intrinsic = math.Max(0, p.price-c.Strike)
		delta = clamp(0.5+moneyness, 0.05, 0.95)
	} else {
		intrinsic = math.Max(0, c.Strike-p.price)
		delta = clamp(0.5+moneyness, 0.05, 0.95) - 1
	}

	mid := intrinsic + 0.5 + secureFloat64()
	spread := 0.04
	return broker.Ticker{
		Contract: c,
		Bid:      mid - spread/2,
		Ask:      mid + spread/2,
		Last:     mid,
		Delta:    delta,
		Volume:   secureInt63n(10000),
	}
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// QualifyContract assigns a durable id, stable per contract identity.
func (p *PaperBroker) QualifyContract(_ context.Context, c broker.Contract) (broker.Contract, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := c.Key()
	id, ok := p.qualified[key]
	if !ok {
		p.nextContractID++
		id = p.nextContractID
		p.qualified[key] = id
	}
	c.ID = id
	return c, nil
}

// GetPositions returns the simulated portfolio snapshot.
func (p *PaperBroker) GetPositions(_ context.Context) ([]broker.PositionItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]broker.PositionItem, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// GetOpenOrders returns the simulated open-orders snapshot, including
// terminal orders' final states, with status histories.
func (p *PaperBroker) GetOpenOrders(_ context.Context) ([]broker.OrderItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]broker.OrderItem, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, *o)
	}
	return out, nil
}

// PlaceOrder accepts the order and, for limit orders, fills it immediately
// at the limit price. Stop orders stay working until cancelled.
func (p *PaperBroker) PlaceOrder(_ context.Context, c broker.Contract, o broker.Order) (*broker.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextOrderID++
	o.ID = p.nextOrderID
	now := p.now()

	item := &broker.OrderItem{
		Contract:  c,
		Order:     o,
		Status:    broker.StatusSubmitted,
		Remaining: o.Quantity,
		StatusLog: []broker.StatusEvent{{Status: broker.StatusSubmitted, At: now}},
	}
	p.orders[o.ID] = item

	fills := make(chan broker.Fill, 1)
	p.fills[o.ID] = fills
	trade := &broker.Trade{Contract: c, Order: o, Fills: fills}

	if o.Type == broker.TypeLimit {
		p.fillLocked(item, fills)
	}
	return trade, nil
}

// fillLocked fills a working limit order at its limit price. Callers hold p.mu.
func (p *PaperBroker) fillLocked(item *broker.OrderItem, fills chan broker.Fill) {
	item.Status = broker.StatusFilled
	item.Remaining = 0
	item.StatusLog = append(item.StatusLog, broker.StatusEvent{Status: broker.StatusFilled, At: p.now()})

	key := item.Contract.Key()
	if item.Order.Side == broker.SideBuy {
		pos, ok := p.positions[key]
		if !ok {
			pos = &broker.PositionItem{Contract: item.Contract}
			p.positions[key] = pos
		}
		total := float64(pos.Quantity)*pos.AvgCost + float64(item.Order.Quantity)*item.Order.LimitPrice*100
		pos.Quantity += item.Order.Quantity
		pos.AvgCost = total / float64(pos.Quantity)
		p.balance -= item.Order.LimitPrice * 100 * float64(item.Order.Quantity)
	} else if pos, ok := p.positions[key]; ok {
		pos.Quantity -= item.Order.Quantity
		if pos.Quantity <= 0 {
			delete(p.positions, key)
		}
		p.balance += item.Order.LimitPrice * 100 * float64(item.Order.Quantity)
	}

	fills <- broker.Fill{
		Contract: item.Contract,
		Order:    item.Order,
		Quantity: item.Order.Quantity,
		Price:    item.Order.LimitPrice,
		At:       p.now(),
	}
	close(fills)
	delete(p.fills, item.Order.ID)
}

// CancelOrder cancels a working order.
func (p *PaperBroker) CancelOrder(_ context.Context, orderID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.orders[orderID]
	if !ok {
		return &broker.APIError{Status: 404, Msg: fmt.Sprintf("order %d not found", orderID)}
	}
	if item.Status.Terminal() {
		return nil
	}

	item.Status = broker.StatusCancelled
	item.Remaining = 0
	item.StatusLog = append(item.StatusLog, broker.StatusEvent{Status: broker.StatusCancelled, At: p.now()})

	if fills, ok := p.fills[orderID]; ok {
		close(fills)
		delete(p.fills, orderID)
	}
	return nil
}

// GetOrderStatus returns the current status of an order.
func (p *PaperBroker) GetOrderStatus(_ context.Context, orderID int) (broker.OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.orders[orderID]
	if !ok {
		return "", &broker.APIError{Status: 404, Msg: fmt.Sprintf("order %d not found", orderID)}
	}
	return item.Status, nil
}

// GetAccountValue returns the simulated account balance for any tag.
func (p *PaperBroker) GetAccountValue(_ context.Context, _, _ string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// ConnectionEvents streams simulated connectivity transitions.
func (p *PaperBroker) ConnectionEvents() <-chan broker.ConnectionEvent {
	return p.conn
}

// Disconnect emits a disconnect event, for exercising task cancellation.
func (p *PaperBroker) Disconnect() {
	p.conn <- broker.ConnectionEvent{Connected: false, At: p.now()}
}

// Reconnect emits a connect event.
func (p *PaperBroker) Reconnect() {
	p.conn <- broker.ConnectionEvent{Connected: true, At: p.now()}
}
