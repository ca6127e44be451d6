package orders

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nopeig/nopebot/internal/broker"
)

// mockBroker is a configurable in-memory broker for order-flow tests.
type mockBroker struct {
	mu sync.Mutex

	positions  []broker.PositionItem
	openOrders []broker.OrderItem
	quotes     map[string]broker.Ticker
	chain      *broker.Chain
	underlying *broker.UnderlyingQuote

	buyingPower float64

	placed      []placedOrder
	cancelled   []int
	nextOrderID int

	// pollStatus is what GetOrderStatus reports; statusCalls counts polls.
	pollStatus  broker.OrderStatus
	statusCalls int

	// fillOnPlace delivers one full fill on each placed order's channel.
	fillOnPlace bool

	placeErr  error
	cancelErr error

	conn chan broker.ConnectionEvent
}

type placedOrder struct {
	Contract broker.Contract
	Order    broker.Order
}

var _ broker.Broker = (*mockBroker)(nil)

func newMockBroker() *mockBroker {
	return &mockBroker{
		quotes:      make(map[string]broker.Ticker),
		buyingPower: 100_000,
		nextOrderID: 100,
		pollStatus:  broker.StatusSubmitted,
		conn:        make(chan broker.ConnectionEvent),
	}
}

func (m *mockBroker) GetAccountValue(context.Context, string, string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buyingPower, nil
}

func (m *mockBroker) GetPositions(context.Context) ([]broker.PositionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broker.PositionItem(nil), m.positions...), nil
}

func (m *mockBroker) GetOpenOrders(context.Context) ([]broker.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broker.OrderItem(nil), m.openOrders...), nil
}

func (m *mockBroker) GetQuote(context.Context, string) (*broker.UnderlyingQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.underlying, nil
}

func (m *mockBroker) GetOptionChain(context.Context, string) (*broker.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chain, nil
}

func (m *mockBroker) QuoteContract(_ context.Context, c broker.Contract) (*broker.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.quotes[c.Key()]
	if !ok {
		return nil, broker.ErrNoQuote
	}
	t.Contract = c
	return &t, nil
}

func (m *mockBroker) QuoteContracts(ctx context.Context, cs []broker.Contract) ([]broker.Ticker, error) {
	out := make([]broker.Ticker, 0, len(cs))
	for _, c := range cs {
		t, err := m.QuoteContract(ctx, c)
		if err != nil {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *mockBroker) GetOptionQuotes(context.Context, string, broker.Right) ([]broker.Ticker, error) {
	return nil, nil
}

func (m *mockBroker) QualifyContract(_ context.Context, c broker.Contract) (broker.Contract, error) {
	c.ID = 999
	return c, nil
}

func (m *mockBroker) PlaceOrder(_ context.Context, c broker.Contract, o broker.Order) (*broker.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.placeErr != nil {
		return nil, m.placeErr
	}

	m.nextOrderID++
	o.ID = m.nextOrderID
	m.placed = append(m.placed, placedOrder{Contract: c, Order: o})

	fills := make(chan broker.Fill, 1)
	if m.fillOnPlace {
		fills <- broker.Fill{
			Contract: c,
			Order:    o,
			Quantity: o.Quantity,
			Price:    o.LimitPrice,
			At:       time.Now(),
		}
	}
	close(fills)

	return &broker.Trade{Contract: c, Order: o, Fills: fills}, nil
}

func (m *mockBroker) CancelOrder(_ context.Context, orderID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *mockBroker) GetOrderStatus(context.Context, int) (broker.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	return m.pollStatus, nil
}

func (m *mockBroker) ConnectionEvents() <-chan broker.ConnectionEvent {
	return m.conn
}

func (m *mockBroker) placedOrders() []placedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]placedOrder(nil), m.placed...)
}

func (m *mockBroker) cancelledOrders() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.cancelled...)
}

func (m *mockBroker) statusPolls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls
}

func quietLogger() *log.Logger {
	return log.New(devNull{}, "", 0)
}

type devNull struct{}

func (devNull) Write(p []byte) (int, error) { return len(p), nil }
