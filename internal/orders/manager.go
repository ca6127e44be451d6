// Package orders manages the order lifecycle: entry and exit placement, the
// bounded submission wait, the protective stop-loss state machine, and the
// stale-order reaper.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nopeig/nopebot/internal/audit"
	"github.com/nopeig/nopebot/internal/broker"
	"github.com/nopeig/nopebot/internal/positions"
	"github.com/nopeig/nopebot/internal/selector"
	"github.com/nopeig/nopebot/internal/util"
)

// Config contains configuration for the order manager.
type Config struct {
	// SubmitAttempts bounds the submission wait; exhausting it is fatal for
	// the call since it indicates an unresponsive broker session.
	SubmitAttempts int
	SubmitInterval time.Duration
	// Quantity is the contract count per entry order.
	Quantity int
	// AccountFilter, when non-empty, enables the buying-power check before
	// entries. Empty means the check always permits.
	AccountFilter string
	TickSize      float64
}

// DefaultConfig is the default configuration for the order manager.
var DefaultConfig = Config{
	SubmitAttempts: 25,
	SubmitInterval: 5 * time.Second,
	Quantity:       1,
	TickSize:       0.01,
}

// Manager places and supervises entry and exit orders for one symbol.
type Manager struct {
	broker   broker.Broker
	view     *positions.View
	selector *selector.Selector
	stopLoss *StopLoss
	sink     *audit.Sink
	logger   *log.Logger
	config   Config
}

// NewManager creates a new order manager instance.
func NewManager(
	b broker.Broker,
	view *positions.View,
	sel *selector.Selector,
	stopLoss *StopLoss,
	sink *audit.Sink,
	logger *log.Logger,
	config ...Config,
) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}

	if cfg.SubmitAttempts <= 0 {
		cfg.SubmitAttempts = DefaultConfig.SubmitAttempts
	}
	if cfg.SubmitInterval <= 0 {
		cfg.SubmitInterval = DefaultConfig.SubmitInterval
	}
	if cfg.Quantity <= 0 {
		cfg.Quantity = DefaultConfig.Quantity
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = DefaultConfig.TickSize
	}

	if b == nil {
		panic("orders.NewManager: broker must not be nil")
	}
	if view == nil {
		panic("orders.NewManager: view must not be nil")
	}

	return &Manager{
		broker:   b,
		view:     view,
		selector: sel,
		stopLoss: stopLoss,
		sink:     sink,
		logger:   logger,
		config:   cfg,
	}
}

// Enter selects a contract for the right and places a limit buy for it.
// Transient data problems (no eligible contract, undefined price,
// insufficient funds) are logged and skipped; the next scheduled tick
// retries naturally. A submission-wait exhaustion is returned as an error.
func (m *Manager) Enter(ctx context.Context, right broker.Right) error {
	sel, err := m.selector.Select(ctx, right)
	if err != nil {
		if errors.Is(err, selector.ErrNoContract) {
			m.logger.Printf("No %s contract selectable this cycle, skipping", right)
			return nil
		}
		return fmt.Errorf("selecting %s contract: %w", right, err)
	}

	price := util.MidpointOrMarket(&sel.Ticker)
	if math.IsNaN(price) || price <= 0 {
		m.appendError(fmt.Sprintf("Undefined price for %s", sel.Contract.Key()))
		return nil
	}
	price = util.RoundToTick(price, m.config.TickSize)

	if m.config.AccountFilter != "" {
		required := price * 100 * float64(m.config.Quantity)
		buyingPower, err := m.broker.GetAccountValue(ctx, broker.AccountTagBuyingPower, "USD")
		if err != nil {
			return fmt.Errorf("checking buying power: %w", err)
		}
		if buyingPower < required {
			m.appendError(fmt.Sprintf("Insufficient buying power: %.2f < %.2f for %s",
				buyingPower, required, sel.Contract.Key()))
			return nil
		}
	}

	order := broker.Order{
		Side:       broker.SideBuy,
		Type:       broker.TypeLimit,
		Quantity:   m.config.Quantity,
		LimitPrice: price,
		Duration:   broker.DurationDay,
		Algo:       broker.AlgoAdaptive,
		Tag:        "entry-" + uuid.New().String()[:8],
	}

	m.logger.Printf("Placing entry buy: %s x%d limit %.2f", sel.Contract.Key(), order.Quantity, price)
	trade, err := m.broker.PlaceOrder(ctx, sel.Contract, order)
	if err != nil {
		return fmt.Errorf("placing entry order: %w", err)
	}

	if err := m.WaitForSubmission(ctx, trade); err != nil {
		return err
	}

	// Fire-and-forget from here: the fill notification arms the stop-loss
	// and writes the audit record.
	go m.watchFills(trade, right)
	return nil
}

// Exit sells every held contract of the right that has no active sell order,
// skipping any whose quoted price does not exceed its average cost - this
// path never sells at a loss. The outstanding protective stop is cancelled as
// soon as the first sell is placed, before the submission wait: a position
// must never be covered by a working exit sell and a live stop at once.
func (m *Manager) Exit(ctx context.Context, right broker.Right) error {
	held, err := m.view.HeldWithoutSell(ctx, right)
	if err != nil {
		return fmt.Errorf("deriving held-without-sell set: %w", err)
	}
	if len(held) == 0 {
		return nil
	}

	stopCleared := false
	for _, pos := range held {
		ticker, err := m.broker.QuoteContract(ctx, pos.Contract)
		if err != nil || ticker == nil {
			m.appendError(fmt.Sprintf("No quote for held contract %s", pos.Contract.Key()))
			continue
		}

		price := util.MidpointOrMarket(ticker)
		if math.IsNaN(price) || price <= 0 {
			m.appendError(fmt.Sprintf("Undefined exit price for %s", pos.Contract.Key()))
			continue
		}

		avgCost := pos.AvgCostPerShare()
		if price <= avgCost {
			m.appendError(fmt.Sprintf("Refusing to sell %s at %.2f below average cost %.2f",
				pos.Contract.Key(), price, avgCost))
			continue
		}

		price = util.RoundToTick(price, m.config.TickSize)
		order := broker.Order{
			Side:       broker.SideSell,
			Type:       broker.TypeLimit,
			Quantity:   pos.Quantity,
			LimitPrice: price,
			Duration:   broker.DurationDay,
			Algo:       broker.AlgoAdaptive,
			Tag:        "exit-" + uuid.New().String()[:8],
		}

		m.logger.Printf("Placing exit sell: %s x%d limit %.2f (avg cost %.2f)",
			pos.Contract.Key(), order.Quantity, price, avgCost)
		trade, err := m.broker.PlaceOrder(ctx, pos.Contract, order)
		if err != nil {
			return fmt.Errorf("placing exit order for %s: %w", pos.Contract.Key(), err)
		}

		// The sell is working from here on, so the stop goes now. Waiting
		// for acknowledgement first would leave both live if the wait fails.
		if !stopCleared {
			if err := m.clearProtectiveStop(ctx, right); err != nil {
				m.logger.Printf("Failed to clear protective stop for %s: %v", right, err)
			}
			stopCleared = true
		}

		if err := m.WaitForSubmission(ctx, trade); err != nil {
			return err
		}

		go m.watchFills(trade, right)
	}
	return nil
}

// clearProtectiveStop cancels the outstanding stop order for the right, if
// any, and resets the stop-loss automation to idle.
func (m *Manager) clearProtectiveStop(ctx context.Context, right broker.Right) error {
	stop, err := m.view.ActiveStopOrder(ctx, right)
	if err != nil {
		return err
	}
	if stop != nil {
		m.logger.Printf("Cancelling protective stop order %d for %s", stop.Order.ID, right)
		if err := m.broker.CancelOrder(ctx, stop.Order.ID); err != nil {
			return fmt.Errorf("cancelling stop order %d: %w", stop.Order.ID, err)
		}
	}
	if m.stopLoss != nil {
		m.stopLoss.Disarm(right)
	}
	return nil
}

// WaitForSubmission polls the broker until the trade's order reaches an
// acknowledged status (submitted, pre-submitted, or terminal). The poll
// budget is fixed; exhausting it means the broker session is unresponsive or
// inconsistent and is returned as an error rather than swallowed.
func (m *Manager) WaitForSubmission(ctx context.Context, trade *broker.Trade) error {
	for attempt := 1; attempt <= m.config.SubmitAttempts; attempt++ {
		status, err := m.broker.GetOrderStatus(ctx, trade.Order.ID)
		if err != nil {
			m.logger.Printf("Submission poll %d/%d for order %d failed: %v",
				attempt, m.config.SubmitAttempts, trade.Order.ID, err)
		} else if status.Acknowledged() {
			return nil
		}

		if attempt < m.config.SubmitAttempts {
			select {
			case <-time.After(m.config.SubmitInterval):
			case <-ctx.Done():
				return fmt.Errorf("submission wait cancelled for order %d: %w", trade.Order.ID, ctx.Err())
			}
		}
	}
	return fmt.Errorf("order %d not acknowledged after %d attempts", trade.Order.ID, m.config.SubmitAttempts)
}

// watchFills consumes the trade's fill channel. The first buy fill arms the
// stop-loss automation; every fill appends an audit record.
func (m *Manager) watchFills(trade *broker.Trade, right broker.Right) {
	armed := false
	for fill := range trade.Fills {
		m.logger.Printf("Fill: %s %s x%d @ %.2f",
			trade.Order.Side, fill.Contract.Key(), fill.Quantity, fill.Price)

		if m.sink != nil {
			record := fmt.Sprintf("%s %d %s @ %.2f",
				trade.Order.Side, fill.Quantity, fill.Contract.Key(), fill.Price)
			if err := m.sink.AppendTrade(record); err != nil {
				m.logger.Printf("Failed to append trade record: %v", err)
			}
		}

		if trade.Order.Side == broker.SideBuy && !armed && m.stopLoss != nil {
			m.stopLoss.Arm(right)
			armed = true
		}
	}
}

func (m *Manager) appendError(line string) {
	m.logger.Print(line)
	if m.sink != nil {
		if err := m.sink.AppendError(line); err != nil {
			m.logger.Printf("Failed to append error record: %v", err)
		}
	}
}
