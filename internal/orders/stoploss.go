package orders

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nopeig/nopebot/internal/broker"
	"github.com/nopeig/nopebot/internal/positions"
	"github.com/nopeig/nopebot/internal/scheduler"
	"github.com/nopeig/nopebot/internal/util"
)

// StopState is the stop-loss automation state for one right.
type StopState string

const (
	// StopIdle means no protective stop exists and none is being arranged.
	StopIdle StopState = "idle"
	// StopArmedPending means a buy fill has scheduled the recurring arming
	// check but no stop order has been placed yet.
	StopArmedPending StopState = "armed_pending"
	// StopArmed means a protective stop order is working at the broker.
	StopArmed StopState = "armed"
)

// StopLossConfig configures the stop-loss automation.
type StopLossConfig struct {
	// Pct is the stop distance below average cost, in percent.
	Pct float64
	// Interval is how often the arming check runs while pending.
	Interval time.Duration
	// CallLimit/PutLimit are the exposure limits; the stop is placed only
	// once the held quantity has reached the limit for the right.
	CallLimit int
	PutLimit  int
	TickSize  float64
}

// StopLoss arms one protective GTC stop-sell per open exposure. The
// automation is an explicit state machine per right: Idle -> ArmedPending on
// a buy fill, ArmedPending -> Armed once the stop order is placed (the
// recurring check deregisters itself), Armed -> Idle on exit sale or manual
// disarm. Re-arming while pending is a no-op, guarded both by the state and
// by the scheduler's named-task registry.
type StopLoss struct {
	mu     sync.Mutex
	states map[broker.Right]StopState

	broker broker.Broker
	view   *positions.View
	sched  *scheduler.Scheduler
	logger *log.Logger
	config StopLossConfig
}

// NewStopLoss creates the stop-loss automation.
func NewStopLoss(
	b broker.Broker,
	view *positions.View,
	sched *scheduler.Scheduler,
	logger *log.Logger,
	config StopLossConfig,
) *StopLoss {
	if logger == nil {
		logger = log.New(os.Stderr, "stoploss: ", log.LstdFlags)
	}
	if config.Interval <= 0 {
		config.Interval = 2 * time.Minute
	}
	if config.TickSize <= 0 {
		config.TickSize = 0.01
	}
	return &StopLoss{
		states: map[broker.Right]StopState{
			broker.RightCall: StopIdle,
			broker.RightPut:  StopIdle,
		},
		broker: b,
		view:   view,
		sched:  sched,
		logger: logger,
		config: config,
	}
}

func taskName(right broker.Right) string {
	return "stop_loss_arm:" + right.String()
}

// State returns the automation state for the right.
func (s *StopLoss) State(right broker.Right) StopState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[right]
}

// Arm transitions Idle -> ArmedPending and schedules the recurring arming
// check. Calling Arm again while a check is pending or a stop is armed is a
// no-op. The registration happens under the same lock as the transition, so
// a concurrent Disarm either sees Idle or finds the task to cancel - there
// is no window where the state and the registry disagree.
func (s *StopLoss) Arm(right broker.Right) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.states[right] != StopIdle {
		s.logger.Printf("Stop-loss for %s already %s, arm is a no-op", right, s.states[right])
		return
	}
	s.states[right] = StopArmedPending

	if !s.sched.Every(taskName(right), s.config.Interval, func(ctx context.Context) error {
		return s.check(ctx, right)
	}) {
		// Registry already holds the name; keep the pending state and let
		// the existing task finish the job.
		s.logger.Printf("Stop-loss arming task for %s already registered", right)
	}
}

// Disarm resets the automation to Idle and cancels any pending arming task.
// Called on exit sale or manual cancel of the protective stop.
func (s *StopLoss) Disarm(right broker.Right) {
	s.mu.Lock()
	prev := s.states[right]
	s.states[right] = StopIdle
	cancelled := s.sched.Cancel(taskName(right))
	s.mu.Unlock()

	if cancelled || prev != StopIdle {
		s.logger.Printf("Stop-loss for %s disarmed (was %s)", right, prev)
	}
}

// check runs on the arming interval: once the held quantity for the right
// has reached its limit and no stop order exists, it places a GTC stop-sell
// for the full held quantity and deregisters itself.
func (s *StopLoss) check(ctx context.Context, right broker.Right) error {
	if s.State(right) == StopIdle {
		// Disarmed while this iteration was already in flight.
		return nil
	}

	held, err := s.view.Held(ctx, right)
	if err != nil {
		return fmt.Errorf("fetching held %s positions: %w", right, err)
	}

	total := 0
	costBasis := 0.0
	for _, p := range held {
		total += p.Quantity
		costBasis += p.AvgCostPerShare() * float64(p.Quantity)
	}
	if total < s.limit(right) {
		// Not at full exposure yet; keep checking.
		return nil
	}

	existing, err := s.view.ActiveStopOrder(ctx, right)
	if err != nil {
		return fmt.Errorf("checking for existing stop order: %w", err)
	}
	if existing != nil {
		s.finishArming(right)
		return nil
	}

	avgCost := costBasis / float64(total)
	stopPrice := util.RoundToTick(avgCost*(1-s.config.Pct/100), s.config.TickSize)

	// Stop against the most recently derived contract identity: protect the
	// whole exposure under the first held contract's key. Snapshot-held
	// positions of one right share the traded symbol.
	contract := held[0].Contract
	order := broker.Order{
		Side:      broker.SideSell,
		Type:      broker.TypeStop,
		Quantity:  total,
		StopPrice: stopPrice,
		Duration:  broker.DurationGTC,
		Tag:       "stop-" + uuid.New().String()[:8],
	}

	s.logger.Printf("Placing protective stop for %s: x%d stop %.2f (avg cost %.2f)",
		right, total, stopPrice, avgCost)
	if _, err := s.broker.PlaceOrder(ctx, contract, order); err != nil {
		return fmt.Errorf("placing stop order: %w", err)
	}

	s.finishArming(right)
	return nil
}

// finishArming transitions ArmedPending -> Armed and cancels the recurring
// check; the one-shot behavior comes from this self-cancellation. A disarm
// that landed since the stop went out wins: the state stays idle.
func (s *StopLoss) finishArming(right broker.Right) {
	s.mu.Lock()
	if s.states[right] == StopArmedPending {
		s.states[right] = StopArmed
	}
	s.sched.Cancel(taskName(right))
	s.mu.Unlock()
	s.logger.Printf("Stop-loss for %s armed", right)
}

func (s *StopLoss) limit(right broker.Right) int {
	if right == broker.RightCall {
		return s.config.CallLimit
	}
	return s.config.PutLimit
}
