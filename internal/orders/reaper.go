package orders

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nopeig/nopebot/internal/audit"
	"github.com/nopeig/nopebot/internal/positions"
	"github.com/nopeig/nopebot/internal/retry"
)

// Reaper cancels orders that have been working longer than the configured
// ceiling. Age is measured from the earliest submitted or pre-submitted
// entry in the order's status history; orders without one cannot be aged and
// are logged as anomalies.
type Reaper struct {
	view   *positions.View
	cancel *retry.Client
	sink   audit.ErrorLogger
	logger *log.Logger
	maxAge time.Duration
	now    func() time.Time
}

// NewReaper creates a reaper with the given age ceiling.
func NewReaper(view *positions.View, cancel *retry.Client, sink audit.ErrorLogger, logger *log.Logger, maxAge time.Duration) *Reaper {
	if logger == nil {
		logger = log.New(os.Stderr, "reaper: ", log.LstdFlags)
	}
	return &Reaper{
		view:   view,
		cancel: cancel,
		sink:   sink,
		logger: logger,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Reap runs one sweep over the active orders for the traded symbol.
func (r *Reaper) Reap(ctx context.Context) error {
	orders, err := r.view.ActiveOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetching active orders: %w", err)
	}

	for _, o := range orders {
		submittedAt, ok := o.SubmittedAt()
		if !ok {
			line := fmt.Sprintf("Order %d has no submission status entry, cannot compute age", o.Order.ID)
			r.logger.Print(line)
			if r.sink != nil {
				_ = r.sink.AppendError(line)
			}
			continue
		}

		elapsed := r.now().Sub(submittedAt)
		if elapsed <= r.maxAge {
			continue
		}

		r.logger.Printf("Cancelling stale order %d (%s, age %.0f min)",
			o.Order.ID, o.Contract.Key(), elapsed.Minutes())
		if err := r.cancel.CancelOrderWithRetry(ctx, o.Order.ID); err != nil {
			r.logger.Printf("Failed to cancel stale order %d: %v", o.Order.ID, err)
		}
	}
	return nil
}
