// Package positions derives position and order state from live broker
// snapshots. Nothing here is cached: every call re-fetches, so decisions
// tolerate fills, cancels, and manual intervention between cycles.
package positions

import (
	"context"
	"fmt"
	"sort"

	"github.com/nopeig/nopebot/internal/broker"
)

// Snapshots is the slice of the broker surface the view needs.
type Snapshots interface {
	GetPositions(ctx context.Context) ([]broker.PositionItem, error)
	GetOpenOrders(ctx context.Context) ([]broker.OrderItem, error)
}

// View answers exposure and reconciliation questions for one traded symbol.
type View struct {
	snapshots Snapshots
	symbol    string
}

// NewView creates a view scoped to the traded symbol.
func NewView(snapshots Snapshots, symbol string) *View {
	return &View{snapshots: snapshots, symbol: symbol}
}

// Held returns the held positions of the given right, scoped to the symbol.
func (v *View) Held(ctx context.Context, right broker.Right) ([]broker.PositionItem, error) {
	all, err := v.snapshots.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching portfolio: %w", err)
	}

	var held []broker.PositionItem
	for _, p := range all {
		if p.Contract.Symbol == v.symbol && p.Contract.Right == right && p.Quantity > 0 {
			held = append(held, p)
		}
	}
	return held, nil
}

// HeldQuantity returns the total held contract count for the right.
func (v *View) HeldQuantity(ctx context.Context, right broker.Right) (int, error) {
	held, err := v.Held(ctx, right)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range held {
		total += p.Quantity
	}
	return total, nil
}

// ActiveOrders returns the still-working orders for the symbol.
func (v *View) ActiveOrders(ctx context.Context) ([]broker.OrderItem, error) {
	all, err := v.snapshots.GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching open orders: %w", err)
	}

	var active []broker.OrderItem
	for _, o := range all {
		if o.Contract.Symbol == v.symbol && o.Active() {
			active = append(active, o)
		}
	}
	return active, nil
}

// Exposure returns held quantity plus the remaining quantity of active
// same-direction (buy) orders for the right. Recomputed from the live
// snapshot on every call; entry decisions must consult this immediately
// before placing an order.
func (v *View) Exposure(ctx context.Context, right broker.Right) (int, error) {
	held, err := v.HeldQuantity(ctx, right)
	if err != nil {
		return 0, err
	}

	orders, err := v.ActiveOrders(ctx)
	if err != nil {
		return 0, err
	}

	pending := 0
	for _, o := range orders {
		if o.Contract.Right == right && o.Order.Side == broker.SideBuy {
			pending += o.Remaining
		}
	}
	return held + pending, nil
}

// HeldWithoutSell returns the held contracts of the right that have no active
// exit sell outstanding (set difference on contract identity), sorted by
// contract identity for reproducible ordering. Protective stop-sells do not
// count: they are cancelled when the exit sell goes in, and counting them
// would lock a stopped contract out of exit flow entirely.
func (v *View) HeldWithoutSell(ctx context.Context, right broker.Right) ([]broker.PositionItem, error) {
	held, err := v.Held(ctx, right)
	if err != nil {
		return nil, err
	}

	orders, err := v.ActiveOrders(ctx)
	if err != nil {
		return nil, err
	}

	selling := make(map[string]bool)
	for _, o := range orders {
		if o.Order.Side == broker.SideSell && o.Order.Type != broker.TypeStop {
			selling[o.Contract.Key()] = true
		}
	}

	var out []broker.PositionItem
	for _, p := range held {
		if !selling[p.Contract.Key()] {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Contract.Key() < out[j].Contract.Key()
	})
	return out, nil
}

// ActiveStopOrder returns the first active protective stop-sell order for the
// right, or nil when none exists.
func (v *View) ActiveStopOrder(ctx context.Context, right broker.Right) (*broker.OrderItem, error) {
	orders, err := v.ActiveOrders(ctx)
	if err != nil {
		return nil, err
	}

	for i := range orders {
		o := orders[i]
		if o.Contract.Right == right && o.Order.Side == broker.SideSell && o.Order.Type == broker.TypeStop {
			return &o, nil
		}
	}
	return nil, nil
}
