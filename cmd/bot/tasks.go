package main

import (
	"context"
	"log"
	"time"

	"github.com/nopeig/nopebot/internal/broker"
	"github.com/nopeig/nopebot/internal/config"
	"github.com/nopeig/nopebot/internal/engine"
	"github.com/nopeig/nopebot/internal/orders"
	"github.com/nopeig/nopebot/internal/positions"
	"github.com/nopeig/nopebot/internal/quote"
	"github.com/nopeig/nopebot/internal/scheduler"
	signalstore "github.com/nopeig/nopebot/internal/signal"
)

// Task names in the scheduler registry. Connection loss cancels the
// market-facing subset; the signal and credential refreshers keep running so
// the bot resumes with fresh data once the session comes back.
const (
	taskSignalRefresh = "signal_refresh"
	taskTokenRefresh  = "token_refresh"
	taskEntry         = "entry"
	taskExit          = "exit"
	taskReap          = "reaper"
)

// Bot owns the running task set and the decision flow between components.
type Bot struct {
	config   *config.Config
	broker   broker.Broker
	store    *signalstore.Store
	sched    *scheduler.Scheduler
	view     *positions.View
	engine   *engine.Engine
	manager  *orders.Manager
	reaper   *orders.Reaper
	provider quote.Provider
	logger   *log.Logger
}

// registerCoreTasks starts the tasks that survive connection loss.
func (b *Bot) registerCoreTasks() {
	b.sched.Every(taskSignalRefresh, b.config.SignalRefreshInterval(), func(ctx context.Context) error {
		return b.store.Refresh(ctx)
	})

	if refresher, ok := b.provider.(quote.TokenRefresher); ok {
		b.sched.Every(taskTokenRefresh, b.config.TokenRefreshInterval(), func(ctx context.Context) error {
			return refresher.RefreshAccessToken(ctx)
		})
	}
}

// registerMarketTasks starts the broker-facing tasks. Idempotent: re-running
// it after a reconnect only registers whatever is missing.
func (b *Bot) registerMarketTasks() {
	b.sched.Every(taskEntry, b.config.EntryInterval(), b.entryTick)
	b.sched.Every(taskExit, b.config.ExitInterval(), b.exitTick)
	b.sched.Every(taskReap, b.config.ReapInterval(), func(ctx context.Context) error {
		return b.reaper.Reap(ctx)
	})
}

// cancelMarketTasks stops the broker-facing tasks on connection loss. Any
// stop-loss arming tasks are scheduler-registered too but stay put: their
// next check simply fails until the session returns.
func (b *Bot) cancelMarketTasks() {
	for _, name := range []string{taskEntry, taskExit, taskReap} {
		b.sched.Cancel(name)
	}
}

// entryTick evaluates one entry decision: signal threshold, then exposure
// limit against the live snapshot, then order placement.
func (b *Bot) entryTick(ctx context.Context) error {
	reading := b.store.Read()
	if reading.ObservedAt.IsZero() {
		b.logger.Println("No signal reading yet, skipping entry evaluation")
		return nil
	}

	right, ok := b.engine.EntryCandidate(reading.Value)
	if !ok {
		return nil
	}

	exposure, err := b.view.Exposure(ctx, right)
	if err != nil {
		return err
	}

	if allowed, reason := b.engine.AllowEntry(right, exposure, b.config.Strategy.Quantity); !allowed {
		b.logger.Printf("Entry suppressed: %s", reason)
		return nil
	}

	b.logger.Printf("Entry signal for %s at value %.2f (exposure %d/%d)",
		right, reading.Value, exposure, b.engine.Limit(right))
	return b.manager.Enter(ctx, right)
}

// exitTick evaluates exits for both rights independently of entries.
func (b *Bot) exitTick(ctx context.Context) error {
	reading := b.store.Read()
	if reading.ObservedAt.IsZero() {
		return nil
	}

	for _, right := range []broker.Right{broker.RightCall, broker.RightPut} {
		if !b.engine.ShouldExit(right, reading.Value) {
			continue
		}
		if err := b.manager.Exit(ctx, right); err != nil {
			return err
		}
	}
	return nil
}

// watchConnection reacts to gateway connectivity transitions: a disconnect
// cancels the market-facing tasks, a reconnect re-registers them. A brief
// debounce lets the session settle before tasks come back.
func (b *Bot) watchConnection(ctx context.Context) error {
	events := b.broker.ConnectionEvents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Connected {
				b.logger.Println("Gateway connected, market tasks running")
				b.registerMarketTasks()
				continue
			}

			b.logger.Println("Gateway disconnected, cancelling market tasks")
			b.cancelMarketTasks()

			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
		}
	}
}
