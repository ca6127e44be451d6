// Package quote computes the NOPE market-breadth indicator from aggregate
// option order flow. NOPE is the delta-weighted option volume of the full
// chain, normalized by share volume.
package quote

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/nopeig/nopebot/internal/audit"
	"github.com/nopeig/nopebot/internal/broker"
)

// Provider yields the current indicator value and underlying reference price.
type Provider interface {
	GetSignal(ctx context.Context) (value, underlyingPrice float64, err error)
}

// TokenRefresher refreshes the quote provider's access credentials. Providers
// whose sessions expire implement this; the refresh runs as a scheduled task.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context) error
}

// MarketData is the slice of the broker surface the provider needs.
type MarketData interface {
	GetQuote(ctx context.Context, symbol string) (*broker.UnderlyingQuote, error)
	GetOptionQuotes(ctx context.Context, symbol string, right broker.Right) ([]broker.Ticker, error)
}

// NopeProvider computes NOPE over the option chain of a single symbol.
type NopeProvider struct {
	data   MarketData
	errlog audit.ErrorLogger
	logger *log.Logger
	symbol string
}

// Ensure NopeProvider implements Provider at compile time.
var _ Provider = (*NopeProvider)(nil)

// NewNopeProvider creates a provider for the given symbol.
func NewNopeProvider(data MarketData, symbol string, errlog audit.ErrorLogger, logger *log.Logger) *NopeProvider {
	if logger == nil {
		logger = log.New(os.Stderr, "quote: ", log.LstdFlags)
	}
	return &NopeProvider{
		data:   data,
		errlog: errlog,
		logger: logger,
		symbol: symbol,
	}
}

// GetSignal returns the current NOPE value and the underlying's last price.
//
// NOPE = (Σ call volume·delta + Σ put volume·delta) · 10000 / share volume.
// Put deltas are negative, so the put term subtracts on its own. A day with
// no share volume is a valid neutral reading: (0, 0) is returned, a distinct
// "no volume data" entry is appended to the error log, and no error
// propagates.
func (p *NopeProvider) GetSignal(ctx context.Context) (float64, float64, error) {
	underlying, err := p.data.GetQuote(ctx, p.symbol)
	if err != nil {
		return 0, 0, fmt.Errorf("quoting underlying %s: %w", p.symbol, err)
	}

	callDelta, err := p.totalDelta(ctx, broker.RightCall)
	if err != nil {
		return 0, 0, fmt.Errorf("summing call delta: %w", err)
	}
	putDelta, err := p.totalDelta(ctx, broker.RightPut)
	if err != nil {
		return 0, 0, fmt.Errorf("summing put delta: %w", err)
	}

	if underlying.Volume == 0 {
		if logErr := p.errlog.AppendError(fmt.Sprintf("No volume data on %s", p.symbol)); logErr != nil {
			p.logger.Printf("Failed to append no-volume entry: %v", logErr)
		}
		return 0, 0, nil
	}

	nope := (callDelta + putDelta) * 10000 / float64(underlying.Volume)
	return nope, underlying.Last, nil
}

// totalDelta sums volume·delta across every quoted contract of one right.
// Contracts without a model delta are skipped.
func (p *NopeProvider) totalDelta(ctx context.Context, right broker.Right) (float64, error) {
	quotes, err := p.data.GetOptionQuotes(ctx, p.symbol, right)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for i := range quotes {
		q := &quotes[i]
		if !q.HasDelta() {
			continue
		}
		total += float64(q.Volume) * q.Delta
	}
	return total, nil
}
