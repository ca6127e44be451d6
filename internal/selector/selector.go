// Package selector picks the concrete option contract to trade for a given
// right. The eligible set is the Cartesian product of a strike band around
// the underlying price and a window of expirations; selection is either a
// fixed positional offset into that set or a closest-match on model delta.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/nopeig/nopebot/internal/broker"
	"github.com/nopeig/nopebot/internal/config"
)

// ErrNoContract means no eligible, quotable contract exists right now. The
// caller treats it as a non-fatal skip and tries again next cycle.
var ErrNoContract = errors.New("selector: no eligible contract")

// ChainData is the slice of the broker surface the selector needs.
type ChainData interface {
	GetQuote(ctx context.Context, symbol string) (*broker.UnderlyingQuote, error)
	GetOptionChain(ctx context.Context, symbol string) (*broker.Chain, error)
	QualifyContract(ctx context.Context, c broker.Contract) (broker.Contract, error)
	QuoteContract(ctx context.Context, c broker.Contract) (*broker.Ticker, error)
	QuoteContracts(ctx context.Context, cs []broker.Contract) ([]broker.Ticker, error)
}

// Selection is a qualified contract together with its current quote.
type Selection struct {
	Contract broker.Contract
	Ticker   broker.Ticker
}

// Selector enumerates and ranks eligible contracts for one symbol.
type Selector struct {
	data   ChainData
	cfg    config.ContractsConfig
	symbol string
	logger *log.Logger
	now    func() time.Time
}

// New creates a selector with the given selection policy.
func New(data ChainData, symbol string, cfg config.ContractsConfig, logger *log.Logger) *Selector {
	if logger == nil {
		logger = log.New(os.Stderr, "selector: ", log.LstdFlags)
	}
	return &Selector{
		data:   data,
		cfg:    cfg,
		symbol: symbol,
		logger: logger,
		now:    time.Now,
	}
}

// Select picks a contract for the right, or returns ErrNoContract when
// nothing eligible and quotable exists.
func (s *Selector) Select(ctx context.Context, right broker.Right) (*Selection, error) {
	underlying, err := s.data.GetQuote(ctx, s.symbol)
	if err != nil {
		return nil, fmt.Errorf("quoting underlying %s: %w", s.symbol, err)
	}

	chain, err := s.data.GetOptionChain(ctx, s.symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching option chain: %w", err)
	}

	eligible := s.Eligible(chain, right, underlying.Last)
	if len(eligible) == 0 {
		return nil, ErrNoContract
	}

	switch s.cfg.SelectionMode {
	case config.SelectionDelta:
		return s.selectByDelta(ctx, eligible, right)
	default:
		return s.selectByOffset(ctx, eligible, right)
	}
}

// Eligible builds the ordered eligible set: expirations ascending (major),
// strikes ascending (minor). Calls keep strikes in [price, price+offset],
// puts in [price-offset, price].
func (s *Selector) Eligible(chain *broker.Chain, right broker.Right, price float64) []broker.Contract {
	var lo, hi float64
	if right == broker.RightCall {
		lo, hi = price, price+s.cfg.StrikeOffset
	} else {
		lo, hi = price-s.cfg.StrikeOffset, price
	}

	var strikes []float64
	for _, strike := range chain.Strikes {
		if strike >= lo && strike <= hi {
			strikes = append(strikes, strike)
		}
	}

	expirations := s.expiryWindow(chain.Expirations)

	var eligible []broker.Contract
	for _, expiry := range expirations {
		for _, strike := range strikes {
			eligible = append(eligible, broker.Contract{
				Symbol: s.symbol,
				Expiry: expiry,
				Strike: strike,
				Right:  right,
			})
		}
	}
	return eligible
}

// expiryWindow picks the expirations to consider: all within the configured
// days-to-expiry window in auto mode, otherwise the single expiration at the
// configured ordinal offset.
func (s *Selector) expiryWindow(expirations []string) []string {
	if !s.cfg.AutoSelectExpiries {
		if s.cfg.ExpiryOffset >= len(expirations) {
			return nil
		}
		return expirations[s.cfg.ExpiryOffset : s.cfg.ExpiryOffset+1]
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	var window []string
	for _, raw := range expirations {
		expiry, err := time.Parse("2006-01-02", raw)
		if err != nil {
			s.logger.Printf("Skipping unparseable expiration %q: %v", raw, err)
			continue
		}
		dte := int(expiry.Sub(today).Hours() / 24)
		if dte >= 0 && dte <= s.cfg.ExpiryWindowDays {
			window = append(window, raw)
		}
	}
	return window
}

// selectByOffset indexes into the eligible list: calls from the front by
// call_offset, puts from the back by put_offset. An explicit, reproducible
// tie-break, not a ranking.
func (s *Selector) selectByOffset(ctx context.Context, eligible []broker.Contract, right broker.Right) (*Selection, error) {
	var idx int
	if right == broker.RightCall {
		idx = s.cfg.CallOffset
	} else {
		idx = len(eligible) - 1 - s.cfg.PutOffset
	}
	if idx < 0 || idx >= len(eligible) {
		s.logger.Printf("Offset index %d outside eligible set of %d for %s", idx, len(eligible), right)
		return nil, ErrNoContract
	}

	return s.qualifyAndQuote(ctx, eligible[idx])
}

// selectByDelta quotes every eligible contract and picks the one whose model
// delta is closest to the configured target, sign-adjusted per right.
// Contracts lacking a delta are skipped; ties resolve to the first
// encountered in scan order.
func (s *Selector) selectByDelta(ctx context.Context, eligible []broker.Contract, right broker.Right) (*Selection, error) {
	tickers, err := s.data.QuoteContracts(ctx, eligible)
	if err != nil {
		return nil, fmt.Errorf("quoting eligible contracts: %w", err)
	}

	target := s.cfg.TargetDelta
	if right == broker.RightPut {
		target = -target
	}

	bestIdx := -1
	bestDist := math.MaxFloat64
	for i := range tickers {
		if !tickers[i].HasDelta() {
			continue
		}
		dist := math.Abs(tickers[i].Delta - target)
		if dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}

	if bestIdx < 0 {
		s.logger.Printf("No quoted deltas among %d eligible %s contracts", len(eligible), right)
		return nil, ErrNoContract
	}

	qualified, err := s.data.QualifyContract(ctx, tickers[bestIdx].Contract)
	if err != nil {
		return nil, fmt.Errorf("qualifying contract %s: %w", tickers[bestIdx].Contract.Key(), err)
	}

	ticker := tickers[bestIdx]
	ticker.Contract = qualified
	return &Selection{Contract: qualified, Ticker: ticker}, nil
}

// qualifyAndQuote resolves the broker id for the chosen contract and fetches
// its quote. A missing quote is a non-fatal no-contract outcome.
func (s *Selector) qualifyAndQuote(ctx context.Context, c broker.Contract) (*Selection, error) {
	qualified, err := s.data.QualifyContract(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("qualifying contract %s: %w", c.Key(), err)
	}

	ticker, err := s.data.QuoteContract(ctx, qualified)
	if err != nil {
		if errors.Is(err, broker.ErrNoQuote) {
			return nil, ErrNoContract
		}
		return nil, fmt.Errorf("quoting contract %s: %w", qualified.Key(), err)
	}
	if ticker == nil {
		return nil, ErrNoContract
	}

	return &Selection{Contract: qualified, Ticker: *ticker}, nil
}
