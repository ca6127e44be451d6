package selector

import (
	"context"
	"errors"
	"log"
	"math"
	"testing"
	"time"

	"github.com/nopeig/nopebot/internal/broker"
	"github.com/nopeig/nopebot/internal/config"
)

type fakeChainData struct {
	quote     *broker.UnderlyingQuote
	chain     *broker.Chain
	tickers   map[string]broker.Ticker
	quoteErr  error
	batchErr  error
	qualified int64
}

func (f *fakeChainData) GetQuote(context.Context, string) (*broker.UnderlyingQuote, error) {
	return f.quote, nil
}

func (f *fakeChainData) GetOptionChain(context.Context, string) (*broker.Chain, error) {
	return f.chain, nil
}

func (f *fakeChainData) QualifyContract(_ context.Context, c broker.Contract) (broker.Contract, error) {
	f.qualified++
	c.ID = f.qualified
	return c, nil
}

func (f *fakeChainData) QuoteContract(_ context.Context, c broker.Contract) (*broker.Ticker, error) {
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	t, ok := f.tickers[c.Key()]
	if !ok {
		return nil, broker.ErrNoQuote
	}
	t.Contract = c
	return &t, nil
}

func (f *fakeChainData) QuoteContracts(_ context.Context, cs []broker.Contract) ([]broker.Ticker, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([]broker.Ticker, 0, len(cs))
	for _, c := range cs {
		t, ok := f.tickers[c.Key()]
		if !ok {
			t = broker.Ticker{Bid: math.NaN(), Ask: math.NaN(), Last: math.NaN(), Delta: math.NaN()}
		}
		t.Contract = c
		out = append(out, t)
	}
	return out, nil
}

func quietLogger() *log.Logger {
	return log.New(discard{}, "", 0)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func fixedNow() time.Time {
	return time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)
}

func newTestSelector(data *fakeChainData, cfg config.ContractsConfig) *Selector {
	s := New(data, "SPY", cfg, quietLogger())
	s.now = fixedNow
	return s
}

func testChain() *broker.Chain {
	return &broker.Chain{
		Symbol:      "SPY",
		Strikes:     []float64{446, 447, 448, 449, 450, 451, 452, 453, 454, 455},
		Expirations: []string{"2026-08-28", "2026-08-31", "2026-09-04", "2026-12-18"},
	}
}

func ticker(bid, ask, delta float64) broker.Ticker {
	return broker.Ticker{Bid: bid, Ask: ask, Last: (bid + ask) / 2, Delta: delta}
}

func TestEligibleBandsAndOrdering(t *testing.T) {
	cfg := config.ContractsConfig{
		StrikeOffset:       3,
		AutoSelectExpiries: true,
		ExpiryWindowDays:   5,
		SelectionMode:      config.SelectionManual,
	}
	s := newTestSelector(&fakeChainData{}, cfg)

	calls := s.Eligible(testChain(), broker.RightCall, 450)
	// Two expirations in the window x four strikes in [450, 453].
	if len(calls) != 8 {
		t.Fatalf("expected 8 eligible calls, got %d", len(calls))
	}
	if calls[0].Expiry != "2026-08-28" || calls[0].Strike != 450 {
		t.Errorf("first eligible should be earliest expiry, lowest strike; got %s", calls[0].Key())
	}
	if calls[3].Expiry != "2026-08-28" || calls[3].Strike != 453 {
		t.Errorf("strikes are the minor order; got %s", calls[3].Key())
	}
	if calls[4].Expiry != "2026-08-31" {
		t.Errorf("expirations are the major order; got %s", calls[4].Key())
	}

	puts := s.Eligible(testChain(), broker.RightPut, 450)
	if len(puts) != 8 {
		t.Fatalf("expected 8 eligible puts, got %d", len(puts))
	}
	if puts[0].Strike != 447 || puts[3].Strike != 450 {
		t.Errorf("puts keep strikes in [447, 450]; got %s .. %s", puts[0].Key(), puts[3].Key())
	}
}

func TestExpiryWindowFixedOffset(t *testing.T) {
	cfg := config.ContractsConfig{
		StrikeOffset:  3,
		ExpiryOffset:  2,
		SelectionMode: config.SelectionManual,
	}
	s := newTestSelector(&fakeChainData{}, cfg)

	calls := s.Eligible(testChain(), broker.RightCall, 450)
	for _, c := range calls {
		if c.Expiry != "2026-09-04" {
			t.Fatalf("fixed offset should pin the third expiration, got %s", c.Key())
		}
	}

	// Offset beyond the chain yields nothing eligible.
	s2 := newTestSelector(&fakeChainData{}, config.ContractsConfig{
		StrikeOffset: 3, ExpiryOffset: 10, SelectionMode: config.SelectionManual,
	})
	if got := s2.Eligible(testChain(), broker.RightCall, 450); len(got) != 0 {
		t.Errorf("expected empty eligible set, got %d", len(got))
	}
}

func TestSelectByOffsetIsDeterministic(t *testing.T) {
	data := &fakeChainData{
		quote: &broker.UnderlyingQuote{Symbol: "SPY", Last: 450},
		chain: testChain(),
		tickers: map[string]broker.Ticker{
			broker.Contract{Symbol: "SPY", Expiry: "2026-08-28", Strike: 451, Right: broker.RightCall}.Key(): ticker(2.00, 2.10, 0.42),
			broker.Contract{Symbol: "SPY", Expiry: "2026-08-28", Strike: 449, Right: broker.RightPut}.Key():  ticker(1.80, 1.90, -0.40),
		},
	}
	cfg := config.ContractsConfig{
		StrikeOffset:  3,
		CallOffset:    1,
		PutOffset:     1,
		ExpiryOffset:  0,
		SelectionMode: config.SelectionManual,
	}
	s := newTestSelector(data, cfg)

	// Calls index from the front: eligible strikes 450..453, offset 1 -> 451.
	for i := 0; i < 3; i++ {
		sel, err := s.Select(context.Background(), broker.RightCall)
		if err != nil {
			t.Fatalf("Select call: %v", err)
		}
		if sel.Contract.Strike != 451 {
			t.Fatalf("run %d picked strike %v, expected 451", i, sel.Contract.Strike)
		}
		if sel.Contract.ID == 0 {
			t.Error("selected contract must be qualified")
		}
	}

	// Puts index from the back: eligible strikes 447..450, offset 1 -> 449.
	sel, err := s.Select(context.Background(), broker.RightPut)
	if err != nil {
		t.Fatalf("Select put: %v", err)
	}
	if sel.Contract.Strike != 449 {
		t.Errorf("put pick = %v, expected 449", sel.Contract.Strike)
	}
}

func TestSelectByOffsetOutOfRange(t *testing.T) {
	data := &fakeChainData{
		quote: &broker.UnderlyingQuote{Symbol: "SPY", Last: 450},
		chain: testChain(),
	}
	cfg := config.ContractsConfig{
		StrikeOffset:  3,
		CallOffset:    50,
		SelectionMode: config.SelectionManual,
	}
	s := newTestSelector(data, cfg)

	if _, err := s.Select(context.Background(), broker.RightCall); !errors.Is(err, ErrNoContract) {
		t.Errorf("expected ErrNoContract, got %v", err)
	}
}

func TestSelectNoQuoteBecomesNoContract(t *testing.T) {
	data := &fakeChainData{
		quote:   &broker.UnderlyingQuote{Symbol: "SPY", Last: 450},
		chain:   testChain(),
		tickers: map[string]broker.Ticker{}, // nothing quotable
	}
	cfg := config.ContractsConfig{
		StrikeOffset:  3,
		SelectionMode: config.SelectionManual,
	}
	s := newTestSelector(data, cfg)

	if _, err := s.Select(context.Background(), broker.RightCall); !errors.Is(err, ErrNoContract) {
		t.Errorf("expected ErrNoContract for unquotable pick, got %v", err)
	}
}

func TestSelectByDeltaPicksClosestTarget(t *testing.T) {
	mk := func(expiry string, strike float64, right broker.Right) string {
		return broker.Contract{Symbol: "SPY", Expiry: expiry, Strike: strike, Right: right}.Key()
	}
	data := &fakeChainData{
		quote: &broker.UnderlyingQuote{Symbol: "SPY", Last: 450},
		chain: testChain(),
		tickers: map[string]broker.Ticker{
			mk("2026-08-28", 450, broker.RightCall): ticker(3.00, 3.10, 0.52),
			mk("2026-08-28", 451, broker.RightCall): ticker(2.50, 2.60, 0.44),
			mk("2026-08-28", 452, broker.RightCall): ticker(2.00, 2.10, 0.31),
			mk("2026-08-28", 453, broker.RightCall): ticker(1.50, 1.60, 0.22),
			mk("2026-08-28", 450, broker.RightPut):  ticker(2.90, 3.00, -0.48),
			mk("2026-08-28", 449, broker.RightPut):  ticker(2.40, 2.50, -0.36),
			mk("2026-08-28", 448, broker.RightPut):  ticker(1.90, 2.00, -0.29),
			mk("2026-08-28", 447, broker.RightPut):  ticker(1.40, 1.50, -0.21),
		},
	}
	cfg := config.ContractsConfig{
		StrikeOffset:  3,
		ExpiryOffset:  0,
		SelectionMode: config.SelectionDelta,
		TargetDelta:   0.30,
	}
	s := newTestSelector(data, cfg)

	call, err := s.Select(context.Background(), broker.RightCall)
	if err != nil {
		t.Fatalf("Select call: %v", err)
	}
	if call.Contract.Strike != 452 {
		t.Errorf("call delta pick = %v, expected 452 (delta 0.31)", call.Contract.Strike)
	}

	// The target is negated for puts.
	put, err := s.Select(context.Background(), broker.RightPut)
	if err != nil {
		t.Fatalf("Select put: %v", err)
	}
	if put.Contract.Strike != 448 {
		t.Errorf("put delta pick = %v, expected 448 (delta -0.29)", put.Contract.Strike)
	}
}

func TestSelectByDeltaTieResolvesToFirstInScanOrder(t *testing.T) {
	mk := func(strike float64) string {
		return broker.Contract{Symbol: "SPY", Expiry: "2026-08-28", Strike: strike, Right: broker.RightCall}.Key()
	}
	data := &fakeChainData{
		quote: &broker.UnderlyingQuote{Symbol: "SPY", Last: 450},
		chain: testChain(),
		tickers: map[string]broker.Ticker{
			// Equidistant from 0.30 on both sides.
			mk(450): ticker(3.00, 3.10, 0.35),
			mk(451): ticker(2.50, 2.60, 0.25),
		},
	}
	cfg := config.ContractsConfig{
		StrikeOffset:  3,
		ExpiryOffset:  0,
		SelectionMode: config.SelectionDelta,
		TargetDelta:   0.30,
	}
	s := newTestSelector(data, cfg)

	sel, err := s.Select(context.Background(), broker.RightCall)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Contract.Strike != 450 {
		t.Errorf("tie should resolve to the first in scan order, got %v", sel.Contract.Strike)
	}
}

func TestSelectByDeltaSkipsMissingDeltas(t *testing.T) {
	mk := func(strike float64) string {
		return broker.Contract{Symbol: "SPY", Expiry: "2026-08-28", Strike: strike, Right: broker.RightCall}.Key()
	}
	data := &fakeChainData{
		quote: &broker.UnderlyingQuote{Symbol: "SPY", Last: 450},
		chain: testChain(),
		tickers: map[string]broker.Ticker{
			mk(450): {Bid: 3.00, Ask: 3.10, Last: 3.05, Delta: math.NaN()},
			mk(451): ticker(2.50, 2.60, 0.44),
		},
	}
	cfg := config.ContractsConfig{
		StrikeOffset:  3,
		ExpiryOffset:  0,
		SelectionMode: config.SelectionDelta,
		TargetDelta:   0.50,
	}
	s := newTestSelector(data, cfg)

	sel, err := s.Select(context.Background(), broker.RightCall)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Contract.Strike != 451 {
		t.Errorf("NaN deltas must be skipped, got %v", sel.Contract.Strike)
	}
}
