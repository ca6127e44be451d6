// Package signal holds the latest indicator reading shared by the periodic
// tasks. One task refreshes it; everything else reads.
package signal

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/nopeig/nopebot/internal/quote"
)

// Reading is one observed indicator value with its underlying reference price.
type Reading struct {
	Value           float64
	UnderlyingPrice float64
	ObservedAt      time.Time
}

// Store keeps the most recent reading. Last-write-wins, no history.
type Store struct {
	mu       sync.RWMutex
	current  Reading
	provider quote.Provider
	logger   *log.Logger
}

// NewStore creates an empty store backed by the given provider.
func NewStore(provider quote.Provider, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "signal: ", log.LstdFlags)
	}
	return &Store{provider: provider, logger: logger}
}

// Read returns the current reading. Never blocks on the provider.
func (s *Store) Read() Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Refresh fetches a new reading and overwrites the stored one. On fetch
// failure the previous value stays readable; the error is returned so the
// scheduler can log it.
func (s *Store) Refresh(ctx context.Context) error {
	value, price, err := s.provider.GetSignal(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = Reading{
		Value:           value,
		UnderlyingPrice: price,
		ObservedAt:      time.Now().UTC(),
	}
	s.mu.Unlock()

	s.logger.Printf("Signal refreshed: value=%.2f underlying=%.2f", value, price)
	return nil
}
