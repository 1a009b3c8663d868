// Package oracle abstracts the price source for the tracked asset.
package oracle

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoPrice means the oracle has not produced a sample yet.
	ErrNoPrice = errors.New("no price available")
	// ErrStalePrice means the last sample is older than the allowed age.
	ErrStalePrice = errors.New("price sample is stale")
	// ErrInvalidPrice means the source produced a non-positive price.
	ErrInvalidPrice = errors.New("invalid price")
)

// PriceOracle returns the current scalar price of the tracked pair.
// Implementations may be stale or unavailable; callers must treat any
// error as "skip this cycle".
type PriceOracle interface {
	Sample(ctx context.Context) (decimal.Decimal, error)
}

// Fixed always returns the same price. Used by tests and dry runs.
type Fixed struct {
	Price decimal.Decimal
}

func (f Fixed) Sample(context.Context) (decimal.Decimal, error) {
	if !f.Price.IsPositive() {
		return decimal.Zero, ErrInvalidPrice
	}
	return f.Price, nil
}

// Func adapts a closure, letting tests script price sequences or failures.
type Func func(ctx context.Context) (decimal.Decimal, error)

func (f Func) Sample(ctx context.Context) (decimal.Decimal, error) { return f(ctx) }
