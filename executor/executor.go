// Package executor defines the on-chain swap boundary. Signing, key
// custody and RPC details live behind this interface.
package executor

import (
	"context"

	"github.com/shopspring/decimal"

	"trigger-engine-go/order"
)

// Result is the outcome of one swap attempt. A non-nil error from Execute
// and Success=false are both recorded on the order as a failed attempt;
// the error form additionally means the outcome is unknown at the boundary
// (timeout, transport failure).
type Result struct {
	Success        bool
	RealizedAmount decimal.Decimal
	PriceAtFill    decimal.Decimal
	Reference      string
	Reason         string
}

// SwapExecutor attempts the exchange described by a validated order.
type SwapExecutor interface {
	Execute(ctx context.Context, o *order.Order) (Result, error)
}
