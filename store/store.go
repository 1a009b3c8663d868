// Package store provides durable CRUD over order records with
// compare-and-swap status transitions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"trigger-engine-go/order"
)

var (
	// ErrNotFound is returned when no order exists for the given ID.
	ErrNotFound = errors.New("order not found")
	// ErrConflict is returned when the order's current status does not
	// match the expected prior status of a transition.
	ErrConflict = errors.New("status conflict")
	// ErrInvalidTransition is returned before any write when the
	// requested status change is not in the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Mutation carries the fields a transition may set. Nil pointers leave the
// stored value untouched. Status is mandatory; ACTIVE -> ACTIVE is the
// retry-increment case.
type Mutation struct {
	Status         order.Status
	RetryCount     *int
	FailureReason  *string
	ExecutedAt     *time.Time
	ExecutedPrice  *decimal.Decimal
	ExecutedAmount *decimal.Decimal
	TransactionRef *string
}

// OrderStore is the engine's only shared mutable resource. Transition must
// be a single atomic guarded write so a duplicate or retried call cannot
// touch a terminal order.
type OrderStore interface {
	Create(ctx context.Context, o *order.Order) error
	Get(ctx context.Context, id string) (*order.Order, error)

	// ListEligible returns ACTIVE orders that are unexpired at now and
	// under their retry budget, oldest first. Trigger evaluation is the
	// caller's job.
	ListEligible(ctx context.Context, now time.Time) ([]*order.Order, error)

	// ListActive returns all ACTIVE orders oldest first, including
	// expired ones awaiting the sweep.
	ListActive(ctx context.Context) ([]*order.Order, error)

	// Transition applies mut iff the order's current status equals
	// expected. Returns ErrConflict on a status mismatch and
	// ErrInvalidTransition when expected -> mut.Status is illegal.
	Transition(ctx context.Context, id string, expected order.Status, mut Mutation) error

	// Ping verifies backend connectivity; used by the health loop.
	Ping(ctx context.Context) error
}
