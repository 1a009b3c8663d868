package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trigger-engine-go/order"
)

// Memory is a map-backed OrderStore guarded by a RWMutex. Used by tests,
// the simulation CLI, and single-process deployments without Postgres.
type Memory struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{orders: make(map[string]*order.Order)}
}

func (m *Memory) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *Memory) ListEligible(_ context.Context, now time.Time) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*order.Order
	for _, o := range m.orders {
		if o.Status != order.StatusActive || o.Expired(now) || o.RetriesExhausted() {
			continue
		}
		out = append(out, o.Clone())
	}
	sortByCreation(out)
	return out, nil
}

func (m *Memory) ListActive(_ context.Context) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*order.Order
	for _, o := range m.orders {
		if o.Status != order.StatusActive {
			continue
		}
		out = append(out, o.Clone())
	}
	sortByCreation(out)
	return out, nil
}

func (m *Memory) Transition(_ context.Context, id string, expected order.Status, mut Mutation) error {
	if !order.CanTransition(expected, mut.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, mut.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != expected {
		return fmt.Errorf("%w: order %s is %s, expected %s", ErrConflict, id, o.Status, expected)
	}
	apply(o, mut)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func apply(o *order.Order, mut Mutation) {
	o.Status = mut.Status
	if mut.RetryCount != nil {
		o.RetryCount = *mut.RetryCount
	}
	if mut.FailureReason != nil {
		o.FailureReason = *mut.FailureReason
	}
	if mut.ExecutedAt != nil {
		t := *mut.ExecutedAt
		o.ExecutedAt = &t
	}
	if mut.ExecutedPrice != nil {
		o.ExecutedPrice = *mut.ExecutedPrice
	}
	if mut.ExecutedAmount != nil {
		o.ExecutedAmount = *mut.ExecutedAmount
	}
	if mut.TransactionRef != nil {
		o.TransactionRef = *mut.TransactionRef
	}
	o.UpdatedAt = time.Now().UTC()
}

func sortByCreation(orders []*order.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}
