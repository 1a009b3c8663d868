package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trigger-engine-go/order"
)

// Postgres is the durable OrderStore. Status transitions are single
// guarded UPDATEs (WHERE status = expected) so concurrent or replayed
// writers cannot move an order out of a terminal state.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects and migrates the orders table.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&order.Order{}); err != nil {
		return nil, fmt.Errorf("migrate orders: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing connection (tests, pooled setups).
func NewPostgres(db *gorm.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Create(ctx context.Context, o *order.Order) error {
	return p.db.WithContext(ctx).Create(o).Error
}

func (p *Postgres) Get(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	err := p.db.WithContext(ctx).First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *Postgres) ListEligible(ctx context.Context, now time.Time) ([]*order.Order, error) {
	var out []*order.Order
	err := p.db.WithContext(ctx).
		Where("status = ? AND retry_count < max_retries AND (expires_at IS NULL OR expires_at > ?)", order.StatusActive, now).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (p *Postgres) ListActive(ctx context.Context) ([]*order.Order, error) {
	var out []*order.Order
	err := p.db.WithContext(ctx).
		Where("status = ?", order.StatusActive).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (p *Postgres) Transition(ctx context.Context, id string, expected order.Status, mut Mutation) error {
	if !order.CanTransition(expected, mut.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, mut.Status)
	}
	fields := map[string]interface{}{
		"status":     mut.Status,
		"updated_at": time.Now().UTC(),
	}
	if mut.RetryCount != nil {
		fields["retry_count"] = *mut.RetryCount
	}
	if mut.FailureReason != nil {
		fields["failure_reason"] = *mut.FailureReason
	}
	if mut.ExecutedAt != nil {
		fields["executed_at"] = *mut.ExecutedAt
	}
	if mut.ExecutedPrice != nil {
		fields["executed_price"] = *mut.ExecutedPrice
	}
	if mut.ExecutedAmount != nil {
		fields["executed_amount"] = *mut.ExecutedAmount
	}
	if mut.TransactionRef != nil {
		fields["transaction_ref"] = *mut.TransactionRef
	}

	res := p.db.WithContext(ctx).Model(&order.Order{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing row from a status mismatch.
		if _, err := p.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: order %s not in status %s", ErrConflict, id, expected)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
