package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction tells which side of the pair the owner is entering.
// Informational only; FromToken/ToToken carry the actual assets.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Condition is the comparator between the sampled price and TriggerPrice.
type Condition string

const (
	ConditionAbove Condition = "ABOVE"
	ConditionBelow Condition = "BELOW"
)

// Order is a persisted conditional-swap request. Once Status turns
// terminal no field besides UpdatedAt may change again.
type Order struct {
	ID                 string          `json:"id" gorm:"primaryKey"`
	Owner              string          `json:"owner" gorm:"index"`
	Direction          Direction       `json:"direction"`
	FromToken          string          `json:"from_token"`
	ToToken            string          `json:"to_token"`
	Amount             decimal.Decimal `json:"amount" gorm:"type:numeric(36,18)"`
	TriggerPrice       decimal.Decimal `json:"trigger_price" gorm:"type:numeric(36,18)"`
	TriggerCondition   Condition       `json:"trigger_condition"`
	MaxSlippagePercent decimal.Decimal `json:"max_slippage_percent" gorm:"type:numeric(8,4)"`
	Status             Status          `json:"status" gorm:"index"`
	RetryCount         int             `json:"retry_count"`
	MaxRetries         int             `json:"max_retries"`
	ExpiresAt          time.Time       `json:"expires_at"`
	CreatedAt          time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt          time.Time       `json:"updated_at"`

	// Populated only on successful execution, immutable afterward.
	ExecutedAt     *time.Time      `json:"executed_at,omitempty"`
	ExecutedPrice  decimal.Decimal `json:"executed_price" gorm:"type:numeric(36,18)"`
	ExecutedAmount decimal.Decimal `json:"executed_amount" gorm:"type:numeric(36,18)"`
	TransactionRef string          `json:"transaction_ref"`

	// Last failure cause, overwritten on each failed attempt.
	FailureReason string `json:"failure_reason"`
}

// Limits bounds the tunable fields at creation time.
type Limits struct {
	SlippageMin decimal.Decimal
	SlippageMax decimal.Decimal
	MaxRetries  int
}

// DefaultLimits mirrors the production defaults.
func DefaultLimits() Limits {
	return Limits{
		SlippageMin: decimal.NewFromFloat(0.1),
		SlippageMax: decimal.NewFromFloat(50),
		MaxRetries:  3,
	}
}

// Params carries the caller-supplied fields for a new order. Balance
// coverage of Amount is the caller's concern and checked once, before
// this package is reached.
type Params struct {
	Owner              string
	Direction          Direction
	FromToken          string
	ToToken            string
	Amount             decimal.Decimal
	TriggerPrice       decimal.Decimal
	TriggerCondition   Condition
	MaxSlippagePercent decimal.Decimal
	ExpiresAt          time.Time
}

// New validates p against lim and returns an ACTIVE order with a fresh ID.
// Unsupported condition/direction values are rejected here so the
// evaluator never sees them.
func New(p Params, lim Limits, now time.Time) (*Order, error) {
	if p.Owner == "" {
		return nil, ErrMissingOwner
	}
	if p.Direction != DirectionBuy && p.Direction != DirectionSell {
		return nil, fmt.Errorf("%w: %q", ErrBadDirection, p.Direction)
	}
	if p.FromToken == "" || p.ToToken == "" || p.FromToken == p.ToToken {
		return nil, ErrBadTokenPair
	}
	if !p.Amount.IsPositive() {
		return nil, ErrBadAmount
	}
	if !p.TriggerPrice.IsPositive() {
		return nil, ErrBadTriggerPrice
	}
	if p.TriggerCondition != ConditionAbove && p.TriggerCondition != ConditionBelow {
		return nil, fmt.Errorf("%w: %q", ErrBadCondition, p.TriggerCondition)
	}
	if p.MaxSlippagePercent.LessThan(lim.SlippageMin) || p.MaxSlippagePercent.GreaterThan(lim.SlippageMax) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrBadSlippage, p.MaxSlippagePercent, lim.SlippageMin, lim.SlippageMax)
	}
	if !p.ExpiresAt.After(now) {
		return nil, ErrBadExpiry
	}
	maxRetries := lim.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultLimits().MaxRetries
	}
	return &Order{
		ID:                 uuid.NewString(),
		Owner:              p.Owner,
		Direction:          p.Direction,
		FromToken:          p.FromToken,
		ToToken:            p.ToToken,
		Amount:             p.Amount,
		TriggerPrice:       p.TriggerPrice,
		TriggerCondition:   p.TriggerCondition,
		MaxSlippagePercent: p.MaxSlippagePercent,
		Status:             StatusActive,
		MaxRetries:         maxRetries,
		ExpiresAt:          p.ExpiresAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Expired reports whether the order's deadline has passed at now.
func (o *Order) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !o.ExpiresAt.After(now)
}

// RetriesExhausted reports whether the retry budget is used up.
func (o *Order) RetriesExhausted() bool {
	return o.RetryCount >= o.MaxRetries
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (o *Order) Clone() *Order {
	c := *o
	if o.ExecutedAt != nil {
		t := *o.ExecutedAt
		c.ExecutedAt = &t
	}
	return &c
}
