package order

import "errors"

var (
	ErrMissingOwner    = errors.New("owner is required")
	ErrBadDirection    = errors.New("unsupported direction")
	ErrBadTokenPair    = errors.New("from/to tokens must be distinct and non-empty")
	ErrBadAmount       = errors.New("amount must be > 0")
	ErrBadTriggerPrice = errors.New("trigger price must be > 0")
	ErrBadCondition    = errors.New("unsupported trigger condition")
	ErrBadSlippage     = errors.New("slippage out of bounds")
	ErrBadExpiry       = errors.New("expiry must be in the future")
)
