package order

import "github.com/shopspring/decimal"

// ShouldExecute reports whether the order's condition holds at price:
// ABOVE fires at price >= trigger, BELOW at price <= trigger. Pure; the
// execution path filters on this alone.
func ShouldExecute(o *Order, price decimal.Decimal) bool {
	switch o.TriggerCondition {
	case ConditionAbove:
		return price.GreaterThanOrEqual(o.TriggerPrice)
	case ConditionBelow:
		return price.LessThanOrEqual(o.TriggerPrice)
	default:
		// Unknown conditions are rejected at creation; never fire one.
		return false
	}
}

// IsPreTrigger reports whether the order has not yet crossed its trigger
// at price. Strict complement of ShouldExecute; used by diagnostics only,
// never by the execution filter.
func IsPreTrigger(o *Order, price decimal.Decimal) bool {
	return !ShouldExecute(o, price)
}
