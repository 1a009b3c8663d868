package order

// Status represents order lifecycle.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusExecuted  Status = "EXECUTED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusCancelled, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExecuted, StatusCancelled, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

type transition struct {
	from Status
	to   Status
}

// ACTIVE is the only source state: every terminal status is reachable from
// it and nothing is reachable from a terminal status. ACTIVE -> ACTIVE
// covers retry bookkeeping (counter increment without a state change).
var legalTransitions = map[transition]bool{
	{StatusActive, StatusActive}:    true,
	{StatusActive, StatusExecuted}:  true,
	{StatusActive, StatusCancelled}: true,
	{StatusActive, StatusFailed}:    true,
	{StatusActive, StatusExpired}:   true,
}

// CanTransition reports whether from -> to is a legal status change.
// Every store write is guarded by this check.
func CanTransition(from, to Status) bool {
	return legalTransitions[transition{from: from, to: to}]
}
