package services

import (
	"fmt"
	"slices"
	"strings"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
)

// SkipAheadPolicy decides what happens to a forward transition that skips a lifecycle step.
type SkipAheadPolicy string

const (
	// SkipAheadReject refuses skip-ahead transitions with ErrStateConflict.
	SkipAheadReject SkipAheadPolicy = "reject"
	// SkipAheadWarn allows skip-ahead transitions; the caller logs a warning.
	SkipAheadWarn SkipAheadPolicy = "warn"
)

// ParseSkipAheadPolicy maps a configuration value onto a policy; empty means reject.
func ParseSkipAheadPolicy(value string) (SkipAheadPolicy, error) {
	switch SkipAheadPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", SkipAheadReject:
		return SkipAheadReject, nil
	case SkipAheadWarn:
		return SkipAheadWarn, nil
	default:
		return "", fmt.Errorf("unknown skip-ahead policy %q", value)
	}
}

// TransitionOrigin identifies which path requested a transition.
type TransitionOrigin string

const (
	OriginPayment   TransitionOrigin = "payment"
	OriginShop      TransitionOrigin = "shop"
	OriginRequester TransitionOrigin = "requester"
	OriginPickup    TransitionOrigin = "pickup"
)

// TransitionTable maps a source status to the targets reachable in one step.
type TransitionTable map[OrderStatus][]OrderStatus

// DefaultTransitionTable returns the print order lifecycle.
func DefaultTransitionTable() TransitionTable {
	return TransitionTable{
		domain.OrderStatusCreated:  {domain.OrderStatusPaid, domain.OrderStatusCancelled},
		domain.OrderStatusPaid:     {domain.OrderStatusPrinting, domain.OrderStatusCancelled},
		domain.OrderStatusPrinting: {domain.OrderStatusReady, domain.OrderStatusCancelled},
		domain.OrderStatusReady:    {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	}
}

// Allows reports whether next is a direct edge from current.
func (t TransitionTable) Allows(current, next OrderStatus) bool {
	return slices.Contains(t[current], next)
}

var lifecycleRank = map[OrderStatus]int{
	domain.OrderStatusCreated:   0,
	domain.OrderStatusPaid:      1,
	domain.OrderStatusPrinting:  2,
	domain.OrderStatusReady:     3,
	domain.OrderStatusCompleted: 4,
}

// OrderStateMachine validates status transitions against the table and skip-ahead policy.
// It holds no order state; the conditional write in the repository is the source of truth.
type OrderStateMachine struct {
	table  TransitionTable
	policy SkipAheadPolicy
}

// NewOrderStateMachine builds a state machine. A nil table uses DefaultTransitionTable.
func NewOrderStateMachine(table TransitionTable, policy SkipAheadPolicy) *OrderStateMachine {
	if table == nil {
		table = DefaultTransitionTable()
	}
	if policy == "" {
		policy = SkipAheadReject
	}
	return &OrderStateMachine{table: table, policy: policy}
}

// Policy returns the configured skip-ahead policy.
func (m *OrderStateMachine) Policy() SkipAheadPolicy { return m.policy }

// Check validates current -> next for origin. skipAhead is true when the request jumps
// forward past an intermediate status, whether or not the policy allowed it.
func (m *OrderStateMachine) Check(current, next OrderStatus, origin TransitionOrigin) (skipAhead bool, err error) {
	if !next.Valid() {
		return false, validationError("unknown target status %q", next)
	}
	if current.IsTerminal() {
		return false, fmt.Errorf("%w: order is %s", ErrStateConflict, current)
	}
	if next == current {
		return false, fmt.Errorf("%w: order is already %s", ErrStateConflict, current)
	}
	if next == domain.OrderStatusPaid && origin != OriginPayment {
		return false, fmt.Errorf("%w: %s can only be set by payment reconciliation", ErrStateConflict, next)
	}
	if next == domain.OrderStatusCancelled {
		return false, nil
	}
	if m.table.Allows(current, next) {
		return false, nil
	}

	from, okFrom := lifecycleRank[current]
	to, okTo := lifecycleRank[next]
	if okFrom && okTo && to > from {
		if m.policy == SkipAheadWarn {
			return true, nil
		}
		return true, fmt.Errorf("%w: cannot skip from %s to %s", ErrStateConflict, current, next)
	}
	return false, fmt.Errorf("%w: cannot move from %s to %s", ErrStateConflict, current, next)
}
