package engine

import (
	"fmt"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// LifecycleState is the per (TrackedMarket, side) trading state.
type LifecycleState string

const (
	StateIdle         LifecycleState = "idle"
	StatePendingEntry LifecycleState = "pending_entry"
	StateOpen         LifecycleState = "open"
	StatePendingExit  LifecycleState = "pending_exit"
	StateClosed       LifecycleState = "closed"
)

// validTransitions is the full transition relation. pending_entry falls
// back to idle on order rejection so the slot stays re-triable; closed is
// terminal for the slot instance.
var validTransitions = map[LifecycleState][]LifecycleState{
	StateIdle:         {StatePendingEntry},
	StatePendingEntry: {StateOpen, StateIdle},
	StateOpen:         {StatePendingExit},
	StatePendingExit:  {StateClosed},
	StateClosed:       {},
}

// CanTransition reports whether from → to is a legal lifecycle move.
func CanTransition(from, to LifecycleState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// slotKey addresses one trading slot.
type slotKey struct {
	trackedMarketID string
	side            domain.PositionSide
}

// slot is the engine-owned state for one (TrackedMarket, side) pair. A
// slot holds at most one non-closed position at any time; that is the
// core concurrency invariant, enforced by per-market worker serialization
// plus the transition relation above.
type slot struct {
	key      slotKey
	state    LifecycleState
	position *domain.Position
	// entryOrderID / exitOrderID identify the in-flight order while in a
	// pending state.
	entryOrderID string
	exitOrderID  string
}

func newSlot(key slotKey) *slot {
	return &slot{key: key, state: StateIdle}
}

// transition moves the slot to the target state, rejecting illegal moves.
func (s *slot) transition(to LifecycleState) error {
	if !CanTransition(s.state, to) {
		return fmt.Errorf("engine: illegal transition %s -> %s for %s/%s",
			s.state, to, s.key.trackedMarketID, s.key.side)
	}
	s.state = to
	return nil
}

// active reports whether the slot currently owns a non-closed position.
func (s *slot) active() bool {
	return s.state == StatePendingEntry || s.state == StateOpen || s.state == StatePendingExit
}
