// Package rlimits implements the runtime's linked resource-limit scope
// stack: nested call-depth and tick budgets, with parent-transfer on
// exit. Modeled on the parent-chained context idiom the teacher uses for
// cancellation, adapted from wall-clock deadlines to the logical,
// per-instruction budgets the interpreter consumes.
package rlimits

import "fmt"

// Unbounded marks a scope with no depth or tick ceiling, used by
// call_critical to guarantee a driver callback always runs to
// completion regardless of the caller's remaining budget.
const Unbounded = -1

// Scope is one nested resource-limit frame. A new Scope is pushed by the
// RLIMITS opcode (or by a kfun that needs an unlimited inner scope, such
// as call_critical) and popped when that scope's block exits; any ticks
// left unspent are transferred back to the parent, matching the
// reference implementation's accounting.
type Scope struct {
	parent   *Scope
	maxDepth int
	depth    int
	ticks    int64
}

// Root creates the outermost scope for a new top-level call, with the
// given depth and tick budget. Pass Unbounded for either to mean no
// limit.
func Root(maxDepth int, ticks int64) *Scope {
	return &Scope{maxDepth: maxDepth, ticks: ticks}
}

// Push opens a nested scope. If maxDepth or ticks is Unbounded, the new
// scope inherits no ceiling on that axis (used by call_critical); each
// bounded than Unbounded clamps to the parent's remaining counts, so a
// nested scope can never grant more than its parent had left.
func (s *Scope) Push(maxDepth int, ticks int64) *Scope {
	child := &Scope{parent: s}

	if maxDepth == Unbounded {
		child.maxDepth = Unbounded
	} else if s.maxDepth == Unbounded || maxDepth < s.maxDepth-s.depth {
		child.maxDepth = maxDepth
	} else {
		child.maxDepth = s.maxDepth - s.depth
	}

	if ticks == Unbounded {
		child.ticks = Unbounded
	} else if s.ticks == Unbounded || ticks < s.ticks {
		child.ticks = ticks
	} else {
		child.ticks = s.ticks
	}
	return child
}

// Pop closes this scope, returning to the parent and transferring back
// whatever ticks this scope did not spend. Returns nil if this was the
// root scope.
func (s *Scope) Pop() *Scope {
	if s.parent != nil && s.ticks != Unbounded {
		s.parent.ticks += s.ticks
	}
	return s.parent
}

// EnterCall increments the call-depth counter, returning an error if
// maxDepth would be exceeded. Matches runtime_rlimits' stack-overflow
// guard.
func (s *Scope) EnterCall() error {
	if s.maxDepth != Unbounded && s.depth >= s.maxDepth {
		return fmt.Errorf("rlimits: call depth limit %d exceeded", s.maxDepth)
	}
	s.depth++
	return nil
}

// LeaveCall decrements the call-depth counter.
func (s *Scope) LeaveCall() {
	if s.depth > 0 {
		s.depth--
	}
}

// Tick consumes n ticks from the budget, returning an error (and leaving
// the budget at 0) once fewer than n ticks remain.
func (s *Scope) Tick(n int64) error {
	if s.ticks == Unbounded {
		return nil
	}
	if s.ticks < n {
		s.ticks = 0
		return fmt.Errorf("rlimits: tick budget exhausted")
	}
	s.ticks -= n
	return nil
}

// TicksLeft reports the remaining tick budget, or Unbounded.
func (s *Scope) TicksLeft() int64 {
	return s.ticks
}

// HalveTicks and DoubleTicks bracket an atomic call: HalveTicks removes
// half of the scope's remaining budget before the call and returns the
// amount removed (Unbounded for an unbounded scope), and DoubleTicks adds
// that amount back afterwards, whether the call succeeded or failed,
// capped at the pre-halving value. A failed atomic call is not retried.
func (s *Scope) HalveTicks() int64 {
	if s.ticks == Unbounded {
		return Unbounded
	}
	half := s.ticks / 2
	s.ticks -= half
	return half
}

// DoubleTicks returns previously halved ticks to the budget, capped so
// the scope never exceeds what it would have had without halving.
func (s *Scope) DoubleTicks(amount int64, cap int64) {
	if s.ticks == Unbounded {
		return
	}
	s.ticks += amount
	if cap != Unbounded && s.ticks > cap {
		s.ticks = cap
	}
}

// MaxDepth reports this scope's depth ceiling, or Unbounded.
func (s *Scope) MaxDepth() int {
	return s.maxDepth
}

// Depth reports calls currently entered in this scope.
func (s *Scope) Depth() int {
	return s.depth
}
