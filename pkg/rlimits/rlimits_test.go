package rlimits

import "testing"

func TestTickExhaustion(t *testing.T) {
	s := Root(Unbounded, 10)
	if err := s.Tick(5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Tick(10); err == nil {
		t.Fatalf("expected tick exhaustion error")
	}
	if s.TicksLeft() != 0 {
		t.Fatalf("expected ticks clamped to 0, got %d", s.TicksLeft())
	}
}

func TestUnboundedTicksNeverExhaust(t *testing.T) {
	s := Root(Unbounded, Unbounded)
	if err := s.Tick(1_000_000); err != nil {
		t.Fatalf("unexpected error with unbounded ticks: %v", err)
	}
}

func TestDepthLimit(t *testing.T) {
	s := Root(2, Unbounded)
	if err := s.EnterCall(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := s.EnterCall(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := s.EnterCall(); err == nil {
		t.Fatalf("expected depth limit exceeded")
	}
}

func TestPushClampsToParentRemaining(t *testing.T) {
	parent := Root(Unbounded, 100)
	child := parent.Push(Unbounded, 500)
	if child.TicksLeft() != 100 {
		t.Fatalf("expected child ticks clamped to parent's 100, got %d", child.TicksLeft())
	}
}

func TestPopTransfersUnspentTicksBack(t *testing.T) {
	parent := Root(Unbounded, 100)
	child := parent.Push(Unbounded, 50)
	child.Tick(10)
	back := child.Pop()
	if back != parent {
		t.Fatalf("expected Pop to return the parent scope")
	}
	if parent.TicksLeft() != 140 {
		t.Fatalf("expected unspent 40 ticks transferred back (100+40=140), got %d", parent.TicksLeft())
	}
}

func TestUnboundedChildForCallCritical(t *testing.T) {
	parent := Root(5, 10)
	child := parent.Push(Unbounded, Unbounded)
	for i := 0; i < 1000; i++ {
		if err := child.EnterCall(); err != nil {
			t.Fatalf("unexpected depth error in unbounded scope at i=%d: %v", i, err)
		}
	}
	if err := child.Tick(1_000_000); err != nil {
		t.Fatalf("unexpected tick error in unbounded scope: %v", err)
	}
}
