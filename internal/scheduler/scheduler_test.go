package scheduler

import (
	"testing"

	"github.com/amplitude-audio/amplitude-go/internal/channel"
)

// unlimitedAlloc simulates a layer table with no real capacity limit, for
// tests that only care about priority ordering.
func unlimitedAlloc() AllocFunc {
	next := uint32(1)
	return func(priority float64) (uint32, bool) {
		h := next
		next++
		return h, true
	}
}

// boundedAlloc simulates a layer table with a fixed number of free real
// slots, refusing once exhausted.
func boundedAlloc(capacity int) AllocFunc {
	used := 0
	next := uint32(1)
	return func(priority float64) (uint32, bool) {
		if used >= capacity {
			return 0, false
		}
		used++
		h := next
		next++
		return h, true
	}
}

// boundedAllocWithFree is boundedAlloc plus a DemoteFunc that releases a
// slot back to the shared capacity, for tests exercising Play's
// admission-time demotion swap.
func boundedAllocWithFree(capacity int) (AllocFunc, DemoteFunc) {
	used := 0
	next := uint32(1)
	alloc := func(priority float64) (uint32, bool) {
		if used >= capacity {
			return 0, false
		}
		used++
		h := next
		next++
		return h, true
	}
	demote := func(ch *channel.Channel, handle uint32) {
		if used > 0 {
			used--
		}
	}
	return alloc, demote
}

func TestPriorityOrderNonDecreasing(t *testing.T) {
	s := New(10, 10)
	alloc := unlimitedAlloc()

	priorities := []float64{0.5, 0.1, 0.9, 0.3}
	for i, p := range priorities {
		ch := channel.New(uint32(i))
		if !s.Play(ch, p, alloc, nil) {
			t.Fatalf("play %d should succeed", i)
		}
	}
	got := s.Priorities()
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("priority list not non-decreasing: %v", got)
		}
	}
}

func TestVirtualizationPromotesHighestPriority(t *testing.T) {
	// Scenario 2 (spec.md §8): 1 active + 3 virtual, three priorities,
	// played lowest-priority first -- Play's admission-time demotion swap
	// must still seat the highest priority channel in the one real slot,
	// regardless of arrival order.
	s := New(1, 3)
	alloc, demote := boundedAllocWithFree(1)

	chLow := channel.New(1)
	chMid := channel.New(2)
	chHigh := channel.New(3)

	s.Play(chLow, 0.1, alloc, demote)
	s.Play(chMid, 0.5, alloc, demote)
	s.Play(chHigh, 0.9, alloc, demote)

	if !s.IsReal(chHigh) {
		t.Fatal("highest priority channel should be real")
	}
	if s.IsReal(chLow) || s.IsReal(chMid) {
		t.Fatal("lower priority channels should be virtual when only 1 active slot exists")
	}

	s.Remove(chHigh)
	s.Devirtualize(boundedAlloc(1))
	if !s.IsReal(chMid) {
		t.Fatal("next-highest priority channel should become real after devirtualization")
	}
}

func TestPriorityRejectionLeavesExistingChannelUntouched(t *testing.T) {
	// Scenario 3 (spec.md §8): active_channels=1, no virtual headroom.
	s := New(1, 0)
	alloc := boundedAlloc(1)

	chHigh := channel.New(1)
	chHigh.Play(1.0, 0, 0)
	if !s.Play(chHigh, 0.9, alloc, nil) {
		t.Fatal("first play should succeed")
	}

	chLow := channel.New(2)
	if s.Play(chLow, 0.1, alloc, nil) {
		t.Fatal("lower priority play should be rejected when no slot is free")
	}
	if !s.IsReal(chHigh) {
		t.Fatal("existing higher priority channel should remain real")
	}
	if s.RealCount() != 1 {
		t.Fatalf("expected exactly 1 real channel, got %d", s.RealCount())
	}
	if chHigh.State() == channel.Stopped {
		t.Fatal("existing playing channel must continue, not be stopped by a rejected play")
	}
}

func TestEvictionReplacesLowerPriority(t *testing.T) {
	s := New(1, 0)
	chLow := channel.New(1)
	chLow.Play(1.0, 0, 0)
	s.Play(chLow, 0.1, boundedAlloc(1), nil)

	chHigh := channel.New(2)
	chHigh.Play(1.0, 0, 0)
	if !s.Play(chHigh, 0.9, boundedAlloc(1), nil) {
		t.Fatal("strictly higher priority play should evict and succeed")
	}
	if !s.IsReal(chHigh) {
		t.Fatal("new channel should now hold the real slot")
	}
	if s.RealCount() != 1 {
		t.Fatalf("expected real count to stay at cap 1, got %d", s.RealCount())
	}
	if chLow.State() != channel.Stopped {
		t.Fatal("evicted lower priority channel should be stopped")
	}
}

func TestVirtualRealCapNeverExceeded(t *testing.T) {
	s := New(2, 2)
	alloc := boundedAlloc(2)
	for i := 0; i < 4; i++ {
		ch := channel.New(uint32(i))
		s.Play(ch, float64(i)/10, alloc, nil)
	}
	if s.RealCount() > 2 {
		t.Fatalf("real count %d exceeds configured active_channels cap of 2", s.RealCount())
	}
}
