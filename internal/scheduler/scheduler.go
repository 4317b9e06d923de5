// Package scheduler implements the priority-ordered real/virtual channel
// scheduler described in spec.md §4.6: a global priority list of active
// channels, caps on real-backed and virtual-only channels, eviction on
// Play when slots are exhausted, and per-frame devirtualization. The
// list is a slice kept in ascending priority order; channels that are
// not playing are not pooled in free-lists.
package scheduler

import (
	"sort"
	"sync"

	"github.com/amplitude-audio/amplitude-go/internal/channel"
)

// entry is one node in the scheduler's priority-ordered list.
type entry struct {
	ch       *channel.Channel
	priority float64

	real        bool
	layerHandle uint32

	// virtualCursor tracks playback position while virtual so a channel
	// that devirtualizes can re-prime its layer at the right point
	// (spec.md §4.6: "newly real channels have their layer re-primed with
	// the correct cursor from their virtual tracking").
	virtualCursor int64
}

// AllocFunc asks the layer table for a real slot for the given channel.
// The scheduler never dereferences the returned handle itself — callers
// resolve it back to a *layer.Slot via layer.Table.Slot when they need
// to touch the layer (e.g. to re-prime its cursor after devirtualizing).
type AllocFunc func(priority float64) (handle uint32, ok bool)

// DemoteFunc releases a real layer reclaimed from ch by an admission-time
// swap in Play: ch keeps its channel state and drops to virtual tracking,
// but the layer backing it is freed back to the caller's layer table.
type DemoteFunc func(ch *channel.Channel, handle uint32)

// Scheduler owns the priority list and the real/virtual channel cap. It
// does not own the layer.Table itself (the mixer does); it only decides
// which channels are entitled to a real slot.
type Scheduler struct {
	mu sync.Mutex

	activeChannels  int // configured cap on real (layer-backed) channels.
	virtualChannels int // configured cap on virtual-only channels.

	entries []*entry // priority-ordered, ascending (head = lowest priority).

	realCount int
}

// New creates a scheduler honoring the configured real/virtual channel
// caps (spec.md §6: mixer.virtual_channels, mixer.active_channels).
func New(activeChannels, virtualChannels int) *Scheduler {
	return &Scheduler{
		activeChannels:  activeChannels,
		virtualChannels: virtualChannels,
	}
}

// insertSorted inserts e into s.entries keeping ascending priority order,
// matching spec.md §8's "priority list is non-decreasing from head to
// tail" invariant.
func (s *Scheduler) insertSorted(e *entry) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].priority >= e.priority
	})
	s.entries = append(s.entries, nil)
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

// lowestRealLocked returns the real entry with the smallest priority, or
// nil if no entry is real. s.entries is sorted ascending overall but a
// virtual entry can sit below a real one, so this is a linear scan
// rather than s.entries[0].
func (s *Scheduler) lowestRealLocked() *entry {
	var lowest *entry
	for _, e := range s.entries {
		if !e.real {
			continue
		}
		if lowest == nil || e.priority < lowest.priority {
			lowest = e
		}
	}
	return lowest
}

func (s *Scheduler) remove(e *entry) {
	for i, cur := range s.entries {
		if cur == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Play admits ch into the scheduler at the given priority. If a real slot
// is available (under activeChannels), alloc is invoked to obtain a
// layer and the channel is marked real. Otherwise, if every currently
// real entry is strictly lower priority than ch, the lowest-priority real
// entry is demoted to virtual (via demote) and its slot handed to ch --
// the same swap Devirtualize performs on a freed slot, applied here at
// admission so a higher-priority newcomer always wins a real slot
// regardless of arrival order (spec.md §4.6, §8 scenario 2: "the
// scheduler's job is to virtualize low-priority channels," not merely
// the first ones to exhaust the real cap). Failing that, if a virtual
// slot is available (under virtualChannels, counting reals too), the
// channel is tracked virtual; otherwise the lowest-priority active entry
// is evicted entirely and its slot reassigned only if ch's priority is
// strictly greater. Returns false (Play fails, no state changes) when
// neither a slot nor a valid eviction exists.
func (s *Scheduler) Play(ch *channel.Channel, priority float64, alloc AllocFunc, demote DemoteFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{ch: ch, priority: priority}

	if s.realCount < s.activeChannels {
		if handle, ok := alloc(priority); ok {
			e.real = true
			e.layerHandle = handle
			s.realCount++
			s.insertSorted(e)
			return true
		}
	}

	// A demotion swap keeps the victim in the list (now virtual) while
	// adding the newcomer, so it only applies when there's headroom for
	// one more tracked entry; otherwise fall through to full eviction.
	// realCount itself doesn't change on a successful swap: one real
	// channel leaves, one takes its place.
	if s.activeChannels > 0 && s.realCount >= s.activeChannels && len(s.entries) < s.virtualChannels+s.activeChannels {
		if victim := s.lowestRealLocked(); victim != nil && victim.priority < priority {
			// Free the victim's slot before allocating the newcomer's, so
			// this also works against a caller whose real capacity is
			// allocated exactly to activeChannels.
			if demote != nil {
				demote(victim.ch, victim.layerHandle)
			}
			if handle, ok := alloc(priority); ok {
				victim.real = false
				victim.layerHandle = 0
				e.real = true
				e.layerHandle = handle
				s.insertSorted(e)
				return true
			}
			if demote != nil {
				// The victim's slot really was freed above; reflect that
				// even though the newcomer didn't get a real slot after all.
				victim.real = false
				victim.layerHandle = 0
				s.realCount--
			}
		}
	}

	if len(s.entries) < s.virtualChannels+s.activeChannels {
		s.insertSorted(e)
		return true
	}

	// Out of both real and virtual slots: try evicting the lowest
	// priority entry, but only if strictly lower than the newcomer.
	if len(s.entries) == 0 || s.entries[0].priority >= priority {
		return false
	}
	victim := s.entries[0]
	s.remove(victim)
	if victim.real {
		s.realCount--
	}
	victim.ch.Stop(0, 0)

	if s.realCount < s.activeChannels {
		if handle, ok := alloc(priority); ok {
			e.real = true
			e.layerHandle = handle
			s.realCount++
		}
	}
	s.insertSorted(e)
	return true
}

// Remove drops ch from the scheduler entirely (e.g. once its channel
// reaches Stopped and its layer has been freed by the mixer's Command
// Queue).
func (s *Scheduler) Remove(ch *channel.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ch == ch {
			s.remove(e)
			if e.real {
				s.realCount--
			}
			return
		}
	}
}

// SetPriority updates ch's priority and re-sorts the list (spec.md §4.6:
// "the priority list is re-sorted when priorities change (e.g., RTPC
// update)").
func (s *Scheduler) SetPriority(ch *channel.Channel, priority float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ch == ch {
			s.remove(e)
			e.priority = priority
			s.insertSorted(e)
			return
		}
	}
}

// RealCount returns the number of channels currently backed by a layer.
func (s *Scheduler) RealCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realCount
}

// Priorities returns the current priority list head-to-tail, for testing
// the non-decreasing invariant and for devirtualization scans.
func (s *Scheduler) Priorities() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.priority
	}
	return out
}

// IsReal reports whether ch currently holds a real (layer-backed) slot.
func (s *Scheduler) IsReal(ch *channel.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ch == ch {
			return e.real
		}
	}
	return false
}

// Devirtualize scans virtual channels from highest to lowest priority
// and promotes as many as fit within the real-channel cap, calling alloc
// to obtain a layer for each. It also demotes nothing: a real channel is
// only ever displaced by a strictly-higher-priority Play eviction, never
// by devirtualization itself (spec.md §4.6: devirtualization only fills
// slots "freed", it does not contest existing real channels for them).
func (s *Scheduler) Devirtualize(alloc AllocFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Highest priority first: iterate entries tail-to-head.
	for i := len(s.entries) - 1; i >= 0 && s.realCount < s.activeChannels; i-- {
		e := s.entries[i]
		if e.real {
			continue
		}
		handle, ok := alloc(e.priority)
		if !ok {
			continue
		}
		e.real = true
		e.layerHandle = handle
		s.realCount++
	}
}

// TrackVirtualCursor records playback progress for a virtual channel so
// a future devirtualization can re-prime its layer's cursor.
func (s *Scheduler) TrackVirtualCursor(ch *channel.Channel, cursor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ch == ch {
			e.virtualCursor = cursor
			return
		}
	}
}

// VirtualCursor returns the last tracked cursor for ch, used by the
// caller's alloc callback to re-prime a newly real layer.
func (s *Scheduler) VirtualCursor(ch *channel.Channel) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ch == ch {
			return e.virtualCursor
		}
	}
	return 0
}
