package equipment

import (
	"sync"

	"github.com/mymatsubara/valence/internal/game/inventory"
)

// Change is one entry of an equipment diff: a slot and its current content.
// Item is nil when the slot is empty; the entry then tells observers to clear
// whatever they show in that slot.
type Change struct {
	Slot Slot
	Item *inventory.ItemStack
}

// State is the equipment of a single entity: six slots and a mask of slots
// modified since the last broadcast.
//
// All methods are safe for concurrent use. TakeChanges reads and clears the
// dirty mask in one critical section, so a mutation racing with the broadcast
// is either part of the taken diff or stays dirty for the next tick.
type State struct {
	mu      sync.Mutex
	slots   [SlotCount]*inventory.ItemStack
	dirty   uint8
	version uint64
}

// NewState returns an empty State with no pending changes.
func NewState() *State {
	return &State{}
}

// Set installs a copy of item into slot, replacing any existing content, and
// marks slot dirty. Setting the value a slot already holds still marks it.
//
// Precondition: slot.Valid().
func (s *State) Set(item inventory.ItemStack, slot Slot) {
	held := item.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = &held
	s.touch(slot.mask())
}

// Remove empties slot and returns its previous content.
//
// The slot is marked dirty even when it was already empty, so observers get
// an explicit empty entry for it on the next broadcast.
//
// Precondition: slot.Valid().
// Postcondition: Get(slot) reports empty; returns (previous, true) if the slot
// was occupied, (zero, false) otherwise.
func (s *State) Remove(slot Slot) (inventory.ItemStack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.slots[slot]
	s.slots[slot] = nil
	s.touch(slot.mask())
	if prev == nil {
		return inventory.ItemStack{}, false
	}
	return *prev, true
}

// Clear empties every occupied slot and marks each of them dirty. Slots that
// were already empty are left untouched.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var marked uint8
	for i, item := range s.slots {
		if item == nil {
			continue
		}
		s.slots[i] = nil
		marked |= Slot(i).mask()
	}
	if marked != 0 {
		s.touch(marked)
	}
}

// Get returns a copy of the item in slot.
//
// Precondition: slot.Valid().
func (s *State) Get(slot Slot) (inventory.ItemStack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.slots[slot]
	if item == nil {
		return inventory.ItemStack{}, false
	}
	return item.Clone(), true
}

// IsEmpty reports whether no slot is occupied, regardless of pending changes.
func (s *State) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.slots {
		if item != nil {
			return false
		}
	}
	return true
}

// HasPendingChanges reports whether any slot changed since the last ClearDirty.
func (s *State) HasPendingChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty != 0
}

// DirtyMask returns the raw dirty bitmask (bit i set means slot i is dirty).
// It is a diagnostic accessor for tests and debugging; synchronization reads
// pending slots through TakeChanges.
func (s *State) DirtyMask() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Version returns a counter incremented by every mutation. Hosts compare it
// against the last value they observed to detect touched entities.
func (s *State) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// DrainChanges returns one Change per dirty slot, in slot-code order, carrying
// the slot's current content. It does not clear the dirty mask.
//
// Postcondition: len(result) equals the number of dirty bits; returns nil
// when nothing is pending.
func (s *State) DrainChanges() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changesLocked()
}

// ClearDirty resets the dirty mask. Call it only after the result of
// DrainChanges has been handed off, otherwise those changes are lost.
func (s *State) ClearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = 0
}

// TakeChanges is DrainChanges followed by ClearDirty under one lock.
//
// Postcondition: HasPendingChanges() is false until the next mutation.
func (s *State) TakeChanges() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	changes := s.changesLocked()
	s.dirty = 0
	return changes
}

// Snapshot returns every occupied slot in slot-code order, without touching
// the dirty mask. It is the full state sent when an entity enters a view.
func (s *State) Snapshot() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Change
	for i, item := range s.slots {
		if item == nil {
			continue
		}
		held := item.Clone()
		out = append(out, Change{Slot: Slot(i), Item: &held})
	}
	return out
}

func (s *State) changesLocked() []Change {
	if s.dirty == 0 {
		return nil
	}
	out := make([]Change, 0, SlotCount)
	for _, slot := range AllSlots {
		if s.dirty&slot.mask() == 0 {
			continue
		}
		c := Change{Slot: slot}
		if item := s.slots[slot]; item != nil {
			held := item.Clone()
			c.Item = &held
		}
		out = append(out, c)
	}
	return out
}

func (s *State) touch(bits uint8) {
	s.dirty |= bits
	s.version++
}
