// Package inventory provides item stacks and the item kind catalog used by
// equipment synchronization.
package inventory

import (
	"bytes"
	"fmt"
)

// ItemKind is the numeric item identifier written to the wire.
type ItemKind int32

// MaxStackCount is the largest stack count representable on the wire.
const MaxStackCount = 127

// ItemStack is an opaque stackable item: a kind, a count, and optional extra
// data carried verbatim to clients.
type ItemStack struct {
	// Kind is the protocol item identifier.
	Kind ItemKind
	// Count is the number of items in the stack.
	Count int8
	// Extra is opaque item data (e.g. enchantment glint, dye colour). nil when absent.
	Extra []byte
}

// NewItemStack returns a stack of count items of kind with no extra data.
//
// Precondition: count must be in [1, MaxStackCount].
func NewItemStack(kind ItemKind, count int8) ItemStack {
	return ItemStack{Kind: kind, Count: count}
}

// Clone returns a deep copy of s. The returned stack shares no memory with s.
func (s ItemStack) Clone() ItemStack {
	out := s
	if s.Extra != nil {
		out.Extra = append([]byte(nil), s.Extra...)
	}
	return out
}

// Equal reports whether s and o describe the same item, extra data included.
// A nil and an empty Extra are considered equal.
func (s ItemStack) Equal(o ItemStack) bool {
	return s.Kind == o.Kind && s.Count == o.Count && bytes.Equal(s.Extra, o.Extra)
}

// Validate checks that the stack can be encoded.
//
// Postcondition: returns nil iff Count is in [1, MaxStackCount] and Kind is non-negative.
func (s ItemStack) Validate() error {
	if s.Kind < 0 {
		return fmt.Errorf("inventory: item kind must be >= 0, got %d", s.Kind)
	}
	if s.Count < 1 {
		return fmt.Errorf("inventory: stack count must be in [1, %d], got %d", MaxStackCount, s.Count)
	}
	return nil
}

// String renders the stack for logs.
func (s ItemStack) String() string {
	if len(s.Extra) > 0 {
		return fmt.Sprintf("%dx#%d(+%dB)", s.Count, s.Kind, len(s.Extra))
	}
	return fmt.Sprintf("%dx#%d", s.Count, s.Kind)
}
