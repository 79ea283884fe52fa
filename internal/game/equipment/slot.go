// Package equipment holds the per-entity cosmetic equipment state and the
// dirty-slot tracking consumed by the per-tick broadcast.
package equipment

import (
	"errors"
	"fmt"
)

// ErrInvalidSlotCode is returned when a slot code received from an external
// source is outside the range of known slots.
var ErrInvalidSlotCode = errors.New("equipment: invalid slot code")

// Slot identifies one of the fixed equipment positions on an entity.
// The numeric value of each Slot is its wire code and must never change.
type Slot uint8

const (
	// MainHand is the main-hand slot (wire code 0).
	MainHand Slot = iota
	// OffHand is the off-hand slot (wire code 1).
	OffHand
	// Boots is the feet slot (wire code 2).
	Boots
	// Leggings is the legs slot (wire code 3).
	Leggings
	// Chestplate is the torso slot (wire code 4).
	Chestplate
	// Helmet is the head slot (wire code 5).
	Helmet
)

// SlotCount is the number of equipment slots.
const SlotCount = 6

// AllSlots lists every slot in wire-code order.
var AllSlots = [SlotCount]Slot{MainHand, OffHand, Boots, Leggings, Chestplate, Helmet}

var slotNames = [SlotCount]string{
	MainHand:   "main_hand",
	OffHand:    "off_hand",
	Boots:      "boots",
	Leggings:   "leggings",
	Chestplate: "chestplate",
	Helmet:     "helmet",
}

// Code returns the wire code of s.
//
// Precondition: s is one of the declared Slot constants.
func (s Slot) Code() int8 {
	return int8(s)
}

// Valid reports whether s is one of the declared Slot constants.
func (s Slot) Valid() bool {
	return s < SlotCount
}

// String returns the slot name used in scripts and logs.
func (s Slot) String() string {
	if !s.Valid() {
		return fmt.Sprintf("slot(%d)", uint8(s))
	}
	return slotNames[s]
}

// SlotFromCode converts a wire code into a Slot.
//
// Postcondition: returns the slot for codes 0..5, or an error wrapping
// ErrInvalidSlotCode for any other value.
func SlotFromCode(code int) (Slot, error) {
	if code < 0 || code >= SlotCount {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSlotCode, code)
	}
	return Slot(code), nil
}

// ParseSlot converts a slot name (as returned by Slot.String) into a Slot.
func ParseSlot(name string) (Slot, error) {
	for i, n := range slotNames {
		if n == name {
			return Slot(i), nil
		}
	}
	return 0, fmt.Errorf("equipment: unknown slot name %q", name)
}

// mask returns the dirty bit of s.
func (s Slot) mask() uint8 {
	return 1 << uint8(s)
}
