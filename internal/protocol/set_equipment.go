package protocol

import (
	"fmt"

	"github.com/mymatsubara/valence/internal/game/equipment"
	"github.com/mymatsubara/valence/internal/game/inventory"
)

// PacketSetEquipment is the packet id prefixed to SetEquipment frames.
const PacketSetEquipment byte = 0x50

const (
	slotCodeMask     = 0x7f
	slotMoreEntries  = 0x80
	itemAbsent       = 0x00
	itemPresent      = 0x01
	maxExtraDataSize = 1 << 16
)

// EquipmentEntry is one slot update inside a SetEquipment packet.
// Item is nil when the slot is empty.
type EquipmentEntry struct {
	Slot equipment.Slot
	Item *inventory.ItemStack
}

// SetEquipment tells a client which items an entity shows in its slots.
type SetEquipment struct {
	// EntityID is the entity's protocol (network) identifier.
	EntityID int32
	// Entries lists the updated slots. Slots not listed are unchanged.
	Entries []EquipmentEntry
}

// NewSetEquipment builds a packet from an equipment diff.
func NewSetEquipment(entityID int32, changes []equipment.Change) SetEquipment {
	entries := make([]EquipmentEntry, len(changes))
	for i, c := range changes {
		entries[i] = EquipmentEntry{Slot: c.Slot, Item: c.Item}
	}
	return SetEquipment{EntityID: entityID, Entries: entries}
}

// RejectedEntry records an entry skipped during decoding.
type RejectedEntry struct {
	// Index is the entry's position in the packet.
	Index int
	// Err describes why the entry was skipped.
	Err error
}

// Append encodes p onto b and returns the extended slice.
//
// Precondition: p has at least one entry; every entry passes Encodable.
// Postcondition: returns an error and the original b if p cannot be encoded.
func (p SetEquipment) Append(b []byte) ([]byte, error) {
	if len(p.Entries) == 0 {
		return b, fmt.Errorf("protocol: SetEquipment for entity %d has no entries", p.EntityID)
	}
	out := appendVarInt(b, p.EntityID)
	for i, e := range p.Entries {
		if err := checkEntry(e); err != nil {
			return b, fmt.Errorf("protocol: entry %d: %w", i, err)
		}
		code := byte(e.Slot.Code())
		if i < len(p.Entries)-1 {
			code |= slotMoreEntries
		}
		out = appendItem(append(out, code), e.Item)
	}
	return out, nil
}

// Encodable splits p into the entries that can be encoded and those that
// cannot. Index in each rejected entry refers to p.Entries.
//
// Postcondition: the returned packet encodes without error if it has entries.
func (p SetEquipment) Encodable() (SetEquipment, []RejectedEntry) {
	out := SetEquipment{EntityID: p.EntityID, Entries: make([]EquipmentEntry, 0, len(p.Entries))}
	var rejected []RejectedEntry
	for i, e := range p.Entries {
		if err := checkEntry(e); err != nil {
			rejected = append(rejected, RejectedEntry{Index: i, Err: err})
			continue
		}
		out.Entries = append(out.Entries, e)
	}
	return out, rejected
}

func checkEntry(e EquipmentEntry) error {
	if !e.Slot.Valid() {
		return fmt.Errorf("%w: %d", equipment.ErrInvalidSlotCode, uint8(e.Slot))
	}
	if e.Item == nil {
		return nil
	}
	if err := e.Item.Validate(); err != nil {
		return fmt.Errorf("%s: %w", e.Slot, err)
	}
	if len(e.Item.Extra) > maxExtraDataSize {
		return fmt.Errorf("%s: extra data of %d bytes exceeds %d", e.Slot, len(e.Item.Extra), maxExtraDataSize)
	}
	return nil
}

// Marshal encodes p as a websocket frame body: packet id followed by the packet.
func (p SetEquipment) Marshal() ([]byte, error) {
	return p.Append([]byte{PacketSetEquipment})
}

// appendItem writes the presence byte and, for a present item, its fields.
//
// Precondition: item passed checkEntry.
func appendItem(b []byte, item *inventory.ItemStack) []byte {
	if item == nil {
		return append(b, itemAbsent)
	}
	b = append(b, itemPresent)
	b = appendVarInt(b, int32(item.Kind))
	b = append(b, byte(item.Count))
	b = appendVarInt(b, int32(len(item.Extra)))
	return append(b, item.Extra...)
}

// DecodeSetEquipment parses a SetEquipment packet body (without packet id).
//
// Entries whose slot code is outside 0..5 are skipped and reported in the
// returned rejected list; the remaining entries still decode. Structural
// errors (truncation, malformed varints) abort decoding.
//
// Postcondition: on nil error, n is the number of bytes consumed.
func DecodeSetEquipment(b []byte) (pkt SetEquipment, rejected []RejectedEntry, n int, err error) {
	id, read, err := consumeVarInt(b)
	if err != nil {
		return SetEquipment{}, nil, 0, fmt.Errorf("decoding entity id: %w", err)
	}
	pkt.EntityID = id
	n = read

	for index := 0; ; index++ {
		if n >= len(b) {
			return SetEquipment{}, nil, 0, fmt.Errorf("%w: entry %d slot", ErrTruncated, index)
		}
		raw := b[n]
		n++

		item, read, err := consumeItem(b[n:])
		if err != nil {
			return SetEquipment{}, nil, 0, fmt.Errorf("decoding entry %d: %w", index, err)
		}
		n += read

		slot, err := equipment.SlotFromCode(int(raw & slotCodeMask))
		if err != nil {
			rejected = append(rejected, RejectedEntry{Index: index, Err: err})
		} else {
			pkt.Entries = append(pkt.Entries, EquipmentEntry{Slot: slot, Item: item})
		}

		if raw&slotMoreEntries == 0 {
			return pkt, rejected, n, nil
		}
	}
}

func consumeItem(b []byte) (*inventory.ItemStack, int, error) {
	if len(b) == 0 {
		return nil, 0, fmt.Errorf("%w: item presence flag", ErrTruncated)
	}
	switch b[0] {
	case itemAbsent:
		return nil, 1, nil
	case itemPresent:
	default:
		return nil, 0, fmt.Errorf("protocol: invalid item presence flag 0x%02x", b[0])
	}
	n := 1

	kind, read, err := consumeVarInt(b[n:])
	if err != nil {
		return nil, 0, fmt.Errorf("item kind: %w", err)
	}
	n += read

	if n >= len(b) {
		return nil, 0, fmt.Errorf("%w: item count", ErrTruncated)
	}
	count := int8(b[n])
	n++

	size, read, err := consumeVarInt(b[n:])
	if err != nil {
		return nil, 0, fmt.Errorf("item extra length: %w", err)
	}
	n += read
	if size < 0 || size > maxExtraDataSize {
		return nil, 0, fmt.Errorf("protocol: item extra length %d out of range", size)
	}
	if len(b)-n < int(size) {
		return nil, 0, fmt.Errorf("%w: item extra data", ErrTruncated)
	}

	item := &inventory.ItemStack{Kind: inventory.ItemKind(kind), Count: count}
	if size > 0 {
		item.Extra = append([]byte(nil), b[n:n+int(size)]...)
		n += int(size)
	}
	return item, n, nil
}
