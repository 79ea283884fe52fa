// Package gameserver drives the synchronization tick: gameplay scripts
// mutate equipment, then the broadcast pass streams the diffs to observers.
package gameserver

import (
	"go.uber.org/zap"

	"github.com/mymatsubara/valence/internal/game/equipment"
	"github.com/mymatsubara/valence/internal/game/session"
	"github.com/mymatsubara/valence/internal/game/world"
	"github.com/mymatsubara/valence/internal/protocol"
)

// EntitySource supplies the entities the broadcaster inspects.
type EntitySource interface {
	// ChangedEquipment returns entities whose equipment was touched since the
	// previous call.
	ChangedEquipment() []*world.Entity
	// EntitiesInInstance returns every entity in instance.
	EntitiesInInstance(instance world.InstanceID) []*world.Entity
}

// ClientSource supplies the connected observers.
type ClientSource interface {
	Clients() []*session.Client
}

// BroadcastStats summarises one broadcast pass.
type BroadcastStats struct {
	// Entities is the number of entities whose diff was flushed.
	Entities int
	// Messages is the number of frames enqueued.
	Messages int
	// Dropped is the number of frames rejected by a closed or full outbox.
	Dropped int
	// Rejected is the number of slot entries left out because they cannot be encoded.
	Rejected int
}

// EquipmentBroadcaster sends equipment diffs to the observers that can see
// the changed entity.
type EquipmentBroadcaster struct {
	entities EntitySource
	clients  ClientSource
	logger   *zap.Logger
}

// NewEquipmentBroadcaster creates an EquipmentBroadcaster.
//
// Precondition: entities, clients and logger must be non-nil.
func NewEquipmentBroadcaster(entities EntitySource, clients ClientSource, logger *zap.Logger) *EquipmentBroadcaster {
	return &EquipmentBroadcaster{
		entities: entities,
		clients:  clients,
		logger:   logger,
	}
}

// Run performs one broadcast pass. It must run after all gameplay mutations
// of the tick and to completion.
//
// For every changed entity with pending slots, the diff is taken (which clears
// the dirty mask) and one SetEquipment frame is enqueued for each client that
// is in the same instance, has the entity's chunk in view, and does not
// control the entity. Entities without pending slots cost no client lookup.
//
// Postcondition: every entity reported by the source has no pending changes,
// except entities mutated concurrently after their diff was taken.
func (b *EquipmentBroadcaster) Run() BroadcastStats {
	var stats BroadcastStats
	var clients []*session.Client
	fetched := false

	for _, e := range b.entities.ChangedEquipment() {
		if !e.Equipment.HasPendingChanges() {
			continue
		}
		if !fetched {
			clients = b.clients.Clients()
			fetched = true
		}

		instance := e.Instance()
		pos := e.ChunkPos()
		changes := e.Equipment.TakeChanges()
		if len(changes) == 0 {
			continue
		}
		frame, rejected := b.encode(e, changes)
		stats.Rejected += rejected
		if frame == nil {
			continue
		}
		stats.Entities++

		for _, c := range clients {
			if c.Controls(e.ID) || !c.Sees(instance, pos) {
				continue
			}
			if err := c.Outbox.Push(frame); err != nil {
				stats.Dropped++
				b.logger.Warn("dropping equipment diff",
					zap.String("client", c.UID.String()),
					zap.Int32("entity", e.ProtocolID),
					zap.Error(err),
				)
				continue
			}
			stats.Messages++
		}
	}

	if stats.Entities > 0 {
		b.logger.Debug("equipment broadcast",
			zap.Int("entities", stats.Entities),
			zap.Int("messages", stats.Messages),
			zap.Int("dropped", stats.Dropped),
			zap.Int("rejected", stats.Rejected),
		)
	}
	return stats
}

// SpawnEquipment sends the full equipment of every entity c can currently
// see. Call it when c joins or its view changes; the differential pass only
// reaches clients already tracking an entity.
//
// Postcondition: Returns the number of frames enqueued.
func (b *EquipmentBroadcaster) SpawnEquipment(c *session.Client) int {
	return b.spawn(c, func(world.ChunkPos) bool { return false })
}

// SpawnEquipmentEntering sends full equipment only for entities that became
// visible to c when it moved away from oldInstance/oldView.
//
// Postcondition: Returns the number of frames enqueued.
func (b *EquipmentBroadcaster) SpawnEquipmentEntering(c *session.Client, oldInstance world.InstanceID, oldView world.ChunkView) int {
	if oldInstance != c.Instance() {
		return b.SpawnEquipment(c)
	}
	return b.spawn(c, oldView.Contains)
}

func (b *EquipmentBroadcaster) spawn(c *session.Client, alreadySeen func(world.ChunkPos) bool) int {
	instance := c.Instance()
	sent := 0
	for _, e := range b.entities.EntitiesInInstance(instance) {
		pos := e.ChunkPos()
		if c.Controls(e.ID) || !c.Sees(instance, pos) || alreadySeen(pos) {
			continue
		}
		snapshot := e.Equipment.Snapshot()
		if len(snapshot) == 0 {
			continue
		}
		frame, _ := b.encode(e, snapshot)
		if frame == nil {
			continue
		}
		if err := c.Outbox.Push(frame); err != nil {
			b.logger.Warn("dropping equipment snapshot",
				zap.String("client", c.UID.String()),
				zap.Int32("entity", e.ProtocolID),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// SpawnMovedEntity sends e's full equipment to every client that sees e at
// its current position but did not see it at oldInstance/oldChunk. Call it
// after moving e so new observers hold full state before the next diff.
//
// Postcondition: Returns the number of frames enqueued.
func (b *EquipmentBroadcaster) SpawnMovedEntity(e *world.Entity, oldInstance world.InstanceID, oldChunk world.ChunkPos) int {
	instance, pos := e.Instance(), e.ChunkPos()
	var frame []byte
	sent := 0
	for _, c := range b.clients.Clients() {
		if c.Controls(e.ID) || !c.Sees(instance, pos) || c.Sees(oldInstance, oldChunk) {
			continue
		}
		if frame == nil {
			snapshot := e.Equipment.Snapshot()
			if len(snapshot) == 0 {
				return 0
			}
			if frame, _ = b.encode(e, snapshot); frame == nil {
				return 0
			}
		}
		if err := c.Outbox.Push(frame); err != nil {
			b.logger.Warn("dropping equipment snapshot",
				zap.String("client", c.UID.String()),
				zap.Int32("entity", e.ProtocolID),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// encode builds the SetEquipment frame for changes. Entries that cannot be
// encoded are logged and left out so the rest of the entity's slots still
// reach observers.
//
// Postcondition: frame is nil when no entry could be encoded; rejected counts
// the entries left out.
func (b *EquipmentBroadcaster) encode(e *world.Entity, changes []equipment.Change) (frame []byte, rejected int) {
	pkt, bad := protocol.NewSetEquipment(e.ProtocolID, changes).Encodable()
	for _, r := range bad {
		b.logger.Error("dropping unencodable equipment entry",
			zap.Int32("entity", e.ProtocolID),
			zap.Stringer("slot", changes[r.Index].Slot),
			zap.Error(r.Err),
		)
	}
	if len(pkt.Entries) == 0 {
		return nil, len(bad)
	}
	frame, err := pkt.Marshal()
	if err != nil {
		b.logger.Error("encoding equipment frame",
			zap.Int32("entity", e.ProtocolID),
			zap.Error(err),
		)
		return nil, len(bad)
	}
	return frame, len(bad)
}
