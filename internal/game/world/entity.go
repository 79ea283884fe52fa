package world

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mymatsubara/valence/internal/game/equipment"
)

// InstanceID identifies a world instance. Entities and observers only see
// each other when their InstanceIDs are equal.
type InstanceID uuid.UUID

// NewInstanceID returns a random InstanceID.
func NewInstanceID() InstanceID {
	return InstanceID(uuid.New())
}

// ParseInstanceID parses the textual UUID form of an InstanceID.
func ParseInstanceID(s string) (InstanceID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return InstanceID{}, err
	}
	return InstanceID(id), nil
}

// String returns the textual UUID form.
func (id InstanceID) String() string {
	return uuid.UUID(id).String()
}

// Entity is a world object that can wear equipment.
// Position and instance may be changed concurrently with reads.
type Entity struct {
	// ID is the stable entity identifier.
	ID uuid.UUID
	// ProtocolID is the network identifier sent to clients.
	ProtocolID int32
	// Equipment is the entity's cosmetic equipment.
	Equipment *equipment.State

	mu       sync.RWMutex
	instance InstanceID
	position Vec3
}

// Instance returns the instance the entity belongs to.
func (e *Entity) Instance() InstanceID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.instance
}

// Position returns the entity's current position.
func (e *Entity) Position() Vec3 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.position
}

// ChunkPos returns the chunk containing the entity.
func (e *Entity) ChunkPos() ChunkPos {
	return ChunkPosAt(e.Position())
}

func (e *Entity) place(instance InstanceID, pos Vec3) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instance = instance
	e.position = pos
}
