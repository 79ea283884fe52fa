package gameserver

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mymatsubara/valence/internal/game/equipment"
	"github.com/mymatsubara/valence/internal/game/inventory"
	"github.com/mymatsubara/valence/internal/game/world"
	"github.com/mymatsubara/valence/internal/scripting"
)

// BindScripting wires the scripting manager's equipment and world callbacks to
// the world manager, resolving item kinds by name through cat. Moves run the
// spawn path through bc for observers the entity moves into view of.
//
// Precondition: scripts, entities, cat and bc must be non-nil.
func BindScripting(scripts *scripting.Manager, entities *world.Manager, cat *inventory.Catalog, bc *EquipmentBroadcaster) {
	lookup := func(entity string) (*world.Entity, error) {
		id, err := uuid.Parse(entity)
		if err != nil {
			return nil, fmt.Errorf("entity id %q: %w", entity, err)
		}
		e, ok := entities.Get(id)
		if !ok {
			return nil, fmt.Errorf("entity %s not found", id)
		}
		return e, nil
	}
	lookupSlot := func(entity, slot string) (*world.Entity, equipment.Slot, error) {
		s, err := equipment.ParseSlot(slot)
		if err != nil {
			return nil, 0, err
		}
		e, err := lookup(entity)
		return e, s, err
	}

	scripts.SetEquipment = func(entity, slot, kind string, count int) error {
		e, s, err := lookupSlot(entity, slot)
		if err != nil {
			return err
		}
		item, err := cat.Stack(kind, count)
		if err != nil {
			return err
		}
		e.Equipment.Set(item, s)
		return nil
	}
	scripts.RemoveEquipment = func(entity, slot string) (bool, error) {
		e, s, err := lookupSlot(entity, slot)
		if err != nil {
			return false, err
		}
		_, removed := e.Equipment.Remove(s)
		return removed, nil
	}
	scripts.ClearEquipment = func(entity string) error {
		e, err := lookup(entity)
		if err != nil {
			return err
		}
		e.Equipment.Clear()
		return nil
	}
	scripts.GetEquipment = func(entity, slot string) (*scripting.ItemInfo, error) {
		e, s, err := lookupSlot(entity, slot)
		if err != nil {
			return nil, err
		}
		item, ok := e.Equipment.Get(s)
		if !ok {
			return nil, nil
		}
		name := fmt.Sprintf("#%d", item.Kind)
		if d, known := cat.Kind(item.Kind); known {
			name = d.Name
		}
		return &scripting.ItemInfo{Kind: name, Count: int(item.Count)}, nil
	}
	scripts.ListEntities = func(instance string) []string {
		inst, ok := entities.InstanceByName(instance)
		if !ok {
			return nil
		}
		list := entities.EntitiesInInstance(inst.ID)
		ids := make([]string, 0, len(list))
		for _, e := range list {
			ids = append(ids, e.ID.String())
		}
		return ids
	}
	scripts.MoveEntity = func(entity string, x, y, z float64, instance string) error {
		e, err := lookup(entity)
		if err != nil {
			return err
		}
		oldInstance, oldChunk := e.Instance(), e.ChunkPos()
		target := oldInstance
		if instance != "" {
			inst, ok := entities.InstanceByName(instance)
			if !ok {
				return fmt.Errorf("instance %q not found", instance)
			}
			target = inst.ID
		}
		if err := entities.Move(e.ID, target, world.Vec3{X: x, Y: y, Z: z}); err != nil {
			return err
		}
		bc.SpawnMovedEntity(e, oldInstance, oldChunk)
		return nil
	}
	scripts.DespawnEntity = func(entity string) error {
		e, err := lookup(entity)
		if err != nil {
			return err
		}
		return entities.Despawn(e.ID)
	}
}
