package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mymatsubara/valence/internal/game/equipment"
)

// Instance is a world instance entities and observers can join.
type Instance struct {
	ID   InstanceID
	Name string
}

// Manager provides thread-safe access to instances and equipped entities, and
// tracks which entities had their equipment touched since it last reported them.
type Manager struct {
	mu           sync.RWMutex
	instances    map[InstanceID]*Instance
	byName       map[string]*Instance
	entities     map[uuid.UUID]*Entity
	byProtocolID map[int32]*Entity
	seenVersion  map[uuid.UUID]uint64
	nextProtoID  int32
}

// NewManager creates a Manager hosting the given instances.
//
// Postcondition: Returns a Manager with every instance indexed by ID and name,
// or an error on duplicate IDs or names.
func NewManager(instances []*Instance) (*Manager, error) {
	m := &Manager{
		instances:    make(map[InstanceID]*Instance, len(instances)),
		byName:       make(map[string]*Instance, len(instances)),
		entities:     make(map[uuid.UUID]*Entity),
		byProtocolID: make(map[int32]*Entity),
		seenVersion:  make(map[uuid.UUID]uint64),
	}
	for _, inst := range instances {
		if err := m.addInstanceLocked(inst); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddInstance registers a new instance.
//
// Postcondition: Returns an error if the instance ID or name is already registered.
func (m *Manager) AddInstance(inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addInstanceLocked(inst)
}

func (m *Manager) addInstanceLocked(inst *Instance) error {
	if _, exists := m.instances[inst.ID]; exists {
		return fmt.Errorf("duplicate instance ID: %s", inst.ID)
	}
	if _, exists := m.byName[inst.Name]; exists {
		return fmt.Errorf("duplicate instance name: %q", inst.Name)
	}
	m.instances[inst.ID] = inst
	m.byName[inst.Name] = inst
	return nil
}

// Instance returns the instance with the given ID.
func (m *Manager) Instance(id InstanceID) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

// InstanceByName returns the instance with the given name.
func (m *Manager) InstanceByName(name string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.byName[name]
	return inst, ok
}

// Spawn creates an entity with empty equipment at pos in instance.
//
// Precondition: instance must be registered.
// Postcondition: Returns the entity with a fresh ID and a unique ProtocolID.
func (m *Manager) Spawn(instance InstanceID, pos Vec3) (*Entity, error) {
	return m.SpawnWithID(uuid.New(), instance, pos)
}

// SpawnWithID is Spawn with a caller-chosen entity ID.
//
// Postcondition: Returns an error if id is already in use or instance is unknown.
func (m *Manager) SpawnWithID(id uuid.UUID, instance InstanceID, pos Vec3) (*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[instance]; !ok {
		return nil, fmt.Errorf("instance %s not found", instance)
	}
	if _, exists := m.entities[id]; exists {
		return nil, fmt.Errorf("entity %s already exists", id)
	}
	m.nextProtoID++
	e := &Entity{
		ID:         id,
		ProtocolID: m.nextProtoID,
		Equipment:  equipment.NewState(),
		instance:   instance,
		position:   pos,
	}
	m.entities[id] = e
	m.byProtocolID[e.ProtocolID] = e
	m.seenVersion[id] = e.Equipment.Version()
	return e, nil
}

// Despawn removes an entity and its equipment state.
//
// Postcondition: Returns an error if the entity is not found.
func (m *Manager) Despawn(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return fmt.Errorf("entity %s not found", id)
	}
	delete(m.entities, id)
	delete(m.byProtocolID, e.ProtocolID)
	delete(m.seenVersion, id)
	return nil
}

// Move places an entity at pos in instance.
//
// Precondition: instance must be registered.
// Postcondition: Returns an error if the entity or instance is not found.
func (m *Manager) Move(id uuid.UUID, instance InstanceID, pos Vec3) error {
	m.mu.RLock()
	e, ok := m.entities[id]
	_, instOK := m.instances[instance]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("entity %s not found", id)
	}
	if !instOK {
		return fmt.Errorf("instance %s not found", instance)
	}
	e.place(instance, pos)
	return nil
}

// Get returns the entity with the given ID.
func (m *Manager) Get(id uuid.UUID) (*Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	return e, ok
}

// GetByProtocolID returns the entity with the given network identifier.
func (m *Manager) GetByProtocolID(id int32) (*Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byProtocolID[id]
	return e, ok
}

// Entities returns every entity ordered by ProtocolID.
//
// Postcondition: Returns a non-nil slice; may be empty.
func (m *Manager) Entities() []*Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProtocolID < out[j].ProtocolID })
	return out
}

// EntitiesInInstance returns every entity in instance ordered by ProtocolID.
func (m *Manager) EntitiesInInstance(instance InstanceID) []*Entity {
	all := m.Entities()
	out := all[:0]
	for _, e := range all {
		if e.Instance() == instance {
			out = append(out, e)
		}
	}
	return out
}

// ChangedEquipment returns the entities whose equipment was mutated since the
// previous call, ordered by ProtocolID, and records their current versions.
//
// Postcondition: an entity is reported at most once per mutation burst.
func (m *Manager) ChangedEquipment() []*Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entity
	for id, e := range m.entities {
		v := e.Equipment.Version()
		if v == m.seenVersion[id] {
			continue
		}
		m.seenVersion[id] = v
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProtocolID < out[j].ProtocolID })
	return out
}

// EntityCount returns the number of live entities.
func (m *Manager) EntityCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

// InstanceCount returns the number of registered instances.
func (m *Manager) InstanceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}
