package world

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mymatsubara/valence/internal/game/equipment"
	"github.com/mymatsubara/valence/internal/game/inventory"
)

// yamlInstanceFile is the top-level YAML structure for instance files.
type yamlInstanceFile struct {
	Instances []yamlInstance `yaml:"instances"`
}

// yamlInstance is the YAML representation of an instance.
type yamlInstance struct {
	ID       string       `yaml:"id"`
	Name     string       `yaml:"name"`
	Entities []yamlEntity `yaml:"entities"`
}

// yamlEntity is the YAML representation of a pre-placed entity.
type yamlEntity struct {
	ID        string              `yaml:"id"`
	Position  []float64           `yaml:"position"`
	Equipment map[string]yamlItem `yaml:"equipment"`
}

// yamlItem is the YAML representation of an equipped item.
type yamlItem struct {
	Kind  string `yaml:"kind"`
	Count int    `yaml:"count"`
}

// ItemRef names an item kind from the catalog and a stack count.
type ItemRef struct {
	Kind  string
	Count int
}

// EntityDef is an entity placed when its instance is populated.
type EntityDef struct {
	ID        uuid.UUID
	Position  Vec3
	Equipment map[equipment.Slot]ItemRef
}

// InstanceDef is a parsed instance with its pre-placed entities.
type InstanceDef struct {
	Instance *Instance
	Entities []EntityDef
}

// LoadInstancesFromFile reads and validates an instance YAML file.
//
// Precondition: path must point to a valid YAML instance file.
// Postcondition: Returns the parsed definitions or a non-nil error.
func LoadInstancesFromFile(path string) ([]*InstanceDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading instance file %s: %w", path, err)
	}
	return LoadInstancesFromBytes(data)
}

// LoadInstancesFromBytes parses and validates instances from YAML bytes.
//
// Postcondition: Returns at least one definition or a non-nil error.
func LoadInstancesFromBytes(data []byte) ([]*InstanceDef, error) {
	var file yamlInstanceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing instance YAML: %w", err)
	}
	if len(file.Instances) == 0 {
		return nil, errors.New("instance file declares no instances")
	}
	defs := make([]*InstanceDef, 0, len(file.Instances))
	for i, yi := range file.Instances {
		def, err := convertYAMLInstance(yi)
		if err != nil {
			return nil, fmt.Errorf("instance %d (%q): %w", i, yi.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// convertYAMLInstance converts the parsed YAML structures into domain types.
func convertYAMLInstance(yi yamlInstance) (*InstanceDef, error) {
	if strings.TrimSpace(yi.Name) == "" {
		return nil, errors.New("name must not be empty")
	}
	id := NewInstanceID()
	if yi.ID != "" {
		parsed, err := ParseInstanceID(yi.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", yi.ID, err)
		}
		id = parsed
	}
	def := &InstanceDef{Instance: &Instance{ID: id, Name: yi.Name}}

	for j, ye := range yi.Entities {
		ed := EntityDef{ID: uuid.New(), Equipment: make(map[equipment.Slot]ItemRef, len(ye.Equipment))}
		if ye.ID != "" {
			parsed, err := uuid.Parse(ye.ID)
			if err != nil {
				return nil, fmt.Errorf("entity %d: invalid id %q: %w", j, ye.ID, err)
			}
			ed.ID = parsed
		}
		switch len(ye.Position) {
		case 0:
		case 3:
			ed.Position = Vec3{X: ye.Position[0], Y: ye.Position[1], Z: ye.Position[2]}
		default:
			return nil, fmt.Errorf("entity %d: position must have 3 components, got %d", j, len(ye.Position))
		}
		for name, item := range ye.Equipment {
			slot, err := equipment.ParseSlot(name)
			if err != nil {
				return nil, fmt.Errorf("entity %d: %w", j, err)
			}
			count := item.Count
			if count == 0 {
				count = 1
			}
			ed.Equipment[slot] = ItemRef{Kind: item.Kind, Count: count}
		}
		def.Entities = append(def.Entities, ed)
	}
	return def, nil
}

// Populate registers def's instance and spawns its entities with their
// equipment resolved against cat.
//
// Precondition: cat must be non-nil.
// Postcondition: Returns the spawned entities or the first error encountered;
// on error, entities spawned so far remain registered.
func (m *Manager) Populate(def *InstanceDef, cat *inventory.Catalog) ([]*Entity, error) {
	if err := m.AddInstance(def.Instance); err != nil {
		return nil, err
	}
	out := make([]*Entity, 0, len(def.Entities))
	for _, ed := range def.Entities {
		e, err := m.SpawnWithID(ed.ID, def.Instance.ID, ed.Position)
		if err != nil {
			return out, err
		}
		for _, slot := range equipment.AllSlots {
			ref, ok := ed.Equipment[slot]
			if !ok {
				continue
			}
			item, err := cat.Stack(ref.Kind, ref.Count)
			if err != nil {
				return out, fmt.Errorf("entity %s slot %s: %w", ed.ID, slot, err)
			}
			e.Equipment.Set(item, slot)
		}
		out = append(out, e)
	}
	return out, nil
}
