package inventory

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// KindDef describes one item kind loaded from the catalog file.
type KindDef struct {
	ID       ItemKind `yaml:"id"`
	Name     string   `yaml:"name"`
	MaxStack int      `yaml:"max_stack"`
}

// Validate checks that the KindDef satisfies its invariants.
//
// Postcondition: returns nil iff all fields are valid.
func (d *KindDef) Validate() error {
	var errs []error
	if d.ID < 0 {
		errs = append(errs, fmt.Errorf("id must be >= 0, got %d", d.ID))
	}
	if d.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if d.MaxStack < 1 || d.MaxStack > MaxStackCount {
		errs = append(errs, fmt.Errorf("max_stack must be in [1, %d], got %d", MaxStackCount, d.MaxStack))
	}
	if len(errs) > 0 {
		return fmt.Errorf("item kind validation failed: %v", errs)
	}
	return nil
}

// yamlCatalogFile is the top-level YAML structure for catalog files.
type yamlCatalogFile struct {
	Items []KindDef `yaml:"items"`
}

// Catalog indexes item kinds by protocol id and by name.
// A Catalog is immutable after loading and safe for concurrent reads.
type Catalog struct {
	byID   map[ItemKind]*KindDef
	byName map[string]*KindDef
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byID:   make(map[ItemKind]*KindDef),
		byName: make(map[string]*KindDef),
	}
}

// Register adds d to the catalog.
//
// Precondition: d must not be nil.
// Postcondition: Kind(d.ID) and KindByName(d.Name) return d; returns an error
// if d is invalid or its id or name is already registered.
func (c *Catalog) Register(d *KindDef) error {
	if d.MaxStack == 0 {
		d.MaxStack = 64
	}
	d.Name = strings.ToLower(d.Name)
	if err := d.Validate(); err != nil {
		return fmt.Errorf("inventory: Catalog.Register: %w", err)
	}
	if existing, ok := c.byID[d.ID]; ok {
		return fmt.Errorf("inventory: Catalog.Register: id %d already registered as %q", d.ID, existing.Name)
	}
	if _, ok := c.byName[d.Name]; ok {
		return fmt.Errorf("inventory: Catalog.Register: name %q already registered", d.Name)
	}
	c.byID[d.ID] = d
	c.byName[d.Name] = d
	return nil
}

// Kind returns the definition registered under id.
func (c *Catalog) Kind(id ItemKind) (*KindDef, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// KindByName returns the definition registered under name (case-insensitive).
func (c *Catalog) KindByName(name string) (*KindDef, bool) {
	d, ok := c.byName[strings.ToLower(name)]
	return d, ok
}

// Len returns the number of registered kinds.
func (c *Catalog) Len() int {
	return len(c.byID)
}

// Stack builds an ItemStack of the named kind.
//
// Precondition: name is registered; count is in [1, max_stack] for that kind.
// Postcondition: returns the stack, or an error describing which precondition failed.
func (c *Catalog) Stack(name string, count int) (ItemStack, error) {
	d, ok := c.KindByName(name)
	if !ok {
		return ItemStack{}, fmt.Errorf("inventory: unknown item kind %q", name)
	}
	if count < 1 || count > d.MaxStack {
		return ItemStack{}, fmt.Errorf("inventory: count for %q must be in [1, %d], got %d", d.Name, d.MaxStack, count)
	}
	return NewItemStack(d.ID, int8(count)), nil
}

// LoadCatalogFromBytes parses and validates a catalog from YAML bytes.
//
// Postcondition: returns a populated Catalog or the first error encountered.
func LoadCatalogFromBytes(data []byte) (*Catalog, error) {
	var file yamlCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing item catalog YAML: %w", err)
	}
	c := NewCatalog()
	for i := range file.Items {
		d := file.Items[i]
		if err := c.Register(&d); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	return c, nil
}

// LoadCatalog reads the catalog YAML file at path.
//
// Precondition: path must point to a readable YAML file.
// Postcondition: returns a populated Catalog or a non-nil error.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading item catalog %s: %w", path, err)
	}
	return LoadCatalogFromBytes(data)
}
