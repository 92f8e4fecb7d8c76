// Package software holds the catalog of in-game software and resolves the
// stable references stored in host records into live instances.
package software

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrExists          = errors.New("software: already registered")
	ErrUnknown         = errors.New("software: unknown reference")
	ErrInvalidMetadata = errors.New("software: invalid metadata")
)

// Metadata describes one catalog entry. ID is the stable reference written
// to durable host records.
type Metadata struct {
	ID          string `toml:"id" yaml:"id"`
	Name        string `toml:"name" yaml:"name"`
	Description string `toml:"description" yaml:"description"`
}

// Instance is software installed on a live host.
type Instance struct {
	Metadata
}

// Resolver maps durable references to instances and back. Host loading is
// two-phase: the record decodes with plain references, then each reference
// is resolved here before the device goes live.
type Resolver interface {
	Resolve(ref string) (Instance, error)
	Ref(inst Instance) string
}

// Catalog is the in-memory Resolver populated from configuration.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]Metadata
}

var _ Resolver = (*Catalog)(nil)

func NewCatalog() *Catalog {
	return &Catalog{items: make(map[string]Metadata)}
}

// NewCatalogFrom registers every entry in list, failing on the first bad one.
func NewCatalogFrom(list []Metadata) (*Catalog, error) {
	c := NewCatalog()
	for _, meta := range list {
		if err := c.Register(meta); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ValidateMetadata checks required fields and the id format.
func ValidateMetadata(meta Metadata) error {
	id := strings.TrimSpace(meta.ID)
	if id == "" || strings.TrimSpace(meta.Name) == "" {
		return fmt.Errorf("%w: id and name are required", ErrInvalidMetadata)
	}
	if !isValidID(id) {
		return fmt.Errorf("%w: invalid id format %q", ErrInvalidMetadata, id)
	}
	return nil
}

func (c *Catalog) Register(meta Metadata) error {
	if err := ValidateMetadata(meta); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[meta.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, meta.ID)
	}
	c.items[meta.ID] = meta
	return nil
}

func (c *Catalog) Resolve(ref string) (Instance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.items[ref]
	if !ok {
		return Instance{}, fmt.Errorf("%w: %q", ErrUnknown, ref)
	}
	return Instance{Metadata: meta}, nil
}

func (c *Catalog) Ref(inst Instance) string {
	return inst.ID
}

// List returns metadata ordered by id.
func (c *Catalog) List() []Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make([]Metadata, 0, len(c.items))
	for _, meta := range c.items {
		list = append(list, meta)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

// isValidID accepts lowercase dotted identifiers such as "tool.port-scan".
func isValidID(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(id)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
