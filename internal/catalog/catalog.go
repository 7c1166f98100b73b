// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

// Package catalog holds the static item catalogue.
package catalog

import (
	"github.com/samber/oops"
)

// DefaultStackSize applies to items registered without an explicit
// stack size.
const DefaultStackSize = 99

// ItemDefinition describes one item kind.
type ItemDefinition struct {
	ID        string
	Name      string
	StackSize int
}

// Catalog is a lookup table of item definitions. It is populated once
// at startup and read-only afterwards, so access needs no locking.
type Catalog struct {
	items map[string]ItemDefinition
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{items: make(map[string]ItemDefinition)}
}

// Register adds an item definition. Registering an existing id is a
// no-op so seed files can be re-applied safely.
func (c *Catalog) Register(def ItemDefinition) {
	if _, ok := c.items[def.ID]; ok {
		return
	}
	if def.StackSize <= 0 {
		def.StackSize = DefaultStackSize
	}
	c.items[def.ID] = def
}

// Get returns the definition for an item id.
func (c *Catalog) Get(itemID string) (ItemDefinition, error) {
	def, ok := c.items[itemID]
	if !ok {
		return ItemDefinition{}, oops.Code("ITEM_NOT_FOUND").
			With("item_id", itemID).
			Errorf("unknown item %q", itemID)
	}
	return def, nil
}

// Len returns the number of registered items.
func (c *Catalog) Len() int {
	return len(c.items)
}
