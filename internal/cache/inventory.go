// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/shorebound/shorebound/internal/catalog"
	"github.com/shorebound/shorebound/internal/store"
)

// SlotCount is the fixed inventory length.
const SlotCount = 20

// Error codes for inventory mutations.
const (
	CodeNotEnoughItems = "NOT_ENOUGH_ITEMS"
	CodeInventoryFull  = "INVENTORY_FULL"
)

// InventoryCache is the in-memory authoritative view of player
// inventories, flushed to the gateway as full-slot overwrites.
type InventoryCache struct {
	gateway store.Gateway
	catalog *catalog.Catalog

	mu      sync.Mutex
	entries map[string]*inventoryEntry

	onFlushError func()

	autoFlusher
}

type inventoryEntry struct {
	mu    sync.Mutex
	slots []store.InventorySlot
	dirty bool
}

// NewInventoryCache creates an inventory cache over the gateway and
// item catalogue.
func NewInventoryCache(gateway store.Gateway, items *catalog.Catalog) *InventoryCache {
	return &InventoryCache{
		gateway: gateway,
		catalog: items,
		entries: make(map[string]*inventoryEntry),
	}
}

// OnFlushError registers a hook invoked once per failed flush write,
// typically feeding a metric.
func (c *InventoryCache) OnFlushError(fn func()) {
	c.onFlushError = fn
}

// Get returns a copy of a profile's inventory slots, loading and
// normalizing the persisted record on first access.
func (c *InventoryCache) Get(ctx context.Context, profileID string) ([]store.InventorySlot, error) {
	entry, err := c.entry(ctx, profileID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return copySlots(entry.slots), nil
}

// AddItem places an amount of an item into the first understocked
// slots already holding it, then into empty slots, in slot order. If
// the inventory cannot hold the full amount nothing is mutated and a
// full-inventory error is returned.
func (c *InventoryCache) AddItem(ctx context.Context, profileID, itemID string, amount int) ([]store.InventorySlot, error) {
	if amount <= 0 {
		return c.Get(ctx, profileID)
	}
	def, err := c.catalog.Get(itemID)
	if err != nil {
		return nil, err
	}
	entry, err := c.entry(ctx, profileID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	updated := copySlots(entry.slots)
	remaining := fillSlots(updated, itemID, def.StackSize, amount)
	if remaining > 0 {
		return nil, oops.Code(CodeInventoryFull).
			With("profile_id", profileID).
			With("item_id", itemID).
			With("overflow", remaining).
			Errorf("inventory cannot hold %d more %q", amount, itemID)
	}

	entry.slots = updated
	entry.dirty = true
	return copySlots(entry.slots), nil
}

// RemoveItem takes an amount of an item out of the inventory,
// decrementing slots in order and clearing emptied slots. Fails
// without mutation if the total held is less than requested.
func (c *InventoryCache) RemoveItem(ctx context.Context, profileID, itemID string, amount int) ([]store.InventorySlot, error) {
	if amount <= 0 {
		return c.Get(ctx, profileID)
	}
	entry, err := c.entry(ctx, profileID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	total := 0
	for _, slot := range entry.slots {
		if slot.ItemID == itemID {
			total += slot.Count
		}
	}
	if total < amount {
		return nil, oops.Code(CodeNotEnoughItems).
			With("profile_id", profileID).
			With("item_id", itemID).
			With("held", total).
			With("requested", amount).
			Errorf("not enough %q: have %d, need %d", itemID, total, amount)
	}

	left := amount
	for i := range entry.slots {
		if left == 0 {
			break
		}
		if entry.slots[i].ItemID != itemID {
			continue
		}
		take := min(left, entry.slots[i].Count)
		entry.slots[i].Count -= take
		left -= take
		if entry.slots[i].Count == 0 {
			entry.slots[i].ItemID = ""
		}
	}
	entry.dirty = true
	return copySlots(entry.slots), nil
}

// Count returns the total held amount of an item.
func (c *InventoryCache) Count(ctx context.Context, profileID, itemID string) (int, error) {
	slots, err := c.Get(ctx, profileID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, slot := range slots {
		if slot.ItemID == itemID {
			total += slot.Count
		}
	}
	return total, nil
}

// FlushDirty writes every dirty inventory to the gateway as a
// full-slot overwrite. A failed write keeps the entry dirty.
func (c *InventoryCache) FlushDirty(ctx context.Context) error {
	var firstErr error
	for profileID, entry := range c.snapshot() {
		entry.mu.Lock()
		if !entry.dirty {
			entry.mu.Unlock()
			continue
		}
		records := slotsToRecords(entry.slots)
		entry.dirty = false
		entry.mu.Unlock()

		if err := c.gateway.UpdateProfile(ctx, profileID, store.ProfileUpdate{Inventory: &records}); err != nil {
			entry.mu.Lock()
			entry.dirty = true
			entry.mu.Unlock()
			if c.onFlushError != nil {
				c.onFlushError()
			}
			if firstErr == nil {
				firstErr = oops.With("profile_id", profileID).Wrap(err)
			}
		}
	}
	return firstErr
}

// StartAutoFlush begins flushing dirty entries on an interval.
func (c *InventoryCache) StartAutoFlush(interval time.Duration) {
	c.start("inventory", interval, c.FlushDirty)
}

// StopAutoFlush cancels the flush timer.
func (c *InventoryCache) StopAutoFlush() {
	c.stop()
}

func (c *InventoryCache) snapshot() map[string]*inventoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*inventoryEntry, len(c.entries))
	for id, entry := range c.entries {
		out[id] = entry
	}
	return out
}

// entry returns the cached entry for a profile, loading it on first
// access. The gateway is only consulted while the entry is absent.
func (c *InventoryCache) entry(ctx context.Context, profileID string) (*inventoryEntry, error) {
	c.mu.Lock()
	if entry, ok := c.entries[profileID]; ok {
		c.mu.Unlock()
		return entry, nil
	}
	c.mu.Unlock()

	profile, err := c.gateway.FindProfileByID(ctx, profileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, oops.With("profile_id", profileID).Wrap(err)
	}

	slots, migrated := NormalizeRecords(profile.Inventory, func(itemID string) int {
		if def, lookupErr := c.catalog.Get(itemID); lookupErr == nil {
			return def.StackSize
		}
		return catalog.DefaultStackSize
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[profileID]; ok {
		// Lost the load race; the winner's state is authoritative.
		return entry, nil
	}
	entry := &inventoryEntry{slots: slots, dirty: migrated}
	c.entries[profileID] = entry
	return entry, nil
}

// NormalizeRecords converts persisted inventory records into the
// fixed-length slotted form. Slotted records are placed at their
// stored index. Legacy records, identified by a nil index on the
// first element, are greedily filled into matching understocked slots
// then empty slots in slot order; the second return value reports
// whether such a migration happened and should be persisted.
func NormalizeRecords(records []store.InventoryRecord, stackOf func(itemID string) int) ([]store.InventorySlot, bool) {
	slots := emptySlots()
	if len(records) == 0 {
		return slots, false
	}

	if records[0].Index != nil {
		for _, rec := range records {
			if rec.Index == nil || *rec.Index < 0 || *rec.Index >= SlotCount {
				continue
			}
			if rec.ItemID == "" || rec.Count <= 0 {
				continue
			}
			slots[*rec.Index].ItemID = rec.ItemID
			slots[*rec.Index].Count = rec.Count
		}
		return slots, false
	}

	for _, rec := range records {
		if rec.ItemID == "" || rec.Count <= 0 {
			continue
		}
		fillSlots(slots, rec.ItemID, stackOf(rec.ItemID), rec.Count)
	}
	return slots, true
}

// fillSlots distributes an amount across the slots in place and
// returns whatever could not be placed.
func fillSlots(slots []store.InventorySlot, itemID string, stackSize, amount int) int {
	if stackSize <= 0 {
		stackSize = catalog.DefaultStackSize
	}

	// Understocked slots already holding the item come first.
	for i := range slots {
		if amount == 0 {
			break
		}
		if slots[i].ItemID != itemID || slots[i].Count >= stackSize {
			continue
		}
		add := min(amount, stackSize-slots[i].Count)
		slots[i].Count += add
		amount -= add
	}

	for i := range slots {
		if amount == 0 {
			break
		}
		if !slots[i].Empty() {
			continue
		}
		add := min(amount, stackSize)
		slots[i].ItemID = itemID
		slots[i].Count = add
		amount -= add
	}
	return amount
}

func emptySlots() []store.InventorySlot {
	slots := make([]store.InventorySlot, SlotCount)
	for i := range slots {
		slots[i].Index = i
	}
	return slots
}

func copySlots(slots []store.InventorySlot) []store.InventorySlot {
	out := make([]store.InventorySlot, len(slots))
	copy(out, slots)
	return out
}

// slotsToRecords encodes occupied slots in the persisted record shape.
func slotsToRecords(slots []store.InventorySlot) []store.InventoryRecord {
	records := make([]store.InventoryRecord, 0, len(slots))
	for i := range slots {
		if slots[i].Empty() {
			continue
		}
		idx := slots[i].Index
		records = append(records, store.InventoryRecord{
			Index:  &idx,
			ItemID: slots[i].ItemID,
			Count:  slots[i].Count,
		})
	}
	return records
}
