// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package cache

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/shorebound/shorebound/internal/store"
)

// StatsCache accumulates per-profile statistic deltas in memory and
// flushes them as additive increments. A profile's true value is the
// persisted total plus its pending delta.
type StatsCache struct {
	gateway store.Gateway

	mu      sync.Mutex
	entries map[string]*statsEntry

	onFlushError func()

	autoFlusher
}

type statsEntry struct {
	mu        sync.Mutex
	loaded    bool
	persisted store.StatDeltas
	pending   store.StatDeltas
}

// NewStatsCache creates a stats cache over the gateway.
func NewStatsCache(gateway store.Gateway) *StatsCache {
	return &StatsCache{
		gateway: gateway,
		entries: make(map[string]*statsEntry),
	}
}

// OnFlushError registers a hook invoked once per failed flush write,
// typically feeding a metric.
func (c *StatsCache) OnFlushError(fn func()) {
	c.onFlushError = fn
}

// Add accumulates deltas for a profile. Negative components are
// dropped; the accumulators only grow. No store round-trip happens on
// this path.
func (c *StatsCache) Add(profileID string, delta store.StatDeltas) {
	delta = clampNonNegative(delta)
	if delta.IsZero() {
		return
	}
	entry := c.entryNoLoad(profileID)
	entry.mu.Lock()
	entry.pending.Add(delta)
	entry.mu.Unlock()
}

// AddDistanceWalked accumulates walked distance in world units.
func (c *StatsCache) AddDistanceWalked(profileID string, distance float64) {
	c.Add(profileID, store.StatDeltas{DistanceWalked: distance})
}

// AddDistanceRan accumulates running distance in world units.
func (c *StatsCache) AddDistanceRan(profileID string, distance float64) {
	c.Add(profileID, store.StatDeltas{DistanceRan: distance})
}

// AddTimeOnline accumulates session time.
func (c *StatsCache) AddTimeOnline(profileID string, d time.Duration) {
	c.Add(profileID, store.StatDeltas{TimeOnlineMs: d.Milliseconds()})
}

// AddCatch records one successful catch.
func (c *StatsCache) AddCatch(profileID string) {
	c.Add(profileID, store.StatDeltas{Catches: 1})
}

// AddNPCInteraction records one NPC interaction.
func (c *StatsCache) AddNPCInteraction(profileID string) {
	c.Add(profileID, store.StatDeltas{NPCInteractions: 1})
}

// Totals returns persisted plus pending accumulators for a profile,
// loading the persisted side on first access.
func (c *StatsCache) Totals(ctx context.Context, profileID string) (store.StatDeltas, error) {
	entry, err := c.entryLoaded(ctx, profileID)
	if err != nil {
		return store.StatDeltas{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	totals := entry.persisted
	totals.Add(entry.pending)
	return totals, nil
}

// RanksForStats computes, per statistic, 1 plus the count of profiles
// with a strictly greater persisted value. Statistics with a zero or
// non-finite value yield no rank, as does any rank beyond maxRank.
func (c *StatsCache) RanksForStats(ctx context.Context, profileID string, maxRank int) (map[store.StatKey]int, error) {
	entry, err := c.entryLoaded(ctx, profileID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	persisted := entry.persisted
	entry.mu.Unlock()

	ranks := make(map[store.StatKey]int)
	for _, key := range store.StatKeys {
		value := persisted.Value(key)
		if value <= 0 || math.IsInf(value, 0) || math.IsNaN(value) {
			continue
		}
		greater, err := c.gateway.CountStatGreater(ctx, key, value)
		if err != nil {
			return nil, oops.With("stat", string(key)).Wrap(err)
		}
		rank := 1 + greater
		if rank > maxRank {
			continue
		}
		ranks[key] = rank
	}
	return ranks, nil
}

// FlushDirty drains every pending delta and issues one additive
// increment per dirty entry. A failed increment restores its delta so
// the next flush retries it.
func (c *StatsCache) FlushDirty(ctx context.Context) error {
	var firstErr error
	for profileID, entry := range c.snapshot() {
		entry.mu.Lock()
		delta := entry.pending
		if delta.IsZero() {
			entry.mu.Unlock()
			continue
		}
		entry.pending = store.StatDeltas{}
		entry.mu.Unlock()

		if err := c.gateway.IncrementProfileStats(ctx, profileID, delta); err != nil {
			entry.mu.Lock()
			entry.pending.Add(delta)
			entry.mu.Unlock()
			if c.onFlushError != nil {
				c.onFlushError()
			}
			if firstErr == nil {
				firstErr = oops.With("profile_id", profileID).Wrap(err)
			}
			continue
		}

		entry.mu.Lock()
		if entry.loaded {
			entry.persisted.Add(delta)
		}
		entry.mu.Unlock()
	}
	return firstErr
}

// StartAutoFlush begins flushing pending deltas on an interval.
func (c *StatsCache) StartAutoFlush(interval time.Duration) {
	c.start("stats", interval, c.FlushDirty)
}

// StopAutoFlush cancels the flush timer.
func (c *StatsCache) StopAutoFlush() {
	c.stop()
}

func (c *StatsCache) snapshot() map[string]*statsEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*statsEntry, len(c.entries))
	for id, entry := range c.entries {
		out[id] = entry
	}
	return out
}

// entryNoLoad returns the entry for a profile without touching the
// store. Accumulation must stay off the hot-path round trip.
func (c *StatsCache) entryNoLoad(profileID string) *statsEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[profileID]
	if !ok {
		entry = &statsEntry{}
		c.entries[profileID] = entry
	}
	return entry
}

func (c *StatsCache) entryLoaded(ctx context.Context, profileID string) (*statsEntry, error) {
	entry := c.entryNoLoad(profileID)

	entry.mu.Lock()
	loaded := entry.loaded
	entry.mu.Unlock()
	if loaded {
		return entry, nil
	}

	profile, err := c.gateway.FindProfileByID(ctx, profileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, oops.With("profile_id", profileID).Wrap(err)
	}

	entry.mu.Lock()
	if !entry.loaded {
		entry.persisted = profile.Stats
		entry.loaded = true
	}
	entry.mu.Unlock()
	return entry, nil
}

func clampNonNegative(d store.StatDeltas) store.StatDeltas {
	d.DistanceWalked = math.Max(0, d.DistanceWalked)
	d.DistanceRan = math.Max(0, d.DistanceRan)
	d.TimeOnlineMs = max(0, d.TimeOnlineMs)
	d.Catches = max(0, d.Catches)
	d.NPCInteractions = max(0, d.NPCInteractions)
	return d
}
