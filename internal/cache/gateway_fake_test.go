// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/shorebound/shorebound/internal/store"
)

// fakeGateway is an in-memory store.Gateway for cache tests.
type fakeGateway struct {
	mu       sync.Mutex
	profiles map[string]*store.Profile

	updateCalls    int
	incrementCalls int
	lastIncrement  store.StatDeltas

	failUpdates    bool
	failIncrements bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{profiles: make(map[string]*store.Profile)}
}

func (f *fakeGateway) addProfile(p *store.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
}

func (f *fakeGateway) FindProfileByID(_ context.Context, id string) (*store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (f *fakeGateway) FindProfileByUsername(_ context.Context, name string, _ bool) (*store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.Username == name {
			clone := *p
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeGateway) UpdateProfile(_ context.Context, id string, update store.ProfileUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failUpdates {
		return errors.New("gateway unavailable")
	}
	p, ok := f.profiles[id]
	if !ok {
		return store.ErrNotFound
	}
	if update.Inventory != nil {
		p.Inventory = *update.Inventory
	}
	if update.LastIP != nil {
		p.LastIP = *update.LastIP
	}
	return nil
}

func (f *fakeGateway) IncrementProfileStats(_ context.Context, id string, deltas store.StatDeltas) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incrementCalls++
	f.lastIncrement = deltas
	if f.failIncrements {
		return errors.New("gateway unavailable")
	}
	p, ok := f.profiles[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Stats.Add(deltas)
	return nil
}

func (f *fakeGateway) CountStatGreater(_ context.Context, key store.StatKey, value float64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, p := range f.profiles {
		if p.Stats.Value(key) > value {
			count++
		}
	}
	return count, nil
}

func (f *fakeGateway) FindIPBan(context.Context, string) (*store.IPBan, error) {
	return nil, store.ErrNotFound
}

func (f *fakeGateway) UpsertIPBan(context.Context, store.IPBan) error { return nil }

func (f *fakeGateway) DeleteIPBan(context.Context, string) error { return nil }
