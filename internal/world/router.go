// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package world

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// lobbyCrowdThreshold is the occupancy fraction past which the router
// prefers opening a fresh lobby instance over filling an existing one.
const lobbyCrowdThreshold = 0.75

// Error codes for routing failures.
const (
	CodeLocationNotFound    = "LOCATION_NOT_FOUND"
	CodeInstanceNotFound    = "INSTANCE_NOT_FOUND"
	CodeInstanceFull        = "INSTANCE_FULL"
	CodeDuplicateConnection = "DUPLICATE_CONNECTION"
)

// Instance is a snapshot of one running copy of a location.
type Instance struct {
	ID             string
	LocationID     string
	CurrentPlayers int
	MaxPlayers     int
	MapAssetRef    string
}

// DestroyFunc is invoked after an emptied instance has been removed
// from the routing table, outside the router's lock.
type DestroyFunc func(instanceID string)

// Router assigns joining players to instances and owns the instance
// lifecycle. The instance table and the duplicate-connection map are
// the only cross-room shared mutable state; both live behind one mutex.
type Router struct {
	registry *Registry
	lobbyID  string

	mu        sync.Mutex
	instances map[string]*Instance
	counters  map[string]int
	connected map[string]ulid.ULID // profile id -> connection id

	onDestroy DestroyFunc
}

// NewRouter creates a router over the given registry. lobbyID names
// the distinguished lobby location, which always keeps at least one
// instance alive.
func NewRouter(registry *Registry, lobbyID string) *Router {
	return &Router{
		registry:  registry,
		lobbyID:   lobbyID,
		instances: make(map[string]*Instance),
		counters:  make(map[string]int),
		connected: make(map[string]ulid.ULID),
	}
}

// OnInstanceDestroyed registers a teardown hook. Must be called before
// the router is shared across goroutines.
func (r *Router) OnInstanceDestroyed(fn DestroyFunc) {
	r.onDestroy = fn
}

// EnsureLobby guarantees the lobby has a live instance. Called once at
// startup.
func (r *Router) EnsureLobby() error {
	_, err := r.GetOrCreateInstance(r.lobbyID)
	return err
}

// GetOrCreateInstance returns an existing instance of the location
// with spare capacity, or creates a new one per the distribution
// policy.
func (r *Router) GetOrCreateInstance(locationID string) (Instance, error) {
	cfg, err := r.registry.Get(locationID)
	if err != nil {
		return Instance{}, oops.Code(CodeLocationNotFound).
			With("location_id", locationID).
			Wrap(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	available := r.availableLocked(locationID)
	isLobby := locationID == r.lobbyID

	if len(available) == 0 {
		return *r.createLocked(cfg), nil
	}

	least := available[0]
	if isLobby {
		// A lobby instance past the crowd threshold stops receiving
		// traffic so new arrivals spread out.
		if float64(least.CurrentPlayers) >= lobbyCrowdThreshold*float64(least.MaxPlayers) {
			return *r.createLocked(cfg), nil
		}
	}
	return *least, nil
}

// availableLocked returns instances of a location with spare capacity,
// least-loaded first.
func (r *Router) availableLocked(locationID string) []*Instance {
	var out []*Instance
	for _, inst := range r.instances {
		if inst.LocationID == locationID && inst.CurrentPlayers < inst.MaxPlayers {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentPlayers != out[j].CurrentPlayers {
			return out[i].CurrentPlayers < out[j].CurrentPlayers
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Router) createLocked(cfg LocationConfig) *Instance {
	r.counters[cfg.ID]++
	inst := &Instance{
		ID:          fmt.Sprintf("%s-%d", cfg.ID, r.counters[cfg.ID]),
		LocationID:  cfg.ID,
		MaxPlayers:  cfg.MaxPlayers,
		MapAssetRef: cfg.MapAssetRef,
	}
	r.instances[inst.ID] = inst
	slog.Info("instance created",
		"instance_id", inst.ID,
		"location_id", cfg.ID,
		"max_players", inst.MaxPlayers,
	)
	return inst
}

// PlayerJoined records an occupancy increase on an instance.
func (r *Router) PlayerJoined(instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[instanceID]
	if !ok {
		return oops.Code(CodeInstanceNotFound).
			With("instance_id", instanceID).
			Errorf("unknown instance %q", instanceID)
	}
	if inst.CurrentPlayers >= inst.MaxPlayers {
		return oops.Code(CodeInstanceFull).
			With("instance_id", instanceID).
			Errorf("instance %q is full", instanceID)
	}
	inst.CurrentPlayers++
	return nil
}

// PlayerLeft records an occupancy decrease. A non-lobby instance that
// empties is destroyed immediately; the lobby always keeps at least
// one instance alive.
func (r *Router) PlayerLeft(instanceID string) {
	r.mu.Lock()

	inst, ok := r.instances[instanceID]
	if !ok {
		r.mu.Unlock()
		slog.Debug("player left unknown instance", "instance_id", instanceID)
		return
	}
	if inst.CurrentPlayers > 0 {
		inst.CurrentPlayers--
	}

	destroyed := false
	if inst.CurrentPlayers == 0 && inst.LocationID != r.lobbyID {
		delete(r.instances, instanceID)
		destroyed = true
	}
	onDestroy := r.onDestroy
	r.mu.Unlock()

	if destroyed {
		slog.Info("instance destroyed", "instance_id", instanceID)
		if onDestroy != nil {
			onDestroy(instanceID)
		}
	}
}

// InstanceByID returns a snapshot of an instance.
func (r *Router) InstanceByID(instanceID string) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// Instances returns snapshots of every instance of a location.
func (r *Router) Instances(locationID string) []Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Instance
	for _, inst := range r.instances {
		if inst.LocationID == locationID {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InstanceCount returns the number of live instances across all
// locations.
func (r *Router) InstanceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// RegisterUserConnection claims the duplicate-session slot for a
// profile. Fails if the profile is already connected anywhere.
func (r *Router) RegisterUserConnection(profileID string, connID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.connected[profileID]; ok {
		return oops.Code(CodeDuplicateConnection).
			With("profile_id", profileID).
			With("existing_conn_id", existing.String()).
			Errorf("profile %q already connected", profileID)
	}
	r.connected[profileID] = connID
	return nil
}

// UnregisterUserConnection releases the slot, but only if it is still
// held by the given connection. A stale unregister after a reconnect
// must not evict the new session.
func (r *Router) UnregisterUserConnection(profileID string, connID ulid.ULID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.connected[profileID]; ok && existing == connID {
		delete(r.connected, profileID)
	}
}

// IsUserConnected reports whether a profile has a live connection.
func (r *Router) IsUserConnected(profileID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.connected[profileID]
	return ok
}

// ConnectedCount returns the number of profiles with a live
// connection.
func (r *Router) ConnectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected)
}
