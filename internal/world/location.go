// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

// Package world contains the location catalogue and the instance
// router that spreads players across running copies of each location.
package world

import (
	"github.com/samber/oops"
)

// SpawnAnchor is the default spawn position for a location. Clients
// report their actual spawn immediately after joining; (0,0) means
// "not yet spawned" on the wire.
type SpawnAnchor struct {
	X float64
	Y float64
}

// LocationConfig describes a logical place in the game world.
// Immutable once registered.
type LocationConfig struct {
	ID          string
	DisplayName string
	MapAssetRef string
	MaxPlayers  int
	IsPublic    bool
	Spawn       SpawnAnchor
}

// Registry is the catalogue of location definitions. Written once at
// startup and read-only thereafter.
type Registry struct {
	locations map[string]LocationConfig
}

// NewRegistry creates an empty location registry.
func NewRegistry() *Registry {
	return &Registry{locations: make(map[string]LocationConfig)}
}

// Register adds a location definition. Registering an existing id is
// idempotent; the first registration wins.
func (r *Registry) Register(cfg LocationConfig) {
	if _, ok := r.locations[cfg.ID]; ok {
		return
	}
	r.locations[cfg.ID] = cfg
}

// Get returns the configuration for a location id.
func (r *Registry) Get(id string) (LocationConfig, error) {
	cfg, ok := r.locations[id]
	if !ok {
		return LocationConfig{}, oops.Code("LOCATION_NOT_FOUND").
			With("location_id", id).
			Errorf("unknown location %q", id)
	}
	return cfg, nil
}

// All returns every registered location.
func (r *Registry) All() []LocationConfig {
	out := make([]LocationConfig, 0, len(r.locations))
	for _, cfg := range r.locations {
		out = append(out, cfg)
	}
	return out
}
