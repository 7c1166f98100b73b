// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package room

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/shorebound/shorebound/internal/guard"
	"github.com/shorebound/shorebound/internal/world"
)

// Manager owns the room-per-instance table. It runs the join protocol
// end to end: guard checks, instance routing, connection registration,
// occupancy, and finally handing the session to its room. It also
// disposes rooms when the router destroys their instance.
type Manager struct {
	guard    *guard.Guard
	router   *world.Router
	registry *world.Registry
	deps     Deps

	mu    sync.Mutex
	rooms map[string]*Room // by instance id
}

// NewManager creates a manager and hooks it into the router's
// instance-destroyed notifications.
func NewManager(g *guard.Guard, router *world.Router, registry *world.Registry, deps Deps) *Manager {
	m := &Manager{
		guard:    g,
		router:   router,
		registry: registry,
		deps:     deps,
		rooms:    make(map[string]*Room),
	}
	router.OnInstanceDestroyed(m.instanceDestroyed)
	return m
}

// Join runs the full join protocol. On success it returns the room and
// the session now owned by it; the transport then pumps messages via
// Deliver and reports the socket close via Leave. A non-nil Rejection
// means the join was refused before any state was created.
func (m *Manager) Join(ctx context.Context, remoteAddr, profileID, locationID string, conn Conn) (*Room, *PlayerSession, *guard.Rejection, error) {
	profile, rejection, err := m.guard.Check(ctx, remoteAddr, profileID)
	if err != nil {
		return nil, nil, nil, err
	}
	if rejection != nil {
		return nil, nil, rejection, nil
	}

	instance, err := m.router.GetOrCreateInstance(locationID)
	if err != nil {
		return nil, nil, nil, err
	}

	connID := ulid.Make()
	if err := m.router.RegisterUserConnection(profileID, connID); err != nil {
		// Lost the race against another connection for this profile.
		return nil, nil, &guard.Rejection{Reason: guard.ReasonDuplicate}, nil
	}
	if err := m.router.PlayerJoined(instance.ID); err != nil {
		m.router.UnregisterUserConnection(profileID, connID)
		return nil, nil, nil, err
	}

	session := NewPlayerSession(connID, profile, conn)
	r := m.roomFor(instance)
	if err := r.Join(session); err != nil {
		m.router.PlayerLeft(instance.ID)
		m.router.UnregisterUserConnection(profileID, connID)
		return nil, nil, nil, oops.Code("JOIN_FAILED").
			With("instance_id", instance.ID).
			Wrap(err)
	}
	return r, session, nil, nil
}

// roomFor returns the room owning an instance, creating and starting
// it on first use.
func (m *Manager) roomFor(instance world.Instance) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[instance.ID]; ok {
		return r
	}

	location, err := m.registry.Get(instance.LocationID)
	if err != nil {
		// The router only hands out instances of registered locations.
		location = world.LocationConfig{ID: instance.LocationID, MaxPlayers: instance.MaxPlayers}
	}

	deps := m.deps
	instanceID := instance.ID
	deps.OnLeave = func(session *PlayerSession) {
		m.router.UnregisterUserConnection(session.ProfileID, session.ConnULID())
		m.router.PlayerLeft(instanceID)
	}

	r := New(instance.ID, location, deps)
	m.rooms[instance.ID] = r
	r.Start()
	return r
}

// RoomByInstance returns the live room for an instance id.
func (m *Manager) RoomByInstance(instanceID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[instanceID]
	return r, ok
}

// RoomCount returns the number of live rooms.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func (m *Manager) instanceDestroyed(instanceID string) {
	m.mu.Lock()
	r, ok := m.rooms[instanceID]
	delete(m.rooms, instanceID)
	m.mu.Unlock()

	if !ok {
		return
	}
	slog.Info("disposing room for destroyed instance", "instance_id", instanceID)
	r.Dispose()
}

// Shutdown disposes every room and waits for each to finish, bounded
// by the context.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, r := range rooms {
		r.Dispose()
	}
	for _, r := range rooms {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return oops.Code("SHUTDOWN_TIMEOUT").
				Errorf("rooms still disposing at shutdown deadline")
		}
	}
	return nil
}
