// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorebound/shorebound/internal/store"
	"github.com/shorebound/shorebound/internal/world"
)

type stubGateway struct {
	mu       sync.Mutex
	profiles map[string]*store.Profile
	ipBans   map[string]*store.IPBan

	ipBanErr   error
	profileErr error
	updateErr  error

	lastIPWrites []string
	deletedBans  []string
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		profiles: make(map[string]*store.Profile),
		ipBans:   make(map[string]*store.IPBan),
	}
}

func (s *stubGateway) FindProfileByID(_ context.Context, id string) (*store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *stubGateway) FindProfileByUsername(context.Context, string, bool) (*store.Profile, error) {
	return nil, store.ErrNotFound
}

func (s *stubGateway) UpdateProfile(_ context.Context, id string, update store.ProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if update.LastIP != nil {
		s.lastIPWrites = append(s.lastIPWrites, *update.LastIP)
		if p, ok := s.profiles[id]; ok {
			p.LastIP = *update.LastIP
		}
	}
	return nil
}

func (s *stubGateway) IncrementProfileStats(context.Context, string, store.StatDeltas) error {
	return nil
}

func (s *stubGateway) CountStatGreater(context.Context, store.StatKey, float64) (int, error) {
	return 0, nil
}

func (s *stubGateway) FindIPBan(_ context.Context, ip string) (*store.IPBan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ipBanErr != nil {
		return nil, s.ipBanErr
	}
	ban, ok := s.ipBans[ip]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *ban
	return &clone, nil
}

func (s *stubGateway) UpsertIPBan(context.Context, store.IPBan) error { return nil }

func (s *stubGateway) DeleteIPBan(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedBans = append(s.deletedBans, ip)
	delete(s.ipBans, ip)
	return nil
}

func newTestGuard(t *testing.T) (*Guard, *stubGateway, *world.Router) {
	t.Helper()
	gw := newStubGateway()
	gw.profiles["p1"] = &store.Profile{ID: "p1", Username: "alice"}

	reg := world.NewRegistry()
	reg.Register(world.LocationConfig{ID: "lobby", MaxPlayers: 20})
	router := world.NewRouter(reg, "lobby")
	return New(gw, router), gw, router
}

func TestGuard_CleanJoin(t *testing.T) {
	g, gw, _ := newTestGuard(t)

	profile, rejection, err := g.Check(context.Background(), "203.0.113.7:51234", "p1")
	require.NoError(t, err)
	assert.Nil(t, rejection)
	require.NotNil(t, profile)
	assert.Equal(t, "alice", profile.Username)

	// The client address was recorded for ban correlation.
	assert.Equal(t, []string{"203.0.113.7"}, gw.lastIPWrites)
}

func TestGuard_IPBanned(t *testing.T) {
	g, gw, _ := newTestGuard(t)
	until := time.Now().Add(time.Hour)
	gw.ipBans["203.0.113.7"] = &store.IPBan{IP: "203.0.113.7", ExpiresAt: until}

	_, rejection, err := g.Check(context.Background(), "203.0.113.7:51234", "p1")
	require.NoError(t, err)
	require.NotNil(t, rejection)
	assert.Equal(t, ReasonIPBanned, rejection.Reason)
	assert.Equal(t, until, rejection.Until)
}

func TestGuard_ExpiredIPBanClearedAndAdmitted(t *testing.T) {
	g, gw, _ := newTestGuard(t)
	gw.ipBans["203.0.113.7"] = &store.IPBan{IP: "203.0.113.7", ExpiresAt: time.Now().Add(-time.Minute)}

	_, rejection, err := g.Check(context.Background(), "203.0.113.7:51234", "p1")
	require.NoError(t, err)
	assert.Nil(t, rejection)
	assert.Equal(t, []string{"203.0.113.7"}, gw.deletedBans)
}

func TestGuard_AccountBanned(t *testing.T) {
	g, gw, _ := newTestGuard(t)
	until := time.Now().Add(time.Hour)
	gw.profiles["p1"].BanExpiresAt = &until

	_, rejection, err := g.Check(context.Background(), "203.0.113.7:51234", "p1")
	require.NoError(t, err)
	require.NotNil(t, rejection)
	assert.Equal(t, ReasonAccountBanned, rejection.Reason)
	assert.Equal(t, until, rejection.Until)
}

func TestGuard_Duplicate(t *testing.T) {
	g, _, router := newTestGuard(t)
	require.NoError(t, router.RegisterUserConnection("p1", ulid.Make()))

	_, rejection, err := g.Check(context.Background(), "203.0.113.7:51234", "p1")
	require.NoError(t, err)
	require.NotNil(t, rejection)
	assert.Equal(t, ReasonDuplicate, rejection.Reason)
}

func TestGuard_BanLookupFailsClosed(t *testing.T) {
	g, gw, _ := newTestGuard(t)
	gw.ipBanErr = errors.New("gateway unreachable")

	_, rejection, err := g.Check(context.Background(), "203.0.113.7:51234", "p1")
	require.Error(t, err)
	assert.Nil(t, rejection)
}

func TestGuard_LastIPWriteFailureIsNotFatal(t *testing.T) {
	g, gw, _ := newTestGuard(t)
	gw.updateErr = errors.New("gateway unreachable")

	profile, rejection, err := g.Check(context.Background(), "203.0.113.7:51234", "p1")
	require.NoError(t, err)
	assert.Nil(t, rejection)
	assert.NotNil(t, profile)
}

func TestGuard_UnknownProfile(t *testing.T) {
	g, _, _ := newTestGuard(t)
	_, _, err := g.Check(context.Background(), "203.0.113.7:51234", "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
