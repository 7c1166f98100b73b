// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorebound/shorebound/internal/command"
	"github.com/shorebound/shorebound/internal/guard"
	"github.com/shorebound/shorebound/internal/moderation"
	"github.com/shorebound/shorebound/internal/room"
	"github.com/shorebound/shorebound/internal/store"
	"github.com/shorebound/shorebound/internal/world"
)

const eventually = 2 * time.Second

type stubGateway struct {
	mu       sync.Mutex
	profiles map[string]*store.Profile
}

func (g *stubGateway) FindProfileByID(_ context.Context, id string) (*store.Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (g *stubGateway) FindProfileByUsername(_ context.Context, name string, _ bool) (*store.Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.profiles {
		if p.Username == name {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (g *stubGateway) UpdateProfile(_ context.Context, id string, _ store.ProfileUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.profiles[id]; !ok {
		return store.ErrNotFound
	}
	return nil
}

func (g *stubGateway) IncrementProfileStats(context.Context, string, store.StatDeltas) error {
	return nil
}

func (g *stubGateway) CountStatGreater(context.Context, store.StatKey, float64) (int, error) {
	return 0, nil
}

func (g *stubGateway) FindIPBan(context.Context, string) (*store.IPBan, error) {
	return nil, store.ErrNotFound
}

func (g *stubGateway) UpsertIPBan(context.Context, store.IPBan) error { return nil }
func (g *stubGateway) DeleteIPBan(context.Context, string) error      { return nil }

type noopCommands struct{}

func (noopCommands) Execute(_ context.Context, name, _ string, _ command.Issuer) string {
	return "ran " + name
}

type noopStats struct{}

func (noopStats) AddDistanceWalked(string, float64)  {}
func (noopStats) AddDistanceRan(string, float64)     {}
func (noopStats) AddTimeOnline(string, time.Duration) {}
func (noopStats) AddCatch(string)                    {}
func (noopStats) AddNPCInteraction(string)           {}

type gatewayFixture struct {
	server  *Server
	bus     *moderation.Bus
	store   *stubGateway
	baseURL string
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	registry := world.NewRegistry()
	registry.Register(world.LocationConfig{ID: "lobby", MaxPlayers: 20, IsPublic: true})
	router := world.NewRouter(registry, "lobby")
	require.NoError(t, router.EnsureLobby())

	profiles := &stubGateway{profiles: map[string]*store.Profile{
		"p1": {ID: "p1", Username: "ada"},
		"p2": {ID: "p2", Username: "grace"},
	}}
	bus := moderation.NewBus()
	manager := room.NewManager(guard.New(profiles, router), router, registry, room.Deps{
		Gateway:  profiles,
		Commands: noopCommands{},
		Stats:    noopStats{},
		Bus:      bus,
	})

	server := NewServer("127.0.0.1:0", manager, "lobby")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()
	require.Eventually(t, func() bool { return server.Addr() != "" }, eventually, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(eventually):
			t.Error("gateway did not shut down")
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), eventually)
		defer stop()
		assert.NoError(t, manager.Shutdown(shutdownCtx))
	})
	return &gatewayFixture{
		server:  server,
		bus:     bus,
		store:   profiles,
		baseURL: server.Addr(),
	}
}

func (f *gatewayFixture) dial(t *testing.T, profileID string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws?profile=%s", f.baseURL, profileID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil decodes frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(eventually)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		if decoded["type"] == wantType {
			return decoded
		}
	}
	t.Fatalf("no %q message arrived", wantType)
	return nil
}

func TestJoinReceivesWelcome(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "p1")

	welcome := readUntil(t, conn, "welcome")
	assert.Equal(t, "lobby-1", welcome["instanceId"])
	assert.NotEmpty(t, welcome["connectionId"])
}

func TestJoinRejectsMissingProfileParam(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/ws", f.baseURL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJoinRejectsUnknownProfile(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/ws?profile=ghost", f.baseURL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJoinRejectsBannedBeforeUpgrade(t *testing.T) {
	f := newGatewayFixture(t)
	until := time.Now().Add(time.Hour).Truncate(time.Second)
	f.store.mu.Lock()
	f.store.profiles["p1"].BanExpiresAt = &until
	f.store.mu.Unlock()

	resp, err := http.Get(fmt.Sprintf("http://%s/ws?profile=p1", f.baseURL))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var rejection RejectionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rejection))
	assert.Equal(t, string(guard.ReasonAccountBanned), rejection.Reason)
	assert.True(t, rejection.Until.Equal(until))
}

func TestJoinRejectsDuplicateConnection(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "p1")
	readUntil(t, conn, "welcome")

	url := fmt.Sprintf("ws://%s/ws?profile=p1", f.baseURL)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var rejection RejectionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rejection))
	assert.Equal(t, string(guard.ReasonDuplicate), rejection.Reason)
}

func TestChatFlowsBetweenClients(t *testing.T) {
	f := newGatewayFixture(t)
	sender := f.dial(t, "p1")
	receiver := f.dial(t, "p2")
	readUntil(t, sender, "welcome")
	readUntil(t, receiver, "welcome")

	err := sender.WriteJSON(room.ClientMessage{Type: "chat", Message: "ahoy"})
	require.NoError(t, err)

	chat := readUntil(t, receiver, "chat")
	assert.Equal(t, "ahoy", chat["text"])
	assert.Equal(t, "ada", chat["from"])
}

func TestKickDeliversDisconnectFrame(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "p1")
	readUntil(t, conn, "welcome")

	f.bus.Publish(moderation.Kick{ProfileID: "p1"})

	frame := readUntil(t, conn, "disconnect")
	assert.Equal(t, room.DisconnectBanned, frame["code"])

	_ = conn.SetReadDeadline(time.Now().Add(eventually))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
