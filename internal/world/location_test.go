// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register(LocationConfig{ID: "lobby", DisplayName: "Lobby", MapAssetRef: "maps/lobby.tmx", MaxPlayers: 20})

	cfg, err := reg.Get("lobby")
	require.NoError(t, err)
	assert.Equal(t, "Lobby", cfg.DisplayName)
	assert.Equal(t, 20, cfg.MaxPlayers)
}

func TestRegistry_RegisterIdempotent(t *testing.T) {
	reg := NewRegistry()
	reg.Register(LocationConfig{ID: "lobby", DisplayName: "Lobby", MaxPlayers: 20})
	reg.Register(LocationConfig{ID: "lobby", DisplayName: "Other", MaxPlayers: 5})

	cfg, err := reg.Get("lobby")
	require.NoError(t, err)
	assert.Equal(t, "Lobby", cfg.DisplayName)
}

func TestRegistry_GetNotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("void")
	assert.Error(t, err)
}
