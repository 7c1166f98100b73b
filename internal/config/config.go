// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

// Package config loads the server configuration from a YAML file with
// command-line flag overrides.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Location configures one logical place in the world.
type Location struct {
	ID          string  `koanf:"id"`
	DisplayName string  `koanf:"display_name"`
	MapAssetRef string  `koanf:"map_asset"`
	MaxPlayers  int     `koanf:"max_players"`
	IsPublic    bool    `koanf:"public"`
	SpawnX      float64 `koanf:"spawn_x"`
	SpawnY      float64 `koanf:"spawn_y"`
}

// Item configures one item definition in the catalogue.
type Item struct {
	ID        string `koanf:"id"`
	Name      string `koanf:"name"`
	StackSize int    `koanf:"stack_size"`
}

// Config is the full server configuration.
type Config struct {
	ListenAddr    string        `koanf:"listen_addr"`
	MetricsAddr   string        `koanf:"metrics_addr"`
	DatabaseURL   string        `koanf:"database_url"`
	LogFormat     string        `koanf:"log_format"`
	LogLevel      string        `koanf:"log_level"`
	LobbyLocation string        `koanf:"lobby_location"`
	FlushInterval time.Duration `koanf:"flush_interval"`
	RebootGrace   time.Duration `koanf:"reboot_grace"`

	Locations []Location `koanf:"locations"`
	Items     []Item     `koanf:"items"`
}

// Default returns the configuration used when a key is absent.
func Default() Config {
	return Config{
		ListenAddr:    ":8080",
		MetricsAddr:   "127.0.0.1:9100",
		LogFormat:     "json",
		LogLevel:      "info",
		LobbyLocation: "lobby",
		FlushInterval: 30 * time.Second,
		RebootGrace:   30 * time.Second,
		Locations: []Location{
			{ID: "lobby", DisplayName: "Lobby", MaxPlayers: 20, IsPublic: true},
		},
	}
}

// Load reads the YAML file at path (optional) and overlays any set
// flags. DATABASE_URL from the environment fills an empty database
// URL, matching container deployments.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_READ_FAILED").
				With("path", path).
				Wrap(err)
		}
	}
	if flags != nil {
		// CLI flags use dashes; config keys use underscores.
		p := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(p, nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_PARSE_FAILED").
			With("path", path).
			Wrap(err)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("database_url is required (or set DATABASE_URL)")
	}
	if len(c.Locations) == 0 {
		return oops.Code("CONFIG_INVALID").Errorf("at least one location is required")
	}

	seen := make(map[string]bool, len(c.Locations))
	lobbyFound := false
	for _, loc := range c.Locations {
		if loc.ID == "" {
			return oops.Code("CONFIG_INVALID").Errorf("location with empty id")
		}
		if seen[loc.ID] {
			return oops.Code("CONFIG_INVALID").
				With("location_id", loc.ID).
				Errorf("duplicate location id %q", loc.ID)
		}
		seen[loc.ID] = true
		if loc.MaxPlayers <= 0 {
			return oops.Code("CONFIG_INVALID").
				With("location_id", loc.ID).
				Errorf("location %q needs max_players > 0", loc.ID)
		}
		if loc.ID == c.LobbyLocation {
			lobbyFound = true
		}
	}
	if !lobbyFound {
		return oops.Code("CONFIG_INVALID").
			With("lobby_location", c.LobbyLocation).
			Errorf("lobby location %q is not in the locations list", c.LobbyLocation)
	}

	for _, item := range c.Items {
		if item.ID == "" {
			return oops.Code("CONFIG_INVALID").Errorf("item with empty id")
		}
		if item.StackSize < 0 {
			return oops.Code("CONFIG_INVALID").
				With("item_id", item.ID).
				Errorf("item %q has negative stack_size", item.ID)
		}
	}
	return nil
}
