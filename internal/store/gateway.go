// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

// Package store provides the persistence gateway for player profiles,
// IP bans, and accumulated statistics.
package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// PermissionAdmin grants access to moderation commands.
const PermissionAdmin = "admin"

// StatKey identifies one accumulated player statistic.
type StatKey string

// Statistic keys, matching the profile table columns.
const (
	StatDistanceWalked  StatKey = "distance_walked"
	StatDistanceRan     StatKey = "distance_ran"
	StatTimeOnlineMs    StatKey = "time_online_ms"
	StatCatches         StatKey = "catches"
	StatNPCInteractions StatKey = "npc_interactions"
)

// StatKeys lists every statistic key in column order.
var StatKeys = []StatKey{
	StatDistanceWalked,
	StatDistanceRan,
	StatTimeOnlineMs,
	StatCatches,
	StatNPCInteractions,
}

// StatDeltas holds non-negative accumulators for player statistics.
// It doubles as the persisted totals and as a pending delta.
type StatDeltas struct {
	DistanceWalked  float64
	DistanceRan     float64
	TimeOnlineMs    int64
	Catches         int64
	NPCInteractions int64
}

// Add folds another set of deltas into this one.
func (d *StatDeltas) Add(other StatDeltas) {
	d.DistanceWalked += other.DistanceWalked
	d.DistanceRan += other.DistanceRan
	d.TimeOnlineMs += other.TimeOnlineMs
	d.Catches += other.Catches
	d.NPCInteractions += other.NPCInteractions
}

// IsZero reports whether every accumulator is zero.
func (d StatDeltas) IsZero() bool {
	return d == StatDeltas{}
}

// Value returns the accumulator for a key as a float64.
func (d StatDeltas) Value(key StatKey) float64 {
	switch key {
	case StatDistanceWalked:
		return d.DistanceWalked
	case StatDistanceRan:
		return d.DistanceRan
	case StatTimeOnlineMs:
		return float64(d.TimeOnlineMs)
	case StatCatches:
		return float64(d.Catches)
	case StatNPCInteractions:
		return float64(d.NPCInteractions)
	default:
		return 0
	}
}

// InventoryRecord is the persisted shape of one inventory entry.
// Slotted records carry an index; legacy records predate the slot model
// and are identified by a nil index on the first element.
type InventoryRecord struct {
	Index  *int   `json:"index,omitempty"`
	ItemID string `json:"item"`
	Count  int    `json:"count"`
}

// InventorySlot is the normalized slotted form of one inventory
// position. An empty slot has an empty ItemID and zero count.
type InventorySlot struct {
	Index  int    `json:"index"`
	ItemID string `json:"item,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// Empty reports whether the slot holds nothing.
func (s InventorySlot) Empty() bool {
	return s.ItemID == "" || s.Count == 0
}

// Profile is a durable player record.
type Profile struct {
	ID            string
	Username      string
	Permissions   []string
	BanExpiresAt  *time.Time
	MuteExpiresAt *time.Time
	LastIP        string
	Stats         StatDeltas
	Inventory     []InventoryRecord
}

// HasPermission reports whether the profile carries the named permission.
func (p *Profile) HasPermission(perm string) bool {
	return slices.Contains(p.Permissions, perm)
}

// IsBanned reports whether the profile has an unexpired account ban.
func (p *Profile) IsBanned(now time.Time) bool {
	return p.BanExpiresAt != nil && p.BanExpiresAt.After(now)
}

// IsMuted reports whether the profile has an unexpired mute.
func (p *Profile) IsMuted(now time.Time) bool {
	return p.MuteExpiresAt != nil && p.MuteExpiresAt.After(now)
}

// IPBan is a ban record keyed by network address.
type IPBan struct {
	IP        string
	ProfileID string
	ExpiresAt time.Time
}

// Expired reports whether the ban has lapsed.
func (b *IPBan) Expired(now time.Time) bool {
	return !b.ExpiresAt.After(now)
}

// NullableTime is an optional timestamp for profile updates.
// A zero Valid clears the column.
type NullableTime struct {
	Valid bool
	Time  time.Time
}

// SetTime returns a NullableTime carrying t.
func SetTime(t time.Time) *NullableTime {
	return &NullableTime{Valid: true, Time: t}
}

// ClearTime returns a NullableTime that clears the column.
func ClearTime() *NullableTime {
	return &NullableTime{}
}

// ProfileUpdate describes a partial profile mutation. Nil fields are
// left untouched.
type ProfileUpdate struct {
	BanExpiresAt  *NullableTime
	MuteExpiresAt *NullableTime
	LastIP        *string
	Inventory     *[]InventoryRecord
}

// Gateway is the persistence boundary consumed by the world server.
type Gateway interface {
	FindProfileByID(ctx context.Context, id string) (*Profile, error)
	FindProfileByUsername(ctx context.Context, name string, caseInsensitive bool) (*Profile, error)
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) error
	IncrementProfileStats(ctx context.Context, id string, deltas StatDeltas) error
	// CountStatGreater returns how many profiles have a persisted value
	// strictly greater than the given one for a statistic.
	CountStatGreater(ctx context.Context, key StatKey, value float64) (int, error)

	FindIPBan(ctx context.Context, ip string) (*IPBan, error)
	UpsertIPBan(ctx context.Context, ban IPBan) error
	DeleteIPBan(ctx context.Context, ip string) error
}
