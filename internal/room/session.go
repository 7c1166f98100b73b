// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package room

import (
	"math"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shorebound/shorebound/internal/store"
)

// PlayerSession is the authoritative per-connection state, owned by
// exactly one room. Exported fields are the wire snapshot; everything
// else stays server-side.
//
// X and Y start at (0, 0), which clients treat as "not yet spawned":
// the real spawn coordinates arrive in the first position message
// after the join, and spawn effects are withheld until then.
type PlayerSession struct {
	ConnectionID    string  `json:"connectionId"`
	ProfileID       string  `json:"profileId"`
	Username        string  `json:"username"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	AnimationState  string  `json:"anim"`
	FacingDirection int     `json:"direction"`
	IsFishing       bool    `json:"isFishing"`
	IsAfk           bool    `json:"isAfk"`
	IsGuiOpen       bool    `json:"isGuiOpen"`
	IsChatOpen      bool    `json:"isChatOpen"`

	connID   ulid.ULID
	conn     Conn
	afkSince time.Time
	joinedAt time.Time
}

// NewPlayerSession binds a freshly accepted connection to its profile.
func NewPlayerSession(connID ulid.ULID, profile *store.Profile, conn Conn) *PlayerSession {
	return &PlayerSession{
		ConnectionID:   connID.String(),
		ProfileID:      profile.ID,
		Username:       profile.Username,
		AnimationState: animIdle,
		connID:         connID,
		conn:           conn,
		joinedAt:       time.Now(),
	}
}

// ConnULID returns the transport-assigned connection id.
func (s *PlayerSession) ConnULID() ulid.ULID {
	return s.connID
}

// ghosted reports whether the session has been AFK long enough to be
// exempt from interactions like shoves.
func (s *PlayerSession) ghosted(now time.Time, threshold time.Duration) bool {
	return s.IsAfk && !s.afkSince.IsZero() && now.Sub(s.afkSince) >= threshold
}

// spawned reports whether a real position has arrived yet.
func (s *PlayerSession) spawned() bool {
	return s.X != 0 || s.Y != 0
}

func (s *PlayerSession) distanceTo(other *PlayerSession) float64 {
	return math.Hypot(other.X-s.X, other.Y-s.Y)
}
