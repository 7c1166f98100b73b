// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

// Package moderation carries administrative actions from the command
// pipeline to whichever session room currently holds the affected
// player.
package moderation

import (
	"github.com/shorebound/shorebound/internal/store"
)

// Event is the closed set of moderation event variants. Events are
// published once and consumed read-only by every subscribed room; no
// history is kept.
type Event interface {
	isEvent()
}

// Broadcast is a system chat line for every connected client.
type Broadcast struct {
	Text string
}

// Kick force-disconnects every session of a profile with a ban reason.
type Kick struct {
	ProfileID string
}

// DirectMessage is a private system chat line for one profile.
type DirectMessage struct {
	ProfileID string
	Text      string
}

// SendToLimbo force-disconnects a profile with a free-text reason the
// client displays distinctly from a ban.
type SendToLimbo struct {
	ProfileID string
	Reason    string
}

// InventoryChanged notifies the holding room that a profile's
// inventory was mutated outside the session path.
type InventoryChanged struct {
	ProfileID string
	Slots     []store.InventorySlot
}

// ItemDropped asks the world to place an item without touching any
// inventory.
type ItemDropped struct {
	ProfileID string
	ItemID    string
	Amount    int
}

func (Broadcast) isEvent()        {}
func (Kick) isEvent()             {}
func (DirectMessage) isEvent()    {}
func (SendToLimbo) isEvent()      {}
func (InventoryChanged) isEvent() {}
func (ItemDropped) isEvent()      {}
