// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package room

import (
	"time"

	"github.com/shorebound/shorebound/internal/store"
)

// Client message types.
const (
	msgInput        = "input"
	msgPosition     = "position"
	msgAnimation    = "animation"
	msgAFK          = "afk"
	msgGUI          = "gui"
	msgChatFocus    = "chatFocus"
	msgShove        = "shove"
	msgShoveAttempt = "shoveAttempt"
	msgChat         = "chat"
	msgCatch        = "catch"
	msgInteract     = "npcInteraction"
)

// ClientMessage is the single inbound wire shape. Type selects which
// fields are meaningful; unknown types and unresolvable targets are
// ignored without closing the connection.
type ClientMessage struct {
	Type string `json:"type"`

	// input
	Left  bool `json:"left,omitempty"`
	Right bool `json:"right,omitempty"`
	Up    bool `json:"up,omitempty"`
	Down  bool `json:"down,omitempty"`
	Run   bool `json:"run,omitempty"`

	// position
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	// animation
	Anim      string `json:"anim,omitempty"`
	Direction *int   `json:"direction,omitempty"`

	// afk / gui / chatFocus
	IsAfk  bool `json:"isAfk,omitempty"`
	IsOpen bool `json:"isOpen,omitempty"`

	// shove / shoveAttempt
	Target string `json:"target,omitempty"`

	// chat
	Message string `json:"message,omitempty"`
}

// WelcomeMessage is sent to a client right after its join is accepted.
type WelcomeMessage struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connectionId"`
	InstanceID   string          `json:"instanceId"`
	LocationID   string          `json:"locationId"`
	MapAssetRef  string          `json:"mapAssetRef"`
	Players      []PlayerSession `json:"players"`
	ServerTime   int64           `json:"serverTime"`
}

// PlayerUpdateMessage carries one session's authoritative state to the
// whole room after any mutation.
type PlayerUpdateMessage struct {
	Type   string        `json:"type"`
	Player PlayerSession `json:"player"`
}

// PlayerLeftMessage announces a departed connection.
type PlayerLeftMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// ChatMessage is an outbound chat line, either from a player or, when
// System is set, from the server.
type ChatMessage struct {
	Type       string `json:"type"`
	From       string `json:"from,omitempty"`
	FromID     string `json:"fromId,omitempty"`
	Text       string `json:"text"`
	System     bool   `json:"system,omitempty"`
	ServerTime int64  `json:"serverTime"`
}

// ShoveMessage broadcasts a validated shove with the force applied to
// each party.
type ShoveMessage struct {
	Type           string  `json:"type"`
	Attacker       string  `json:"attacker"`
	Target         string  `json:"target"`
	TargetForceX   float64 `json:"targetForceX"`
	TargetForceY   float64 `json:"targetForceY"`
	AttackerForceX float64 `json:"attackerForceX"`
	AttackerForceY float64 `json:"attackerForceY"`
}

// ShoveAttemptMessage is rebroadcast unconditionally so clients can
// play the attempt animation even when the shove itself is rejected.
type ShoveAttemptMessage struct {
	Type     string `json:"type"`
	Attacker string `json:"attacker"`
	Target   string `json:"target"`
}

// ClockMessage carries the world time-of-day on every tick.
type ClockMessage struct {
	Type         string `json:"type"`
	WorldMinutes int    `json:"worldMinutes"`
	ServerTime   int64  `json:"serverTime"`
}

// InventoryMessage delivers a full inventory snapshot to its owner.
type InventoryMessage struct {
	Type  string                `json:"type"`
	Slots []store.InventorySlot `json:"slots"`
}

// ItemDropMessage tells the room to place a dropped item in the world.
type ItemDropMessage struct {
	Type      string `json:"type"`
	ProfileID string `json:"profileId"`
	ItemID    string `json:"itemId"`
	Amount    int    `json:"amount"`
}

// Disconnect reason codes. The client distinguishes these to show the
// right message on a forced disconnect.
const (
	DisconnectAFK      = "afk_timeout"
	DisconnectBanned   = "account_banned"
	DisconnectLimbo    = "limbo"
	DisconnectShutdown = "server_shutdown"
)

// DisconnectReason is the terminal payload of a forced disconnect.
// Until carries the ban expiry for ban reasons; Text carries the
// free-form limbo reason.
type DisconnectReason struct {
	Code  string    `json:"code"`
	Until time.Time `json:"until,omitempty"`
	Text  string    `json:"text,omitempty"`
}

// Conn is the transport half of a live connection, as seen by the
// room. The websocket gateway implements it.
type Conn interface {
	Send(msg any) error
	Close(reason DisconnectReason) error
}

func systemChat(text string, now time.Time) ChatMessage {
	return ChatMessage{
		Type:       msgChat,
		Text:       text,
		System:     true,
		ServerTime: now.UnixMilli(),
	}
}
