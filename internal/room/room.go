// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

// Package room hosts the authoritative session state of one location
// instance. Each room is a single-goroutine actor: joins, leaves,
// client messages, moderation events, and scheduled ticks all funnel
// through one loop, so per-room state needs no locking.
package room

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/shorebound/shorebound/internal/command"
	"github.com/shorebound/shorebound/internal/moderation"
	"github.com/shorebound/shorebound/internal/store"
	"github.com/shorebound/shorebound/internal/world"
)

// Gameplay tuning constants.
const (
	moveStep            = 4.0
	shoveRange          = 60.0
	shoveForce          = 40.0
	shoveKnockbackRatio = 0.35
	afkGhostAfter       = 60 * time.Second
	afkKickAfter        = 5 * time.Minute
	maxChatRunes        = 100
	defaultTickInterval = time.Second
	mailboxBuffer       = 256

	// positionAccrualCap bounds how much walked distance one position
	// overwrite may contribute, so teleports do not inflate stats.
	positionAccrualCap = 50.0

	// worldDayReal is how much wall time one in-game day spans.
	worldDayReal = 24 * time.Minute
)

// Animation states the server assigns itself.
const (
	animIdle = "idle"
	animWalk = "walk"
	animRun  = "run"
)

// State is the room lifecycle state.
type State int32

// Lifecycle states.
const (
	StateCreated State = iota
	StateActive
	StateDisposing
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateDisposing:
		return "disposing"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// commandRunner executes a privileged chat command and returns the
// text for the issuer.
type commandRunner interface {
	Execute(ctx context.Context, name, args string, issuer command.Issuer) string
}

// profileGateway is the slice of the persistence gateway the room
// needs for mute checks.
type profileGateway interface {
	FindProfileByID(ctx context.Context, id string) (*store.Profile, error)
	UpdateProfile(ctx context.Context, id string, update store.ProfileUpdate) error
}

// statsRecorder accrues play statistics into the write-back cache.
type statsRecorder interface {
	AddDistanceWalked(profileID string, distance float64)
	AddDistanceRan(profileID string, distance float64)
	AddTimeOnline(profileID string, d time.Duration)
	AddCatch(profileID string)
	AddNPCInteraction(profileID string)
}

// Deps are the collaborators a room acts on. OnLeave is invoked from
// the room goroutine after a session has been removed, so the owning
// manager can release the connection claim and the occupancy slot.
type Deps struct {
	Gateway  profileGateway
	Commands commandRunner
	Stats    statsRecorder
	Bus      *moderation.Bus
	OnLeave  func(session *PlayerSession)
}

type joinEnvelope struct {
	session *PlayerSession
	reply   chan error
}

type leaveEnvelope struct {
	connID string
}

type clientEnvelope struct {
	connID string
	msg    ClientMessage
}

type countEnvelope struct {
	reply chan int
}

// Room is the actor owning all sessions of one instance.
type Room struct {
	instanceID string
	location   world.LocationConfig
	deps       Deps

	mailbox chan any
	busCh   chan moderation.Event
	cancel  context.CancelFunc
	ctx     context.Context
	done    chan struct{}
	state   atomic.Int32

	sessions  map[string]*PlayerSession // by connection id
	byProfile map[string]*PlayerSession

	tickInterval time.Duration
	afkGhost     time.Duration
	afkKick      time.Duration
}

// New creates a room in the Created state.
func New(instanceID string, location world.LocationConfig, deps Deps) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		instanceID:   instanceID,
		location:     location,
		deps:         deps,
		mailbox:      make(chan any, mailboxBuffer),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		sessions:     make(map[string]*PlayerSession),
		byProfile:    make(map[string]*PlayerSession),
		tickInterval: defaultTickInterval,
		afkGhost:     afkGhostAfter,
		afkKick:      afkKickAfter,
	}
}

// InstanceID returns the owning instance id.
func (r *Room) InstanceID() string {
	return r.instanceID
}

// State returns the current lifecycle state.
func (r *Room) State() State {
	return State(r.state.Load())
}

// Start subscribes the room to the moderation bus and launches its
// loop. Idempotent calls after the first are no-ops.
func (r *Room) Start() {
	if !r.state.CompareAndSwap(int32(StateCreated), int32(StateActive)) {
		return
	}
	r.busCh = r.deps.Bus.Subscribe()
	go r.run()
	slog.Info("room started",
		"instance_id", r.instanceID,
		"location_id", r.location.ID,
	)
}

// Dispose begins teardown. It returns immediately; Done closes once
// the loop has unsubscribed and released its state. Safe to call from
// the room's own goroutine.
func (r *Room) Dispose() {
	r.cancel()
}

// Done closes when the room has reached Disposed.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// Join hands a new session to the room loop and waits for acceptance.
func (r *Room) Join(session *PlayerSession) error {
	reply := make(chan error, 1)
	select {
	case r.mailbox <- joinEnvelope{session: session, reply: reply}:
	case <-r.ctx.Done():
		return oops.Code("ROOM_DISPOSED").
			With("instance_id", r.instanceID).
			Errorf("room is shutting down")
	}
	select {
	case err := <-reply:
		return err
	case <-r.ctx.Done():
		return oops.Code("ROOM_DISPOSED").
			With("instance_id", r.instanceID).
			Errorf("room is shutting down")
	}
}

// Leave asks the room to drop a connection. Used by the transport on
// socket close; no-op when the connection is already gone.
func (r *Room) Leave(connID string) {
	select {
	case r.mailbox <- leaveEnvelope{connID: connID}:
	case <-r.ctx.Done():
	}
}

// Deliver queues one client message. A full mailbox drops the message
// rather than blocking the transport's read pump.
func (r *Room) Deliver(connID string, msg ClientMessage) {
	select {
	case r.mailbox <- clientEnvelope{connID: connID, msg: msg}:
	case <-r.ctx.Done():
	default:
		slog.Warn("room mailbox full, dropping message",
			"instance_id", r.instanceID,
			"conn_id", connID,
			"message_type", msg.Type,
		)
	}
}

func (r *Room) run() {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		// Moderation events outrank queued client messages: a kick
		// lands before any further message from the kicked connection.
		r.drainModeration()

		select {
		case event := <-r.busCh:
			r.handleModeration(event)
		case envelope := <-r.mailbox:
			r.dispatch(envelope)
		case now := <-ticker.C:
			r.handleTick(now)
		case <-r.ctx.Done():
			r.disposeLocked()
			return
		}
	}
}

func (r *Room) drainModeration() {
	for {
		select {
		case event := <-r.busCh:
			r.handleModeration(event)
		default:
			return
		}
	}
}

func (r *Room) disposeLocked() {
	r.state.Store(int32(StateDisposing))
	r.deps.Bus.Unsubscribe(r.busCh)
	for _, session := range r.sessions {
		r.removeSession(session, &DisconnectReason{Code: DisconnectShutdown})
	}
	r.state.Store(int32(StateDisposed))
	close(r.done)
	slog.Info("room disposed", "instance_id", r.instanceID)
}

func (r *Room) dispatch(envelope any) {
	switch env := envelope.(type) {
	case joinEnvelope:
		env.reply <- r.handleJoin(env.session)
	case leaveEnvelope:
		if session, ok := r.sessions[env.connID]; ok {
			r.removeSession(session, nil)
		}
	case clientEnvelope:
		session, ok := r.sessions[env.connID]
		if !ok {
			return
		}
		r.handleClientMessage(session, env.msg)
	case countEnvelope:
		env.reply <- len(r.sessions)
	}
}

func (r *Room) handleJoin(session *PlayerSession) error {
	now := time.Now()
	players := make([]PlayerSession, 0, len(r.sessions))
	for _, other := range r.sessions {
		players = append(players, *other)
	}

	r.sessions[session.ConnectionID] = session
	r.byProfile[session.ProfileID] = session

	err := session.conn.Send(WelcomeMessage{
		Type:         "welcome",
		ConnectionID: session.ConnectionID,
		InstanceID:   r.instanceID,
		LocationID:   r.location.ID,
		MapAssetRef:  r.location.MapAssetRef,
		Players:      players,
		ServerTime:   now.UnixMilli(),
	})
	if err != nil {
		delete(r.sessions, session.ConnectionID)
		delete(r.byProfile, session.ProfileID)
		return oops.Code("WELCOME_FAILED").
			With("conn_id", session.ConnectionID).
			Wrap(err)
	}

	r.broadcastExcept(session.ConnectionID, PlayerUpdateMessage{
		Type:   "playerJoined",
		Player: *session,
	})
	slog.Info("player joined",
		"instance_id", r.instanceID,
		"profile_id", session.ProfileID,
		"conn_id", session.ConnectionID,
	)
	return nil
}

// removeSession drops a session, accrues its online time, announces
// the departure, and releases router state via OnLeave. A non-nil
// reason force-closes the connection with it.
func (r *Room) removeSession(session *PlayerSession, reason *DisconnectReason) {
	delete(r.sessions, session.ConnectionID)
	if r.byProfile[session.ProfileID] == session {
		delete(r.byProfile, session.ProfileID)
	}

	if r.deps.Stats != nil {
		r.deps.Stats.AddTimeOnline(session.ProfileID, time.Since(session.joinedAt))
	}
	if reason != nil {
		if err := session.conn.Close(*reason); err != nil {
			slog.Debug("close failed",
				"conn_id", session.ConnectionID,
				"error", err,
			)
		}
	}
	r.broadcast(PlayerLeftMessage{
		Type:         "playerLeft",
		ConnectionID: session.ConnectionID,
	})
	if r.deps.OnLeave != nil {
		r.deps.OnLeave(session)
	}
}

func (r *Room) handleClientMessage(session *PlayerSession, msg ClientMessage) {
	switch msg.Type {
	case msgInput:
		r.applyInput(session, msg)
	case msgPosition:
		r.applyPosition(session, msg)
	case msgAnimation:
		session.AnimationState = msg.Anim
		session.IsFishing = msg.Anim == "fishing"
		if msg.Direction != nil && *msg.Direction >= 0 && *msg.Direction <= 7 {
			session.FacingDirection = *msg.Direction
		}
		r.broadcastUpdate(session)
	case msgAFK:
		session.IsAfk = msg.IsAfk
		if msg.IsAfk {
			session.afkSince = time.Now()
		} else {
			session.afkSince = time.Time{}
		}
		r.broadcastUpdate(session)
	case msgGUI:
		session.IsGuiOpen = msg.IsOpen
		r.broadcastUpdate(session)
	case msgChatFocus:
		session.IsChatOpen = msg.IsOpen
		r.broadcastUpdate(session)
	case msgShove:
		r.applyShove(session, msg.Target)
	case msgShoveAttempt:
		r.broadcast(ShoveAttemptMessage{
			Type:     msgShoveAttempt,
			Attacker: session.ConnectionID,
			Target:   msg.Target,
		})
	case msgChat:
		r.handleChat(session, msg.Message)
	case msgCatch:
		session.IsFishing = false
		if r.deps.Stats != nil {
			r.deps.Stats.AddCatch(session.ProfileID)
		}
		r.broadcastUpdate(session)
	case msgInteract:
		if r.deps.Stats != nil {
			r.deps.Stats.AddNPCInteraction(session.ProfileID)
		}
	default:
		slog.Debug("ignoring unknown message type",
			"instance_id", r.instanceID,
			"message_type", msg.Type,
		)
	}
}

func (r *Room) applyInput(session *PlayerSession, msg ClientMessage) {
	var dx, dy float64
	if msg.Left {
		dx -= moveStep
	}
	if msg.Right {
		dx += moveStep
	}
	if msg.Up {
		dy -= moveStep
	}
	if msg.Down {
		dy += moveStep
	}

	session.X += dx
	session.Y += dy
	moving := dx != 0 || dy != 0
	switch {
	case moving && msg.Run:
		session.AnimationState = animRun
	case moving:
		session.AnimationState = animWalk
	default:
		session.AnimationState = animIdle
	}

	if moving && r.deps.Stats != nil {
		distance := math.Hypot(dx, dy)
		if msg.Run {
			r.deps.Stats.AddDistanceRan(session.ProfileID, distance)
		} else {
			r.deps.Stats.AddDistanceWalked(session.ProfileID, distance)
		}
	}
	r.broadcastUpdate(session)
}

func (r *Room) applyPosition(session *PlayerSession, msg ClientMessage) {
	wasSpawned := session.spawned()
	distance := math.Hypot(msg.X-session.X, msg.Y-session.Y)
	session.X = msg.X
	session.Y = msg.Y

	if wasSpawned && distance <= positionAccrualCap && r.deps.Stats != nil {
		r.deps.Stats.AddDistanceWalked(session.ProfileID, distance)
	}
	r.broadcastUpdate(session)
}

// applyShove validates a shove and broadcasts the resulting forces.
// Invalid shoves are dropped without any broadcast.
func (r *Room) applyShove(attacker *PlayerSession, targetConnID string) {
	target, ok := r.sessions[targetConnID]
	if !ok || target == attacker {
		return
	}
	now := time.Now()
	if target.ghosted(now, r.afkGhost) {
		return
	}
	distance := attacker.distanceTo(target)
	if distance > shoveRange {
		return
	}

	// Unit direction from attacker to target, with a floor on the
	// denominator so overlapping players do not divide by zero.
	denom := math.Max(distance, 1)
	ux := (target.X - attacker.X) / denom
	uy := (target.Y - attacker.Y) / denom

	r.broadcast(ShoveMessage{
		Type:           msgShove,
		Attacker:       attacker.ConnectionID,
		Target:         target.ConnectionID,
		TargetForceX:   ux * shoveForce,
		TargetForceY:   uy * shoveForce,
		AttackerForceX: -ux * shoveForce * shoveKnockbackRatio,
		AttackerForceY: -uy * shoveForce * shoveKnockbackRatio,
	})
}

func (r *Room) handleChat(session *PlayerSession, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	now := time.Now()

	if strings.HasPrefix(text, "/") {
		name, args, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
		result := r.deps.Commands.Execute(r.ctx, name, args, command.Issuer{
			ProfileID:   session.ProfileID,
			DisplayName: session.Username,
		})
		r.send(session, systemChat(result, now))
		return
	}

	if r.senderMuted(session, now) {
		r.send(session, systemChat("You are muted.", now))
		return
	}

	runes := []rune(text)
	if len(runes) > maxChatRunes {
		text = string(runes[:maxChatRunes])
	}
	r.broadcast(ChatMessage{
		Type:       msgChat,
		From:       session.Username,
		FromID:     session.ProfileID,
		Text:       text,
		ServerTime: now.UnixMilli(),
	})
}

// senderMuted checks the sender's current mute against the gateway,
// lazily clearing an expired mute. A failed lookup logs and treats the
// sender as unmuted.
func (r *Room) senderMuted(session *PlayerSession, now time.Time) bool {
	profile, err := r.deps.Gateway.FindProfileByID(r.ctx, session.ProfileID)
	if err != nil {
		slog.Warn("mute check failed, allowing chat",
			"profile_id", session.ProfileID,
			"error", err,
		)
		return false
	}
	if profile.IsMuted(now) {
		return true
	}
	if profile.MuteExpiresAt != nil {
		err := r.deps.Gateway.UpdateProfile(r.ctx, session.ProfileID, store.ProfileUpdate{
			MuteExpiresAt: store.ClearTime(),
		})
		if err != nil {
			slog.Warn("failed to clear expired mute",
				"profile_id", session.ProfileID,
				"error", err,
			)
		}
	}
	return false
}

func (r *Room) handleTick(now time.Time) {
	r.broadcast(ClockMessage{
		Type:         "clock",
		WorldMinutes: worldMinutes(now),
		ServerTime:   now.UnixMilli(),
	})

	for _, session := range r.sessions {
		if session.ghosted(now, r.afkKick) {
			slog.Info("kicking afk player",
				"instance_id", r.instanceID,
				"profile_id", session.ProfileID,
			)
			r.removeSession(session, &DisconnectReason{Code: DisconnectAFK})
		}
	}
}

func (r *Room) handleModeration(event moderation.Event) {
	now := time.Now()
	switch ev := event.(type) {
	case moderation.Broadcast:
		r.broadcast(systemChat(ev.Text, now))
	case moderation.Kick:
		if session, ok := r.byProfile[ev.ProfileID]; ok {
			r.removeSession(session, &DisconnectReason{Code: DisconnectBanned})
		}
	case moderation.DirectMessage:
		if session, ok := r.byProfile[ev.ProfileID]; ok {
			r.send(session, systemChat(ev.Text, now))
		}
	case moderation.SendToLimbo:
		if session, ok := r.byProfile[ev.ProfileID]; ok {
			r.removeSession(session, &DisconnectReason{
				Code: DisconnectLimbo,
				Text: ev.Reason,
			})
		}
	case moderation.InventoryChanged:
		if session, ok := r.byProfile[ev.ProfileID]; ok {
			r.send(session, InventoryMessage{Type: "inventory", Slots: ev.Slots})
		}
	case moderation.ItemDropped:
		if _, ok := r.byProfile[ev.ProfileID]; ok {
			r.broadcast(ItemDropMessage{
				Type:      "itemDrop",
				ProfileID: ev.ProfileID,
				ItemID:    ev.ItemID,
				Amount:    ev.Amount,
			})
		}
	}
}

// SessionCount returns the number of live sessions. Racy by nature;
// intended for metrics and tests.
func (r *Room) SessionCount() int {
	reply := make(chan int, 1)
	select {
	case r.mailbox <- countEnvelope{reply: reply}:
	case <-r.ctx.Done():
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-r.ctx.Done():
		return 0
	}
}

func (r *Room) broadcastUpdate(session *PlayerSession) {
	r.broadcast(PlayerUpdateMessage{Type: "player", Player: *session})
}

func (r *Room) broadcast(msg any) {
	for _, session := range r.sessions {
		r.send(session, msg)
	}
}

func (r *Room) broadcastExcept(connID string, msg any) {
	for _, session := range r.sessions {
		if session.ConnectionID == connID {
			continue
		}
		r.send(session, msg)
	}
}

func (r *Room) send(session *PlayerSession, msg any) {
	if err := session.conn.Send(msg); err != nil {
		slog.Debug("send failed",
			"conn_id", session.ConnectionID,
			"error", err,
		)
	}
}

// worldMinutes maps wall time onto a compressed in-game day, returning
// the minute-of-day in [0, 1440).
func worldMinutes(now time.Time) int {
	cycle := now.UnixMilli() % worldDayReal.Milliseconds()
	return int(float64(cycle) / float64(worldDayReal.Milliseconds()) * 1440)
}
