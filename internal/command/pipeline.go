// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

// Package command parses privileged `/word arg arg` chat input into
// moderation actions and publishes the resulting events.
package command

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Issuer identifies who invoked a command.
type Issuer struct {
	ProfileID   string
	DisplayName string
}

// execution carries one command invocation through its handler.
type execution struct {
	issuer Issuer
	name   string
	args   []string
}

// handlerFunc runs one command and returns the text for the issuer.
type handlerFunc func(ctx context.Context, exec *execution) (string, error)

type entry struct {
	handler handlerFunc
	usage   string
}

// ExecutedFunc observes completed commands, typically feeding a metric.
type ExecutedFunc func(command string)

// Pipeline validates permissions, dispatches moderation commands, and
// publishes their events. Every outcome, including failure, comes back
// as plain text for the issuer.
type Pipeline struct {
	deps       Deps
	registry   map[string]entry
	onExecuted ExecutedFunc
}

// Deps are the collaborators the handlers act on.
type Deps struct {
	Gateway   gatewayIface
	Bus       busIface
	Inventory inventoryIface
	Items     itemCatalogIface

	// Terminate ends the process after the reboot grace delay.
	// Production wires the serve command's context cancel so shutdown
	// stays graceful; tests inject a stub.
	Terminate   func()
	RebootGrace time.Duration
}

// New creates a pipeline with the full command set registered.
func New(deps Deps) *Pipeline {
	p := &Pipeline{deps: deps, registry: make(map[string]entry)}
	p.register("ban", handleBan, "ban <username>")
	p.register("tempban", handleTempBan, "tempban <username> <duration>")
	p.register("unban", handleUnban, "unban <username>")
	p.register("mute", handleMute, "mute <username>")
	p.register("tempmute", handleTempMute, "tempmute <username> <duration>")
	p.register("unmute", handleUnmute, "unmute <username>")
	p.register("broadcast", handleBroadcast, "broadcast <text>")
	p.register("reboot", handleReboot, "reboot")
	p.register("give", handleGive, "give <username> <itemId> [amount]")
	p.register("drop", handleDrop, "drop <username> <itemId> [amount]")
	return p
}

// OnExecuted registers a hook invoked after each successful command.
func (p *Pipeline) OnExecuted(fn ExecutedFunc) {
	p.onExecuted = fn
}

func (p *Pipeline) register(name string, fn func(*Pipeline, context.Context, *execution) (string, error), usage string) {
	p.registry[name] = entry{
		handler: func(ctx context.Context, exec *execution) (string, error) {
			return fn(p, ctx, exec)
		},
		usage: usage,
	}
}

// Execute runs one command and returns the textual result for the
// issuer. Failures never escape as errors; they are rendered to text
// here.
func (p *Pipeline) Execute(ctx context.Context, name, args string, issuer Issuer) string {
	name = strings.ToLower(strings.TrimSpace(name))

	allowed, err := p.issuerIsAdmin(ctx, issuer)
	if err != nil {
		slog.Warn("permission lookup failed",
			"command", name,
			"issuer_id", issuer.ProfileID,
			"error", err,
		)
		return PlayerMessage(GatewayError("", err))
	}
	if !allowed {
		return PlayerMessage(ErrPermissionDenied(name))
	}

	cmd, ok := p.registry[name]
	if !ok {
		return PlayerMessage(ErrUnknownCommand(name))
	}

	exec := &execution{issuer: issuer, name: name, args: strings.Fields(args)}
	result, err := cmd.handler(ctx, exec)
	if err != nil {
		slog.Warn("command failed",
			"command", name,
			"issuer_id", issuer.ProfileID,
			"error", err,
		)
		msg := PlayerMessage(err)
		if isInvalidArgs(err) {
			msg = "Usage: " + cmd.usage
		}
		return msg
	}

	slog.Info("command executed",
		"command", name,
		"issuer_id", issuer.ProfileID,
		"issuer_name", issuer.DisplayName,
	)
	if p.onExecuted != nil {
		p.onExecuted(name)
	}
	return result
}

func (p *Pipeline) issuerIsAdmin(ctx context.Context, issuer Issuer) (bool, error) {
	profile, err := p.deps.Gateway.FindProfileByID(ctx, issuer.ProfileID)
	if err != nil {
		return false, err
	}
	return profile.HasPermission(adminPermission), nil
}
