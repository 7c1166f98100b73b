// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shorebound/shorebound/internal/moderation"
	"github.com/shorebound/shorebound/internal/store"
)

// permanentBanHorizon stands in for "forever" on ban and mute
// expiries.
const permanentBanHorizon = 100 * 365 * 24 * time.Hour

// rebootWarning is broadcast before the grace delay runs out.
const rebootWarning = "Server restarting shortly. You will be disconnected."

func handleBan(p *Pipeline, ctx context.Context, exec *execution) (string, error) {
	if len(exec.args) != 1 {
		return "", ErrInvalidArgs(exec.name, "")
	}
	return p.applyBan(ctx, exec.args[0], time.Now().Add(permanentBanHorizon), "permanently")
}

func handleTempBan(p *Pipeline, ctx context.Context, exec *execution) (string, error) {
	if len(exec.args) != 2 {
		return "", ErrInvalidArgs(exec.name, "")
	}
	d, err := ParseDuration(exec.args[1])
	if err != nil {
		return "", err
	}
	until := time.Now().Add(d)
	return p.applyBan(ctx, exec.args[0], until, "until "+until.UTC().Format(time.RFC3339))
}

// applyBan sets the account ban, correlates an IP ban when the
// target's last address is known, and kicks the target everywhere.
func (p *Pipeline) applyBan(ctx context.Context, username string, until time.Time, phrase string) (string, error) {
	target, err := p.resolveTarget(ctx, username)
	if err != nil {
		return "", err
	}
	if target.HasPermission(adminPermission) {
		return "", ErrTargetProtected(target.Username)
	}

	err = p.deps.Gateway.UpdateProfile(ctx, target.ID, store.ProfileUpdate{
		BanExpiresAt: store.SetTime(until),
	})
	if err != nil {
		return "", GatewayError("Could not apply the ban. Try again.", err)
	}

	if target.LastIP != "" {
		ipBan := store.IPBan{IP: target.LastIP, ProfileID: target.ID, ExpiresAt: until}
		if err := p.deps.Gateway.UpsertIPBan(ctx, ipBan); err != nil {
			slog.Warn("failed to correlate ip ban",
				"profile_id", target.ID,
				"ip", target.LastIP,
				"error", err,
			)
		}
	}

	p.deps.Bus.Publish(moderation.Kick{ProfileID: target.ID})
	return fmt.Sprintf("Banned %s %s.", target.Username, phrase), nil
}

func handleUnban(p *Pipeline, ctx context.Context, exec *execution) (string, error) {
	if len(exec.args) != 1 {
		return "", ErrInvalidArgs(exec.name, "")
	}
	target, err := p.resolveTarget(ctx, exec.args[0])
	if err != nil {
		return "", err
	}

	err = p.deps.Gateway.UpdateProfile(ctx, target.ID, store.ProfileUpdate{
		BanExpiresAt: store.ClearTime(),
	})
	if err != nil {
		return "", GatewayError("Could not lift the ban. Try again.", err)
	}

	if target.LastIP != "" {
		if err := p.deps.Gateway.DeleteIPBan(ctx, target.LastIP); err != nil {
			slog.Warn("failed to remove ip ban",
				"profile_id", target.ID,
				"ip", target.LastIP,
				"error", err,
			)
		}
	}
	return fmt.Sprintf("Unbanned %s.", target.Username), nil
}

func handleMute(p *Pipeline, ctx context.Context, exec *execution) (string, error) {
	if len(exec.args) != 1 {
		return "", ErrInvalidArgs(exec.name, "")
	}
	return p.applyMute(ctx, exec.args[0], time.Now().Add(permanentBanHorizon),
		"You have been muted by a moderator.", "Muted %s.")
}

func handleTempMute(p *Pipeline, ctx context.Context, exec *execution) (string, error) {
	if len(exec.args) != 2 {
		return "", ErrInvalidArgs(exec.name, "")
	}
	d, err := ParseDuration(exec.args[1])
	if err != nil {
		return "", err
	}
	return p.applyMute(ctx, exec.args[0], time.Now().Add(d),
		fmt.Sprintf("You have been muted for %s.", exec.args[1]), "Muted %s.")
}

func (p *Pipeline) applyMute(ctx context.Context, username string, until time.Time, notice, confirmation string) (string, error) {
	target, err := p.resolveTarget(ctx, username)
	if err != nil {
		return "", err
	}

	err = p.deps.Gateway.UpdateProfile(ctx, target.ID, store.ProfileUpdate{
		MuteExpiresAt: store.SetTime(until),
	})
	if err != nil {
		return "", GatewayError("Could not apply the mute. Try again.", err)
	}

	p.deps.Bus.Publish(moderation.DirectMessage{ProfileID: target.ID, Text: notice})
	return fmt.Sprintf(confirmation, target.Username), nil
}

func handleUnmute(p *Pipeline, ctx context.Context, exec *execution) (string, error) {
	if len(exec.args) != 1 {
		return "", ErrInvalidArgs(exec.name, "")
	}
	target, err := p.resolveTarget(ctx, exec.args[0])
	if err != nil {
		return "", err
	}

	err = p.deps.Gateway.UpdateProfile(ctx, target.ID, store.ProfileUpdate{
		MuteExpiresAt: store.ClearTime(),
	})
	if err != nil {
		return "", GatewayError("Could not lift the mute. Try again.", err)
	}

	p.deps.Bus.Publish(moderation.DirectMessage{
		ProfileID: target.ID,
		Text:      "You have been unmuted.",
	})
	return fmt.Sprintf("Unmuted %s.", target.Username), nil
}

func handleBroadcast(p *Pipeline, _ context.Context, exec *execution) (string, error) {
	text := strings.Join(exec.args, " ")
	if text == "" {
		return "", ErrInvalidArgs(exec.name, "")
	}
	p.deps.Bus.Publish(moderation.Broadcast{Text: text})
	return "Broadcast sent.", nil
}

func handleReboot(p *Pipeline, _ context.Context, exec *execution) (string, error) {
	p.deps.Bus.Publish(moderation.Broadcast{Text: rebootWarning})
	slog.Warn("reboot scheduled",
		"issuer_id", exec.issuer.ProfileID,
		"grace", p.deps.RebootGrace,
	)
	time.AfterFunc(p.deps.RebootGrace, p.deps.Terminate)
	return fmt.Sprintf("Rebooting in %s.", p.deps.RebootGrace), nil
}

func handleGive(p *Pipeline, ctx context.Context, exec *execution) (string, error) {
	target, itemID, amount, err := p.resolveItemArgs(ctx, exec)
	if err != nil {
		return "", err
	}

	slots, err := p.deps.Inventory.AddItem(ctx, target.ID, itemID, amount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrTargetNotFound(target.Username)
		}
		return "", GatewayError(fmt.Sprintf("Could not give %s to %s.", itemID, target.Username), err)
	}

	p.deps.Bus.Publish(moderation.InventoryChanged{ProfileID: target.ID, Slots: slots})
	return fmt.Sprintf("Gave %d x %s to %s.", amount, itemID, target.Username), nil
}

func handleDrop(p *Pipeline, ctx context.Context, exec *execution) (string, error) {
	target, itemID, amount, err := p.resolveItemArgs(ctx, exec)
	if err != nil {
		return "", err
	}

	p.deps.Bus.Publish(moderation.ItemDropped{
		ProfileID: target.ID,
		ItemID:    itemID,
		Amount:    amount,
	})
	return fmt.Sprintf("Dropped %d x %s near %s.", amount, itemID, target.Username), nil
}

// resolveItemArgs handles the shared `<username> <itemId> [amount]`
// shape of give and drop, validating the item against the catalogue.
func (p *Pipeline) resolveItemArgs(ctx context.Context, exec *execution) (*store.Profile, string, int, error) {
	if len(exec.args) < 2 || len(exec.args) > 3 {
		return nil, "", 0, ErrInvalidArgs(exec.name, "")
	}

	amount := 1
	if len(exec.args) == 3 {
		n, err := strconv.Atoi(exec.args[2])
		if err != nil || n <= 0 {
			return nil, "", 0, ErrInvalidArgs(exec.name, "")
		}
		amount = n
	}

	itemID := exec.args[1]
	if _, err := p.deps.Items.Get(itemID); err != nil {
		return nil, "", 0, GatewayError(fmt.Sprintf("No such item %q.", itemID), err)
	}

	target, err := p.resolveTarget(ctx, exec.args[0])
	if err != nil {
		return nil, "", 0, err
	}
	return target, itemID, amount, nil
}

func (p *Pipeline) resolveTarget(ctx context.Context, username string) (*store.Profile, error) {
	target, err := p.deps.Gateway.FindProfileByUsername(ctx, username, true)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTargetNotFound(username)
		}
		return nil, GatewayError("Could not look up that player. Try again.", err)
	}
	return target, nil
}
