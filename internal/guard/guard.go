// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

// Package guard rejects join attempts before any session state exists,
// based on IP bans, account bans, and duplicate-session checks.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/samber/oops"

	"github.com/shorebound/shorebound/internal/store"
	"github.com/shorebound/shorebound/internal/world"
)

// RejectReason distinguishes why a join was refused. The transport
// surfaces it to the client before any session is created.
type RejectReason string

// Join rejection reasons.
const (
	ReasonIPBanned      RejectReason = "ip_banned"
	ReasonAccountBanned RejectReason = "account_banned"
	ReasonDuplicate     RejectReason = "duplicate_connection"
)

// Rejection describes a refused join. Until carries the ban expiry for
// the two ban reasons and is zero otherwise.
type Rejection struct {
	Reason RejectReason
	Until  time.Time
}

// Guard runs the synchronous pre-join checks.
type Guard struct {
	gateway store.Gateway
	router  *world.Router
}

// New creates a guard over the gateway and router.
func New(gateway store.Gateway, router *world.Router) *Guard {
	return &Guard{gateway: gateway, router: router}
}

// Check validates a join attempt. It returns the profile on success, a
// Rejection when the join is refused, or an error when a ban lookup
// itself failed. Ban checks fail closed: an indeterminate check is
// surfaced as a retryable error rather than admitting the join.
func (g *Guard) Check(ctx context.Context, remoteAddr, profileID string) (*store.Profile, *Rejection, error) {
	now := time.Now()
	ip := hostOnly(remoteAddr)

	ban, err := g.gateway.FindIPBan(ctx, ip)
	switch {
	case err == nil && !ban.Expired(now):
		return nil, &Rejection{Reason: ReasonIPBanned, Until: ban.ExpiresAt}, nil
	case err == nil:
		// Lapsed record; clear it so the table does not accrete.
		if delErr := g.gateway.DeleteIPBan(ctx, ip); delErr != nil {
			slog.Warn("failed to clear expired ip ban", "ip", ip, "error", delErr)
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, nil, oops.With("ip", ip).Wrap(err)
	}

	profile, err := g.gateway.FindProfileByID(ctx, profileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, oops.With("profile_id", profileID).Wrap(err)
	}

	if profile.IsBanned(now) {
		return nil, &Rejection{Reason: ReasonAccountBanned, Until: *profile.BanExpiresAt}, nil
	}

	// Record the address for future ban correlation. Best-effort: a
	// failure here must not block the join.
	if ip != "" && ip != profile.LastIP {
		if err := g.gateway.UpdateProfile(ctx, profileID, store.ProfileUpdate{LastIP: &ip}); err != nil {
			slog.Warn("failed to record last ip",
				"profile_id", profileID,
				"ip", ip,
				"error", err,
			)
		}
	}

	if g.router.IsUserConnected(profileID) {
		return nil, &Rejection{Reason: ReasonDuplicate}, nil
	}

	return profile, nil, nil
}

// hostOnly strips a port from a remote address when present.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
