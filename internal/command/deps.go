// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package command

import (
	"context"

	"github.com/samber/oops"

	"github.com/shorebound/shorebound/internal/catalog"
	"github.com/shorebound/shorebound/internal/moderation"
	"github.com/shorebound/shorebound/internal/store"
)

// adminPermission gates every command in the pipeline.
const adminPermission = store.PermissionAdmin

// gatewayIface is the slice of the persistence gateway the pipeline
// needs. *store.PostgresGateway satisfies it.
type gatewayIface interface {
	FindProfileByID(ctx context.Context, id string) (*store.Profile, error)
	FindProfileByUsername(ctx context.Context, name string, caseInsensitive bool) (*store.Profile, error)
	UpdateProfile(ctx context.Context, id string, update store.ProfileUpdate) error
	UpsertIPBan(ctx context.Context, ban store.IPBan) error
	DeleteIPBan(ctx context.Context, ip string) error
}

// busIface publishes moderation events.
type busIface interface {
	Publish(event moderation.Event)
}

// inventoryIface mutates the target's cached inventory for `give`.
type inventoryIface interface {
	AddItem(ctx context.Context, profileID, itemID string, amount int) ([]store.InventorySlot, error)
}

// itemCatalogIface validates item ids for `give` and `drop`.
type itemCatalogIface interface {
	Get(itemID string) (catalog.ItemDefinition, error)
}

func isInvalidArgs(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == CodeInvalidArgs
}
