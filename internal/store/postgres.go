// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

//go:embed migrations/001_initial.sql
var migrationSQL string

// statColumns maps statistic keys to their table columns. Keys outside
// this map are rejected before reaching SQL.
var statColumns = map[StatKey]string{
	StatDistanceWalked:  "distance_walked",
	StatDistanceRan:     "distance_ran",
	StatTimeOnlineMs:    "time_online_ms",
	StatCatches:         "catches",
	StatNPCInteractions: "npc_interactions",
}

// poolIface abstracts query execution so pgxmock can stand in for a
// *pgxpool.Pool in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresGateway implements Gateway using PostgreSQL.
type PostgresGateway struct {
	pool poolIface
}

// NewPostgresGateway connects to the database and verifies the
// connection, retrying with fibonacci backoff for transient failures.
func NewPostgresGateway(ctx context.Context, dsn string) (*PostgresGateway, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	backoff := retry.WithMaxDuration(30*time.Second, retry.NewFibonacci(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(pool.Ping(ctx))
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &PostgresGateway{pool: pool}, nil
}

// NewPostgresGatewayFromPool wraps an existing pool. Used by tests.
func NewPostgresGatewayFromPool(pool poolIface) *PostgresGateway {
	return &PostgresGateway{pool: pool}
}

// Close releases the connection pool.
func (g *PostgresGateway) Close() {
	g.pool.Close()
}

// Migrate runs the embedded schema migration.
func (g *PostgresGateway) Migrate(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("failed to run database migration: %w", err)
	}
	return nil
}

const profileColumns = `id, username, permissions, ban_expires_at, mute_expires_at, last_ip,
	 distance_walked, distance_ran, time_online_ms, catches, npc_interactions, inventory`

// FindProfileByID loads a profile by its durable id.
func (g *PostgresGateway) FindProfileByID(ctx context.Context, id string) (*Profile, error) {
	row := g.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	return scanProfile(row)
}

// FindProfileByUsername loads a profile by username.
func (g *PostgresGateway) FindProfileByUsername(ctx context.Context, name string, caseInsensitive bool) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE username = $1`
	if caseInsensitive {
		query = `SELECT ` + profileColumns + ` FROM profiles WHERE lower(username) = lower($1)`
	}
	return scanProfile(g.pool.QueryRow(ctx, query, name))
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	var banAt, muteAt *time.Time
	var lastIP *string
	var inventoryJSON []byte

	err := row.Scan(&p.ID, &p.Username, &p.Permissions, &banAt, &muteAt, &lastIP,
		&p.Stats.DistanceWalked, &p.Stats.DistanceRan, &p.Stats.TimeOnlineMs,
		&p.Stats.Catches, &p.Stats.NPCInteractions, &inventoryJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "scan profile").Wrap(err)
	}

	p.BanExpiresAt = banAt
	p.MuteExpiresAt = muteAt
	if lastIP != nil {
		p.LastIP = *lastIP
	}
	if len(inventoryJSON) > 0 {
		if err := json.Unmarshal(inventoryJSON, &p.Inventory); err != nil {
			return nil, oops.With("operation", "decode inventory").With("profile_id", p.ID).Wrap(err)
		}
	}
	return &p, nil
}

// UpdateProfile applies a partial update. A no-op update succeeds
// without touching the database.
func (g *PostgresGateway) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) error {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	args = append(args, id)

	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.BanExpiresAt != nil {
		appendSet("ban_expires_at", nullableArg(*update.BanExpiresAt))
	}
	if update.MuteExpiresAt != nil {
		appendSet("mute_expires_at", nullableArg(*update.MuteExpiresAt))
	}
	if update.LastIP != nil {
		appendSet("last_ip", *update.LastIP)
	}
	if update.Inventory != nil {
		encoded, err := json.Marshal(*update.Inventory)
		if err != nil {
			return oops.With("operation", "encode inventory").With("profile_id", id).Wrap(err)
		}
		appendSet("inventory", encoded)
	}

	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")

	tag, err := g.pool.Exec(ctx,
		`UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return oops.With("operation", "update profile").With("profile_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableArg(t NullableTime) any {
	if !t.Valid {
		return nil
	}
	return t.Time
}

// IncrementProfileStats adds deltas to the persisted accumulators in a
// single atomic update.
func (g *PostgresGateway) IncrementProfileStats(ctx context.Context, id string, deltas StatDeltas) error {
	if deltas.IsZero() {
		return nil
	}
	tag, err := g.pool.Exec(ctx,
		`UPDATE profiles SET
		   distance_walked = distance_walked + $2,
		   distance_ran = distance_ran + $3,
		   time_online_ms = time_online_ms + $4,
		   catches = catches + $5,
		   npc_interactions = npc_interactions + $6,
		   updated_at = now()
		 WHERE id = $1`,
		id, deltas.DistanceWalked, deltas.DistanceRan, deltas.TimeOnlineMs,
		deltas.Catches, deltas.NPCInteractions)
	if err != nil {
		return oops.With("operation", "increment stats").With("profile_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountStatGreater returns how many profiles hold a strictly greater
// persisted value for the given statistic.
func (g *PostgresGateway) CountStatGreater(ctx context.Context, key StatKey, value float64) (int, error) {
	column, ok := statColumns[key]
	if !ok {
		return 0, oops.Code("UNKNOWN_STAT").With("stat", string(key)).Errorf("unknown statistic %q", key)
	}
	var count int
	err := g.pool.QueryRow(ctx,
		`SELECT count(*) FROM profiles WHERE `+column+` > $1`, value).Scan(&count)
	if err != nil {
		return 0, oops.With("operation", "count stat greater").With("stat", string(key)).Wrap(err)
	}
	return count, nil
}

// FindIPBan loads a ban record for a network address.
func (g *PostgresGateway) FindIPBan(ctx context.Context, ip string) (*IPBan, error) {
	var ban IPBan
	var profileID *string
	err := g.pool.QueryRow(ctx,
		`SELECT ip, profile_id, expires_at FROM ip_bans WHERE ip = $1`, ip).
		Scan(&ban.IP, &profileID, &ban.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "find ip ban").With("ip", ip).Wrap(err)
	}
	if profileID != nil {
		ban.ProfileID = *profileID
	}
	return &ban, nil
}

// UpsertIPBan creates or refreshes a ban record for an address.
func (g *PostgresGateway) UpsertIPBan(ctx context.Context, ban IPBan) error {
	var profileArg any
	if ban.ProfileID != "" {
		profileArg = ban.ProfileID
	}
	_, err := g.pool.Exec(ctx,
		`INSERT INTO ip_bans (ip, profile_id, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (ip) DO UPDATE SET profile_id = $2, expires_at = $3`,
		ban.IP, profileArg, ban.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// A foreign key violation means the correlated profile is gone.
		if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
			return ErrNotFound
		}
		return oops.With("operation", "upsert ip ban").With("ip", ban.IP).Wrap(err)
	}
	return nil
}

// DeleteIPBan removes a ban record. Deleting an absent record is not an
// error.
func (g *PostgresGateway) DeleteIPBan(ctx context.Context, ip string) error {
	if _, err := g.pool.Exec(ctx, `DELETE FROM ip_bans WHERE ip = $1`, ip); err != nil {
		return oops.With("operation", "delete ip ban").With("ip", ip).Wrap(err)
	}
	return nil
}
