// Package legacy reads the relational tables of the legacy Postgres database
// into the snapshot document consumed by the import.
package legacy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ssaucsd/ssaucsd-org/internal/migrations"
	"go.uber.org/zap"
)

const (
	profilesQuery = `
		SELECT id::text, email, first_name, last_name, preferred_name, instrument,
		       role::text, major, graduation_year::int, is_onboarded
		FROM public.profiles
		ORDER BY id`
	eventsQuery = `
		SELECT id::text, title, description, location, start_time, end_time,
		       image_url, is_all_day, created_at, updated_at
		FROM public.events
		ORDER BY start_time, id`
	resourcesQuery = `
		SELECT id::text, name, link, description, is_pinned, created_at
		FROM public.resources
		ORDER BY id`
	tagsQuery = `
		SELECT id::text, name, slug, display_order::int, created_at
		FROM public.tags
		ORDER BY display_order, id`
	resourceTagsQuery = `
		SELECT resource_id::text, tag_id::text, created_at
		FROM public.resource_tags`
	rsvpsQuery = `
		SELECT id::text, user_id::text, event_id::text, status::text, created_at
		FROM public.rsvps
		ORDER BY id`
)

// querier is the subset of pgxpool.Pool the reader needs.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Reader reads legacy tables.
type Reader struct {
	pool   *pgxpool.Pool
	db     querier
	logger *zap.Logger
}

// Connect opens a small pool against the legacy database URL and pings it.
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*Reader, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("legacy: database url required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("legacy: parse pool config: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("legacy: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("legacy: ping: %w", err)
	}
	logger.Info("legacy database connected", zap.Int32("max_conns", poolConfig.MaxConns))
	return &Reader{pool: pool, db: pool, logger: logger}, nil
}

// Close releases the pool.
func (r *Reader) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// ReadSnapshot reads all six legacy tables.
func (r *Reader) ReadSnapshot(ctx context.Context) (migrations.Snapshot, error) {
	var (
		snapshot migrations.Snapshot
		err      error
	)
	if snapshot.Profiles, err = collect(ctx, r.db, "profiles", profilesQuery, scanProfile); err != nil {
		return migrations.Snapshot{}, err
	}
	if snapshot.Events, err = collect(ctx, r.db, "events", eventsQuery, scanEvent); err != nil {
		return migrations.Snapshot{}, err
	}
	if snapshot.Resources, err = collect(ctx, r.db, "resources", resourcesQuery, scanResource); err != nil {
		return migrations.Snapshot{}, err
	}
	if snapshot.Tags, err = collect(ctx, r.db, "tags", tagsQuery, scanTag); err != nil {
		return migrations.Snapshot{}, err
	}
	if snapshot.ResourceTags, err = collect(ctx, r.db, "resource_tags", resourceTagsQuery, scanResourceTag); err != nil {
		return migrations.Snapshot{}, err
	}
	if snapshot.Rsvps, err = collect(ctx, r.db, "rsvps", rsvpsQuery, scanRsvp); err != nil {
		return migrations.Snapshot{}, err
	}

	r.logger.Info("legacy tables read",
		zap.Int("profiles", len(snapshot.Profiles)),
		zap.Int("events", len(snapshot.Events)),
		zap.Int("resources", len(snapshot.Resources)),
		zap.Int("tags", len(snapshot.Tags)),
		zap.Int("resource_tags", len(snapshot.ResourceTags)),
		zap.Int("rsvps", len(snapshot.Rsvps)))
	return snapshot, nil
}

func collect[T any](ctx context.Context, db querier, table, query string, scan func(pgx.CollectableRow) (T, error)) ([]T, error) {
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("legacy: query %s: %w", table, err)
	}
	records, err := pgx.CollectRows(rows, scan)
	if err != nil {
		return nil, fmt.Errorf("legacy: scan %s: %w", table, err)
	}
	return records, nil
}

func scanProfile(row pgx.CollectableRow) (migrations.LegacyProfile, error) {
	var (
		id      string
		profile migrations.LegacyProfile
	)
	err := row.Scan(&id, &profile.Email, &profile.FirstName, &profile.LastName, &profile.PreferredName,
		&profile.Instrument, &profile.Role, &profile.Major, &profile.GraduationYear, &profile.IsOnboarded)
	profile.ID = migrations.LegacyID(id)
	return profile, err
}

func scanEvent(row pgx.CollectableRow) (migrations.LegacyEvent, error) {
	var r eventRow
	if err := row.Scan(&r.ID, &r.Title, &r.Description, &r.Location, &r.StartTime, &r.EndTime,
		&r.ImageURL, &r.IsAllDay, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return migrations.LegacyEvent{}, err
	}
	return r.toLegacy(), nil
}

func scanResource(row pgx.CollectableRow) (migrations.LegacyResource, error) {
	var r resourceRow
	if err := row.Scan(&r.ID, &r.Name, &r.Link, &r.Description, &r.IsPinned, &r.CreatedAt); err != nil {
		return migrations.LegacyResource{}, err
	}
	return r.toLegacy(), nil
}

func scanTag(row pgx.CollectableRow) (migrations.LegacyTag, error) {
	var r tagRow
	if err := row.Scan(&r.ID, &r.Name, &r.Slug, &r.DisplayOrder, &r.CreatedAt); err != nil {
		return migrations.LegacyTag{}, err
	}
	return r.toLegacy(), nil
}

func scanResourceTag(row pgx.CollectableRow) (migrations.LegacyResourceTag, error) {
	var r resourceTagRow
	if err := row.Scan(&r.ResourceID, &r.TagID, &r.CreatedAt); err != nil {
		return migrations.LegacyResourceTag{}, err
	}
	return r.toLegacy(), nil
}

func scanRsvp(row pgx.CollectableRow) (migrations.LegacyRsvp, error) {
	var r rsvpRow
	if err := row.Scan(&r.ID, &r.UserID, &r.EventID, &r.Status, &r.CreatedAt); err != nil {
		return migrations.LegacyRsvp{}, err
	}
	return r.toLegacy(), nil
}
