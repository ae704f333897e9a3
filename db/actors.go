package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/lemmings/domain"
	"github.com/google/uuid"
)

const actorColumns = `id, ap_id, actor_type, name, domain, display_name, summary, inbox_url, shared_inbox_url,
	followers_url, moderators_url, public_key_pem, private_key_pem, local, deleted, last_refreshed_at, created_at`

const (
	sqlUpsertActor = `INSERT INTO actors(` + actorColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) DO UPDATE SET
			actor_type = excluded.actor_type,
			name = excluded.name,
			display_name = excluded.display_name,
			summary = excluded.summary,
			inbox_url = excluded.inbox_url,
			shared_inbox_url = excluded.shared_inbox_url,
			followers_url = excluded.followers_url,
			moderators_url = excluded.moderators_url,
			public_key_pem = excluded.public_key_pem,
			deleted = 0,
			last_refreshed_at = excluded.last_refreshed_at`
	sqlSelectActorByApId    = `SELECT ` + actorColumns + ` FROM actors WHERE ap_id = ?`
	sqlSelectActorById      = `SELECT ` + actorColumns + ` FROM actors WHERE id = ?`
	sqlSelectLocalActor     = `SELECT ` + actorColumns + ` FROM actors WHERE local = 1 AND actor_type = ? AND name = ?`
	sqlSelectLocalActors    = `SELECT ` + actorColumns + ` FROM actors WHERE local = 1 AND actor_type = ? AND deleted = 0 ORDER BY name`
	sqlMarkActorDeleted     = `UPDATE actors SET deleted = 1 WHERE ap_id = ?`
	sqlCountLocalActors     = `SELECT COUNT(*) FROM actors WHERE local = 1 AND actor_type = ? AND deleted = 0`
	sqlTouchActorRefreshed  = `UPDATE actors SET last_refreshed_at = ? WHERE ap_id = ?`
	sqlSelectActorsByDomain = `SELECT ` + actorColumns + ` FROM actors WHERE domain = ? AND deleted = 0`
)

func scanActor(s scanner) (*domain.Actor, error) {
	var a domain.Actor
	var actorType string
	err := s.Scan(
		&a.Id,
		&a.ApId,
		&actorType,
		&a.Name,
		&a.Domain,
		&a.DisplayName,
		&a.Summary,
		&a.InboxURL,
		&a.SharedInboxURL,
		&a.FollowersURL,
		&a.ModeratorsURL,
		&a.PublicKeyPem,
		&a.PrivateKeyPem,
		&a.Local,
		&a.Deleted,
		&a.LastRefreshedAt,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	a.Type = domain.ActorType(actorType)
	return &a, nil
}

// UpsertActor inserts the actor or refreshes the stored copy keyed by ap_id.
// Concurrent upserts of the same ap_id converge on one row. Remote actors
// register their domain as a known instance in the same transaction.
func (db *DB) UpsertActor(ctx context.Context, a *domain.Actor) (*domain.Actor, error) {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.LastRefreshedAt.IsZero() {
		a.LastRefreshedAt = time.Now()
	}

	var stored *domain.Actor
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertActor,
			a.Id,
			a.ApId,
			string(a.Type),
			a.Name,
			a.Domain,
			a.DisplayName,
			a.Summary,
			a.InboxURL,
			a.SharedInboxURL,
			a.FollowersURL,
			a.ModeratorsURL,
			a.PublicKeyPem,
			a.PrivateKeyPem,
			a.Local,
			a.Deleted,
			a.LastRefreshedAt,
			a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert actor %s: %w", a.ApId, err)
		}
		if !a.Local {
			if _, err := upsertInstance(ctx, tx, a.Domain); err != nil {
				return err
			}
		}
		stored, err = scanActor(tx.QueryRowContext(ctx, sqlSelectActorByApId, a.ApId))
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (db *DB) ReadActorByApId(ctx context.Context, apId string) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, sqlSelectActorByApId, apId))
}

func (db *DB) ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, sqlSelectActorById, id))
}

// ReadLocalActor finds a local person or community by its name.
func (db *DB) ReadLocalActor(ctx context.Context, actorType domain.ActorType, name string) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, sqlSelectLocalActor, string(actorType), name))
}

func (db *DB) ReadLocalActors(ctx context.Context, actorType domain.ActorType) ([]domain.Actor, error) {
	return db.queryActors(ctx, sqlSelectLocalActors, string(actorType))
}

// ReadActorsByDomain lists the cached actors of one instance.
func (db *DB) ReadActorsByDomain(ctx context.Context, domainName string) ([]domain.Actor, error) {
	return db.queryActors(ctx, sqlSelectActorsByDomain, domainName)
}

func (db *DB) MarkActorDeleted(ctx context.Context, apId string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlMarkActorDeleted, apId)
		return err
	})
}

// TouchActorRefreshed sets last_refreshed_at; tests use it to age an actor.
func (db *DB) TouchActorRefreshed(ctx context.Context, apId string, at time.Time) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlTouchActorRefreshed, at, apId)
		return err
	})
}

func (db *DB) CountLocalActors(ctx context.Context, actorType domain.ActorType) (int64, error) {
	var n int64
	err := db.db.QueryRowContext(ctx, sqlCountLocalActors, string(actorType)).Scan(&n)
	return n, err
}

func (db *DB) queryActors(ctx context.Context, query string, args ...any) ([]domain.Actor, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return actors, err
		}
		actors = append(actors, *a)
	}
	return actors, rows.Err()
}
