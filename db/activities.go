package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/lemmings/domain"
	"github.com/google/uuid"
)

const (
	sentColumns = `id, ap_id, kind, data, actor_ap_id, sensitive, send_inboxes, send_community_followers_of,
		send_all_instances, published`
	sqlInsertSentActivity = `INSERT INTO sent_activities(ap_id, kind, data, actor_ap_id, sensitive, send_inboxes,
		send_community_followers_of, send_all_instances, published) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectSentAfter   = `SELECT ` + sentColumns + ` FROM sent_activities WHERE id > ? ORDER BY id LIMIT ?`
	sqlSelectSentByApId  = `SELECT ` + sentColumns + ` FROM sent_activities WHERE ap_id = ?`
	sqlMaxSentActivityId = `SELECT COALESCE(MAX(id), 0) FROM sent_activities`

	sqlInsertReceived = `INSERT INTO received_activities(ap_id, published) VALUES (?, ?)
		ON CONFLICT(ap_id) DO NOTHING`
	sqlIsReceived = `SELECT EXISTS(SELECT 1 FROM received_activities WHERE ap_id = ?)`
)

func scanSentActivity(s scanner) (*domain.SentActivity, error) {
	var a domain.SentActivity
	var inboxes string
	var community uuid.NullUUID
	err := s.Scan(&a.Id, &a.ApId, &a.Kind, &a.Data, &a.ActorApId, &a.Sensitive, &inboxes, &community,
		&a.SendAllInstances, &a.Published)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal([]byte(inboxes), &a.SendInboxes); err != nil {
		return nil, fmt.Errorf("sent activity %d has invalid inbox list: %w", a.Id, err)
	}
	if community.Valid {
		a.SendCommunityFollowerOf = &community.UUID
	}
	return &a, nil
}

// InsertSentActivity appends an activity to the outbox sequence and returns
// its id.
func (db *DB) InsertSentActivity(ctx context.Context, a *domain.SentActivity) (int64, error) {
	if a.Published.IsZero() {
		a.Published = time.Now()
	}
	inboxes := a.SendInboxes
	if inboxes == nil {
		inboxes = []string{}
	}
	encoded, err := json.Marshal(inboxes)
	if err != nil {
		return 0, err
	}
	var community uuid.NullUUID
	if a.SendCommunityFollowerOf != nil {
		community = uuid.NullUUID{UUID: *a.SendCommunityFollowerOf, Valid: true}
	}

	err = db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertSentActivity, a.ApId, a.Kind, a.Data, a.ActorApId, a.Sensitive,
			string(encoded), community, a.SendAllInstances, a.Published)
		if err != nil {
			return fmt.Errorf("insert sent activity %s: %w", a.ApId, err)
		}
		a.Id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return a.Id, nil
}

// ReadSentActivitiesAfter returns up to limit activities with id > after in
// ascending id order.
func (db *DB) ReadSentActivitiesAfter(ctx context.Context, after int64, limit int) ([]domain.SentActivity, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectSentAfter, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []domain.SentActivity
	for rows.Next() {
		a, err := scanSentActivity(rows)
		if err != nil {
			return activities, err
		}
		activities = append(activities, *a)
	}
	return activities, rows.Err()
}

func (db *DB) ReadSentActivityByApId(ctx context.Context, apId string) (*domain.SentActivity, error) {
	return scanSentActivity(db.db.QueryRowContext(ctx, sqlSelectSentByApId, apId))
}

func (db *DB) MaxSentActivityId(ctx context.Context) (int64, error) {
	var id int64
	err := db.db.QueryRowContext(ctx, sqlMaxSentActivityId).Scan(&id)
	return id, err
}

// InsertReceivedActivity records an inbound activity id. It reports false if
// the id was already known.
func (db *DB) InsertReceivedActivity(ctx context.Context, apId string) (bool, error) {
	var inserted bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertReceived, apId, time.Now())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n > 0
		return err
	})
	return inserted, err
}

func (db *DB) IsActivityReceived(ctx context.Context, apId string) (bool, error) {
	var seen bool
	err := db.db.QueryRowContext(ctx, sqlIsReceived, apId).Scan(&seen)
	return seen, err
}
