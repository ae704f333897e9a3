package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/lemmings/domain"
	"github.com/google/uuid"
)

// Follows
const (
	followColumns   = `id, ap_id, follower_id, target_id, pending, created_at`
	sqlInsertFollow = `INSERT INTO follows(` + followColumns + `) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(follower_id, target_id) DO NOTHING`
	sqlSelectFollow    = `SELECT ` + followColumns + ` FROM follows WHERE follower_id = ? AND target_id = ?`
	sqlAcceptFollow    = `UPDATE follows SET pending = 0 WHERE follower_id = ? AND target_id = ?`
	sqlDeleteFollow    = `DELETE FROM follows WHERE follower_id = ? AND target_id = ?`
	sqlSelectFollowers = `SELECT ` + actorSelectPrefixed + ` FROM follows f JOIN actors a ON a.id = f.follower_id
		WHERE f.target_id = ? AND f.pending = 0 AND a.deleted = 0 ORDER BY a.ap_id`
	sqlCountFollowers = `SELECT COUNT(*) FROM follows WHERE target_id = ? AND pending = 0`
	// shared inbox first so a whole instance is posted to once
	sqlFollowerInboxesOnDomain = `SELECT DISTINCT CASE WHEN a.shared_inbox_url != '' THEN a.shared_inbox_url ELSE a.inbox_url END
		FROM follows f JOIN actors a ON a.id = f.follower_id
		WHERE f.target_id = ? AND f.pending = 0 AND a.deleted = 0 AND a.local = 0 AND a.domain = ?
		ORDER BY 1`
)

const actorSelectPrefixed = `a.id, a.ap_id, a.actor_type, a.name, a.domain, a.display_name, a.summary, a.inbox_url,
	a.shared_inbox_url, a.followers_url, a.moderators_url, a.public_key_pem, a.private_key_pem, a.local, a.deleted,
	a.last_refreshed_at, a.created_at`

// CreateFollow stores the follow and reports whether a new row was created.
// Following twice is not an error.
func (db *DB) CreateFollow(ctx context.Context, f *domain.Follow) (bool, error) {
	if f.Id == uuid.Nil {
		f.Id = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	var created bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertFollow, f.Id, f.ApId, f.FollowerId, f.TargetId, f.Pending, f.CreatedAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		created = n > 0
		return err
	})
	return created, err
}

func (db *DB) ReadFollow(ctx context.Context, followerId, targetId uuid.UUID) (*domain.Follow, error) {
	var f domain.Follow
	err := db.db.QueryRowContext(ctx, sqlSelectFollow, followerId, targetId).
		Scan(&f.Id, &f.ApId, &f.FollowerId, &f.TargetId, &f.Pending, &f.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (db *DB) AcceptFollow(ctx context.Context, followerId, targetId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlAcceptFollow, followerId, targetId)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (db *DB) DeleteFollow(ctx context.Context, followerId, targetId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteFollow, followerId, targetId)
		return err
	})
}

// ReadFollowers lists accepted followers of an actor.
func (db *DB) ReadFollowers(ctx context.Context, targetId uuid.UUID) ([]domain.Actor, error) {
	return db.queryActors(ctx, sqlSelectFollowers, targetId)
}

func (db *DB) CountFollowers(ctx context.Context, targetId uuid.UUID) (int64, error) {
	var n int64
	err := db.db.QueryRowContext(ctx, sqlCountFollowers, targetId).Scan(&n)
	return n, err
}

// FollowerInboxesOnDomain returns the distinct delivery inboxes of the
// target's accepted followers that live on the given instance.
func (db *DB) FollowerInboxesOnDomain(ctx context.Context, targetId uuid.UUID, instance string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, sqlFollowerInboxesOnDomain, targetId, instance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inboxes []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return inboxes, err
		}
		inboxes = append(inboxes, inbox)
	}
	return inboxes, rows.Err()
}

// Bans
const (
	sqlInsertBan = `INSERT INTO community_bans(community_id, person_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(community_id, person_id) DO NOTHING`
	sqlDeleteBan = `DELETE FROM community_bans WHERE community_id = ? AND person_id = ?`
	sqlIsBanned  = `SELECT EXISTS(SELECT 1 FROM community_bans WHERE community_id = ? AND person_id = ?)`
)

func (db *DB) Ban(ctx context.Context, communityId, personId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertBan, communityId, personId, time.Now())
		return err
	})
}

func (db *DB) Unban(ctx context.Context, communityId, personId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteBan, communityId, personId)
		return err
	})
}

func (db *DB) IsBanned(ctx context.Context, communityId, personId uuid.UUID) (bool, error) {
	var banned bool
	err := db.db.QueryRowContext(ctx, sqlIsBanned, communityId, personId).Scan(&banned)
	return banned, err
}

// Moderators
const (
	sqlInsertModerator = `INSERT INTO community_moderators(community_id, person_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(community_id, person_id) DO NOTHING`
	sqlClearModerators  = `DELETE FROM community_moderators WHERE community_id = ?`
	sqlIsModerator      = `SELECT EXISTS(SELECT 1 FROM community_moderators WHERE community_id = ? AND person_id = ?)`
	sqlSelectModerators = `SELECT ` + actorSelectPrefixed + ` FROM community_moderators m JOIN actors a ON a.id = m.person_id
		WHERE m.community_id = ? ORDER BY m.created_at, a.ap_id`
)

func (db *DB) AddModerator(ctx context.Context, communityId, personId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertModerator, communityId, personId, time.Now())
		return err
	})
}

// ReplaceModerators swaps the moderator list of a community in one transaction.
func (db *DB) ReplaceModerators(ctx context.Context, communityId uuid.UUID, personIds []uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlClearModerators, communityId); err != nil {
			return err
		}
		now := time.Now()
		for _, p := range personIds {
			if _, err := tx.ExecContext(ctx, sqlInsertModerator, communityId, p, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) IsModerator(ctx context.Context, communityId, personId uuid.UUID) (bool, error) {
	var mod bool
	err := db.db.QueryRowContext(ctx, sqlIsModerator, communityId, personId).Scan(&mod)
	return mod, err
}

func (db *DB) ReadModerators(ctx context.Context, communityId uuid.UUID) ([]domain.Actor, error) {
	return db.queryActors(ctx, sqlSelectModerators, communityId)
}
