package db

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

const (
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		actor_type TEXT NOT NULL,
		name TEXT NOT NULL,
		domain TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		inbox_url TEXT NOT NULL,
		shared_inbox_url TEXT NOT NULL DEFAULT '',
		followers_url TEXT NOT NULL DEFAULT '',
		moderators_url TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL,
		private_key_pem TEXT NOT NULL DEFAULT '',
		local INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		last_refreshed_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`

	sqlCreateActorsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_local_name ON actors(actor_type, name) WHERE local = 1;
		CREATE INDEX IF NOT EXISTS idx_actors_domain ON actors(domain);
	`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		community_id TEXT NOT NULL REFERENCES actors(id),
		creator_id TEXT NOT NULL REFERENCES actors(id),
		name TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		local INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		published TIMESTAMP NOT NULL,
		updated TIMESTAMP
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_community ON posts(community_id, published DESC);
	`

	sqlCreateCommentsTable = `CREATE TABLE IF NOT EXISTS comments (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		post_id TEXT NOT NULL REFERENCES posts(id),
		parent_id TEXT,
		creator_id TEXT NOT NULL REFERENCES actors(id),
		content TEXT NOT NULL,
		local INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		published TIMESTAMP NOT NULL,
		updated TIMESTAMP
	)`

	sqlCreateVotesTable = `CREATE TABLE IF NOT EXISTS votes (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT NOT NULL,
		actor_id TEXT NOT NULL REFERENCES actors(id),
		object_ap_id TEXT NOT NULL,
		score INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(actor_id, object_ap_id)
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT NOT NULL,
		follower_id TEXT NOT NULL REFERENCES actors(id),
		target_id TEXT NOT NULL REFERENCES actors(id),
		pending INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(follower_id, target_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_target ON follows(target_id);
	`

	sqlCreateCommunityBansTable = `CREATE TABLE IF NOT EXISTS community_bans (
		community_id TEXT NOT NULL REFERENCES actors(id),
		person_id TEXT NOT NULL REFERENCES actors(id),
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY(community_id, person_id)
	)`

	sqlCreateModeratorsTable = `CREATE TABLE IF NOT EXISTS community_moderators (
		community_id TEXT NOT NULL REFERENCES actors(id),
		person_id TEXT NOT NULL REFERENCES actors(id),
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY(community_id, person_id)
	)`

	sqlCreateReportsTable = `CREATE TABLE IF NOT EXISTS reports (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		reporter_id TEXT NOT NULL REFERENCES actors(id),
		community_id TEXT NOT NULL REFERENCES actors(id),
		object_ap_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		resolved INTEGER NOT NULL DEFAULT 0,
		resolver_id TEXT,
		created_at TIMESTAMP NOT NULL
	)`

	sqlCreateInstancesTable = `CREATE TABLE IF NOT EXISTS instances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		domain TEXT UNIQUE NOT NULL,
		software TEXT NOT NULL DEFAULT '',
		updated TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`

	sqlCreateSentActivitiesTable = `CREATE TABLE IF NOT EXISTS sent_activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ap_id TEXT UNIQUE NOT NULL,
		kind TEXT NOT NULL,
		data TEXT NOT NULL,
		actor_ap_id TEXT NOT NULL,
		sensitive INTEGER NOT NULL DEFAULT 0,
		send_inboxes TEXT NOT NULL DEFAULT '[]',
		send_community_followers_of TEXT,
		send_all_instances INTEGER NOT NULL DEFAULT 0,
		published TIMESTAMP NOT NULL
	)`

	sqlCreateReceivedActivitiesTable = `CREATE TABLE IF NOT EXISTS received_activities (
		ap_id TEXT NOT NULL PRIMARY KEY,
		published TIMESTAMP NOT NULL
	)`

	sqlCreateQueueStateTable = `CREATE TABLE IF NOT EXISTS federation_queue_state (
		instance_id INTEGER NOT NULL PRIMARY KEY REFERENCES instances(id),
		last_successful_id INTEGER NOT NULL,
		fail_count INTEGER NOT NULL DEFAULT 0,
		last_retry TIMESTAMP,
		last_successful_published TIMESTAMP
	)`
)

type migration struct {
	table string
	sql   string
}

var tables = []migration{
	{"actors", sqlCreateActorsTable},
	{"posts", sqlCreatePostsTable},
	{"comments", sqlCreateCommentsTable},
	{"votes", sqlCreateVotesTable},
	{"follows", sqlCreateFollowsTable},
	{"community_bans", sqlCreateCommunityBansTable},
	{"community_moderators", sqlCreateModeratorsTable},
	{"reports", sqlCreateReportsTable},
	{"instances", sqlCreateInstancesTable},
	{"sent_activities", sqlCreateSentActivitiesTable},
	{"received_activities", sqlCreateReceivedActivitiesTable},
	{"federation_queue_state", sqlCreateQueueStateTable},
}

var indices = []migration{
	{"actors", sqlCreateActorsIndices},
	{"posts", sqlCreatePostsIndices},
	{"follows", sqlCreateFollowsIndices},
}

// Migrate creates every table and index that does not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, m := range tables {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return fmt.Errorf("create table %s: %w", m.table, err)
			}
		}
		for _, m := range indices {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return fmt.Errorf("create indices on %s: %w", m.table, err)
			}
		}
		db.logger.Debug("schema up to date", zap.Int("tables", len(tables)))
		return nil
	})
}
