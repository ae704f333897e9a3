package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/lemmings/domain"
	"github.com/google/uuid"
)

// Posts
const (
	postColumns   = `id, ap_id, community_id, creator_id, name, url, body, local, deleted, published, updated`
	sqlUpsertPost = `INSERT INTO posts(` + postColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			body = excluded.body,
			updated = excluded.updated`
	sqlSelectPostByApId       = `SELECT ` + postColumns + ` FROM posts WHERE ap_id = ?`
	sqlSelectPostById         = `SELECT ` + postColumns + ` FROM posts WHERE id = ?`
	sqlSelectPostsByCommunity = `SELECT ` + postColumns + ` FROM posts WHERE community_id = ? AND deleted = 0 ORDER BY published DESC LIMIT ?`
	sqlMarkPostDeleted        = `UPDATE posts SET deleted = 1 WHERE ap_id = ?`
	sqlCountLocalPosts        = `SELECT COUNT(*) FROM posts WHERE local = 1 AND deleted = 0`
)

func scanPost(s scanner) (*domain.Post, error) {
	var p domain.Post
	var updated sql.NullTime
	err := s.Scan(&p.Id, &p.ApId, &p.CommunityId, &p.CreatorId, &p.Name, &p.URL, &p.Body, &p.Local, &p.Deleted, &p.Published, &updated)
	if err != nil {
		return nil, notFound(err)
	}
	p.Updated = nullTime(updated)
	return &p, nil
}

// UpsertPost stores a post keyed by ap_id; an existing row keeps its id,
// community and creator.
func (db *DB) UpsertPost(ctx context.Context, p *domain.Post) (*domain.Post, error) {
	if p.Id == uuid.Nil {
		p.Id = uuid.New()
	}
	if p.Published.IsZero() {
		p.Published = time.Now()
	}
	var stored *domain.Post
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertPost,
			p.Id, p.ApId, p.CommunityId, p.CreatorId, p.Name, p.URL, p.Body, p.Local, p.Deleted, p.Published, p.Updated)
		if err != nil {
			return fmt.Errorf("upsert post %s: %w", p.ApId, err)
		}
		stored, err = scanPost(tx.QueryRowContext(ctx, sqlSelectPostByApId, p.ApId))
		return err
	})
	return stored, err
}

func (db *DB) ReadPostByApId(ctx context.Context, apId string) (*domain.Post, error) {
	return scanPost(db.db.QueryRowContext(ctx, sqlSelectPostByApId, apId))
}

func (db *DB) ReadPostById(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	return scanPost(db.db.QueryRowContext(ctx, sqlSelectPostById, id))
}

func (db *DB) ReadPostsByCommunity(ctx context.Context, communityId uuid.UUID, limit int) ([]domain.Post, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectPostsByCommunity, communityId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return posts, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

func (db *DB) MarkPostDeleted(ctx context.Context, apId string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlMarkPostDeleted, apId)
		return err
	})
}

func (db *DB) CountLocalPosts(ctx context.Context) (int64, error) {
	var n int64
	err := db.db.QueryRowContext(ctx, sqlCountLocalPosts).Scan(&n)
	return n, err
}

// Comments
const (
	commentColumns   = `id, ap_id, post_id, parent_id, creator_id, content, local, deleted, published, updated`
	sqlUpsertComment = `INSERT INTO comments(` + commentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) DO UPDATE SET
			content = excluded.content,
			updated = excluded.updated`
	sqlSelectCommentByApId = `SELECT ` + commentColumns + ` FROM comments WHERE ap_id = ?`
	sqlSelectCommentById   = `SELECT ` + commentColumns + ` FROM comments WHERE id = ?`
	sqlMarkCommentDeleted  = `UPDATE comments SET deleted = 1 WHERE ap_id = ?`
	sqlCountLocalComments  = `SELECT COUNT(*) FROM comments WHERE local = 1 AND deleted = 0`
)

func scanComment(s scanner) (*domain.Comment, error) {
	var c domain.Comment
	var parent uuid.NullUUID
	var updated sql.NullTime
	err := s.Scan(&c.Id, &c.ApId, &c.PostId, &parent, &c.CreatorId, &c.Content, &c.Local, &c.Deleted, &c.Published, &updated)
	if err != nil {
		return nil, notFound(err)
	}
	if parent.Valid {
		c.ParentId = &parent.UUID
	}
	c.Updated = nullTime(updated)
	return &c, nil
}

func (db *DB) UpsertComment(ctx context.Context, c *domain.Comment) (*domain.Comment, error) {
	if c.Id == uuid.Nil {
		c.Id = uuid.New()
	}
	if c.Published.IsZero() {
		c.Published = time.Now()
	}
	var parent uuid.NullUUID
	if c.ParentId != nil {
		parent = uuid.NullUUID{UUID: *c.ParentId, Valid: true}
	}
	var stored *domain.Comment
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertComment,
			c.Id, c.ApId, c.PostId, parent, c.CreatorId, c.Content, c.Local, c.Deleted, c.Published, c.Updated)
		if err != nil {
			return fmt.Errorf("upsert comment %s: %w", c.ApId, err)
		}
		stored, err = scanComment(tx.QueryRowContext(ctx, sqlSelectCommentByApId, c.ApId))
		return err
	})
	return stored, err
}

func (db *DB) ReadCommentByApId(ctx context.Context, apId string) (*domain.Comment, error) {
	return scanComment(db.db.QueryRowContext(ctx, sqlSelectCommentByApId, apId))
}

func (db *DB) ReadCommentById(ctx context.Context, id uuid.UUID) (*domain.Comment, error) {
	return scanComment(db.db.QueryRowContext(ctx, sqlSelectCommentById, id))
}

func (db *DB) MarkCommentDeleted(ctx context.Context, apId string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlMarkCommentDeleted, apId)
		return err
	})
}

func (db *DB) CountLocalComments(ctx context.Context) (int64, error) {
	var n int64
	err := db.db.QueryRowContext(ctx, sqlCountLocalComments).Scan(&n)
	return n, err
}

// Votes
const (
	sqlUpsertVote = `INSERT INTO votes(id, ap_id, actor_id, object_ap_id, score, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor_id, object_ap_id) DO UPDATE SET score = excluded.score, ap_id = excluded.ap_id`
	sqlSelectVote = `SELECT id, ap_id, actor_id, object_ap_id, score, created_at FROM votes WHERE actor_id = ? AND object_ap_id = ?`
	sqlDeleteVote = `DELETE FROM votes WHERE actor_id = ? AND object_ap_id = ?`
	sqlVoteScore  = `SELECT COALESCE(SUM(score), 0) FROM votes WHERE object_ap_id = ?`
)

// UpsertVote records the actor's vote on an object; voting again replaces it.
func (db *DB) UpsertVote(ctx context.Context, v *domain.Vote) error {
	if v.Id == uuid.Nil {
		v.Id = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertVote, v.Id, v.ApId, v.ActorId, v.ObjectApId, v.Score, v.CreatedAt)
		return err
	})
}

func (db *DB) ReadVote(ctx context.Context, actorId uuid.UUID, objectApId string) (*domain.Vote, error) {
	var v domain.Vote
	err := db.db.QueryRowContext(ctx, sqlSelectVote, actorId, objectApId).
		Scan(&v.Id, &v.ApId, &v.ActorId, &v.ObjectApId, &v.Score, &v.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (db *DB) DeleteVote(ctx context.Context, actorId uuid.UUID, objectApId string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteVote, actorId, objectApId)
		return err
	})
}

func (db *DB) VoteScore(ctx context.Context, objectApId string) (int64, error) {
	var n int64
	err := db.db.QueryRowContext(ctx, sqlVoteScore, objectApId).Scan(&n)
	return n, err
}

// Reports
const (
	reportColumns   = `id, ap_id, reporter_id, community_id, object_ap_id, reason, resolved, resolver_id, created_at`
	sqlUpsertReport = `INSERT INTO reports(` + reportColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) DO NOTHING`
	sqlSelectReportByApId = `SELECT ` + reportColumns + ` FROM reports WHERE ap_id = ?`
	sqlResolveReport      = `UPDATE reports SET resolved = 1, resolver_id = ? WHERE ap_id = ?`
)

// UpsertReport stores a report once; a redelivered report is left untouched.
func (db *DB) UpsertReport(ctx context.Context, r *domain.Report) error {
	if r.Id == uuid.Nil {
		r.Id = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertReport,
			r.Id, r.ApId, r.ReporterId, r.CommunityId, r.ObjectApId, r.Reason, r.Resolved, uuid.NullUUID{}, r.CreatedAt)
		return err
	})
}

func (db *DB) ReadReportByApId(ctx context.Context, apId string) (*domain.Report, error) {
	var r domain.Report
	var resolver uuid.NullUUID
	err := db.db.QueryRowContext(ctx, sqlSelectReportByApId, apId).
		Scan(&r.Id, &r.ApId, &r.ReporterId, &r.CommunityId, &r.ObjectApId, &r.Reason, &r.Resolved, &resolver, &r.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if resolver.Valid {
		r.ResolverId = &resolver.UUID
	}
	return &r, nil
}

func (db *DB) ResolveReport(ctx context.Context, apId string, resolverId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlResolveReport, resolverId, apId)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
