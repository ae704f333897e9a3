package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/deemkeen/lemmings/domain"
)

const (
	instanceColumns     = `id, domain, software, updated, created_at`
	sqlInsertInstance   = `INSERT INTO instances(domain, created_at) VALUES (?, ?) ON CONFLICT(domain) DO NOTHING`
	sqlSelectInstance   = `SELECT ` + instanceColumns + ` FROM instances WHERE domain = ?`
	sqlSelectInstances  = `SELECT ` + instanceColumns + ` FROM instances ORDER BY id`
	sqlSetSoftware      = `UPDATE instances SET software = ?, updated = ? WHERE domain = ?`
	queueStateColumns   = `instance_id, last_successful_id, fail_count, last_retry, last_successful_published`
	sqlSelectQueueState = `SELECT ` + queueStateColumns + ` FROM federation_queue_state WHERE instance_id = ?`
	sqlSelectAllStates  = `SELECT ` + queueStateColumns + ` FROM federation_queue_state ORDER BY instance_id`
	// new queues start at the current end of the outbox
	sqlCreateQueueState = `INSERT INTO federation_queue_state(instance_id, last_successful_id, fail_count)
		SELECT ?, COALESCE(MAX(id), 0), 0 FROM sent_activities WHERE true
		ON CONFLICT(instance_id) DO NOTHING`
	sqlSaveQueueState = `INSERT INTO federation_queue_state(` + queueStateColumns + `) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			last_successful_id = excluded.last_successful_id,
			fail_count = excluded.fail_count,
			last_retry = excluded.last_retry,
			last_successful_published = excluded.last_successful_published`
)

func scanInstance(s scanner) (*domain.Instance, error) {
	var i domain.Instance
	var updated sql.NullTime
	if err := s.Scan(&i.Id, &i.Domain, &i.Software, &updated, &i.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	i.Updated = nullTime(updated)
	return &i, nil
}

func upsertInstance(ctx context.Context, tx *sql.Tx, name string) (*domain.Instance, error) {
	name = strings.ToLower(name)
	if _, err := tx.ExecContext(ctx, sqlInsertInstance, name, time.Now()); err != nil {
		return nil, err
	}
	inst, err := scanInstance(tx.QueryRowContext(ctx, sqlSelectInstance, name))
	if err != nil {
		return nil, err
	}
	// activities queued after discovery must reach the instance even if
	// its worker starts later
	if _, err := tx.ExecContext(ctx, sqlCreateQueueState, inst.Id); err != nil {
		return nil, err
	}
	return inst, nil
}

// UpsertInstance registers an instance by authority, returning the stored row.
func (db *DB) UpsertInstance(ctx context.Context, name string) (*domain.Instance, error) {
	var inst *domain.Instance
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		inst, err = upsertInstance(ctx, tx, name)
		return err
	})
	return inst, err
}

func (db *DB) SetInstanceSoftware(ctx context.Context, name, software string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlSetSoftware, software, time.Now(), strings.ToLower(name))
		return err
	})
}

func (db *DB) ReadInstanceByDomain(ctx context.Context, name string) (*domain.Instance, error) {
	return scanInstance(db.db.QueryRowContext(ctx, sqlSelectInstance, strings.ToLower(name)))
}

func (db *DB) ReadInstances(ctx context.Context) ([]domain.Instance, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectInstances)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return instances, err
		}
		instances = append(instances, *i)
	}
	return instances, rows.Err()
}

func scanQueueState(s scanner) (*domain.FederationQueueState, error) {
	var q domain.FederationQueueState
	var retry, published sql.NullTime
	if err := s.Scan(&q.InstanceId, &q.LastSuccessfulId, &q.FailCount, &retry, &published); err != nil {
		return nil, notFound(err)
	}
	q.LastRetry = nullTime(retry)
	q.LastSuccessfulPublished = nullTime(published)
	return &q, nil
}

// ReadQueueState loads the delivery state of an instance, creating it with
// the cursor at the newest sent activity if the instance has none yet.
func (db *DB) ReadQueueState(ctx context.Context, instanceId int64) (*domain.FederationQueueState, error) {
	var q *domain.FederationQueueState
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlCreateQueueState, instanceId); err != nil {
			return err
		}
		var err error
		q, err = scanQueueState(tx.QueryRowContext(ctx, sqlSelectQueueState, instanceId))
		return err
	})
	return q, err
}

// SaveQueueState persists the whole state in a single statement.
func (db *DB) SaveQueueState(ctx context.Context, q *domain.FederationQueueState) error {
	_, err := db.db.ExecContext(ctx, sqlSaveQueueState,
		q.InstanceId, q.LastSuccessfulId, q.FailCount, q.LastRetry, q.LastSuccessfulPublished)
	return err
}

func (db *DB) ReadAllQueueStates(ctx context.Context) ([]domain.FederationQueueState, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectAllStates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.FederationQueueState
	for rows.Next() {
		q, err := scanQueueState(rows)
		if err != nil {
			return states, err
		}
		states = append(states, *q)
	}
	return states, rows.Err()
}
