// Package queue keeps delayed publish and unpublish jobs in Postgres and
// hands them to executors over NSQ once they are due.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/austindbirch/harbor_scheduler/internal/schedule"
	"github.com/austindbirch/harbor_scheduler/internal/tracing"
)

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements schedule.Queue on the scheduler.jobs table.
type Store struct {
	db DB
}

var _ schedule.Queue = (*Store)(nil)

func NewStore(db DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, lane, space_id, entry_id, management_token, run_at, trace_headers`

// EnqueueAt stores a new job. The caller's trace context travels with it.
func (s *Store) EnqueueAt(ctx context.Context, runAt time.Time, lane schedule.Lane, args schedule.Args) error {
	headers, err := json.Marshal(tracing.InjectHeaders(ctx))
	if err != nil {
		return fmt.Errorf("encode trace headers: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO scheduler.jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), string(lane), args.SpaceID, args.EntryID, args.ManagementToken, runAt.UTC(), headers,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// RemoveDelayed deletes every pending job of the lane for the entry in args.
func (s *Store) RemoveDelayed(ctx context.Context, lane schedule.Lane, args schedule.Args) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM scheduler.jobs
		WHERE lane = $1 AND space_id = $2 AND entry_id = $3`,
		string(lane), args.SpaceID, args.EntryID,
	)
	if err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	return nil
}

// Peek lists pending jobs of a lane ordered by run time.
func (s *Store) Peek(ctx context.Context, lane schedule.Lane, offset, limit int) ([]schedule.Job, error) {
	if offset < 0 {
		offset = 0
	}
	var lim any // NULL means LIMIT ALL
	if limit >= 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM scheduler.jobs
		WHERE lane = $1
		ORDER BY run_at, id
		OFFSET $2 LIMIT $3`,
		string(lane), offset, lim,
	)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	return collectJobs(rows)
}

// Count returns the number of pending jobs in a lane.
func (s *Store) Count(ctx context.Context, lane schedule.Lane) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM scheduler.jobs WHERE lane = $1`, string(lane)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// ClaimDue locks up to limit jobs due at now, calls fn for each and deletes
// the ones fn accepted, all in one transaction. Rows locked by a concurrent
// claimer are skipped. It returns how many jobs were accepted.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int, fn func(schedule.Job) error) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+`
		FROM scheduler.jobs
		WHERE run_at <= $1
		ORDER BY run_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		now.UTC(), limit,
	)
	if err != nil {
		return 0, fmt.Errorf("select due jobs: %w", err)
	}
	due, err := collectJobs(rows)
	if err != nil {
		return 0, err
	}

	var accepted []string
	var fnErr error
	for _, j := range due {
		if err := fn(j); err != nil {
			fnErr = errors.Join(fnErr, fmt.Errorf("job %s: %w", j.ID, err))
			continue
		}
		accepted = append(accepted, j.ID)
	}

	if len(accepted) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM scheduler.jobs WHERE id = ANY($1::uuid[])`, accepted); err != nil {
			return 0, fmt.Errorf("delete claimed jobs: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(accepted), fnErr
}

func collectJobs(rows pgx.Rows) ([]schedule.Job, error) {
	defer rows.Close()
	var jobs []schedule.Job
	for rows.Next() {
		var (
			j       schedule.Job
			lane    string
			headers []byte
		)
		if err := rows.Scan(&j.ID, &lane, &j.Args.SpaceID, &j.Args.EntryID, &j.Args.ManagementToken, &j.RunAt, &headers); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Lane = schedule.Lane(lane)
		j.RunAt = j.RunAt.UTC()
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &j.TraceHeaders); err != nil {
				return nil, fmt.Errorf("decode trace headers for %s: %w", j.ID, err)
			}
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}
