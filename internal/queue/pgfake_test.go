package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// call is one recorded statement with its bound arguments.
type call struct {
	sql  string
	args []any
}

// fakeDB records what the store sends to Postgres. Unused pgx methods are
// left to the embedded nil interfaces and panic if reached.
type fakeDB struct {
	execs    []call
	queries  []call
	rows     [][]any
	count    int
	tx       *fakeTx
	execErr  error
	queryErr error
	beginErr error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, call{sql, args})
	return pgconn.NewCommandTag("OK"), f.execErr
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, call{sql, args})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeRows{rows: f.rows}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, call{sql, args})
	return fakeRow{vals: []any{f.count}, err: f.queryErr}
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.tx, nil
}

type fakeTx struct {
	pgx.Tx
	rows       [][]any
	execs      []call
	queries    []call
	execErr    error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.queries = append(t.queries, call{sql, args})
	return &fakeRows{rows: t.rows}, nil
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, call{sql, args})
	return pgconn.NewCommandTag("DELETE"), t.execErr
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeRows struct {
	pgx.Rows
	rows [][]any
	i    int
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error { return assign(dest, r.rows[r.i-1]) }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close()                 {}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.vals)
}

func assign(dest, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(vals))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = vals[i].(string)
		case *int:
			*p = vals[i].(int)
		case *time.Time:
			*p = vals[i].(time.Time)
		case *[]byte:
			*p = vals[i].([]byte)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

// jobRow lays out a row in jobColumns order.
func jobRow(id, lane, space, entry string, runAt time.Time, headers string) []any {
	return []any{id, lane, space, entry, "tok", runAt, []byte(headers)}
}
