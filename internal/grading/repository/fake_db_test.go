package repository

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"judgeflow/internal/common/db"
)

type execCall struct {
	query string
	args  []interface{}
}

// fakeDatabase answers queries by matching a substring of the SQL text.
type fakeDatabase struct {
	mu      sync.Mutex
	rows    map[string][][]interface{}
	rowErr  map[string]error
	execErr error
	execs   []execCall
	queries int
	txs     int
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		rows:   make(map[string][][]interface{}),
		rowErr: make(map[string]error),
	}
}

func (f *fakeDatabase) on(fragment string, rows ...[]interface{}) {
	f.rows[fragment] = rows
}

func (f *fakeDatabase) match(query string) ([][]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	for fragment, err := range f.rowErr {
		if strings.Contains(query, fragment) {
			return nil, err
		}
	}
	for fragment, rows := range f.rows {
		if strings.Contains(query, fragment) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeDatabase) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	rows, err := f.match(query)
	if err != nil {
		return nil, err
	}
	return &fakeRows{rows: rows, pos: -1}, nil
}

func (f *fakeDatabase) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	rows, err := f.match(query)
	if err != nil {
		return &fakeRow{err: err}
	}
	if len(rows) == 0 {
		return &fakeRow{err: sql.ErrNoRows}
	}
	return &fakeRow{values: rows[0]}
}

func (f *fakeDatabase) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, execCall{query: query, args: args})
	if f.execErr != nil {
		return nil, f.execErr
	}
	return fakeResult(1), nil
}

func (f *fakeDatabase) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	f.mu.Lock()
	f.txs++
	f.mu.Unlock()
	return fn(&fakeTx{fakeDatabase: f})
}

func (f *fakeDatabase) BeginTx(ctx context.Context, opts *db.TxOptions) (db.Transaction, error) {
	return &fakeTx{fakeDatabase: f}, nil
}

func (f *fakeDatabase) Ping(ctx context.Context) error { return nil }
func (f *fakeDatabase) Close() error                   { return nil }
func (f *fakeDatabase) Stats() db.Stats                { return db.Stats{} }

type fakeTx struct {
	*fakeDatabase
}

func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type fakeRow struct {
	values []interface{}
	err    error
}

func (r *fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

type fakeRows struct {
	rows [][]interface{}
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Scan(dest ...interface{}) error { return assign(dest, r.rows[r.pos]) }
func (r *fakeRows) Close() error                   { return nil }
func (r *fakeRows) Err() error                     { return nil }

func assign(dest, values []interface{}) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(values[i]))
	}
	return nil
}
