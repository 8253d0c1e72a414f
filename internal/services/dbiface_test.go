package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

type fakeCommandTag struct {
	rowsAffected int64
}

func (f fakeCommandTag) RowsAffected() int64 { return f.rowsAffected }

type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (f fakeRow) Scan(dest ...any) error {
	if f.scanFunc == nil {
		return errors.New("fakeRow: scanFunc not set")
	}
	return f.scanFunc(dest...)
}

func rowFromValues(values ...any) Row {
	return fakeRow{scanFunc: func(dest ...any) error { return assignRow(dest, values) }}
}

func errRow(err error) Row {
	return fakeRow{scanFunc: func(dest ...any) error { return err }}
}

type fakeRows struct {
	rows   [][]any
	idx    int
	err    error
	closed bool
}

func rowsOf(rows ...[]any) *fakeRows { return &fakeRows{rows: rows} }

func (f *fakeRows) Close()     { f.closed = true }
func (f *fakeRows) Err() error { return f.err }

func (f *fakeRows) Next() bool {
	if f.idx >= len(f.rows) {
		return false
	}
	f.idx++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	if f.idx == 0 || f.idx > len(f.rows) {
		return errors.New("fakeRows: scan without active row")
	}
	return assignRow(dest, f.rows[f.idx-1])
}

// sqlLog records statements issued against a fake connection.
type sqlLog struct {
	mu  sync.Mutex
	sql []string
}

func (l *sqlLog) add(sql string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sql = append(l.sql, sql)
}

func (l *sqlLog) statements() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sql...)
}

type fakeDB struct {
	ExecFunc     func(ctx context.Context, sql string, args ...any) (CommandTag, error)
	QueryFunc    func(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) Row
	BeginFunc    func(ctx context.Context) (Tx, error)
	log          sqlLog
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	f.log.add(sql)
	if f.ExecFunc != nil {
		return f.ExecFunc(ctx, sql, args...)
	}
	return fakeCommandTag{}, nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	f.log.add(sql)
	if f.QueryFunc != nil {
		return f.QueryFunc(ctx, sql, args...)
	}
	return rowsOf(), nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) Row {
	f.log.add(sql)
	if f.QueryRowFunc != nil {
		return f.QueryRowFunc(ctx, sql, args...)
	}
	return errRow(errors.New("fakeDB: QueryRowFunc not set"))
}

func (f *fakeDB) Begin(ctx context.Context) (Tx, error) {
	if f.BeginFunc != nil {
		return f.BeginFunc(ctx)
	}
	return nil, errors.New("fakeDB: BeginFunc not set")
}

type fakeTx struct {
	ExecFunc     func(ctx context.Context, sql string, args ...any) (CommandTag, error)
	QueryFunc    func(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) Row
	CommitFunc   func(ctx context.Context) error
	RollbackFunc func(ctx context.Context) error
	log          sqlLog
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	f.log.add(sql)
	if f.ExecFunc != nil {
		return f.ExecFunc(ctx, sql, args...)
	}
	return fakeCommandTag{}, nil
}

func (f *fakeTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	f.log.add(sql)
	if f.QueryFunc != nil {
		return f.QueryFunc(ctx, sql, args...)
	}
	return rowsOf(), nil
}

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	f.log.add(sql)
	if f.QueryRowFunc != nil {
		return f.QueryRowFunc(ctx, sql, args...)
	}
	return errRow(errors.New("fakeTx: QueryRowFunc not set"))
}

func (f *fakeTx) Commit(ctx context.Context) error {
	if f.CommitFunc != nil {
		return f.CommitFunc(ctx)
	}
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if f.RollbackFunc != nil {
		return f.RollbackFunc(ctx)
	}
	return nil
}

// assignRow copies values into Scan destinations, converting where Go allows.
func assignRow(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(values))
	}
	for i, value := range values {
		dv := reflect.ValueOf(dest[i])
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		target := dv.Elem()
		if value == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		vv := reflect.ValueOf(value)
		switch {
		case vv.Type().AssignableTo(target.Type()):
			target.Set(vv)
		case vv.Type().ConvertibleTo(target.Type()):
			target.Set(vv.Convert(target.Type()))
		default:
			return fmt.Errorf("scan: cannot assign %T to %s", value, target.Type())
		}
	}
	return nil
}
