// Package mysqltest provides a scripted database/sql driver for repository
// tests. Each statement must match the next expected operation.
package mysqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// Kind 表示期望的操作类型。
type Kind int

const (
	KindExec Kind = iota
	KindQuery
	KindBegin
	KindCommit
	KindRollback
)

// Result 是 Exec 的返回值。
type Result struct {
	LastInsertID int64
	Affected     int64
}

func (r Result) LastInsertId() (int64, error) { return r.LastInsertID, nil }
func (r Result) RowsAffected() (int64, error) { return r.Affected, nil }

// Rows 是 Query 返回的结果集。
type Rows struct {
	Columns []string
	Values  [][]driver.Value
}

// Op 描述一次期望的操作。Query 为空时匹配任意语句。
type Op struct {
	Kind   Kind
	Query  string
	Result Result
	Rows   Rows
	Err    error
}

func Exec(query string, res Result) Op   { return Op{Kind: KindExec, Query: query, Result: res} }
func ExecErr(query string, err error) Op { return Op{Kind: KindExec, Query: query, Err: err} }
func Query(query string, rows Rows) Op   { return Op{Kind: KindQuery, Query: query, Rows: rows} }
func Begin() Op                          { return Op{Kind: KindBegin} }
func Commit() Op                         { return Op{Kind: KindCommit} }
func Rollback() Op                       { return Op{Kind: KindRollback} }

// Driver replays a fixed list of operations.
type Driver struct {
	ops  []Op
	idx  int32
	mu   sync.Mutex
	args [][]driver.Value
}

var seq atomic.Int32

// NewDB registers a fresh driver and opens a single-connection pool on it.
func NewDB(t testing.TB, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("mysqltest-%d", seq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })
	return db, drv
}

// AssertConsumed fails the test when expected operations were not run.
func (d *Driver) AssertConsumed(t testing.TB) {
	t.Helper()
	if n := int(atomic.LoadInt32(&d.idx)); n != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", n, len(d.ops))
	}
}

// Args returns the arguments of the i-th Exec or Query.
func (d *Driver) Args(i int) []driver.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.args) {
		return nil
	}
	return d.args[i]
}

// Open implements driver.Driver.
func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected Kind, query string) (*Op, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation %d: %s", expected, normalize(query))
	}
	op := &d.ops[idx]
	if op.Kind != expected {
		return nil, fmt.Errorf("expected operation %d, got %d", op.Kind, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.Query != "" && normalize(op.Query) != normalize(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalize(op.Query), normalize(query))
	}
	return op, nil
}

func (d *Driver) record(args []driver.NamedValue) {
	values := make([]driver.Value, len(args))
	for i, a := range args {
		values[i] = a.Value
	}
	d.mu.Lock()
	d.args = append(d.args, values)
	d.mu.Unlock()
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(KindBegin, "")
	if err != nil {
		return nil, err
	}
	if op.Err != nil {
		return nil, op.Err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(KindExec, query)
	if err != nil {
		return nil, err
	}
	c.driver.record(args)
	if op.Err != nil {
		return nil, op.Err
	}
	return op.Result, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(KindQuery, query)
	if err != nil {
		return nil, err
	}
	c.driver.record(args)
	if op.Err != nil {
		return nil, op.Err
	}
	return &rows{columns: op.Rows.Columns, values: op.Rows.Values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(KindCommit, "")
	if err != nil {
		return err
	}
	return op.Err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(KindRollback, "")
	if err != nil {
		return err
	}
	return op.Err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
