// Copyright 2026 TechEmpower, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fakedb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// DriverName is the database/sql driver name fake instances live under.
// Scheme is the matching URL prefix for attribute-driven opens.
const (
	DriverName = "fakedb"
	Scheme     = "fakedb://"
)

var (
	registerOnce sync.Once

	registryMu sync.Mutex
	registry   = map[string]*DB{}
)

func registerDriver() {
	sql.Register(DriverName, rootDriver{})
}

// rootDriver routes DSNs to registered DB instances. Registered once
// with database/sql; each New call adds an instance under its own name.
type rootDriver struct{}

func (rootDriver) Open(dsn string) (driver.Conn, error) {
	name := strings.TrimPrefix(dsn, Scheme)

	registryMu.Lock()
	db := registry[name]
	registryMu.Unlock()

	if db == nil {
		return nil, fmt.Errorf("fakedb: no instance registered for %q", dsn)
	}
	return db.open()
}

func register(db *DB) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[db.name] = db
}

func unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}

func (db *DB) open() (driver.Conn, error) {
	if err := db.connectError(); err != nil {
		return nil, err
	}
	db.openedConns.Add(1)
	return &fakeConn{db: db}, nil
}

// fakeConn implements driver.Conn for one session of a DB instance.
type fakeConn struct {
	db *DB
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}

func (c *fakeConn) Close() error {
	c.db.closedConns.Add(1)
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return &fakeTx{}, nil
}

// Ping lets database/sql verify the session; it fails while a connect
// error is injected.
func (c *fakeConn) Ping(ctx context.Context) error {
	if err := c.db.connectError(); err != nil {
		return err
	}
	return nil
}

// QueryContext resolves the scripted result on its own goroutine so a
// blocking BeforeFunc can still be interrupted through the context,
// which is what connection-kill tests rely on.
func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	result, err := c.db.handleQueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &fakeRows{columns: result.Columns, rows: result.Rows}, nil
}

// ExecContext executes a statement, reporting the scripted affected-row
// count (falling back to the number of scripted rows).
func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	result, err := c.db.handleQueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &fakeResult{rowsAffected: result.affectedRows()}, nil
}

type fakeStmt struct {
	conn  *fakeConn
	query string
}

func (s *fakeStmt) Close() error { return nil }

// NumInput reports -1: the driver does not inspect placeholders.
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	result, err := s.conn.db.handleQueryContext(context.Background(), s.query)
	if err != nil {
		return nil, err
	}
	return &fakeResult{rowsAffected: result.affectedRows()}, nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	result, err := s.conn.db.handleQueryContext(context.Background(), s.query)
	if err != nil {
		return nil, err
	}
	return &fakeRows{columns: result.Columns, rows: result.Rows}, nil
}

type fakeTx struct{}

func (*fakeTx) Commit() error   { return nil }
func (*fakeTx) Rollback() error { return nil }

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type fakeRows struct {
	columns []string
	rows    [][]any
	index   int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.index >= len(r.rows) {
		return io.EOF
	}
	row := r.rows[r.index]
	r.index++

	if len(dest) != len(row) {
		return errors.New("fakedb: destination length does not match row length")
	}
	for i, val := range row {
		dest[i] = val
	}
	return nil
}

var (
	_ driver.Driver         = rootDriver{}
	_ driver.Conn           = (*fakeConn)(nil)
	_ driver.Pinger         = (*fakeConn)(nil)
	_ driver.QueryerContext = (*fakeConn)(nil)
	_ driver.ExecerContext  = (*fakeConn)(nil)
	_ driver.Stmt           = (*fakeStmt)(nil)
	_ driver.Tx             = (*fakeTx)(nil)
	_ driver.Result         = (*fakeResult)(nil)
	_ driver.Rows           = (*fakeRows)(nil)
)
