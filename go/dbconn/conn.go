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

// Package dbconn is the physical connection layer: DSN assembly, driver
// name resolution, and a Conn wrapping one dedicated database/sql
// session with kill support.
package dbconn

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cast"
)

var (
	// ErrNotConfigured means the URL prefix or connect string is empty;
	// establishment is skipped, never attempted.
	ErrNotConfigured = errors.New("connection not configured: url prefix and connect string are both required")

	// ErrConnClosed is returned for operations on a closed connection.
	ErrConnClosed = errors.New("connection is closed")
)

// connIDs hands out process-wide connection identifiers.
var connIDs atomic.Int64

// Result is one fully materialized statement result. Rows hold
// driver-native values (int64, float64, bool, string, []byte, time.Time
// or nil); byte slices are copied out of the driver's buffers.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

// Conn is one dedicated database session. At most one caller uses a
// Conn at a time (the pool's claim arbitration guarantees this), but
// Kill and Close may be called concurrently from the sweep.
type Conn struct {
	id     int64
	conn   *sql.Conn
	logger *slog.Logger

	closed atomic.Bool

	// inflight holds the cancel func of the statement currently
	// executing, if any. Kill fires it to interrupt a hung call.
	inflight atomic.Pointer[context.CancelFunc]
}

// Connect pins a dedicated session from db and verifies it with a ping.
func Connect(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("establish connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("verify connection: %w", err)
	}

	return &Conn{
		id:     connIDs.Add(1),
		conn:   conn,
		logger: logger,
	}, nil
}

// ID returns the process-wide identifier of this connection.
func (c *Conn) ID() int64 {
	return c.id
}

// IsClosed returns true once Close or Kill has run.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// track registers a statement's cancel func so Kill can interrupt it.
func (c *Conn) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.inflight.Store(&cancel)
	return ctx, func() {
		c.inflight.Store(nil)
		cancel()
	}
}

// Query executes a row-returning statement and materializes the full
// result before returning, so the session is free again on return.
func (c *Conn) Query(ctx context.Context, query string) (*Result, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	ctx, done := c.track(ctx)
	defer done()

	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		// Driver byte buffers are only valid until the next row.
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = bytes.Clone(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Exec executes a statement and returns the affected-row count. Drivers
// that cannot report the count yield zero.
func (c *Conn) Exec(ctx context.Context, query string) (int64, error) {
	if c.closed.Load() {
		return 0, ErrConnClosed
	}
	ctx, done := c.track(ctx)
	defer done()

	res, err := c.conn.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		c.logger.Debug("driver does not report affected rows", "conn_id", c.id, "err", err)
		return 0, nil
	}
	return affected, nil
}

// Ping verifies the session is still usable.
func (c *Conn) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	ctx, done := c.track(ctx)
	defer done()
	return c.conn.PingContext(ctx)
}

// RunTestQuery executes the keep-alive probe and returns the first
// column of the first row as a string ("" when the probe returned no
// rows). The caller compares it to the expected value; a mismatch is
// not an error.
func (c *Conn) RunTestQuery(ctx context.Context, query string) (string, error) {
	result, err := c.Query(ctx, query)
	if err != nil {
		return "", err
	}
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return "", nil
	}
	return cast.ToString(result.Rows[0][0]), nil
}

// Kill interrupts any in-flight statement and closes the session. Used
// by the sweep to sever connections hung past the abort timeout.
func (c *Conn) Kill() {
	if cancel := c.inflight.Load(); cancel != nil {
		(*cancel)()
	}
	if err := c.Close(); err != nil {
		c.logger.Warn("closing killed connection", "conn_id", c.id, "err", err)
	}
}

// Close releases the session. Idempotent. A session already torn down
// by the server (done/EPIPE) closes cleanly.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := c.conn.Close()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, syscall.EPIPE):
		return nil
	default:
		return fmt.Errorf("close connection %d: %w", c.id, err)
	}
}
