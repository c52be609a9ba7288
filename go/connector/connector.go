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

// Package connector is the per-operation query execution facade. A
// Connector acquires a profile from the pool (or a dedicated detached
// connection), executes the current query, applies the listener-driven
// retry protocol, and releases what it holds on Close.
//
// Two failure modes are supported. Monitored (safe) mode returns a
// *dberrors.QueryError carrying the cause and discards the acquired
// profile's connection so the next call starts fresh; the listener's
// failure hook is never consulted. Unmonitored mode asks the listener
// after every failure and loops while it answers Retry, finally
// returning the dberrors.ErrRunQuery sentinel.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TechEmpower/gemini-sub003/go/dbconn"
	"github.com/TechEmpower/gemini-sub003/go/dberrors"
	"github.com/TechEmpower/gemini-sub003/go/dblistener"
	"github.com/TechEmpower/gemini-sub003/go/pools/connpool"
)

// Connector executes queries against a pool. One Connector serves one
// logical operation at a time; it may be reused for further queries
// via SetQuery and must be closed when done. Not safe for concurrent
// use.
type Connector struct {
	pool   *connpool.Manager
	logger *slog.Logger

	query       string
	readOnly    bool
	forwardOnly bool
	safeMode    bool
	forceNew    bool
	logWarnings bool

	tries  int
	result *Result

	// profile is the pooled claim held between a successful run and
	// Close. forced is the detached connection used when
	// forceNew is set; it is reused across runs until closed.
	profile *connpool.Profile
	forced  *connpool.Profile
}

// New returns a Connector over pool. The safe-mode and
// warning-logging defaults come from the pool's attributes.
func New(pool *connpool.Manager) *Connector {
	attrs := pool.Attributes()
	return &Connector{
		pool:        pool,
		logger:      slog.Default(),
		safeMode:    attrs.SafeMode,
		logWarnings: attrs.LogWarnings,
	}
}

// SetQuery sets the SQL text for the next run and resets the retry
// counter and any previous result.
func (c *Connector) SetQuery(query string) {
	c.query = query
	c.tries = 0
	c.result = nil
}

// Query returns the current SQL text.
func (c *Connector) Query() string { return c.query }

// SetReadOnly marks the next statement as read-only. Advisory.
func (c *Connector) SetReadOnly(readOnly bool) { c.readOnly = readOnly }

// ReadOnly returns the read-only flag.
func (c *Connector) ReadOnly() bool { return c.readOnly }

// SetForwardOnly marks the next result as forward-traversal only.
// Advisory.
func (c *Connector) SetForwardOnly(forwardOnly bool) { c.forwardOnly = forwardOnly }

// ForwardOnly returns the forward-only flag.
func (c *Connector) ForwardOnly() bool { return c.forwardOnly }

// SetForceNewConnection switches the Connector onto a dedicated
// connection outside the pool. The same dedicated connection is reused
// across runs until Close is asked to close it.
func (c *Connector) SetForceNewConnection(force bool) { c.forceNew = force }

// ForceNewConnection returns the dedicated-connection flag.
func (c *Connector) ForceNewConnection() bool { return c.forceNew }

// SetSafeMode overrides the pool's configured failure mode for this
// Connector.
func (c *Connector) SetSafeMode(safe bool) { c.safeMode = safe }

// SafeMode returns the active failure mode.
func (c *Connector) SafeMode() bool { return c.safeMode }

// Tries returns the number of failed attempts since the last SetQuery.
func (c *Connector) Tries() int { return c.tries }

// Result returns the current result cursor, nil before a successful
// query run.
func (c *Connector) Result() *Result { return c.result }

// RunQuery executes the current query and positions the cursor on the
// first row of the result.
func (c *Connector) RunQuery(ctx context.Context) error {
	return c.run(ctx, dberrors.KindQuery, c.query, func(ctx context.Context, conn *dbconn.Conn) error {
		raw, err := conn.Query(ctx, c.query)
		if err != nil {
			return err
		}
		c.result = newResult(raw)
		c.result.First()
		return nil
	})
}

// RunUpdateQuery executes the current query as an update and returns
// the affected-row count. The count is only meaningful on a nil error.
func (c *Connector) RunUpdateQuery(ctx context.Context) (int64, error) {
	var affected int64
	err := c.run(ctx, dberrors.KindUpdate, c.query, func(ctx context.Context, conn *dbconn.Conn) error {
		n, err := conn.Exec(ctx, c.query)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// ExecuteBatch executes the commands in order on one connection and
// returns the per-statement affected-row counts. A failure anywhere in
// the batch fails the whole batch; a retry starts over from the first
// command.
func (c *Connector) ExecuteBatch(ctx context.Context, commands []string) ([]int64, error) {
	if len(commands) == 0 {
		return nil, nil
	}
	counts := make([]int64, 0, len(commands))
	label := fmt.Sprintf("batch of %d statements", len(commands))
	err := c.run(ctx, dberrors.KindBatch, label, func(ctx context.Context, conn *dbconn.Conn) error {
		counts = counts[:0]
		for _, command := range commands {
			n, err := conn.Exec(ctx, command)
			if err != nil {
				return err
			}
			counts = append(counts, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// run is the shared acquisition, execution, and retry loop.
func (c *Connector) run(ctx context.Context, kind dberrors.Kind, label string, fn func(context.Context, *dbconn.Conn) error) error {
	c.result = nil
	listener := c.pool.Listener()

	for {
		conn, err := c.connection(ctx)
		if err == nil && conn == nil {
			err = dbconn.ErrNotConfigured
		}
		if err == nil {
			listener.QueryStarting(kind, label)
			start := time.Now()
			err = fn(ctx, conn)
			listener.QueryCompleting(kind, label, time.Since(start), err)
		}
		if err == nil {
			return nil
		}

		if dberrors.IsDisconnect(err) {
			c.logger.Warn("connection failure detected, closing connection",
				"kind", kind.String(), "sqlstate", dberrors.SQLState(err), "err", err)
			c.dropConnection()
		}

		if c.safeMode {
			c.discardProfile()
			return dberrors.NewQueryError(kind, label, err)
		}

		c.tries++
		if listener.QueryFailed(ctx, kind, err, c.tries) == dblistener.Retry {
			c.logger.Debug("retrying after failure",
				"kind", kind.String(), "tries", c.tries, "err", err)
			continue
		}
		c.logFailure(kind, err)
		return dberrors.ErrRunQuery
	}
}

// connection returns the live connection for this run, acquiring a
// pooled profile or the dedicated connection on first need. A nil
// connection with nil error means the pool is not configured to
// connect.
func (c *Connector) connection(ctx context.Context) (*dbconn.Conn, error) {
	if c.forceNew {
		if c.forced == nil {
			p, err := c.pool.AcquireDetached(ctx)
			if err != nil {
				return nil, err
			}
			c.forced = p
		}
		return c.forced.Connection(ctx)
	}
	if c.profile == nil {
		p, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		c.profile = p
	}
	return c.profile.Connection(ctx)
}

// dropConnection force-closes the connection backing the current run.
// The profile itself survives; the next run re-establishes.
func (c *Connector) dropConnection() {
	if c.forceNew && c.forced != nil {
		c.forced.CloseConn(false)
		return
	}
	if c.profile != nil {
		c.profile.CloseConn(false)
	}
}

// discardProfile drops the acquired connection after a monitored
// failure so the next run starts from a fresh establishment. The
// pooled claim is given back; a dedicated connection keeps its claim
// and reconnects lazily.
func (c *Connector) discardProfile() {
	if c.forceNew {
		if c.forced != nil {
			c.forced.CloseConn(true)
		}
		return
	}
	if c.profile != nil {
		c.profile.CloseConn(true)
		c.profile.Release()
		c.profile = nil
	}
}

func (c *Connector) logFailure(kind dberrors.Kind, err error) {
	if c.logWarnings {
		c.logger.Warn("query failed, giving up",
			"kind", kind.String(), "query", c.query, "tries", c.tries, "err", err)
		return
	}
	c.logger.Debug("query failed, giving up",
		"kind", kind.String(), "query", c.query, "tries", c.tries, "err", err)
}

// Close releases everything the Connector holds, in order: the result
// cursor, then the pooled profile back to the pool, then, when
// closeConnection is true, the dedicated connection. With
// closeConnection false the dedicated connection stays claimed for the
// next run.
func (c *Connector) Close(closeConnection bool) {
	c.result = nil
	if c.profile != nil {
		c.profile.Release()
		c.profile = nil
	}
	if closeConnection && c.forced != nil {
		c.forced.Release()
		c.forced = nil
	}
}

// --- result delegation ---

// Next advances the result cursor.
func (c *Connector) Next() bool {
	if c.result == nil {
		return false
	}
	return c.result.Next()
}

// First repositions the result cursor on the first row.
func (c *Connector) First() bool {
	if c.result == nil {
		return false
	}
	return c.result.First()
}

// RowCount returns the number of rows in the current result, zero when
// there is none.
func (c *Connector) RowCount() int {
	if c.result == nil {
		return 0
	}
	return c.result.RowCount()
}

// Int reads the named column from the current row, zero on absence.
func (c *Connector) Int(name string) int {
	if c.result == nil {
		return 0
	}
	return c.result.Int(name)
}

// Int64 reads the named column from the current row, zero on absence.
func (c *Connector) Int64(name string) int64 {
	if c.result == nil {
		return 0
	}
	return c.result.Int64(name)
}

// Float64 reads the named column from the current row, zero on
// absence.
func (c *Connector) Float64(name string) float64 {
	if c.result == nil {
		return 0
	}
	return c.result.Float64(name)
}

// String reads the named column from the current row, "" on absence.
func (c *Connector) String(name string) string {
	if c.result == nil {
		return ""
	}
	return c.result.String(name)
}

// Bool reads the named column from the current row, false on absence.
func (c *Connector) Bool(name string) bool {
	if c.result == nil {
		return false
	}
	return c.result.Bool(name)
}

// Time reads the named column from the current row, the zero time on
// absence.
func (c *Connector) Time(name string) time.Time {
	if c.result == nil {
		return time.Time{}
	}
	return c.result.Time(name)
}

// Bytes reads the named column from the current row, nil on absence.
func (c *Connector) Bytes(name string) []byte {
	if c.result == nil {
		return nil
	}
	return c.result.Bytes(name)
}
