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

package connpool

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/TechEmpower/gemini-sub003/go/dbconfig"
	"github.com/TechEmpower/gemini-sub003/go/dbconn"
)

// unused is the claimed-by sentinel meaning nobody holds the profile.
const unused int64 = 0

// sweepOwner is the claim token the keep-alive sweep uses for its
// non-tracking claims.
const sweepOwner int64 = -1

// Profile is the pool's unit of ownership: one physical connection slot
// plus its claim and usage state. The claimed-by marker is the sole
// arbiter of ownership; the connection handle itself may be closed and
// re-established many times across the profile's lifetime.
type Profile struct {
	id     int64
	attrs  dbconfig.Attributes
	db     *sql.DB
	logger *slog.Logger

	// claimedBy holds the current owner token, or unused. All claim
	// transitions go through compare-and-swap.
	claimedBy atomic.Int64

	// lastUsed is unix nanos of the last tracked claim. Non-tracking
	// claims (the sweep) never touch it, so it reflects real caller
	// activity and drives both staleness and abort recovery.
	lastUsed atomic.Int64

	conn atomic.Pointer[dbconn.Conn]

	useCount     atomic.Int64
	connectCount atomic.Int64
	closeCount   atomic.Int64

	closeOnRelease atomic.Bool

	// onRelease is invoked after every release, with the profile
	// already unclaimed and the owner whose claim was reset. The pool
	// uses it to hand the profile to a waiter; detached profiles close
	// themselves here.
	onRelease func(*Profile, int64)

	// closeDelay is how long a deferred close waits before tearing
	// down the captured handle.
	closeDelay time.Duration
}

func newProfile(id int64, attrs dbconfig.Attributes, db *sql.DB, logger *slog.Logger, closeDelay time.Duration, onRelease func(*Profile, int64)) *Profile {
	p := &Profile{
		id:         id,
		attrs:      attrs,
		db:         db,
		logger:     logger,
		closeDelay: closeDelay,
		onRelease:  onRelease,
	}
	p.lastUsed.Store(time.Now().UnixNano())
	return p
}

// ID returns the pool-assigned identifier, stable for the profile's
// lifetime.
func (p *Profile) ID() int64 {
	return p.id
}

// Claim atomically takes ownership of the profile for owner. Returns
// false without side effects when someone else holds it. When
// trackUsage is true the last-used clock advances and the use counter
// increments; the sweep claims with trackUsage false so probes never
// reset the staleness clock.
func (p *Profile) Claim(owner int64, trackUsage bool) bool {
	if owner == unused {
		return false
	}
	if !p.claimedBy.CompareAndSwap(unused, owner) {
		return false
	}
	if trackUsage {
		p.lastUsed.Store(time.Now().UnixNano())
		p.useCount.Add(1)
	}
	return true
}

// Release resets the claimed-by marker and fires the release hook.
// Releasing an idle profile is a no-op, so redundant releases are
// harmless. The releaser is not verified against the claim owner.
func (p *Profile) Release() {
	var owner int64
	for {
		owner = p.claimedBy.Load()
		if owner == unused {
			return
		}
		if p.claimedBy.CompareAndSwap(owner, unused) {
			break
		}
	}

	if p.closeOnRelease.CompareAndSwap(true, false) {
		p.CloseConn(true)
	}
	if p.onRelease != nil {
		p.onRelease(p, owner)
	}
}

// IsClaimed reports whether any owner currently holds the profile.
func (p *Profile) IsClaimed() bool {
	return p.claimedBy.Load() != unused
}

// ClaimedBy returns the current owner token, or zero when unclaimed.
func (p *Profile) ClaimedBy() int64 {
	return p.claimedBy.Load()
}

// LastUsed returns the time of the last tracked claim.
func (p *Profile) LastUsed() time.Time {
	return time.Unix(0, p.lastUsed.Load())
}

// HasConn reports whether a live connection handle is present.
func (p *Profile) HasConn() bool {
	conn := p.conn.Load()
	return conn != nil && !conn.IsClosed()
}

// ConnRef returns the current handle without establishing one. May be
// nil.
func (p *Profile) ConnRef() *dbconn.Conn {
	return p.conn.Load()
}

// Connection returns the live connection handle, lazily
// (re)establishing it when absent. An unconfigured profile (empty URL
// prefix or connect string) yields a nil handle and no error;
// establishment failures are logged and returned. Only the claim
// holder may call this.
func (p *Profile) Connection(ctx context.Context) (*dbconn.Conn, error) {
	if conn := p.conn.Load(); conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	if !p.attrs.CanConnect() || p.db == nil {
		p.logger.Debug("connection not configured, establishment skipped", "profile_id", p.id)
		return nil, nil
	}

	conn, err := dbconn.Connect(ctx, p.db, p.logger)
	if err != nil {
		p.logger.Warn("connection establishment failed", "profile_id", p.id, "err", err)
		return nil, err
	}

	p.connectCount.Add(1)
	if old := p.conn.Swap(conn); old != nil {
		_ = old.Close()
	}
	p.logger.Debug("connection established", "profile_id", p.id, "conn_id", conn.ID())
	return conn, nil
}

// CloseConn closes the underlying connection, nulling the handle
// immediately. With deferred true the actual close runs on a
// background task after a short delay, so a caller is never blocked
// on slow driver teardown; the task closes the handle captured now and
// tolerates the profile having re-established by the time it runs.
func (p *Profile) CloseConn(deferred bool) {
	conn := p.conn.Swap(nil)
	if conn == nil {
		return
	}
	p.closeCount.Add(1)

	if !deferred || p.closeDelay <= 0 {
		p.closeHandle(conn)
		return
	}
	time.AfterFunc(p.closeDelay, func() {
		p.closeHandle(conn)
	})
}

func (p *Profile) closeHandle(conn *dbconn.Conn) {
	if err := conn.Close(); err != nil {
		p.logger.Warn("closing connection", "profile_id", p.id, "conn_id", conn.ID(), "err", err)
	}
}

// Kill force-closes the connection out from under its current holder,
// interrupting any in-flight statement. The claim is left untouched;
// the holder observes a connection error on its next interaction and
// the next Connection call re-establishes.
func (p *Profile) Kill() {
	conn := p.conn.Swap(nil)
	if conn == nil {
		return
	}
	p.closeCount.Add(1)
	conn.Kill()
}

// MarkCloseOnRelease makes the next release close the connection
// before the profile goes back to the pool, so a fresh one is
// established on next use.
func (p *Profile) MarkCloseOnRelease() {
	p.closeOnRelease.Store(true)
}

// UseCount returns the number of tracked claims.
func (p *Profile) UseCount() int64 {
	return p.useCount.Load()
}

// ConnectCount returns the number of successful establishments.
func (p *Profile) ConnectCount() int64 {
	return p.connectCount.Load()
}

// CloseCount returns the number of handle closes.
func (p *Profile) CloseCount() int64 {
	return p.closeCount.Load()
}
