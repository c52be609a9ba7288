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

// Package connpool maintains a bounded set of connection profiles over
// a single database, with lazy establishment, a periodic keep-alive
// sweep, and zero-downtime reconfiguration. Callers acquire a claimed
// profile, use its connection, and release it back; the claimed-by
// marker on each profile is the only form of ownership.
package connpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TechEmpower/gemini-sub003/go/dbconfig"
	"github.com/TechEmpower/gemini-sub003/go/dbconn"
	"github.com/TechEmpower/gemini-sub003/go/dblistener"
	"github.com/TechEmpower/gemini-sub003/go/tools/retry"
	"github.com/TechEmpower/gemini-sub003/go/tools/timer"
)

var (
	// ErrPoolClosed is returned by Acquire after Close, and delivered
	// to waiters blocked at close time.
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrPoolExhausted is returned when every profile is claimed, the
	// pool is at maximum size, and no acquire timeout is configured.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrTimeout is the cause reported when a bounded wait for a free
	// profile expires.
	ErrTimeout = errors.New("timed out waiting for a connection")
)

// claim token for Close and Reconfigure drains.
const drainOwner int64 = -2

const defaultCloseDelay = 10 * time.Second

// Prefill retries transient establishment failures a few times before
// leaving the profile unconnected.
const (
	prefillAttempts  = 3
	prefillBaseDelay = 100 * time.Millisecond
	prefillMaxDelay  = 2 * time.Second
)

// Stats is a point-in-time snapshot of pool state. Connects and Closes
// aggregate over the current generation's profiles; the remaining
// counters span the manager's lifetime.
type Stats struct {
	Capacity  int
	Open      int
	Connected int
	Claimed   int
	Waiters   int

	Acquires     int64
	AcquireWaits int64
	Exhausted    int64
	Detached     int64
	Connects     int64
	Closes       int64
}

// Manager owns the profile set for one database and hands out claimed
// profiles. It survives reconfiguration: the attribute snapshot, the
// database handle, and the profile set are replaced as a unit while
// in-flight claims on the old generation drain out gracefully.
type Manager struct {
	logger     *slog.Logger
	listener   dblistener.Listener
	closeDelay time.Duration

	mu       sync.Mutex
	attrs    dbconfig.Attributes
	db       *sql.DB
	profiles []*Profile
	quote    string

	// gen identifies the current profile generation. Profiles carry
	// the generation they were created under; a release whose
	// generation no longer matches must not re-enter the pool.
	gen    atomic.Int64
	closed atomic.Bool

	closeCh chan struct{}
	waiters *waitlist
	sweeper *timer.PeriodicRunner
	probeWG sync.WaitGroup

	// reconfigMu serializes Reconfigure calls.
	reconfigMu sync.Mutex

	nextProfileID atomic.Int64
	nextOwner     atomic.Int64

	acquireCount     atomic.Int64
	acquireWaitCount atomic.Int64
	exhaustedCount   atomic.Int64
	detachedCount    atomic.Int64
}

// Option configures a Manager at Open time.
type Option func(*Manager)

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithListener installs the pool listener notified of claim and
// release events and consulted by the connector on query failures.
func WithListener(l dblistener.Listener) Option {
	return func(m *Manager) {
		if l != nil {
			m.listener = l
		}
	}
}

// WithCloseDelay tunes how long a deferred connection close waits
// before tearing down the handle.
func WithCloseDelay(d time.Duration) Option {
	return func(m *Manager) { m.closeDelay = d }
}

// Open validates the attributes, discovers the identifier quote for
// the configured driver, creates the minimum profile set, and
// establishes its connections. Establishment failures at open are
// logged, not fatal; profiles connect lazily on first use. The
// keep-alive sweep starts immediately.
func Open(ctx context.Context, attrs dbconfig.Attributes, opts ...Option) (*Manager, error) {
	attrs = attrs.Normalize()
	if err := attrs.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		logger:     slog.Default(),
		listener:   dblistener.Nop{},
		closeDelay: defaultCloseDelay,
		closeCh:    make(chan struct{}),
		waiters:    newWaitlist(),
	}
	for _, o := range opts {
		o(m)
	}
	if attrs.Affinity != "" {
		m.logger = m.logger.With("db", attrs.Affinity)
	}

	genID := m.gen.Add(1)
	db, profiles, quote, usable := m.buildGeneration(ctx, attrs, genID)
	if attrs.CanConnect() && usable < attrs.MinPoolSize {
		m.logger.Warn("pool opened below minimum connections",
			"usable", usable, "min_pool_size", attrs.MinPoolSize)
	}

	m.mu.Lock()
	m.attrs = attrs
	m.db = db
	m.profiles = profiles
	m.quote = quote
	m.mu.Unlock()

	m.sweeper = timer.NewPeriodicRunner(context.Background(), attrs.TestInterval)
	m.sweeper.Start(m.sweep)

	m.logger.Info("connection pool opened",
		"driver", dbconn.DriverName(attrs),
		"min_pool_size", attrs.MinPoolSize,
		"max_pool_size", attrs.MaxPoolSize,
		"usable", usable)
	return m, nil
}

// buildGeneration opens the database handle, creates the minimum
// profile set for it, and pre-establishes connections in parallel.
// Returns the number of profiles that came up usable.
func (m *Manager) buildGeneration(ctx context.Context, attrs dbconfig.Attributes, genID int64) (*sql.DB, []*Profile, string, int) {
	quote := attrs.IdentifierQuote
	if quote == "" || quote == dbconfig.DefaultIdentifierQuote {
		if q := dbconn.QuoteFor(dbconn.DriverName(attrs)); q != "" {
			quote = q
		}
	}

	var db *sql.DB
	if attrs.CanConnect() {
		handle, err := dbconn.OpenHandle(attrs)
		if err != nil {
			m.logger.Warn("opening database handle", "err", err)
		} else {
			db = handle
		}
	} else {
		m.logger.Info("pool not configured for connection, profiles stay empty")
	}

	profiles := make([]*Profile, 0, attrs.MinPoolSize)
	for range attrs.MinPoolSize {
		profiles = append(profiles, m.newPoolProfile(attrs, db, genID))
	}

	var usable atomic.Int64
	if db != nil {
		var wg sync.WaitGroup
		for _, p := range profiles {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b := retry.NewExponential(prefillBaseDelay, prefillMaxDelay)
				for b.Attempt() < prefillAttempts {
					if err := b.StartAttempt(ctx); err != nil {
						return
					}
					if conn, err := p.Connection(ctx); err == nil && conn != nil {
						usable.Add(1)
						return
					}
				}
			}()
		}
		wg.Wait()
	}
	return db, profiles, quote, int(usable.Load())
}

// newPoolProfile creates a profile bound to the given generation. The
// release hook captures the generation so stale releases after a
// reconfiguration close out instead of re-entering the pool.
func (m *Manager) newPoolProfile(attrs dbconfig.Attributes, db *sql.DB, genID int64) *Profile {
	id := m.nextProfileID.Add(1)
	return newProfile(id, attrs, db, m.logger, m.closeDelay, func(p *Profile, owner int64) {
		m.releaseHook(genID, p, owner)
	})
}

// releaseHook runs after a profile's claim has been reset. Callers'
// releases are reported to the listener; sweep and drain claims are
// internal and stay silent.
func (m *Manager) releaseHook(genID int64, p *Profile, owner int64) {
	if owner > 0 {
		m.listener.ConnectionReleased(p.ID())
	}
	if m.closed.Load() || genID != m.gen.Load() {
		p.CloseConn(true)
		return
	}
	m.waiters.tryHandoff(p)
}

// Acquire returns a profile claimed for the caller. It scans for an
// idle profile, grows the pool when below maximum, and otherwise
// either fails fast with ErrPoolExhausted or waits up to the
// configured acquire timeout for a release. The profile's connection
// is established lazily by Profile.Connection, never here.
func (m *Manager) Acquire(ctx context.Context) (*Profile, error) {
	if m.closed.Load() {
		return nil, ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	owner := m.nextOwner.Add(1)

	if p := m.scan(owner); p != nil {
		return m.acquired(p), nil
	}
	if p := m.grow(owner); p != nil {
		return m.acquired(p), nil
	}

	m.exhaustedCount.Add(1)
	m.mu.Lock()
	wait := m.attrs.AcquireTimeout
	m.mu.Unlock()
	if wait <= 0 {
		return nil, ErrPoolExhausted
	}

	m.acquireWaitCount.Add(1)
	wctx, cancel := context.WithTimeoutCause(ctx, wait, ErrTimeout)
	defer cancel()
	p, err := m.waiters.waitForProfile(wctx, owner, m.closeCh)
	if err != nil {
		return nil, err
	}
	return m.acquired(p), nil
}

func (m *Manager) acquired(p *Profile) *Profile {
	m.acquireCount.Add(1)
	m.listener.ConnectionClaimed(p.ID())
	return p
}

// scan walks the profile set in order and claims the first idle one.
func (m *Manager) scan(owner int64) *Profile {
	m.mu.Lock()
	profiles := m.profiles
	m.mu.Unlock()

	for _, p := range profiles {
		if p.Claim(owner, true) {
			return p
		}
	}
	return nil
}

// grow appends a fresh profile when the pool is below maximum. The new
// profile is claimed before publication so nothing can race for it.
func (m *Manager) grow(owner int64) *Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() || len(m.profiles) >= m.attrs.MaxPoolSize {
		return nil
	}
	p := m.newPoolProfile(m.attrs, m.db, m.gen.Load())
	if !p.Claim(owner, true) {
		return nil
	}
	m.profiles = append(m.profiles, p)
	m.logger.Debug("pool grown", "profile_id", p.ID(), "size", len(m.profiles))
	return p
}

// AcquireDetached returns a claimed profile that lives outside the
// pool. It shares the pool's database handle and attributes but is
// never handed to waiters; releasing it closes its connection and
// discards it.
func (m *Manager) AcquireDetached(ctx context.Context) (*Profile, error) {
	if m.closed.Load() {
		return nil, ErrPoolClosed
	}
	m.mu.Lock()
	attrs := m.attrs
	db := m.db
	m.mu.Unlock()

	id := m.nextProfileID.Add(1)
	p := newProfile(id, attrs, db, m.logger, m.closeDelay, func(p *Profile, owner int64) {
		m.listener.ConnectionReleased(p.ID())
		p.CloseConn(true)
	})
	p.Claim(m.nextOwner.Add(1), true)
	m.detachedCount.Add(1)
	m.listener.ConnectionClaimed(p.ID())
	m.logger.Debug("detached profile created", "profile_id", id)
	return p, nil
}

// sweep is the periodic keep-alive pass. Idle profiles are claimed
// without advancing their usage clock and either recycled when stale,
// probed with the test query, or released untouched. Profiles that
// cannot be claimed and have sat past the abort timeout get their
// connection force-closed out from under the hung holder.
func (m *Manager) sweep(ctx context.Context) {
	m.mu.Lock()
	profiles := m.profiles
	attrs := m.attrs
	m.mu.Unlock()

	connected := 0
	for _, p := range profiles {
		if p.HasConn() {
			connected++
		}
	}

	now := time.Now()
	for _, p := range profiles {
		if m.closed.Load() {
			return
		}
		if p.Claim(sweepOwner, false) {
			connected -= m.checkIdle(ctx, p, attrs, now, connected)
			continue
		}
		if attrs.AbortTimeout > 0 && now.Sub(p.LastUsed()) > attrs.AbortTimeout && p.HasConn() {
			m.logger.Warn("claim exceeded abort timeout, force closing connection",
				"profile_id", p.ID(),
				"claimed_by", p.ClaimedBy(),
				"last_used", p.LastUsed())
			p.Kill()
		}
	}
}

// checkIdle handles one idle profile under the sweep's claim and
// returns how many pooled connections it closed. The test query runs
// on a separate goroutine so a slow database never stalls the sweep;
// the goroutine releases the claim when done.
func (m *Manager) checkIdle(ctx context.Context, p *Profile, attrs dbconfig.Attributes, now time.Time, connected int) int {
	conn := p.ConnRef()
	if conn == nil || conn.IsClosed() {
		p.Release()
		return 0
	}

	if attrs.StaleTimeout > 0 && now.Sub(p.LastUsed()) > attrs.StaleTimeout && connected > attrs.MinPoolSize {
		m.logger.Debug("recycling stale connection",
			"profile_id", p.ID(), "idle", now.Sub(p.LastUsed()))
		p.CloseConn(true)
		p.Release()
		return 1
	}

	if !attrs.TestEnabled {
		p.Release()
		return 0
	}

	m.probeWG.Add(1)
	go func() {
		defer m.probeWG.Done()
		defer p.Release()
		value, err := conn.RunTestQuery(ctx, attrs.TestQuery)
		if err != nil {
			m.logger.Warn("keep-alive test failed, closing connection",
				"profile_id", p.ID(), "conn_id", conn.ID(), "err", err)
			p.CloseConn(false)
			return
		}
		if value != attrs.TestValue {
			m.logger.Warn("keep-alive test returned unexpected value",
				"profile_id", p.ID(), "got", value, "want", attrs.TestValue)
		}
	}()
	return 0
}

// Reconfigure replaces the attribute snapshot, database handle, and
// profile set in one step. The replacement set is built and
// pre-established first; if it cannot reach the minimum usable
// connections the old pool stays in service and an error is returned.
// Old profiles drain out: idle ones close now, claimed ones close on
// release.
func (m *Manager) Reconfigure(ctx context.Context, attrs dbconfig.Attributes) error {
	attrs = attrs.Normalize()
	if err := attrs.Validate(); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrPoolClosed
	}

	m.reconfigMu.Lock()
	defer m.reconfigMu.Unlock()

	genID := m.gen.Load() + 1
	db, profiles, quote, usable := m.buildGeneration(ctx, attrs, genID)
	if attrs.CanConnect() && usable < attrs.MinPoolSize {
		for _, p := range profiles {
			p.CloseConn(false)
		}
		if db != nil {
			_ = db.Close()
		}
		return fmt.Errorf("replacement pool reached %d of %d minimum connections", usable, attrs.MinPoolSize)
	}

	m.mu.Lock()
	old := m.profiles
	oldDB := m.db
	m.attrs = attrs
	m.db = db
	m.profiles = profiles
	m.quote = quote
	m.gen.Store(genID)
	m.mu.Unlock()

	m.sweeper.SetInterval(attrs.TestInterval)
	m.drain(old, oldDB)

	m.logger.Info("connection pool reconfigured",
		"min_pool_size", attrs.MinPoolSize,
		"max_pool_size", attrs.MaxPoolSize,
		"usable", usable)
	return nil
}

// drain retires a profile set. Claimable profiles close immediately;
// held ones are marked to close on release. The database handle close
// is graceful: sessions still claimed keep working until returned.
func (m *Manager) drain(profiles []*Profile, db *sql.DB) {
	for _, p := range profiles {
		if p.Claim(drainOwner, false) {
			p.CloseConn(true)
			p.Release()
		} else {
			p.MarkCloseOnRelease()
		}
	}
	if db != nil {
		_ = db.Close()
	}
}

// Close stops the sweep, wakes all waiters with ErrPoolClosed, and
// drains the profile set. Profiles still claimed stay usable until
// their holders release; each closes its connection at that point.
func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	close(m.closeCh)
	m.sweeper.Stop()
	m.probeWG.Wait()

	m.mu.Lock()
	profiles := m.profiles
	db := m.db
	m.profiles = nil
	m.db = nil
	m.mu.Unlock()

	m.drain(profiles, db)
	m.logger.Info("connection pool closed")
}

// Stats returns a snapshot of pool state and counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	profiles := m.profiles
	capacity := m.attrs.MaxPoolSize
	m.mu.Unlock()

	s := Stats{
		Capacity:     capacity,
		Open:         len(profiles),
		Waiters:      m.waiters.waiting(),
		Acquires:     m.acquireCount.Load(),
		AcquireWaits: m.acquireWaitCount.Load(),
		Exhausted:    m.exhaustedCount.Load(),
		Detached:     m.detachedCount.Load(),
	}
	for _, p := range profiles {
		if p.HasConn() {
			s.Connected++
		}
		if p.IsClaimed() {
			s.Claimed++
		}
		s.Connects += p.ConnectCount()
		s.Closes += p.CloseCount()
	}
	return s
}

// Quote returns the identifier quote discovered for the configured
// driver, for callers assembling SQL with quoted identifiers.
func (m *Manager) Quote() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quote
}

// Attributes returns the current attribute snapshot.
func (m *Manager) Attributes() dbconfig.Attributes {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attrs
}

// Listener returns the installed pool listener.
func (m *Manager) Listener() dblistener.Listener {
	return m.listener
}
