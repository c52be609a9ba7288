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
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TechEmpower/gemini-sub003/go/dbconfig"
	"github.com/TechEmpower/gemini-sub003/go/tools/fakedb"
)

func newTestProfile(t *testing.T, onRelease func(*Profile, int64)) *Profile {
	t.Helper()
	return newProfile(1, dbconfig.Attributes{}, nil, slog.Default(), 0, onRelease)
}

func TestClaimIsExclusive(t *testing.T) {
	p := newTestProfile(t, nil)

	const claimants = 32
	var winners atomic.Int64
	var wg sync.WaitGroup
	for i := 1; i <= claimants; i++ {
		wg.Add(1)
		go func(owner int64) {
			defer wg.Done()
			if p.Claim(owner, true) {
				winners.Add(1)
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, int64(1), winners.Load())
	assert.True(t, p.IsClaimed())
	assert.Equal(t, int64(1), p.UseCount())
}

func TestClaimRejectsZeroOwner(t *testing.T) {
	p := newTestProfile(t, nil)
	assert.False(t, p.Claim(0, true))
	assert.False(t, p.IsClaimed())
}

func TestReleaseIsIdempotent(t *testing.T) {
	var hookCalls atomic.Int64
	p := newTestProfile(t, func(*Profile, int64) {
		hookCalls.Add(1)
	})

	require.True(t, p.Claim(7, true))
	p.Release()
	p.Release()

	assert.False(t, p.IsClaimed())
	assert.Equal(t, int64(1), hookCalls.Load(), "redundant release must not fire the hook again")

	require.True(t, p.Claim(8, true), "profile must be claimable after release")
	p.Release()
	assert.Equal(t, int64(2), hookCalls.Load())
}

func TestReleaseReportsOwnerToHook(t *testing.T) {
	var released atomic.Int64
	p := newTestProfile(t, func(_ *Profile, owner int64) {
		released.Store(owner)
	})

	require.True(t, p.Claim(42, true))
	p.Release()
	assert.Equal(t, int64(42), released.Load())
}

func TestTrackedClaimAdvancesUsageClock(t *testing.T) {
	p := newTestProfile(t, nil)
	before := p.LastUsed()

	time.Sleep(2 * time.Millisecond)
	require.True(t, p.Claim(3, true))
	tracked := p.LastUsed()
	assert.True(t, tracked.After(before))
	p.Release()

	time.Sleep(2 * time.Millisecond)
	require.True(t, p.Claim(sweepOwner, false))
	assert.Equal(t, tracked, p.LastUsed(), "non-tracking claim must not advance the clock")
	assert.Equal(t, int64(1), p.UseCount(), "non-tracking claim must not count as a use")
	p.Release()
}

func TestUnconfiguredConnectionIsAbsent(t *testing.T) {
	p := newTestProfile(t, nil)
	require.True(t, p.Claim(1, true))

	conn, err := p.Connection(t.Context())
	assert.NoError(t, err)
	assert.Nil(t, conn)
	assert.False(t, p.HasConn())
	assert.Zero(t, p.ConnectCount())
}

func TestConnectionEstablishesLazilyAndSurvivesKill(t *testing.T) {
	db := fakedb.New(t)
	m := openPool(t, poolAttrs(db, 1, 1))

	p, err := m.Acquire(t.Context())
	require.NoError(t, err)
	defer p.Release()

	conn, err := p.Connection(t.Context())
	require.NoError(t, err)
	require.NotNil(t, conn)
	first := conn.ID()
	assert.True(t, p.HasConn())

	p.Kill()
	assert.False(t, p.HasConn())
	assert.True(t, p.IsClaimed(), "force close must not reset the claim")

	conn, err = p.Connection(t.Context())
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.NotEqual(t, first, conn.ID())
	assert.Equal(t, int64(2), p.ConnectCount())
	assert.Equal(t, int64(1), p.CloseCount())
}

func TestMarkCloseOnRelease(t *testing.T) {
	db := fakedb.New(t)
	m := openPool(t, poolAttrs(db, 1, 1))

	p, err := m.Acquire(t.Context())
	require.NoError(t, err)
	_, err = p.Connection(t.Context())
	require.NoError(t, err)
	require.True(t, p.HasConn())

	p.MarkCloseOnRelease()
	p.Release()

	assert.False(t, p.HasConn())
	assert.False(t, p.IsClaimed())
}
