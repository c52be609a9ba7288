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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openHandle(t *testing.T, db *DB) *sql.DB {
	t.Helper()
	handle, err := sql.Open(DriverName, Scheme+db.Name())
	require.NoError(t, err)
	handle.SetMaxIdleConns(0)
	t.Cleanup(func() { _ = handle.Close() })
	return handle
}

func TestScriptedQuery(t *testing.T) {
	db := New(t)
	db.AddQuery("SELECT 1 AS Result", SingleValue("Result", "1"))

	handle := openHandle(t, db)

	var got string
	err := handle.QueryRow("select 1 as result").Scan(&got)
	require.NoError(t, err)
	assert.Equal(t, "1", got)
	assert.Equal(t, 1, db.GetQueryCalledNum("SELECT 1 AS Result"))
}

func TestQueryPattern(t *testing.T) {
	db := New(t)
	db.AddQueryPattern("select name from users.*", &ExpectedResult{
		Columns: []string{"name"},
		Rows:    [][]any{{"ada"}, {"grace"}},
	})

	handle := openHandle(t, db)

	rows, err := handle.Query("SELECT name FROM users WHERE id > 10")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"ada", "grace"}, names)
}

func TestRejectedQuery(t *testing.T) {
	db := New(t)
	wantErr := errors.New("relation does not exist")
	db.AddRejectedQuery("SELECT * FROM missing", wantErr)

	handle := openHandle(t, db)

	_, err := handle.Query("select * from missing")
	require.ErrorContains(t, err, "relation does not exist")
}

func TestExecReportsAffectedRows(t *testing.T) {
	db := New(t)
	db.AddQuery("UPDATE t SET x = 1", &ExpectedResult{RowsAffected: 7})

	handle := openHandle(t, db)

	res, err := handle.Exec("update t set x = 1")
	require.NoError(t, err)
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(7), affected)
}

func TestOrderedMode(t *testing.T) {
	db := New(t)
	db.OrderMatters()
	db.AddExpectedExecuteFetch(ExpectedExecuteFetch{
		Query: "BEGIN",
	})
	db.AddExpectedExecuteFetch(ExpectedExecuteFetch{
		Query: "INSERT INTO t *",
		Error: errors.New("duplicate key"),
	})
	db.AddExpectedExecuteFetch(ExpectedExecuteFetch{
		Query:  "COMMIT",
		Result: &ExpectedResult{},
	})

	handle := openHandle(t, db)

	_, err := handle.Exec("BEGIN")
	require.NoError(t, err)
	_, err = handle.Exec("INSERT INTO t VALUES (1)")
	require.ErrorContains(t, err, "duplicate key")
	_, err = handle.Exec("COMMIT")
	require.NoError(t, err)

	db.VerifyAllExecutedOrFail()
}

func TestConnectError(t *testing.T) {
	db := New(t)
	db.SetConnectError(errors.New("dial refused"))

	handle := openHandle(t, db)

	err := handle.Ping()
	require.ErrorContains(t, err, "dial refused")

	db.SetConnectError(nil)
	require.NoError(t, handle.Ping())
}

func TestSessionCounters(t *testing.T) {
	db := New(t)
	handle := openHandle(t, db)

	ctx := context.Background()
	conn, err := handle.Conn(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), db.OpenCount())
	assert.Equal(t, int64(0), db.CloseCount())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return db.CloseCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestContextInterruptsBlockedQuery(t *testing.T) {
	db := New(t)
	release := make(chan struct{})
	db.AddQuery("SELECT blocked", &ExpectedResult{
		BeforeFunc: func() { <-release },
	})
	defer close(release)

	handle := openHandle(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := handle.QueryContext(ctx, "select blocked")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNeverFail(t *testing.T) {
	db := New(t)
	db.SetNeverFail(true)

	handle := openHandle(t, db)

	rows, err := handle.Query("SELECT anything")
	require.NoError(t, err)
	assert.False(t, rows.Next())
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())

	log := db.QueryLog()
	require.Len(t, log, 1)
	assert.Equal(t, "SELECT anything", log[0])
}
