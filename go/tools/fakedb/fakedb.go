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

// Package fakedb provides a scriptable database/sql driver for tests.
//
// Each instance registers itself under a unique DSN, so code that opens
// handles from configuration can be pointed at a fake with nothing more
// than a URL prefix and connect string:
//
//	db := fakedb.New(t)
//	db.AddQuery("select 1 as result", fakedb.SingleValue("Result", "1"))
//	attrs := db.Attributes()
//
// Queries must be scripted with AddQuery, AddQueryPattern or the ordered
// AddExpectedExecuteFetch before they are issued; unscripted queries fail
// the test. Connection establishment and in-flight hangs can be injected
// with SetConnectError and ExpectedResult.BeforeFunc.
package fakedb

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/TechEmpower/gemini-sub003/go/dbconfig"
)

// ExpectedResult is the scripted outcome for one query.
type ExpectedResult struct {
	Columns []string
	Rows    [][]any

	// RowsAffected is reported for statement execution. When zero, the
	// number of scripted rows is reported instead.
	RowsAffected int64

	// BeforeFunc runs on the session goroutine before the result is
	// returned. A blocking BeforeFunc simulates a hung statement.
	BeforeFunc func()
}

func (r *ExpectedResult) affectedRows() int64 {
	if r.RowsAffected != 0 {
		return r.RowsAffected
	}
	return int64(len(r.Rows))
}

// SingleValue builds a one-column, one-row result.
func SingleValue(column string, value any) *ExpectedResult {
	return &ExpectedResult{
		Columns: []string{column},
		Rows:    [][]any{{value}},
	}
}

// ExpectedExecuteFetch is one entry of an ordered query script. A Query
// ending in '*' matches any statement with that prefix.
type ExpectedExecuteFetch struct {
	Query  string
	Result *ExpectedResult
	Error  error
}

type exprResult struct {
	expr   *regexp.Regexp
	result *ExpectedResult
	err    error
}

var instanceID atomic.Int64

// DB is a fake database instance. All methods are safe for concurrent
// use.
type DB struct {
	name string
	t    testing.TB

	mu           sync.Mutex
	data         map[string]*ExpectedResult
	rejectedData map[string]error
	patternData  []exprResult
	queryCalled  map[string]int
	querylog     []string
	connectErr   error

	orderMatters              bool
	expectedExecuteFetch      []ExpectedExecuteFetch
	expectedExecuteFetchIndex int

	neverFail atomic.Bool

	openedConns atomic.Int64
	closedConns atomic.Int64
}

// New registers a fake instance under a unique name and removes it when
// the test finishes.
func New(t testing.TB) *DB {
	registerOnce.Do(func() {
		registerDriver()
	})

	db := &DB{
		name:         fmt.Sprintf("fake-%d", instanceID.Add(1)),
		t:            t,
		data:         make(map[string]*ExpectedResult),
		rejectedData: make(map[string]error),
		queryCalled:  make(map[string]int),
	}
	register(db)
	t.Cleanup(func() { unregister(db.name) })
	return db
}

// Name returns the instance name, which doubles as its connect string.
func (db *DB) Name() string {
	return db.name
}

// Attributes returns connection attributes that route to this instance.
func (db *DB) Attributes() dbconfig.Attributes {
	return dbconfig.Attributes{
		URLPrefix:     Scheme,
		ConnectString: db.name,
		DriverClass:   DriverName,
	}
}

// --- query scripting ---

// AddQuery scripts an exact-match query. Matching is case-insensitive.
func (db *DB) AddQuery(query string, result *ExpectedResult) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[strings.ToLower(query)] = result
}

// AddQueryPattern scripts a regular-expression match. The pattern is
// anchored and applied case-insensitively to the whole statement.
func (db *DB) AddQueryPattern(pattern string, result *ExpectedResult) {
	expr := regexp.MustCompile("(?is)^" + pattern + "$")
	db.mu.Lock()
	defer db.mu.Unlock()
	db.patternData = append(db.patternData, exprResult{expr: expr, result: result})
}

// RejectQueryPattern makes statements matching pattern fail with err.
func (db *DB) RejectQueryPattern(pattern string, err error) {
	expr := regexp.MustCompile("(?is)^" + pattern + "$")
	db.mu.Lock()
	defer db.mu.Unlock()
	db.patternData = append(db.patternData, exprResult{expr: expr, err: err})
}

// AddRejectedQuery makes an exact-match query fail with err.
func (db *DB) AddRejectedQuery(query string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rejectedData[strings.ToLower(query)] = err
}

// DeleteQuery removes an exact-match script entry.
func (db *DB) DeleteQuery(query string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := strings.ToLower(query)
	delete(db.data, key)
	delete(db.rejectedData, key)
	delete(db.queryCalled, key)
}

// OrderMatters switches the instance to ordered mode, where statements
// must arrive in AddExpectedExecuteFetch order.
func (db *DB) OrderMatters() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.orderMatters = true
}

// AddExpectedExecuteFetch appends one entry to the ordered script.
func (db *DB) AddExpectedExecuteFetch(entry ExpectedExecuteFetch) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.expectedExecuteFetch = append(db.expectedExecuteFetch, entry)
}

// VerifyAllExecutedOrFail fails the test when ordered entries remain.
func (db *DB) VerifyAllExecutedOrFail() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.expectedExecuteFetchIndex != len(db.expectedExecuteFetch) {
		db.t.Errorf("%v: not all expected queries were executed. leftovers: %v",
			db.name, db.expectedExecuteFetch[db.expectedExecuteFetchIndex:])
	}
}

// SetNeverFail makes unscripted queries return an empty result instead
// of failing the test.
func (db *DB) SetNeverFail(neverFail bool) {
	db.neverFail.Store(neverFail)
}

// SetConnectError injects err into connection establishment and pings.
// Passing nil clears the injection.
func (db *DB) SetConnectError(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.connectErr = err
}

func (db *DB) connectError() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.connectErr
}

// --- observation ---

// GetQueryCalledNum reports how often an exact query was issued.
func (db *DB) GetQueryCalledNum(query string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.queryCalled[strings.ToLower(query)]
}

// QueryLog returns every statement issued so far, oldest first.
func (db *DB) QueryLog() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	log := make([]string, len(db.querylog))
	copy(log, db.querylog)
	return log
}

// ResetQueryLog clears the statement log and call counters.
func (db *DB) ResetQueryLog() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.querylog = nil
	db.queryCalled = make(map[string]int)
}

// OpenCount reports how many sessions were established.
func (db *DB) OpenCount() int64 {
	return db.openedConns.Load()
}

// CloseCount reports how many sessions were closed.
func (db *DB) CloseCount() int64 {
	return db.closedConns.Load()
}

// --- query handling ---

func (db *DB) handleQueryContext(ctx context.Context, query string) (*ExpectedResult, error) {
	type outcome struct {
		result *ExpectedResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := db.handleQuery(query)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-ch:
		return out.result, out.err
	}
}

func (db *DB) handleQuery(query string) (*ExpectedResult, error) {
	db.mu.Lock()
	key := strings.ToLower(query)
	db.querylog = append(db.querylog, query)
	db.queryCalled[key]++

	if db.orderMatters {
		result, err := db.handleQueryOrderedLocked(query)
		db.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return db.resolve(result)
	}

	if err, ok := db.rejectedData[key]; ok {
		db.mu.Unlock()
		return nil, err
	}
	if result, ok := db.data[key]; ok {
		db.mu.Unlock()
		return db.resolve(result)
	}
	for _, pat := range db.patternData {
		if pat.expr.MatchString(query) {
			db.mu.Unlock()
			if pat.err != nil {
				return nil, pat.err
			}
			return db.resolve(pat.result)
		}
	}
	db.mu.Unlock()

	if db.neverFail.Load() {
		return &ExpectedResult{}, nil
	}
	err := fmt.Errorf("fakedb: query %q is not expected on instance %s", query, db.name)
	db.t.Error(err)
	return nil, err
}

func (db *DB) handleQueryOrderedLocked(query string) (*ExpectedResult, error) {
	index := db.expectedExecuteFetchIndex
	if index >= len(db.expectedExecuteFetch) {
		if db.neverFail.Load() {
			return &ExpectedResult{}, nil
		}
		err := fmt.Errorf("fakedb: got unexpected out-of-order query %q on instance %s", query, db.name)
		db.t.Error(err)
		return nil, err
	}

	entry := db.expectedExecuteFetch[index]
	expected := entry.Query
	if strings.HasSuffix(expected, "*") {
		if !strings.HasPrefix(query, expected[:len(expected)-1]) {
			err := fmt.Errorf("fakedb: got query %q, want prefix %q on instance %s", query, expected, db.name)
			db.t.Error(err)
			return nil, err
		}
	} else if query != expected {
		err := fmt.Errorf("fakedb: got query %q, want %q on instance %s", query, expected, db.name)
		db.t.Error(err)
		return nil, err
	}

	db.expectedExecuteFetchIndex++
	if entry.Error != nil {
		return nil, entry.Error
	}
	return entry.Result, nil
}

// resolve runs the result's BeforeFunc, if any, and fills in a non-nil
// result for entries scripted without one.
func (db *DB) resolve(result *ExpectedResult) (*ExpectedResult, error) {
	if result == nil {
		return &ExpectedResult{}, nil
	}
	if result.BeforeFunc != nil {
		result.BeforeFunc()
	}
	return result, nil
}
