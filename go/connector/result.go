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

package connector

import (
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/TechEmpower/gemini-sub003/go/dbconn"
)

// Result is a cursor over one materialized query result. Field
// accessors return zero values for missing columns, mistyped values,
// and out-of-range cursor positions, so callers can read optional
// columns without guards.
type Result struct {
	raw *dbconn.Result
	pos int
}

func newResult(raw *dbconn.Result) *Result {
	return &Result{raw: raw, pos: -1}
}

// First positions the cursor on the first row. Returns false for an
// empty result.
func (r *Result) First() bool {
	if len(r.raw.Rows) == 0 {
		r.pos = -1
		return false
	}
	r.pos = 0
	return true
}

// Next advances the cursor. Returns false past the last row.
func (r *Result) Next() bool {
	if r.pos+1 >= len(r.raw.Rows) {
		return false
	}
	r.pos++
	return true
}

// RowCount returns the total number of rows in the result.
func (r *Result) RowCount() int {
	return len(r.raw.Rows)
}

// Columns returns the column names in result order. Callers must not
// modify the returned slice.
func (r *Result) Columns() []string {
	return r.raw.Columns
}

// value returns the current row's value for the named column, matched
// case-insensitively. The second return is false when the cursor is
// out of range or the column does not exist.
func (r *Result) value(name string) (any, bool) {
	if r.pos < 0 || r.pos >= len(r.raw.Rows) {
		return nil, false
	}
	for i, column := range r.raw.Columns {
		if strings.EqualFold(column, name) {
			return r.raw.Rows[r.pos][i], true
		}
	}
	return nil, false
}

// Int returns the named column as an int, or zero.
func (r *Result) Int(name string) int {
	v, ok := r.value(name)
	if !ok {
		return 0
	}
	return cast.ToInt(v)
}

// Int64 returns the named column as an int64, or zero.
func (r *Result) Int64(name string) int64 {
	v, ok := r.value(name)
	if !ok {
		return 0
	}
	return cast.ToInt64(v)
}

// Float64 returns the named column as a float64, or zero.
func (r *Result) Float64(name string) float64 {
	v, ok := r.value(name)
	if !ok {
		return 0
	}
	return cast.ToFloat64(v)
}

// String returns the named column as a string, or "".
func (r *Result) String(name string) string {
	v, ok := r.value(name)
	if !ok {
		return ""
	}
	return cast.ToString(v)
}

// Bool returns the named column as a bool, or false.
func (r *Result) Bool(name string) bool {
	v, ok := r.value(name)
	if !ok {
		return false
	}
	return cast.ToBool(v)
}

// Time returns the named column as a time.Time, or the zero time.
func (r *Result) Time(name string) time.Time {
	v, ok := r.value(name)
	if !ok {
		return time.Time{}
	}
	return cast.ToTime(v)
}

// Bytes returns the named column as a byte slice, or nil. String
// values convert; other types do not.
func (r *Result) Bytes(name string) []byte {
	v, ok := r.value(name)
	if !ok || v == nil {
		return nil
	}
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	default:
		return nil
	}
}
