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

// Package dberrors classifies database errors for the pooling and
// execution layers: a single wrapped error type for monitored (safe-mode)
// failures, a sentinel for unmonitored failures, and SQLSTATE-based
// disconnect detection.
package dberrors

import (
	"errors"
	"fmt"
)

// Kind identifies which execution path produced an error.
type Kind int

const (
	// KindQuery is a row-returning query.
	KindQuery Kind = iota
	// KindUpdate is a statement reporting an affected-row count.
	KindUpdate
	// KindBatch is a batch of update statements.
	KindBatch
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindUpdate:
		return "update"
	case KindBatch:
		return "batch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrRunQuery is returned by unmonitored execution after the listener
// declines further retries. The underlying cause is not attached: it has
// already been handed to the listener and logged, and unmonitored callers
// are expected to branch on the sentinel alone.
var ErrRunQuery = errors.New("query execution failed")

// QueryError is the one error type monitored (safe-mode) execution
// returns. It carries the operation kind, the SQL text, and the original
// cause, which remains reachable through errors.Is / errors.As.
type QueryError struct {
	Kind  Kind
	Query string
	Err   error
}

// NewQueryError wraps cause for the given operation kind and SQL text.
func NewQueryError(kind Kind, query string, cause error) *QueryError {
	return &QueryError{Kind: kind, Query: query, Err: cause}
}

func (e *QueryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed", e.Kind)
	}
	return fmt.Sprintf("%s failed: %v", e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

var _ error = (*QueryError)(nil)
