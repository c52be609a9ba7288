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

package dberrors

import (
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// ConnectionExceptionClass is the SQLSTATE class covering severed or
// unusable connections ("08000" connection_exception and friends).
//
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const ConnectionExceptionClass = "08"

// sqlStater is implemented by driver errors that expose their SQLSTATE
// directly (pgx, among others).
type sqlStater interface {
	SQLState() string
}

// SQLState returns the five-character SQLSTATE carried by err, walking
// the wrap chain. Returns "" when no driver diagnostic is present.
func SQLState(err error) string {
	if err == nil {
		return ""
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if myErr.SQLState != [5]byte{} {
			return string(myErr.SQLState[:])
		}
		return ""
	}

	var st sqlStater
	if errors.As(err, &st) {
		return st.SQLState()
	}

	return ""
}

// SQLStateClass returns the first two characters of the SQLSTATE carried
// by err, or "" when none is present.
func SQLStateClass(err error) string {
	state := SQLState(err)
	if len(state) < 2 {
		return ""
	}
	return state[:2]
}

// IsClass reports whether err carries a SQLSTATE belonging to class.
func IsClass(err error, class string) bool {
	return SQLStateClass(err) == class
}

// disconnectFragments are substrings that indicate a severed socket when
// the driver reports no usable SQLSTATE. Matched case-insensitively
// against the full error text.
var disconnectFragments = []string{
	"broken pipe",
	"connection refused",
	"connection reset",
	"connection timed out",
	"i/o timeout",
	"unexpected eof",
	"bad connection",
	"invalid connection",
	"server closed",
	"terminating connection",
	"use of closed network connection",
}

// IsDisconnect reports whether err indicates the physical connection is
// gone or unusable. Detection order: database/sql's ErrBadConn, the
// go-sql-driver invalid-connection sentinel, SQLSTATE class 08, then the
// text heuristics. Callers force-close the connection on a match so the
// next acquisition re-establishes instead of reusing a broken handle.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	if SQLStateClass(err) == ConnectionExceptionClass {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range disconnectFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}
