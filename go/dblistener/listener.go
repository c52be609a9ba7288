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

// Package dblistener defines the pluggable error policy consulted by
// the query layer, plus the lifecycle notifications it receives for
// instrumentation.
package dblistener

import (
	"context"
	"time"

	"github.com/TechEmpower/gemini-sub003/go/dberrors"
	"github.com/TechEmpower/gemini-sub003/go/tools/retry"
)

// Decision is a listener's answer to a failed attempt.
type Decision int

const (
	// DoNothing stops the retry loop; the operation reports failure.
	DoNothing Decision = iota
	// Retry runs the operation again.
	Retry
)

func (d Decision) String() string {
	switch d {
	case DoNothing:
		return "do-nothing"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Listener supplies retry decisions for failed operations and observes
// the query lifecycle. Implementations embed Nop and override what
// they need.
type Listener interface {
	// QueryFailed is consulted after each failed attempt when errors
	// are policy-driven. tries counts the attempts made so far,
	// starting at 1 for the first failure. The callback may block to
	// pace retries; ctx is the operation's context and a cancelled
	// wait must come back as DoNothing.
	QueryFailed(ctx context.Context, kind dberrors.Kind, err error, tries int) Decision

	// QueryStarting and QueryCompleting bracket every attempt,
	// including retries.
	QueryStarting(kind dberrors.Kind, query string)
	QueryCompleting(kind dberrors.Kind, query string, elapsed time.Duration, err error)

	// ConnectionClaimed and ConnectionReleased report pool ownership
	// changes, for load accounting.
	ConnectionClaimed(connID int64)
	ConnectionReleased(connID int64)
}

// Nop is a Listener that ignores every notification and never retries.
type Nop struct{}

func (Nop) QueryFailed(context.Context, dberrors.Kind, error, int) Decision { return DoNothing }
func (Nop) QueryStarting(dberrors.Kind, string)                             {}
func (Nop) QueryCompleting(dberrors.Kind, string, time.Duration, error)     {}
func (Nop) ConnectionClaimed(int64)                                         {}
func (Nop) ConnectionReleased(int64)                                        {}

// RetryPolicy is the reference listener: retry while the attempt count
// is within MaxRetries, sleeping Sleep between attempts. An interrupted
// sleep abandons the retry.
type RetryPolicy struct {
	Nop

	// MaxRetries is the number of retries allowed after the first
	// attempt. Zero never retries.
	MaxRetries int

	// Sleep is the fixed delay before each retry. Zero retries
	// immediately.
	Sleep time.Duration
}

func (p *RetryPolicy) QueryFailed(ctx context.Context, kind dberrors.Kind, err error, tries int) Decision {
	if tries > p.MaxRetries {
		return DoNothing
	}
	if err := retry.Sleep(ctx, p.Sleep); err != nil {
		return DoNothing
	}
	return Retry
}

var (
	_ Listener = Nop{}
	_ Listener = (*RetryPolicy)(nil)
)
