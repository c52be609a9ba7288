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

// Package retry paces retry loops with context-interruptible delays.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff paces the attempts of one retry loop. The first StartAttempt
// returns immediately; each later one waits for the strategy's delay or
// the context, whichever comes first.
//
// A Backoff belongs to a single loop and is not safe for concurrent
// use.
//
// Example usage:
//
//	b := retry.NewExponential(100*time.Millisecond, 30*time.Second)
//	for {
//	    if err := b.StartAttempt(ctx); err != nil {
//	        return err // Context cancelled or timed out
//	    }
//	    if err := establish(); err == nil {
//	        return nil
//	    }
//	}
type Backoff struct {
	next    func(attempt int) time.Duration
	attempt int
}

// NewExponential creates a Backoff with exponential delays and full
// jitter: each wait is a random duration in [0, min(maxDelay,
// baseDelay*2^n)). Panics on invalid parameters; that is a coding
// error.
func NewExponential(baseDelay, maxDelay time.Duration) *Backoff {
	if baseDelay <= 0 {
		panic("retry: baseDelay must be positive")
	}
	if maxDelay < baseDelay {
		panic("retry: maxDelay cannot be less than baseDelay")
	}
	return &Backoff{
		next: func(attempt int) time.Duration {
			// Shifting past 62 bits would overflow int64.
			if attempt > 62 {
				attempt = 62
			}
			multiplier := int64(1) << attempt
			delay := maxDelay
			if multiplier <= math.MaxInt64/int64(baseDelay) {
				delay = min(time.Duration(int64(baseDelay)*multiplier), maxDelay)
			}
			return time.Duration(float64(delay) * rand.Float64())
		},
	}
}

// NewFixed creates a Backoff that waits the same delay before every
// attempt after the first. A zero delay retries immediately.
func NewFixed(delay time.Duration) *Backoff {
	if delay < 0 {
		panic("retry: delay cannot be negative")
	}
	return &Backoff{
		next: func(int) time.Duration { return delay },
	}
}

// StartAttempt blocks until the next attempt may begin. Returns nil
// when the caller should proceed, or the context error when the wait
// was interrupted.
func (b *Backoff) StartAttempt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if b.attempt > 0 {
		if err := Sleep(ctx, b.next(b.attempt-1)); err != nil {
			return err
		}
	}
	b.attempt++
	return nil
}

// Attempt returns the number of attempts started so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset rewinds the loop to its initial state, so the next error
// starts over from the minimum delay.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Sleep waits for d or until the context is done, whichever comes
// first. Returns the context error when interrupted, nil otherwise.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
