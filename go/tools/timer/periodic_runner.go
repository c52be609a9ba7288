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

// Package timer provides PeriodicRunner for running callbacks at regular intervals.
package timer

import (
	"context"
	"sync"
	"time"
)

// PeriodicRunner runs a callback at regular intervals with lifecycle
// management.
//
// Key behaviors:
//   - Callback receives a context derived from the parent context
//   - Stop() cancels the context and waits for in-flight callbacks
//   - Next callback scheduled only after current completes (backpressure)
//   - TriggerNow() runs the callback as soon as possible out of cycle
//   - Supports Start/Stop/Start cycles (reopening)
type PeriodicRunner struct {
	parentCtx context.Context

	mu         sync.Mutex
	interval   time.Duration
	running    bool
	inCallback bool
	rerun      bool
	ctx        context.Context // child context, created on Start, cancelled on Stop
	cancel     context.CancelFunc
	timer      *time.Timer
	wg         sync.WaitGroup
	callback   func(ctx context.Context)
}

// NewPeriodicRunner creates a PeriodicRunner with the given parent
// context and interval. The parent context is used to derive child
// contexts on each Start() call; pass a long-lived context so the
// runner outlives request scopes.
func NewPeriodicRunner(ctx context.Context, interval time.Duration) *PeriodicRunner {
	return &PeriodicRunner{
		parentCtx: ctx,
		interval:  interval,
	}
}

// Start begins running the callback at regular intervals. The callback
// receives a context that is cancelled when Stop() is called. Returns
// true if the runner was started, false if it was already running.
func (r *PeriodicRunner) Start(callback func(ctx context.Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return false
	}

	r.running = true
	r.callback = callback
	r.ctx, r.cancel = context.WithCancel(r.parentCtx)

	r.scheduleNext(r.interval)
	return true
}

// Stop cancels the context and waits for any in-flight callback to
// complete. After Stop returns, no more callbacks will run. Can be
// restarted with Start(). Idempotent.
func (r *PeriodicRunner) Stop() {
	r.mu.Lock()

	if !r.running {
		r.mu.Unlock()
		return
	}

	r.running = false
	r.rerun = false

	if r.cancel != nil {
		r.cancel()
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}

	r.ctx = nil
	r.cancel = nil
	r.callback = nil

	r.mu.Unlock()

	// Wait for any in-flight callback to complete.
	r.wg.Wait()
}

// Running returns true if the runner is currently running.
func (r *PeriodicRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// TriggerNow runs the callback as soon as possible without waiting for
// the interval. A trigger that arrives while the callback is executing
// runs it once more right after it completes. Returns false when the
// runner is stopped.
func (r *PeriodicRunner) TriggerNow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return false
	}
	if r.inCallback {
		r.rerun = true
		return true
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.scheduleNext(0)
	return true
}

// SetInterval changes the interval used when scheduling the next run.
// The currently pending run keeps its old deadline.
func (r *PeriodicRunner) SetInterval(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interval = interval
}

// Interval returns the current scheduling interval.
func (r *PeriodicRunner) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// scheduleNext schedules the next callback execution. Must be called
// while holding r.mu.
func (r *PeriodicRunner) scheduleNext(after time.Duration) {
	r.timer = time.AfterFunc(after, r.execute)
}

// execute runs the callback and schedules the next execution.
func (r *PeriodicRunner) execute() {
	r.mu.Lock()

	if !r.running || r.ctx == nil {
		r.mu.Unlock()
		return
	}

	// Track this execution so Stop() can wait for it to complete.
	r.wg.Add(1)
	defer r.wg.Done()

	callback := r.callback
	ctx := r.ctx
	r.inCallback = true

	// Release lock during callback execution to avoid blocking Stop().
	r.mu.Unlock()

	callback(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.inCallback = false
	if !r.running {
		return
	}

	// Schedule the next execution only after this one completes. A
	// trigger that arrived mid-callback runs immediately.
	if r.rerun {
		r.rerun = false
		r.scheduleNext(0)
		return
	}
	r.scheduleNext(r.interval)
}
