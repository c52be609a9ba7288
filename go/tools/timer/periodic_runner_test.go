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

package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodicRunnerStartStop(t *testing.T) {
	called := make(chan struct{}, 10)

	runner := NewPeriodicRunner(t.Context(), 1*time.Millisecond)
	assert.False(t, runner.Running())

	runner.Start(func(_ context.Context) {
		select {
		case called <- struct{}{}:
		default:
		}
	})
	assert.True(t, runner.Running())

	// Wait for at least one execution.
	<-called

	runner.Stop()
	assert.False(t, runner.Running())
}

func TestPeriodicRunnerSecondStartRejected(t *testing.T) {
	runner := NewPeriodicRunner(t.Context(), time.Hour)
	defer runner.Stop()

	require.True(t, runner.Start(func(_ context.Context) {}))
	require.False(t, runner.Start(func(_ context.Context) {}))
}

func TestPeriodicRunnerStopWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	var completed atomic.Bool

	runner := NewPeriodicRunner(t.Context(), 1*time.Millisecond)
	runner.Start(func(_ context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-proceed
		completed.Store(true)
	})

	<-started

	stopDone := make(chan struct{})
	go func() {
		runner.Stop()
		close(stopDone)
	}()

	// Stop must block while the callback is still running.
	select {
	case <-stopDone:
		t.Fatal("Stop returned before the in-flight callback completed")
	case <-time.After(50 * time.Millisecond):
	}

	close(proceed)
	select {
	case <-stopDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the callback completed")
	}
	assert.True(t, completed.Load())
}

func TestPeriodicRunnerNoOverlap(t *testing.T) {
	var inFlight atomic.Int32
	var overlapped atomic.Bool
	var runs atomic.Int32
	done := make(chan struct{})

	runner := NewPeriodicRunner(t.Context(), 1*time.Millisecond)
	runner.Start(func(_ context.Context) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		if runs.Add(1) == 3 {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback did not run three times")
	}
	runner.Stop()
	assert.False(t, overlapped.Load())
}

func TestPeriodicRunnerTriggerNow(t *testing.T) {
	called := make(chan struct{}, 1)

	runner := NewPeriodicRunner(t.Context(), time.Hour)
	defer runner.Stop()

	assert.False(t, runner.TriggerNow())

	runner.Start(func(_ context.Context) {
		select {
		case called <- struct{}{}:
		default:
		}
	})

	require.True(t, runner.TriggerNow())
	select {
	case <-called:
	case <-time.After(5 * time.Second):
		t.Fatal("TriggerNow did not run the callback")
	}
}

func TestPeriodicRunnerTriggerDuringCallbackRunsAgain(t *testing.T) {
	proceed := make(chan struct{})
	runs := make(chan struct{}, 2)

	runner := NewPeriodicRunner(t.Context(), time.Hour)
	defer runner.Stop()

	runner.Start(func(_ context.Context) {
		runs <- struct{}{}
		<-proceed
	})

	require.True(t, runner.TriggerNow())
	<-runs

	// Trigger while the first run is still blocked inside the callback.
	require.True(t, runner.TriggerNow())
	proceed <- struct{}{}

	select {
	case <-runs:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger during callback did not schedule another run")
	}
	proceed <- struct{}{}
}

func TestPeriodicRunnerSetInterval(t *testing.T) {
	runner := NewPeriodicRunner(t.Context(), time.Hour)
	defer runner.Stop()

	assert.Equal(t, time.Hour, runner.Interval())
	runner.SetInterval(time.Minute)
	assert.Equal(t, time.Minute, runner.Interval())
}

func TestPeriodicRunnerRestart(t *testing.T) {
	var count atomic.Int32

	runner := NewPeriodicRunner(t.Context(), 1*time.Millisecond)
	runner.Start(func(_ context.Context) { count.Add(1) })

	require.Eventually(t, func() bool { return count.Load() > 0 },
		5*time.Second, time.Millisecond)
	runner.Stop()

	base := count.Load()
	require.True(t, runner.Start(func(_ context.Context) { count.Add(1) }))
	require.Eventually(t, func() bool { return count.Load() > base },
		5*time.Second, time.Millisecond)
	runner.Stop()
}

func TestPeriodicRunnerStopCancelsContext(t *testing.T) {
	ctxSeen := make(chan context.Context, 1)

	runner := NewPeriodicRunner(t.Context(), 1*time.Millisecond)
	runner.Start(func(ctx context.Context) {
		select {
		case ctxSeen <- ctx:
		default:
		}
	})

	ctx := <-ctxSeen
	runner.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("callback context was not cancelled by Stop")
	}
}
