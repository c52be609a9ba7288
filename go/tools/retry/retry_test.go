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

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstAttemptIsImmediate(t *testing.T) {
	b := NewFixed(time.Hour)

	start := time.Now()
	require.NoError(t, b.StartAttempt(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, b.Attempt())
}

func TestFixedDelayBetweenAttempts(t *testing.T) {
	b := NewFixed(20 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, b.StartAttempt(ctx))
	start := time.Now()
	require.NoError(t, b.StartAttempt(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 2, b.Attempt())
}

func TestStartAttemptHonorsCancellation(t *testing.T) {
	b := NewFixed(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.StartAttempt(ctx))

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.StartAttempt(ctx)
	}()
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("StartAttempt did not observe cancellation")
	}
}

func TestStartAttemptOnDoneContext(t *testing.T) {
	b := NewFixed(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, b.StartAttempt(ctx), context.Canceled)
	assert.Equal(t, 0, b.Attempt())
}

func TestExponentialDelaysStayUnderCap(t *testing.T) {
	base := 10 * time.Millisecond
	maxDelay := 80 * time.Millisecond
	b := NewExponential(base, maxDelay)

	for attempt := range 70 {
		delay := b.next(attempt)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, maxDelay)
	}
}

func TestReset(t *testing.T) {
	b := NewFixed(30 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, b.StartAttempt(ctx))
	require.NoError(t, b.StartAttempt(ctx))
	b.Reset()
	assert.Equal(t, 0, b.Attempt())

	start := time.Now()
	require.NoError(t, b.StartAttempt(ctx))
	assert.Less(t, time.Since(start), 30*time.Millisecond)
}

func TestInvalidParametersPanic(t *testing.T) {
	assert.Panics(t, func() { NewExponential(0, time.Second) })
	assert.Panics(t, func() { NewExponential(time.Second, time.Millisecond) })
	assert.Panics(t, func() { NewFixed(-time.Second) })
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}
