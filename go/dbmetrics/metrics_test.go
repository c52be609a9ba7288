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

package dbmetrics

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TechEmpower/gemini-sub003/go/dberrors"
	"github.com/TechEmpower/gemini-sub003/go/dblistener"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder(Config{}, slog.Default(), nil)
	defer r.Close()

	r.QueryCompleting(dberrors.KindQuery, "SELECT 1", time.Millisecond, nil)
	r.QueryCompleting(dberrors.KindUpdate, "UPDATE t", time.Millisecond, nil)
	r.QueryCompleting(dberrors.KindBatch, "INSERT", time.Millisecond, errors.New("boom"))

	s := r.Snapshot()
	assert.Equal(t, int64(1), s.Queries)
	assert.Equal(t, int64(1), s.Updates)
	assert.Equal(t, int64(1), s.Batches)
	assert.Equal(t, int64(1), s.Failures)
	assert.Equal(t, int64(3), s.Total)
}

func TestRecorderLoadGauge(t *testing.T) {
	r := NewRecorder(Config{}, slog.Default(), nil)
	defer r.Close()

	r.ConnectionClaimed(1)
	r.ConnectionClaimed(2)
	assert.Equal(t, int64(2), r.Snapshot().Load)

	r.ConnectionReleased(1)
	assert.Equal(t, int64(1), r.Snapshot().Load)
}

func TestRecorderLogsEveryNth(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := NewRecorder(Config{Enabled: true, Frequency: 3}, logger, nil)
	defer r.Close()

	for range 2 {
		r.QueryCompleting(dberrors.KindQuery, "SELECT 1", 0, nil)
	}
	assert.NotContains(t, buf.String(), "query count")

	r.QueryCompleting(dberrors.KindQuery, "SELECT 1", 0, nil)
	assert.Contains(t, buf.String(), "query count")
	assert.Contains(t, buf.String(), "total=3")
}

func TestRecorderDisabledCountingStaysQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := NewRecorder(Config{Enabled: false, Frequency: 1}, logger, nil)
	defer r.Close()

	r.QueryCompleting(dberrors.KindQuery, "SELECT 1", 0, nil)
	assert.Empty(t, buf.String())
}

type recordingPolicy struct {
	dblistener.Nop
	mu     sync.Mutex
	failed int
}

func (p *recordingPolicy) QueryFailed(ctx context.Context, kind dberrors.Kind, err error, tries int) dblistener.Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed++
	if tries < 2 {
		return dblistener.Retry
	}
	return dblistener.DoNothing
}

func TestRecorderDelegatesDecisions(t *testing.T) {
	policy := &recordingPolicy{}
	r := NewRecorder(Config{}, slog.Default(), policy)
	defer r.Close()

	ctx := context.Background()
	err := errors.New("boom")
	assert.Equal(t, dblistener.Retry, r.QueryFailed(ctx, dberrors.KindQuery, err, 1))
	assert.Equal(t, dblistener.DoNothing, r.QueryFailed(ctx, dberrors.KindQuery, err, 2))
	assert.Equal(t, 2, policy.failed)
}

func TestRecorderExportsToStatsd(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	received := make(chan string, 64)
	go func() {
		buf := make([]byte, 65536)
		for {
			n, _, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			received <- string(buf[:n])
		}
	}()

	r := NewRecorder(Config{
		StatsdAddr:   pc.LocalAddr().String(),
		StatsdPrefix: "dbpool.",
	}, slog.Default(), nil)
	defer r.Close()

	r.QueryCompleting(dberrors.KindQuery, "SELECT 1", time.Millisecond, nil)

	require.Eventually(t, func() bool {
		select {
		case packet := <-received:
			return strings.Contains(packet, "dbpool.query.query")
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
}
