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

// Package dbmetrics counts query activity and pool load. A Recorder
// wraps the active error-policy listener, so one object observes every
// attempt while decisions still come from the wrapped policy. Counters
// are process-local; a statsd address adds UDP export on top.
package dbmetrics

import (
	"context"
	"log/slog"
	"strings"
	"time"

	statsd "github.com/smira/go-statsd"

	"github.com/TechEmpower/gemini-sub003/go/dberrors"
	"github.com/TechEmpower/gemini-sub003/go/dblistener"
)

// Config controls query counting and export.
type Config struct {
	// Enabled turns on the periodic query-count log line.
	Enabled bool

	// Frequency is how many completed operations between log lines.
	Frequency int

	// StatsdAddr enables statsd export when non-empty, e.g.
	// "127.0.0.1:8125".
	StatsdAddr string

	// StatsdPrefix is prepended to every exported metric name.
	StatsdPrefix string
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Queries  int64
	Updates  int64
	Batches  int64
	Failures int64
	Total    int64
	Load     int64
}

// Recorder observes the query lifecycle. It implements
// dblistener.Listener by delegating retry decisions to the wrapped
// listener and recording everything else.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	inner  dblistener.Listener
	client *statsd.Client

	counters counters
}

// NewRecorder wraps inner with metrics recording. A nil inner defaults
// to the never-retry policy.
func NewRecorder(cfg Config, logger *slog.Logger, inner dblistener.Listener) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if inner == nil {
		inner = dblistener.Nop{}
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = 1000
	}

	r := &Recorder{
		cfg:    cfg,
		logger: logger,
		inner:  inner,
	}
	if cfg.StatsdAddr != "" {
		// The statsd client concatenates prefix and name verbatim.
		prefix := cfg.StatsdPrefix
		if prefix != "" && !strings.HasSuffix(prefix, ".") {
			prefix += "."
		}
		r.client = statsd.NewClient(cfg.StatsdAddr,
			statsd.MetricPrefix(prefix),
			statsd.FlushInterval(100*time.Millisecond),
		)
	}
	return r
}

// Close flushes and stops the statsd client, if any.
func (r *Recorder) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Snapshot returns the current counter values.
func (r *Recorder) Snapshot() Snapshot {
	return r.counters.snapshot()
}

// RecordPoolStats exports pool occupancy gauges. Called by whoever
// polls the pool, typically on the sweep interval.
func (r *Recorder) RecordPoolStats(open, inUse int64) {
	if r.client == nil {
		return
	}
	r.client.Gauge("pool.open", open)
	r.client.Gauge("pool.in_use", inUse)
}

// --- dblistener.Listener ---

func (r *Recorder) QueryFailed(ctx context.Context, kind dberrors.Kind, err error, tries int) dblistener.Decision {
	return r.inner.QueryFailed(ctx, kind, err, tries)
}

func (r *Recorder) QueryStarting(kind dberrors.Kind, query string) {
	r.inner.QueryStarting(kind, query)
}

func (r *Recorder) QueryCompleting(kind dberrors.Kind, query string, elapsed time.Duration, err error) {
	total := r.counters.record(kind, err)

	if r.client != nil {
		r.client.Incr("query."+kind.String(), 1)
		r.client.PrecisionTiming("query.time", elapsed)
		if err != nil {
			r.client.Incr("query.failure", 1)
		}
	}

	if r.cfg.Enabled && total%int64(r.cfg.Frequency) == 0 {
		s := r.counters.snapshot()
		r.logger.Info("query count",
			"total", s.Total,
			"queries", s.Queries,
			"updates", s.Updates,
			"batches", s.Batches,
			"failures", s.Failures,
		)
	}

	r.inner.QueryCompleting(kind, query, elapsed, err)
}

func (r *Recorder) ConnectionClaimed(connID int64) {
	load := r.counters.load.Add(1)
	if r.client != nil {
		r.client.Gauge("pool.load", load)
	}
	r.inner.ConnectionClaimed(connID)
}

func (r *Recorder) ConnectionReleased(connID int64) {
	load := r.counters.load.Add(-1)
	if r.client != nil {
		r.client.Gauge("pool.load", load)
	}
	r.inner.ConnectionReleased(connID)
}

var _ dblistener.Listener = (*Recorder)(nil)
