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
	"sync/atomic"

	"github.com/TechEmpower/gemini-sub003/go/dberrors"
)

type counters struct {
	queries  atomic.Int64
	updates  atomic.Int64
	batches  atomic.Int64
	failures atomic.Int64
	total    atomic.Int64
	load     atomic.Int64
}

func (c *counters) record(kind dberrors.Kind, err error) int64 {
	switch kind {
	case dberrors.KindUpdate:
		c.updates.Add(1)
	case dberrors.KindBatch:
		c.batches.Add(1)
	default:
		c.queries.Add(1)
	}
	if err != nil {
		c.failures.Add(1)
	}
	return c.total.Add(1)
}

func (c *counters) snapshot() Snapshot {
	return Snapshot{
		Queries:  c.queries.Load(),
		Updates:  c.updates.Load(),
		Batches:  c.batches.Load(),
		Failures: c.failures.Load(),
		Total:    c.total.Load(),
		Load:     c.load.Load(),
	}
}
