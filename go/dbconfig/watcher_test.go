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

package dbconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
}

func TestWatcherDeliversNewAttributes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.yaml")
	writeConfig(t, path, "db:\n  Driver:\n    Pooling: 3\n")

	changes := make(chan Attributes, 4)
	w := NewWatcher(path, nil, func(a Attributes) {
		changes <- a
	})
	w.debounce = 20 * time.Millisecond

	require.NoError(t, w.Start())
	defer w.Stop()

	writeConfig(t, path, "db:\n  Driver:\n    Pooling: 6\n")

	select {
	case attrs := <-changes:
		assert.Equal(t, 6, attrs.MinPoolSize)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config change delivery")
	}
}

func TestWatcherKeepsOldOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.yaml")
	writeConfig(t, path, "db:\n  Driver:\n    Pooling: 3\n")

	changes := make(chan Attributes, 4)
	w := NewWatcher(path, nil, func(a Attributes) {
		changes <- a
	})
	w.debounce = 20 * time.Millisecond

	require.NoError(t, w.Start())
	defer w.Stop()

	// Invalid sizing must be dropped, not delivered.
	writeConfig(t, path, "db:\n  Driver:\n    Pooling: 10\n    MaxPooling: 2\n")

	select {
	case attrs := <-changes:
		t.Fatalf("unexpected delivery of invalid config: %+v", attrs)
	case <-time.After(500 * time.Millisecond):
	}

	// A subsequent good write still comes through.
	writeConfig(t, path, "db:\n  Driver:\n    Pooling: 5\n")

	select {
	case attrs := <-changes:
		assert.Equal(t, 5, attrs.MinPoolSize)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for recovery after bad reload")
	}
}

func TestWatcherStartStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.yaml")
	writeConfig(t, path, "db: {}\n")

	w := NewWatcher(path, nil, func(Attributes) {})
	require.NoError(t, w.Start())
	require.Error(t, w.Start(), "second start must be rejected")

	w.Stop()
	w.Stop() // idempotent
}
