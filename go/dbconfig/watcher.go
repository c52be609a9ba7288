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
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// defaultDebounce coalesces the bursts of fs events editors emit when
// rewriting a file.
const defaultDebounce = 250 * time.Millisecond

// Watcher watches one config file and delivers freshly loaded Attributes
// to a callback whenever the file changes. A reload that fails to parse
// or validate is logged and dropped; the previous attributes stay live.
//
// The parent directory is watched rather than the file itself so
// rename-replace saves (the common editor behavior) are still seen.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onChange func(Attributes)
	debounce time.Duration

	fsw      *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  atomic.Bool
}

// NewWatcher prepares a watcher for path. Start must be called to begin
// watching.
func NewWatcher(path string, logger *slog.Logger, onChange func(Attributes)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		logger:   logger,
		onChange: onChange,
		debounce: defaultDebounce,
	}
}

// Start begins watching. It returns an error if the watcher is already
// running or the directory cannot be watched.
func (w *Watcher) Start() error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("config watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.started.Store(false)
		return fmt.Errorf("create fs watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		w.started.Store(false)
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.fsw = fsw
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.loop()

	w.logger.Debug("config watcher started", "path", w.path)
	return nil
}

// Stop ends watching and waits for the watch goroutine to exit. Safe to
// call more than once.
func (w *Watcher) Stop() {
	if !w.started.Load() {
		return
	}
	w.stopOnce.Do(func() {
		close(w.stop)
		w.fsw.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	base := filepath.Base(w.path)

	// Debounce timer, armed only while a reload is pending.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-w.stop:
			timer.Stop()
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "path", w.path, "err", err)

		case <-timer.C:
			pending = false
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	attrs, err := LoadFile(afero.NewOsFs(), w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous attributes",
			"path", w.path, "err", err)
		return
	}
	w.logger.Info("config file changed", "path", w.path)
	w.onChange(attrs)
}
