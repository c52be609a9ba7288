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

package connpool

import (
	"container/list"
	"context"
	"sync"
)

// waiter is a blocked Acquire call. The profile channel is buffered so
// a handoff never parks the releasing goroutine.
type waiter struct {
	owner   int64
	profile chan *Profile
}

// waitlist is a FIFO of Acquire calls blocked on an exhausted pool.
// Handoffs remove the waiter from the list before sending, under the
// list lock, so an expiring waiter can tell "still queued" apart from
// "a profile is already on its way" and never loses one.
type waitlist struct {
	mu    sync.Mutex
	list  *list.List
	nodes sync.Pool
}

func newWaitlist() *waitlist {
	return &waitlist{
		list: list.New(),
		nodes: sync.Pool{
			New: func() any {
				return &waiter{profile: make(chan *Profile, 1)}
			},
		},
	}
}

// waitForProfile blocks until a released profile is handed to this
// waiter, the context expires, or closeCh is closed. On success the
// returned profile is already claimed for owner.
func (wl *waitlist) waitForProfile(ctx context.Context, owner int64, closeCh <-chan struct{}) (*Profile, error) {
	w := wl.nodes.Get().(*waiter)
	w.owner = owner

	wl.mu.Lock()
	elem := wl.list.PushBack(w)
	wl.mu.Unlock()

	select {
	case <-ctx.Done():
		return wl.expired(elem, w, context.Cause(ctx))
	case <-closeCh:
		return wl.expired(elem, w, ErrPoolClosed)
	case p := <-w.profile:
		wl.nodes.Put(w)
		return p, nil
	}
}

// expired resolves a waiter that woke up for a reason other than a
// handoff. If the waiter is no longer queued, a handoff committed
// concurrently and must be accepted despite the expiry.
func (wl *waitlist) expired(elem *list.Element, w *waiter, cause error) (*Profile, error) {
	wl.mu.Lock()
	queued := elem.Value != nil
	if queued {
		wl.list.Remove(elem)
		elem.Value = nil
	}
	wl.mu.Unlock()

	if queued {
		wl.nodes.Put(w)
		return nil, cause
	}
	p := <-w.profile
	wl.nodes.Put(w)
	return p, nil
}

// tryHandoff claims p for the oldest waiter and delivers it. Returns
// false when nobody is waiting or the profile was snatched by a
// concurrent scan before the claim landed.
func (wl *waitlist) tryHandoff(p *Profile) bool {
	wl.mu.Lock()
	elem := wl.list.Front()
	if elem == nil {
		wl.mu.Unlock()
		return false
	}
	w := elem.Value.(*waiter)
	if !p.Claim(w.owner, true) {
		wl.mu.Unlock()
		return false
	}
	wl.list.Remove(elem)
	elem.Value = nil
	wl.mu.Unlock()

	w.profile <- p
	return true
}

// waiting returns the number of queued waiters.
func (wl *waitlist) waiting() int {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	return wl.list.Len()
}
