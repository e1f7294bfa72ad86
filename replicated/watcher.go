// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package replicated

import (
	"slices"
	"sync"

	"go.uber.org/atomic"

	"github.com/vnetctl/statesync/log"
)

// Watcher receives the diffs applied to a running set.
//
// Process is called synchronously on the goroutine that produced the diff,
// after the cache reflects it. It must not call Stop on the set it watches.
// Watchers are identified by interface equality, so implementations must be
// comparable; pointers are the usual choice.
type Watcher[T any] interface {
	Process(added, removed []T)
}

type registration[T any] struct {
	watcher Watcher[T]
	active  *atomic.Bool
}

// watcherRegistry is a copy-on-read list of watchers.
type watcherRegistry[T any] struct {
	mu      sync.RWMutex
	entries []*registration[T]
}

func (r *watcherRegistry[T]) add(watcher Watcher[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries {
		if entry.watcher == watcher {
			return false
		}
	}

	r.entries = append(r.entries, &registration[T]{
		watcher: watcher,
		active:  atomic.NewBool(true),
	})
	return true
}

func (r *watcherRegistry[T]) remove(watcher Watcher[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := slices.IndexFunc(r.entries, func(entry *registration[T]) bool {
		return entry.watcher == watcher
	})
	if index < 0 {
		return false
	}

	r.entries[index].active.Store(false)
	r.entries = slices.Delete(r.entries, index, index+1)
	return true
}

func (r *watcherRegistry[T]) snapshot() []*registration[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.entries)
}

func (r *watcherRegistry[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// broadcast delivers the diff to the watchers registered when it starts.
// A watcher removed while the broadcast is running is skipped.
func (r *watcherRegistry[T]) broadcast(logger log.Logger, added, removed []T) {
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	for _, entry := range r.snapshot() {
		if !entry.active.Load() {
			continue
		}
		deliver(logger, entry.watcher, added, removed)
	}
}

func deliver[T any](logger log.Logger, watcher Watcher[T], added, removed []T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("replicated: watcher panicked: %v", r)
		}
	}()
	watcher.Process(added, removed)
}
