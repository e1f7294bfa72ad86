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

// Package replicated keeps a local view of a set whose members are the
// children of a directory node.
//
// Every member is a child node named after the member's encoding. Several
// processes share one set by pointing at the same directory node: local
// changes are written to the directory first, then folded into the local
// cache, and changes made by others are picked up by a watch loop that lists
// the node each time its one-shot watch fires. Watchers receive the net
// additions and removals of every update, once.
package replicated

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/flowchartsman/retry"
	"go.uber.org/atomic"

	"github.com/vnetctl/statesync/directory"
	"github.com/vnetctl/statesync/log"
	"github.com/vnetctl/statesync/telemetry"
)

// State is the lifecycle state of a Set
type State int32

const (
	// Created is the state of a set that has not been started.
	// Mutations are applied but nothing is broadcast.
	Created State = iota
	// Running is the state of a set whose watch loop is active.
	Running
	// Stopped is the state of a set whose watch loop was torn down.
	// The cache keeps its last value.
	Stopped
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type diff[T any] struct {
	added   []T
	removed []T
}

// Set is a replicated set of T stored as the children of a directory node.
// It is safe for concurrent use.
type Set[T any] struct {
	dir   directory.Directory
	mode  directory.Mode
	codec Codec[T]

	name          string
	logger        log.Logger
	onDecodeError DecodeErrorHandler
	metrics       *telemetry.SetMetrics
	rearmAttempts int
	rearmMinDelay time.Duration
	rearmMaxDelay time.Duration

	lifecycleMu sync.Mutex
	state       *atomic.Int32

	// mu guards the cache, the mutation generations and the outbox.
	// It is never held across directory calls or watcher callbacks.
	mu         sync.RWMutex
	cache      map[string]T
	generation uint64
	touched    map[string]uint64
	outbox     []diff[T]
	delivering bool

	watchers watcherRegistry[T]

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	signal  chan struct{}
	watchMu sync.Mutex
	unwatch directory.Cancel
}

// New creates a set over dir. Nodes created by Add use mode.
// No I/O happens until Start.
func New[T any](dir directory.Directory, mode directory.Mode, codec Codec[T], opts ...Option) (*Set[T], error) {
	if dir == nil {
		return nil, ErrNilDirectory
	}

	if codec == nil {
		return nil, ErrNilCodec
	}

	cfg := defaultSettings()
	for _, opt := range opts {
		opt.Apply(cfg)
	}

	if cfg.name == "" {
		cfg.name = dir.Path()
	}

	x := &Set[T]{
		dir:           dir,
		mode:          mode,
		codec:         codec,
		name:          cfg.name,
		logger:        cfg.logger,
		onDecodeError: cfg.onDecodeError,
		metrics:       cfg.metrics,
		rearmAttempts: cfg.rearmAttempts,
		rearmMinDelay: cfg.rearmMinDelay,
		rearmMaxDelay: cfg.rearmMaxDelay,
		state:         atomic.NewInt32(int32(Created)),
		cache:         make(map[string]T),
		touched:       make(map[string]uint64),
		signal:        make(chan struct{}, 1),
	}

	if x.onDecodeError == nil {
		x.onDecodeError = func(err *DecodeError) {
			x.logger.Warnf("replicated[%s]: skipping node: %v", x.name, err)
		}
	}

	return x, nil
}

// Name returns the set name
func (x *Set[T]) Name() string {
	return x.name
}

// State returns the lifecycle state
func (x *Set[T]) State() State {
	return State(x.state.Load())
}

// Start lists the directory, installs the result as the cache and starts
// watching for changes. Every member present after the listing is broadcast
// as added, so watchers registered before Start see the initial population once.
//
// ctx bounds the initial listing only; the watch loop runs until Stop.
// Start is a no-op on a running set and returns ErrStopped on a stopped one.
func (x *Set[T]) Start(ctx context.Context) error {
	x.lifecycleMu.Lock()
	defer x.lifecycleMu.Unlock()

	switch x.State() {
	case Running:
		return nil
	case Stopped:
		return ErrStopped
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	// the watch is armed before listing so that no change falls between them
	if err := x.arm(loopCtx); err != nil {
		cancel()
		return fmt.Errorf("replicated: failed to watch %s: %w", x.dir.Path(), err)
	}

	since := x.currentGeneration()
	observed, err := x.list(ctx)
	if err != nil {
		cancel()
		x.disarm()
		return fmt.Errorf("replicated: failed to list %s: %w", x.dir.Path(), err)
	}

	x.mu.Lock()
	x.merge(observed, since)
	population := make([]T, 0, len(x.cache))
	for _, item := range x.cache {
		population = append(population, item)
	}
	x.state.Store(int32(Running))
	x.enqueue(population, nil)
	x.mu.Unlock()

	x.metrics.RecordDiff(ctx, x.name, len(population), 0)
	x.deliver()

	x.cancel = cancel
	x.wg.Add(1)
	go x.run(loopCtx)

	x.logger.Debugf("replicated[%s]: started with %d members", x.name, len(population))
	return nil
}

// Stop tears down the watch. The cache keeps its last value.
// A reconciliation already in flight may still broadcast once.
// Stop is a no-op unless the set is running, and must not be called from a Watcher.
func (x *Set[T]) Stop() {
	x.lifecycleMu.Lock()
	defer x.lifecycleMu.Unlock()

	if !x.state.CompareAndSwap(int32(Running), int32(Stopped)) {
		return
	}

	x.cancel()
	x.wg.Wait()
	x.disarm()

	x.mu.Lock()
	clear(x.touched)
	x.mu.Unlock()

	x.logger.Debugf("replicated[%s]: stopped", x.name)
}

// Add creates the child node for item. It returns an error matching
// directory.ErrAlreadyExists when the node already exists.
// On success the cache includes item and, when running, watchers are told
// at once without waiting for the watch loop.
func (x *Set[T]) Add(ctx context.Context, item T) error {
	name := x.codec.Encode(item)
	if err := x.dir.AddChild(ctx, name, x.mode); err != nil {
		return fmt.Errorf("replicated: failed to add %q: %w", name, err)
	}

	x.mu.Lock()
	x.touch(name)
	var added []T
	if _, ok := x.cache[name]; !ok {
		x.cache[name] = item
		added = []T{item}
	}
	notify := x.enqueue(added, nil)
	x.mu.Unlock()

	if notify {
		x.metrics.RecordDiff(ctx, x.name, len(added), 0)
		x.deliver()
	}
	return nil
}

// Remove deletes the child node for item. It returns an error matching
// directory.ErrNotFound when there is no such node.
// On success the cache excludes item and, when running, watchers are told at once.
func (x *Set[T]) Remove(ctx context.Context, item T) error {
	name := x.codec.Encode(item)
	if err := x.dir.DeleteChild(ctx, name); err != nil {
		return fmt.Errorf("replicated: failed to remove %q: %w", name, err)
	}

	x.mu.Lock()
	x.touch(name)
	var removed []T
	if cached, ok := x.cache[name]; ok {
		delete(x.cache, name)
		removed = []T{cached}
	}
	notify := x.enqueue(nil, removed)
	x.mu.Unlock()

	if notify {
		x.metrics.RecordDiff(ctx, x.name, 0, len(removed))
		x.deliver()
	}
	return nil
}

// Elements returns a copy of the cached members
func (x *Set[T]) Elements() []T {
	x.mu.RLock()
	defer x.mu.RUnlock()

	items := make([]T, 0, len(x.cache))
	for _, item := range x.cache {
		items = append(items, item)
	}
	return items
}

// Strings returns the node names of the cached members
func (x *Set[T]) Strings() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	names := make([]string, 0, len(x.cache))
	for name := range x.cache {
		names = append(names, name)
	}
	return names
}

// Contains reports whether item is cached
func (x *Set[T]) Contains(item T) bool {
	name := x.codec.Encode(item)

	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.cache[name]
	return ok
}

// Len returns the number of cached members
func (x *Set[T]) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.cache)
}

// AddWatcher registers watcher. It reports false when watcher is nil or already registered.
func (x *Set[T]) AddWatcher(watcher Watcher[T]) bool {
	if watcher == nil {
		return false
	}
	return x.watchers.add(watcher)
}

// RemoveWatcher unregisters watcher. Once it returns, no new broadcast reaches watcher.
func (x *Set[T]) RemoveWatcher(watcher Watcher[T]) bool {
	if watcher == nil {
		return false
	}
	return x.watchers.remove(watcher)
}

// run waits for the watch to fire, then re-arms it and reconciles the cache.
func (x *Set[T]) run(ctx context.Context) {
	defer x.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-x.signal:
		}

		x.resync(ctx)
	}
}

// resync re-arms the watch and reconciles, retrying until both succeed or the
// set stops. A failure never leaves the set without a pending watch.
func (x *Set[T]) resync(ctx context.Context) {
	for round := 1; ; round++ {
		closed := false
		retrier := retry.NewRetrier(x.rearmAttempts, x.rearmMinDelay, x.rearmMaxDelay)
		err := retrier.RunContext(ctx, func(context.Context) error {
			if err := x.arm(ctx); err != nil {
				x.metrics.RecordRearmFailure(ctx, x.name)
				if errors.Is(err, directory.ErrClosed) {
					closed = true
					return retry.Stop(err)
				}
				return err
			}
			return x.reconcile(ctx)
		})

		switch {
		case err == nil, ctx.Err() != nil:
			return
		case closed:
			x.logger.Errorf("replicated[%s]: directory closed, watch abandoned: %v", x.name, err)
			return
		}

		x.logger.Warnf("replicated[%s]: resync round %d failed: %v", x.name, round, err)
		if !sleep(ctx, x.rearmMaxDelay) {
			return
		}
	}
}

// reconcile lists the directory and folds the difference into the cache.
func (x *Set[T]) reconcile(ctx context.Context) error {
	since := x.currentGeneration()
	observed, err := x.list(ctx)
	if err != nil {
		return err
	}

	x.mu.Lock()
	added, removed := x.merge(observed, since)
	notify := x.enqueue(added, removed)
	x.mu.Unlock()

	x.metrics.RecordReconciliation(ctx, x.name)
	if notify {
		x.metrics.RecordDiff(ctx, x.name, len(added), len(removed))
		x.deliver()
	}
	return nil
}

// list returns the decodable children of the directory keyed by node name.
func (x *Set[T]) list(ctx context.Context) (map[string]T, error) {
	names, err := x.dir.ListChildren(ctx)
	if err != nil {
		return nil, err
	}

	observed := make(map[string]T, len(names))
	for _, name := range names {
		item, err := x.codec.Decode(name)
		if err != nil {
			x.metrics.RecordDecodeFailure(ctx, x.name)
			x.onDecodeError(&DecodeError{Name: name, Err: err})
			continue
		}
		observed[name] = item
	}
	return observed, nil
}

// merge applies the difference between observed and the cache, leaving alone
// the names mutated locally after generation since: the listing may predate
// those mutations, and the watch armed before it will fire again for them.
// The caller holds mu.
func (x *Set[T]) merge(observed map[string]T, since uint64) (added, removed []T) {
	cached := mapset.NewThreadUnsafeSet[string]()
	for name := range x.cache {
		cached.Add(name)
	}

	listed := mapset.NewThreadUnsafeSet[string]()
	for name := range observed {
		listed.Add(name)
	}

	for _, name := range listed.Difference(cached).ToSlice() {
		if x.touched[name] > since {
			continue
		}
		item := observed[name]
		x.cache[name] = item
		added = append(added, item)
	}

	for _, name := range cached.Difference(listed).ToSlice() {
		if x.touched[name] > since {
			continue
		}
		removed = append(removed, x.cache[name])
		delete(x.cache, name)
	}

	for name, generation := range x.touched {
		if generation <= since {
			delete(x.touched, name)
		}
	}
	return added, removed
}

// touch records a local mutation of name. The caller holds mu.
func (x *Set[T]) touch(name string) {
	if x.State() == Stopped {
		return
	}
	x.generation++
	x.touched[name] = x.generation
}

func (x *Set[T]) currentGeneration() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.generation
}

// enqueue queues a non-empty diff for delivery when the set is running.
// The caller holds mu, so diffs are queued in the order they were applied.
func (x *Set[T]) enqueue(added, removed []T) bool {
	if len(added) == 0 && len(removed) == 0 {
		return false
	}
	if x.State() != Running {
		return false
	}
	x.outbox = append(x.outbox, diff[T]{added: added, removed: removed})
	return true
}

// deliver drains the outbox in order. Only one goroutine drains at a time;
// the others leave their diffs to it, which keeps a watcher calling Add or
// Remove from its callback free of deadlock.
func (x *Set[T]) deliver() {
	x.mu.Lock()
	if x.delivering {
		x.mu.Unlock()
		return
	}

	x.delivering = true
	for len(x.outbox) > 0 {
		next := x.outbox[0]
		x.outbox[0] = diff[T]{}
		x.outbox = x.outbox[1:]
		x.mu.Unlock()

		x.watchers.broadcast(x.logger, next.added, next.removed)

		x.mu.Lock()
	}
	x.outbox = nil
	x.delivering = false
	x.mu.Unlock()
}

// arm registers a new one-shot watch, cancelling the previous one.
func (x *Set[T]) arm(ctx context.Context) error {
	x.disarm()

	cancel, err := x.dir.WatchOnce(ctx, x.fire)
	if err != nil {
		return err
	}

	x.watchMu.Lock()
	x.unwatch = cancel
	x.watchMu.Unlock()
	return nil
}

func (x *Set[T]) disarm() {
	x.watchMu.Lock()
	cancel := x.unwatch
	x.unwatch = nil
	x.watchMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// fire is the watch callback. Signals collapse while a pass is pending.
func (x *Set[T]) fire() {
	select {
	case x.signal <- struct{}{}:
	default:
	}
}

func sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
