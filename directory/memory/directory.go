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

// Package memory provides an in-process directory.Directory.
//
// All directories derived from the same New call share one namespace, the
// way several clients share a coordination service. Each session owns the
// ephemeral nodes it created; closing the session removes them and fires the
// watches of their parents.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/vnetctl/statesync/directory"
)

// Directory is an in-memory directory.Directory scoped to one node.
type Directory struct {
	store    *store
	session  *session
	segments []string
}

var _ directory.Directory = (*Directory)(nil)

type store struct {
	mu      sync.Mutex
	root    *node
	watchID uint64
}

type session struct {
	id     string
	closed *atomic.Bool
}

type node struct {
	children map[string]*node
	mode     directory.Mode
	owner    string
	watches  map[uint64]*watch
}

type watch struct {
	fn   func()
	done chan struct{}
	once sync.Once
}

// New creates an empty namespace and returns its root, bound to a fresh session.
func New() *Directory {
	return &Directory{
		store:   &store{root: newNode(directory.Persistent, "")},
		session: newSession(),
	}
}

// NewSession returns the root of the same namespace bound to a new session.
func (x *Directory) NewSession() *Directory {
	return &Directory{
		store:   x.store,
		session: newSession(),
	}
}

// SessionID returns the identifier of the session owning ephemeral nodes created through x
func (x *Directory) SessionID() string {
	return x.session.id
}

// Close ends the session: every ephemeral node it created is removed.
// Close is idempotent.
func (x *Directory) Close() error {
	if !x.session.closed.CompareAndSwap(false, true) {
		return nil
	}

	x.store.mu.Lock()
	fired := x.store.expire(x.store.root, x.session.id)
	x.store.mu.Unlock()

	fireAll(fired)
	return nil
}

// Path implements directory.Directory.
func (x *Directory) Path() string {
	return directory.Separator + strings.Join(x.segments, directory.Separator)
}

// Subdirectory implements directory.Directory.
func (x *Directory) Subdirectory(path string) (directory.Directory, error) {
	segments, err := directory.Split(path)
	if err != nil {
		return nil, err
	}

	joined := make([]string, 0, len(x.segments)+len(segments))
	joined = append(joined, x.segments...)
	joined = append(joined, segments...)
	return &Directory{
		store:    x.store,
		session:  x.session,
		segments: joined,
	}, nil
}

// AddChild implements directory.Directory.
func (x *Directory) AddChild(_ context.Context, name string, mode directory.Mode) error {
	if err := directory.ValidateName(name); err != nil {
		return err
	}

	if x.session.closed.Load() {
		return directory.ErrClosed
	}

	x.store.mu.Lock()
	parent := x.store.lookup(x.segments)
	if parent == nil {
		x.store.mu.Unlock()
		return directory.ErrNotFound
	}

	if _, ok := parent.children[name]; ok {
		x.store.mu.Unlock()
		return directory.ErrAlreadyExists
	}

	owner := ""
	if mode == directory.Ephemeral {
		owner = x.session.id
	}

	parent.children[name] = newNode(mode, owner)
	fired := parent.drain()
	x.store.mu.Unlock()

	fireAll(fired)
	return nil
}

// DeleteChild implements directory.Directory.
func (x *Directory) DeleteChild(_ context.Context, name string) error {
	if err := directory.ValidateName(name); err != nil {
		return err
	}

	if x.session.closed.Load() {
		return directory.ErrClosed
	}

	x.store.mu.Lock()
	parent := x.store.lookup(x.segments)
	if parent == nil {
		x.store.mu.Unlock()
		return directory.ErrNotFound
	}

	child, ok := parent.children[name]
	if !ok {
		x.store.mu.Unlock()
		return directory.ErrNotFound
	}

	if len(child.children) > 0 {
		x.store.mu.Unlock()
		return directory.ErrNotEmpty
	}

	delete(parent.children, name)
	fired := append(parent.drain(), child.drain()...)
	x.store.mu.Unlock()

	fireAll(fired)
	return nil
}

// ListChildren implements directory.Directory.
func (x *Directory) ListChildren(context.Context) ([]string, error) {
	if x.session.closed.Load() {
		return nil, directory.ErrClosed
	}

	x.store.mu.Lock()
	defer x.store.mu.Unlock()

	current := x.store.lookup(x.segments)
	if current == nil {
		return nil, directory.ErrNotFound
	}

	names := make([]string, 0, len(current.children))
	for name := range current.children {
		names = append(names, name)
	}
	return names, nil
}

// WatchOnce implements directory.Directory.
func (x *Directory) WatchOnce(ctx context.Context, fn func()) (directory.Cancel, error) {
	if x.session.closed.Load() {
		return nil, directory.ErrClosed
	}

	x.store.mu.Lock()
	current := x.store.lookup(x.segments)
	if current == nil {
		x.store.mu.Unlock()
		return nil, directory.ErrNotFound
	}

	x.store.watchID++
	id := x.store.watchID
	w := &watch{fn: fn, done: make(chan struct{})}
	current.watches[id] = w
	x.store.mu.Unlock()

	cancel := func() {
		x.store.mu.Lock()
		delete(current.watches, id)
		x.store.mu.Unlock()
		w.once.Do(func() { close(w.done) })
	}

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-w.done:
			}
		}()
	}

	return cancel, nil
}

func newSession() *session {
	return &session{
		id:     uuid.NewString(),
		closed: atomic.NewBool(false),
	}
}

func newNode(mode directory.Mode, owner string) *node {
	return &node{
		children: make(map[string]*node),
		mode:     mode,
		owner:    owner,
		watches:  make(map[uint64]*watch),
	}
}

// lookup returns the node at segments or nil. The caller holds the store lock.
func (s *store) lookup(segments []string) *node {
	current := s.root
	for _, segment := range segments {
		next, ok := current.children[segment]
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

// expire removes the ephemeral nodes owned by owner under parent and returns
// the watches to fire. The caller holds the store lock.
func (s *store) expire(parent *node, owner string) []*watch {
	var fired []*watch
	for name, child := range parent.children {
		if child.mode == directory.Ephemeral && child.owner == owner {
			delete(parent.children, name)
			fired = append(fired, parent.drain()...)
			fired = append(fired, child.drainSubtree()...)
			continue
		}
		fired = append(fired, s.expire(child, owner)...)
	}
	return fired
}

// drain removes and returns the pending watches of the node.
func (n *node) drain() []*watch {
	if len(n.watches) == 0 {
		return nil
	}
	fired := make([]*watch, 0, len(n.watches))
	for id, w := range n.watches {
		fired = append(fired, w)
		delete(n.watches, id)
	}
	return fired
}

func (n *node) drainSubtree() []*watch {
	fired := n.drain()
	for _, child := range n.children {
		fired = append(fired, child.drainSubtree()...)
	}
	return fired
}

func fireAll(fired []*watch) {
	for _, w := range fired {
		w.once.Do(func() {
			close(w.done)
			w.fn()
		})
	}
}
