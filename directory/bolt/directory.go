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

// Package bolt provides a directory.Directory persisted in a bbolt file.
//
// Every node is a bucket nested in its parent, so a node's children are its
// sub-buckets. The file is owned by a single process: watches are served from
// an in-process registry fired after each commit, and ephemeral nodes belong
// to a Session. Ephemeral nodes left behind by a previous process are swept
// when the file is opened.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	bbolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/vnetctl/statesync/directory"
)

var (
	treeBucket      = []byte("tree")
	ephemeralBucket = []byte("ephemeral")
)

// Store is an open bbolt file holding one namespace.
type Store struct {
	config  *Config
	db      *bbolt.DB
	mu      sync.Mutex
	watches map[string]map[uint64]*watch
	watchID uint64
	closed  *atomic.Bool
}

// Session owns the ephemeral nodes created through its directories.
type Session struct {
	store  *Store
	id     string
	closed *atomic.Bool
}

// Directory is a directory.Directory node stored in a bbolt file
type Directory struct {
	session  *Session
	segments []string
}

var _ directory.Directory = (*Directory)(nil)

type watch struct {
	fn   func()
	done chan struct{}
	once sync.Once
}

// Open opens or creates the database file and removes the ephemeral nodes
// of sessions that did not survive the previous process.
func Open(config *Config) (*Store, error) {
	if config == nil {
		return nil, errors.New("directory/bolt: config is nil")
	}

	config.Sanitize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("directory/bolt: config is invalid: %w", err)
	}

	db, err := bbolt.Open(config.Path, config.FileMode, &bbolt.Options{
		Timeout:    config.Timeout,
		NoGrowSync: true,
		NoSync:     config.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("directory/bolt: opening %s: %w", config.Path, err)
	}

	swept := 0
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(treeBucket); err != nil {
			return err
		}

		records, err := tx.CreateBucketIfNotExists(ephemeralBucket)
		if err != nil {
			return err
		}

		var paths []string
		if err := records.ForEach(func(k, _ []byte) error {
			paths = append(paths, string(k))
			return nil
		}); err != nil {
			return err
		}

		for _, path := range paths {
			if err := removeNode(tx, path); err != nil {
				return err
			}
			swept++
		}
		return nil
	}); err != nil {
		return nil, multierr.Combine(fmt.Errorf("directory/bolt: initializing %s: %w", config.Path, err), db.Close())
	}

	if swept > 0 {
		config.Logger.Infof("directory/bolt: removed %d stale ephemeral nodes from %s", swept, config.Path)
	}

	return &Store{
		config:  config,
		db:      db,
		watches: make(map[string]map[uint64]*watch),
		closed:  atomic.NewBool(false),
	}, nil
}

// NewSession returns a new session of the store
func (s *Store) NewSession() *Session {
	return &Session{
		store:  s,
		id:     uuid.NewString(),
		closed: atomic.NewBool(false),
	}
}

// Close releases the database file. Pending watches never fire.
// Close is idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	var pending []*watch
	for path := range s.watches {
		pending = append(pending, s.drain(path)...)
	}
	s.mu.Unlock()

	for _, w := range pending {
		w.once.Do(func() { close(w.done) })
	}
	return s.db.Close()
}

// ID returns the identifier of the session
func (x *Session) ID() string {
	return x.id
}

// Root returns the root node bound to this session
func (x *Session) Root() *Directory {
	return &Directory{session: x}
}

// Close ends the session: every ephemeral node it created is removed.
// Close is idempotent.
func (x *Session) Close() error {
	if !x.closed.CompareAndSwap(false, true) {
		return nil
	}

	if x.store.closed.Load() {
		return nil
	}

	var removed []string
	err := x.store.db.Update(func(tx *bbolt.Tx) error {
		var owned []string
		if err := tx.Bucket(ephemeralBucket).ForEach(func(k, v []byte) error {
			if string(v) == x.id {
				owned = append(owned, string(k))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, path := range owned {
			if err := removeNode(tx, path); err != nil {
				return err
			}
			removed = append(removed, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("directory/bolt: failed to expire session %s: %w", x.id, err)
	}

	x.store.fire(removed, true)
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
	return &Directory{session: x.session, segments: joined}, nil
}

// AddChild implements directory.Directory.
func (x *Directory) AddChild(ctx context.Context, name string, mode directory.Mode) error {
	if err := directory.ValidateName(name); err != nil {
		return err
	}

	if err := x.check(ctx); err != nil {
		return err
	}

	path := x.childPath(name)
	err := x.session.store.db.Update(func(tx *bbolt.Tx) error {
		parent := lookup(tx, x.segments)
		if parent == nil {
			return directory.ErrNotFound
		}

		if _, err := parent.CreateBucket([]byte(name)); err != nil {
			if errors.Is(err, berrors.ErrBucketExists) {
				return directory.ErrAlreadyExists
			}
			return err
		}

		if mode == directory.Ephemeral {
			return tx.Bucket(ephemeralBucket).Put([]byte(path), []byte(x.session.id))
		}
		return nil
	})
	if err != nil {
		return translate("failed to add child", err)
	}

	x.session.store.fire([]string{path}, false)
	return nil
}

// DeleteChild implements directory.Directory.
func (x *Directory) DeleteChild(ctx context.Context, name string) error {
	if err := directory.ValidateName(name); err != nil {
		return err
	}

	if err := x.check(ctx); err != nil {
		return err
	}

	path := x.childPath(name)
	err := x.session.store.db.Update(func(tx *bbolt.Tx) error {
		parent := lookup(tx, x.segments)
		if parent == nil {
			return directory.ErrNotFound
		}

		child := parent.Bucket([]byte(name))
		if child == nil {
			return directory.ErrNotFound
		}

		if k, _ := child.Cursor().First(); k != nil {
			return directory.ErrNotEmpty
		}

		if err := parent.DeleteBucket([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket(ephemeralBucket).Delete([]byte(path))
	})
	if err != nil {
		return translate("failed to delete child", err)
	}

	x.session.store.fire([]string{path}, true)
	return nil
}

// ListChildren implements directory.Directory.
func (x *Directory) ListChildren(ctx context.Context) ([]string, error) {
	if err := x.check(ctx); err != nil {
		return nil, err
	}

	var names []string
	err := x.session.store.db.View(func(tx *bbolt.Tx) error {
		current := lookup(tx, x.segments)
		if current == nil {
			return directory.ErrNotFound
		}

		names = make([]string, 0)
		cursor := current.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			// nested buckets have no value
			if v == nil {
				names = append(names, string(k))
			}
		}
		return nil
	})
	if err != nil {
		return nil, translate("failed to list children", err)
	}
	return names, nil
}

// WatchOnce implements directory.Directory.
func (x *Directory) WatchOnce(ctx context.Context, fn func()) (directory.Cancel, error) {
	if err := x.check(ctx); err != nil {
		return nil, err
	}

	store := x.session.store
	path := x.Path()

	// registered before the existence check so no commit is missed
	store.mu.Lock()
	store.watchID++
	id := store.watchID
	w := &watch{fn: fn, done: make(chan struct{})}
	if store.watches[path] == nil {
		store.watches[path] = make(map[uint64]*watch)
	}
	store.watches[path][id] = w
	store.mu.Unlock()

	cancel := func() {
		store.mu.Lock()
		if registered := store.watches[path]; registered != nil {
			delete(registered, id)
			if len(registered) == 0 {
				delete(store.watches, path)
			}
		}
		store.mu.Unlock()
		w.once.Do(func() { close(w.done) })
	}

	err := store.db.View(func(tx *bbolt.Tx) error {
		if lookup(tx, x.segments) == nil {
			return directory.ErrNotFound
		}
		return nil
	})
	if err != nil {
		cancel()
		return nil, translate("failed to watch", err)
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

func (x *Directory) check(ctx context.Context) error {
	if x.session.closed.Load() || x.session.store.closed.Load() {
		return directory.ErrClosed
	}

	if ctx != nil {
		return ctx.Err()
	}
	return nil
}

func (x *Directory) childPath(name string) string {
	if len(x.segments) == 0 {
		return directory.Separator + name
	}
	return x.Path() + directory.Separator + name
}

// fire runs the watches of the parents of the changed paths, plus the
// watches of the removed subtrees.
func (s *Store) fire(changed []string, removed bool) {
	s.mu.Lock()
	var fired []*watch
	for _, path := range changed {
		fired = append(fired, s.drain(parentPath(path))...)
		if !removed {
			continue
		}

		for watched := range s.watches {
			if watched == path || strings.HasPrefix(watched, path+directory.Separator) {
				fired = append(fired, s.drain(watched)...)
			}
		}
	}
	s.mu.Unlock()

	for _, w := range fired {
		w.once.Do(func() {
			close(w.done)
			w.fn()
		})
	}
}

// drain removes and returns the watches registered on path. The caller holds mu.
func (s *Store) drain(path string) []*watch {
	registered := s.watches[path]
	if len(registered) == 0 {
		return nil
	}

	delete(s.watches, path)
	fired := make([]*watch, 0, len(registered))
	for _, w := range registered {
		fired = append(fired, w)
	}
	return fired
}

// lookup returns the bucket of the node at segments or nil.
func lookup(tx *bbolt.Tx, segments []string) *bbolt.Bucket {
	current := tx.Bucket(treeBucket)
	for _, segment := range segments {
		if current == nil {
			return nil
		}
		current = current.Bucket([]byte(segment))
	}
	return current
}

// removeNode deletes the node at path with its subtree, and the ephemeral
// records of the subtree. A missing node is not an error.
func removeNode(tx *bbolt.Tx, path string) error {
	records := tx.Bucket(ephemeralBucket)
	stale := [][]byte{[]byte(path)}
	cursor := records.Cursor()
	prefix := []byte(path + directory.Separator)
	for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}

	for _, k := range stale {
		if err := records.Delete(k); err != nil {
			return err
		}
	}

	segments, err := directory.Split(path)
	if err != nil || len(segments) == 0 {
		return err
	}

	parent := lookup(tx, segments[:len(segments)-1])
	if parent == nil {
		return nil
	}

	name := []byte(segments[len(segments)-1])
	if parent.Bucket(name) == nil {
		return nil
	}
	return parent.DeleteBucket(name)
}

func parentPath(path string) string {
	index := strings.LastIndex(path, directory.Separator)
	if index <= 0 {
		return directory.Separator
	}
	return path[:index]
}

func translate(op string, err error) error {
	switch {
	case errors.Is(err, directory.ErrNotFound),
		errors.Is(err, directory.ErrAlreadyExists),
		errors.Is(err, directory.ErrNotEmpty):
		return err
	case errors.Is(err, berrors.ErrDatabaseNotOpen):
		return directory.ErrClosed
	default:
		return fmt.Errorf("directory/bolt: %s: %w: %w", op, directory.ErrUnavailable, err)
	}
}
