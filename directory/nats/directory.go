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

// Package nats provides a directory.Directory stored in a NATS JetStream
// KeyValue bucket.
//
// Each node name is base64url encoded into one key token, so the node /a/b
// is the key tree.<a>.<b> and the children of a node are matched with the
// <key>.* wildcard. JetStream has no sessions: ephemeral nodes are owned by
// the Client that created them and deleted when it is closed.
package nats

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/vnetctl/statesync/directory"
)

const rootToken = "tree"

var encoding = base64.RawURLEncoding

// Client owns the NATS connection and the ephemeral nodes it created.
type Client struct {
	config    *Config
	conn      *nats.Conn
	kv        nats.KeyValue
	ephemeral mapset.Set[string]
	closed    *atomic.Bool
}

// Directory is a directory.Directory node stored in a JetStream bucket
type Directory struct {
	client *Client
	path   string
}

var _ directory.Directory = (*Directory)(nil)

// NewClient connects to the NATS server and ensures the bucket exists.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("directory/nats: config is nil")
	}

	config.Sanitize()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	conn, err := nats.Connect(config.URL, nats.Timeout(config.ConnectTimeout), nats.Name("statesync"))
	if err != nil {
		return nil, fmt.Errorf("directory/nats: connect: %w", err)
	}

	js, err := conn.JetStream(nats.MaxWait(config.Timeout))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("directory/nats: jetstream: %w", err)
	}

	kv, err := js.KeyValue(config.Bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:   config.Bucket,
			History:  1,
			Replicas: config.Replicas,
		})
		if err != nil {
			// another client created the bucket first
			if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
				kv, err = js.KeyValue(config.Bucket)
			}

			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("directory/nats: create bucket: %w", err)
			}
		}
	}

	return &Client{
		config:    config,
		conn:      conn,
		kv:        kv,
		ephemeral: mapset.NewSet[string](),
		closed:    atomic.NewBool(false),
	}, nil
}

// Root returns the root node of the tree
func (c *Client) Root() *Directory {
	return &Directory{client: c, path: directory.Separator}
}

// Close deletes the ephemeral nodes created through c and releases the
// connection. Close is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	for _, key := range c.ephemeral.ToSlice() {
		if deleteErr := c.kv.Delete(key); deleteErr != nil {
			err = multierr.Append(err, fmt.Errorf("directory/nats: failed to delete ephemeral node %s: %w", key, deleteErr))
		}
	}
	c.ephemeral.Clear()

	c.conn.Close()
	return err
}

// Path implements directory.Directory.
func (d *Directory) Path() string {
	return d.path
}

// Subdirectory implements directory.Directory.
func (d *Directory) Subdirectory(path string) (directory.Directory, error) {
	joined, err := directory.Join(d.path, path)
	if err != nil {
		return nil, err
	}
	return &Directory{client: d.client, path: joined}, nil
}

// AddChild implements directory.Directory.
//
// The parent check and the create are two requests: a child created while
// its parent is being deleted is orphaned and never listed.
func (d *Directory) AddChild(ctx context.Context, name string, mode directory.Mode) error {
	if err := directory.ValidateName(name); err != nil {
		return err
	}

	if err := d.client.check(ctx); err != nil {
		return err
	}

	if err := d.mustExist(); err != nil {
		return err
	}

	key := d.childKey(name)
	if _, err := d.client.kv.Create(key, []byte(mode.String())); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return directory.ErrAlreadyExists
		}
		return unavailable("failed to add child", err)
	}

	if mode == directory.Ephemeral {
		d.client.ephemeral.Add(key)
	}
	return nil
}

// DeleteChild implements directory.Directory.
func (d *Directory) DeleteChild(ctx context.Context, name string) error {
	if err := directory.ValidateName(name); err != nil {
		return err
	}

	if err := d.client.check(ctx); err != nil {
		return err
	}

	key := d.childKey(name)
	grandchildren, err := d.client.keys(ctx, key+".*")
	if err != nil {
		return err
	}

	if len(grandchildren) > 0 {
		return directory.ErrNotEmpty
	}

	entry, err := d.client.kv.Get(key)
	if err != nil {
		if isMissing(err) {
			return directory.ErrNotFound
		}
		return unavailable("failed to read child", err)
	}

	if err := d.client.kv.Delete(key, nats.LastRevision(entry.Revision())); err != nil {
		// the revision check failed: someone else got there first
		if _, getErr := d.client.kv.Get(key); isMissing(getErr) {
			return directory.ErrNotFound
		}
		return unavailable("failed to delete child", err)
	}

	d.client.ephemeral.Remove(key)
	return nil
}

// ListChildren implements directory.Directory.
func (d *Directory) ListChildren(ctx context.Context) ([]string, error) {
	if err := d.client.check(ctx); err != nil {
		return nil, err
	}

	if err := d.mustExist(); err != nil {
		return nil, err
	}

	keys, err := d.client.keys(ctx, d.key()+".*")
	if err != nil {
		return nil, err
	}

	children := make([]string, 0, len(keys))
	for _, key := range keys {
		if name, ok := d.childName(key); ok {
			children = append(children, name)
		}
	}
	return children, nil
}

// WatchOnce implements directory.Directory.
func (d *Directory) WatchOnce(ctx context.Context, fn func()) (directory.Cancel, error) {
	if err := d.client.check(ctx); err != nil {
		return nil, err
	}

	// armed before the existence check so a concurrent delete is observed
	watchers := make([]nats.KeyWatcher, 0, 2)
	stopAll := func() {
		for _, watcher := range watchers {
			_ = watcher.Stop()
		}
	}

	patterns := []string{d.key() + ".*"}
	if !d.isRoot() {
		patterns = append(patterns, d.key())
	}

	for _, pattern := range patterns {
		watcher, err := d.client.kv.Watch(pattern, nats.UpdatesOnly(), nats.MetaOnly())
		if err != nil {
			stopAll()
			return nil, unavailable("failed to watch", err)
		}
		watchers = append(watchers, watcher)
	}

	if err := d.mustExist(); err != nil {
		stopAll()
		return nil, err
	}

	watchCtx, stop := context.WithCancel(ctx)
	fired := make(chan struct{}, 1)
	for _, watcher := range watchers {
		go func(watcher nats.KeyWatcher) {
			for {
				select {
				case <-watchCtx.Done():
					return
				case entry, ok := <-watcher.Updates():
					if ok && entry == nil {
						continue
					}
					select {
					case fired <- struct{}{}:
					default:
					}
					return
				}
			}
		}(watcher)
	}

	go func() {
		defer stopAll()
		defer stop()
		select {
		case <-watchCtx.Done():
		case <-fired:
			if watchCtx.Err() == nil {
				fn()
			}
		}
	}()

	return directory.Cancel(stop), nil
}

func (d *Directory) mustExist() error {
	if d.isRoot() {
		return nil
	}

	if _, err := d.client.kv.Get(d.key()); err != nil {
		if isMissing(err) {
			return directory.ErrNotFound
		}
		return unavailable("failed to read node", err)
	}
	return nil
}

func (d *Directory) isRoot() bool {
	return d.path == directory.Separator
}

func (d *Directory) key() string {
	// Path is always valid
	segments, _ := directory.Split(d.path)
	tokens := make([]string, 0, len(segments)+1)
	tokens = append(tokens, rootToken)
	for _, segment := range segments {
		tokens = append(tokens, encoding.EncodeToString([]byte(segment)))
	}
	return strings.Join(tokens, ".")
}

func (d *Directory) childKey(name string) string {
	return d.key() + "." + encoding.EncodeToString([]byte(name))
}

func (d *Directory) childName(key string) (string, bool) {
	token, found := strings.CutPrefix(key, d.key()+".")
	if !found || token == "" || strings.Contains(token, ".") {
		return "", false
	}

	name, err := encoding.DecodeString(token)
	if err != nil {
		return "", false
	}
	return string(name), true
}

func (c *Client) check(ctx context.Context) error {
	if c.closed.Load() {
		return directory.ErrClosed
	}

	if ctx != nil {
		return ctx.Err()
	}
	return nil
}

// keys returns the live keys matching pattern.
func (c *Client) keys(ctx context.Context, pattern string) ([]string, error) {
	watcher, err := c.kv.Watch(pattern, nats.IgnoreDeletes(), nats.MetaOnly())
	if err != nil {
		return nil, unavailable("failed to list keys", err)
	}
	defer func() { _ = watcher.Stop() }()

	if ctx == nil {
		ctx = c.config.Context
	}

	var keys []string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-watcher.Updates():
			if !ok {
				return nil, unavailable("failed to list keys", nats.ErrConnectionClosed)
			}

			// a nil entry marks the end of the current values
			if entry == nil {
				return keys, nil
			}
			keys = append(keys, entry.Key())
		}
	}
}

func isMissing(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("directory/nats: %s: %w: %w", op, directory.ErrUnavailable, err)
}
