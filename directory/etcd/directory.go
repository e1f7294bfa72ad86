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

// Package etcd provides a directory.Directory stored in etcd.
//
// A node at /a/b is the key /a/b under the configured namespace; its value
// records the node mode. Ephemeral nodes carry the lease of the client
// session and vanish when the session ends. Watches read the node revision
// and watch the node and its direct children from the next revision on.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowchartsman/retry"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.etcd.io/etcd/client/v3/namespace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/vnetctl/statesync/directory"
)

// Client owns the etcd connection and the session backing ephemeral nodes.
type Client struct {
	config  *Config
	client  *clientv3.Client
	kv      clientv3.KV
	watcher clientv3.Watcher
	session *concurrency.Session
	closed  *atomic.Bool
}

// Directory is a directory.Directory node stored in etcd
type Directory struct {
	client *Client
	path   string
}

var _ directory.Directory = (*Directory)(nil)

// NewClient connects to etcd and opens the session used by ephemeral nodes.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("directory/etcd: config is nil")
	}

	config.Sanitize()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
		TLS:         config.TLS,
		Username:    config.Username,
		Password:    config.Password,
		Context:     config.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("directory/etcd: failed to create client: %w", err)
	}

	retrier := retry.NewRetrier(config.ConnectAttempts, 100*time.Millisecond, config.DialTimeout)
	err = retrier.RunContext(config.Context, func(ctx context.Context) error {
		statusCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
		_, err := client.Status(statusCtx, config.Endpoints[0])
		return err
	})
	if err != nil {
		return nil, multierr.Append(
			fmt.Errorf("directory/etcd: failed to connect to etcd: %w", err),
			client.Close())
	}

	session, err := concurrency.NewSession(client,
		concurrency.WithTTL(int(config.SessionTTL/time.Second)),
		concurrency.WithContext(config.Context))
	if err != nil {
		return nil, multierr.Append(
			fmt.Errorf("directory/etcd: failed to create session: %w", err),
			client.Close())
	}

	return &Client{
		config:  config,
		client:  client,
		kv:      namespace.NewKV(client.KV, config.Namespace),
		watcher: namespace.NewWatcher(client.Watcher, config.Namespace),
		session: session,
		closed:  atomic.NewBool(false),
	}, nil
}

// Root returns the root node of the namespace
func (c *Client) Root() *Directory {
	return &Directory{client: c, path: directory.Separator}
}

// SessionID returns the lease identifier owning the ephemeral nodes of c
func (c *Client) SessionID() string {
	return strconv.FormatInt(int64(c.session.Lease()), 16)
}

// Close ends the session, which removes the ephemeral nodes it created, and
// closes the connection. Close is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return multierr.Combine(c.session.Close(), c.client.Close())
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
func (d *Directory) AddChild(ctx context.Context, name string, mode directory.Mode) error {
	if err := directory.ValidateName(name); err != nil {
		return err
	}

	if d.client.closed.Load() {
		return directory.ErrClosed
	}

	opCtx, cancel := d.client.withTimeout(ctx)
	defer cancel()

	key := d.childKey(name)
	put := clientv3.OpPut(key, mode.String())
	if mode == directory.Ephemeral {
		put = clientv3.OpPut(key, mode.String(), clientv3.WithLease(d.client.session.Lease()))
	}

	cmps := []clientv3.Cmp{clientv3.Compare(clientv3.CreateRevision(key), "=", 0)}
	if !d.isRoot() {
		cmps = append(cmps, clientv3.Compare(clientv3.CreateRevision(d.path), ">", 0))
	}

	resp, err := d.client.kv.Txn(opCtx).
		If(cmps...).
		Then(put).
		Else(clientv3.OpGet(key, clientv3.WithCountOnly())).
		Commit()
	if err != nil {
		return unavailable("failed to add child", err)
	}

	if resp.Succeeded {
		return nil
	}

	if resp.Responses[0].GetResponseRange().Count > 0 {
		return directory.ErrAlreadyExists
	}
	return directory.ErrNotFound
}

// DeleteChild implements directory.Directory.
//
// The emptiness check and the delete are two requests: a child created
// between them is orphaned and never listed.
func (d *Directory) DeleteChild(ctx context.Context, name string) error {
	if err := directory.ValidateName(name); err != nil {
		return err
	}

	if d.client.closed.Load() {
		return directory.ErrClosed
	}

	opCtx, cancel := d.client.withTimeout(ctx)
	defer cancel()

	key := d.childKey(name)
	children, err := d.client.kv.Get(opCtx, key+directory.Separator, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return unavailable("failed to count grandchildren", err)
	}

	if children.Count > 0 {
		return directory.ErrNotEmpty
	}

	resp, err := d.client.kv.Txn(opCtx).
		If(clientv3.Compare(clientv3.CreateRevision(key), ">", 0)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return unavailable("failed to delete child", err)
	}

	if !resp.Succeeded {
		return directory.ErrNotFound
	}
	return nil
}

// ListChildren implements directory.Directory.
func (d *Directory) ListChildren(ctx context.Context) ([]string, error) {
	if d.client.closed.Load() {
		return nil, directory.ErrClosed
	}

	opCtx, cancel := d.client.withTimeout(ctx)
	defer cancel()

	prefix := d.childPrefix()
	resp, err := d.client.kv.Txn(opCtx).
		Then(
			clientv3.OpGet(d.path, clientv3.WithCountOnly()),
			clientv3.OpGet(prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly()),
		).
		Commit()
	if err != nil {
		return nil, unavailable("failed to list children", err)
	}

	if !d.isRoot() && resp.Responses[0].GetResponseRange().Count == 0 {
		return nil, directory.ErrNotFound
	}

	var names []string
	for _, kv := range resp.Responses[1].GetResponseRange().Kvs {
		if name, ok := d.childName(string(kv.Key)); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// WatchOnce implements directory.Directory.
func (d *Directory) WatchOnce(ctx context.Context, fn func()) (directory.Cancel, error) {
	if d.client.closed.Load() {
		return nil, directory.ErrClosed
	}

	opCtx, cancel := d.client.withTimeout(ctx)
	resp, err := d.client.kv.Get(opCtx, d.path, clientv3.WithCountOnly())
	cancel()
	if err != nil {
		return nil, unavailable("failed to read node", err)
	}

	if !d.isRoot() && resp.Count == 0 {
		return nil, directory.ErrNotFound
	}

	watchCtx, stop := context.WithCancel(clientv3.WithRequireLeader(ctx))
	// the range covers the node and every key starting with its path;
	// siblings sharing the prefix are filtered out below
	events := d.client.watcher.Watch(watchCtx, d.watchStart(),
		clientv3.WithRange(d.watchEnd()),
		clientv3.WithRev(resp.Header.Revision+1))

	go func() {
		defer stop()
		for wresp := range events {
			if watchCtx.Err() != nil {
				return
			}

			// a failed watch may have missed changes
			if err := wresp.Err(); err != nil {
				fn()
				return
			}

			for _, event := range wresp.Events {
				if d.relevant(string(event.Kv.Key)) {
					fn()
					return
				}
			}
		}
	}()

	return directory.Cancel(stop), nil
}

func (d *Directory) isRoot() bool {
	return d.path == directory.Separator
}

func (d *Directory) childPrefix() string {
	if d.isRoot() {
		return directory.Separator
	}
	return d.path + directory.Separator
}

func (d *Directory) childKey(name string) string {
	return d.childPrefix() + name
}

// childName returns the direct child name encoded in key.
func (d *Directory) childName(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, d.childPrefix())
	if !ok || rest == "" || strings.Contains(rest, directory.Separator) {
		return "", false
	}
	return rest, true
}

func (d *Directory) relevant(key string) bool {
	if key == d.path {
		return true
	}
	_, ok := d.childName(key)
	return ok
}

func (d *Directory) watchStart() string {
	if d.isRoot() {
		return directory.Separator
	}
	return d.path
}

// watchEnd is the first key after every key prefixed by the node path.
func (d *Directory) watchEnd() string {
	return clientv3.GetPrefixRangeEnd(d.watchStart())
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = c.config.Context
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("directory/etcd: %s: %w: %w", op, directory.ErrUnavailable, err)
}
