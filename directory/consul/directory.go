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

// Package consul provides a directory.Directory stored in the Consul KV store.
//
// A node at /a/b is the key <prefix>/a/b. Ephemeral nodes are locked by the
// client session, created with the delete behaviour, so they go away with it.
// Watches are blocking queries on the keys under a node.
package consul

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/flowchartsman/retry"
	"github.com/hashicorp/consul/api"
	"go.uber.org/atomic"

	"github.com/vnetctl/statesync/directory"
)

// Client owns the Consul connection and the session backing ephemeral nodes.
type Client struct {
	config    *Config
	client    *api.Client
	sessionID string
	renewDone chan struct{}
	renewWg   sync.WaitGroup
	closed    *atomic.Bool
}

// Directory is a directory.Directory node stored in Consul
type Directory struct {
	client *Client
	path   string
}

var _ directory.Directory = (*Directory)(nil)

// NewClient connects to the Consul agent and creates the session used by
// ephemeral nodes.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("directory/consul: config is nil")
	}

	config.Sanitize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("directory/consul: config is invalid: %w", err)
	}

	consulConfig := api.DefaultConfig()
	consulConfig.Address = config.Address
	consulConfig.Datacenter = config.Datacenter
	consulConfig.Token = config.Token

	client, err := api.NewClient(consulConfig)
	if err != nil {
		return nil, fmt.Errorf("directory/consul: failed to create consul client: %w", err)
	}

	retrier := retry.NewRetrier(config.ConnectAttempts, 100*time.Millisecond, config.Timeout)
	if err := retrier.RunContext(config.Context, func(context.Context) error {
		_, err := client.Agent().Self()
		return err
	}); err != nil {
		return nil, fmt.Errorf("directory/consul: failed to connect to consul: %w", err)
	}

	ttl := config.SessionTTL.String()
	writeOptions := (&api.WriteOptions{}).WithContext(config.Context)
	sessionID, _, err := client.Session().Create(&api.SessionEntry{
		Name:     "statesync-" + config.Prefix,
		TTL:      ttl,
		Behavior: api.SessionBehaviorDelete,
	}, writeOptions)
	if err != nil {
		return nil, fmt.Errorf("directory/consul: failed to create session: %w", err)
	}

	c := &Client{
		config:    config,
		client:    client,
		sessionID: sessionID,
		renewDone: make(chan struct{}),
		closed:    atomic.NewBool(false),
	}

	c.renewWg.Add(1)
	go func() {
		defer c.renewWg.Done()
		// RenewPeriodic destroys the session once renewDone is closed
		if err := client.Session().RenewPeriodic(ttl, sessionID, nil, c.renewDone); err != nil {
			config.Logger.Warnf("directory/consul: session %s renewal stopped: %v", sessionID, err)
		}
	}()

	return c, nil
}

// Root returns the root node of the tree
func (c *Client) Root() *Directory {
	return &Directory{client: c, path: directory.Separator}
}

// SessionID returns the session owning the ephemeral nodes of c
func (c *Client) SessionID() string {
	return c.sessionID
}

// Close destroys the session, which deletes the ephemeral nodes it holds.
// Close is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(c.renewDone)
	c.renewWg.Wait()
	return nil
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

	key := d.childPrefix() + name
	var ops api.TxnOps
	parentOp := -1
	if !d.isRoot() {
		parentOp = len(ops)
		ops = append(ops, &api.TxnOp{KV: &api.KVTxnOp{Verb: api.KVGet, Key: d.key()}})
	}

	ops = append(ops, &api.TxnOp{KV: &api.KVTxnOp{Verb: api.KVCheckNotExists, Key: key}})
	if mode == directory.Ephemeral {
		ops = append(ops, &api.TxnOp{KV: &api.KVTxnOp{
			Verb:    api.KVLock,
			Key:     key,
			Value:   []byte(mode.String()),
			Session: d.client.sessionID,
		}})
	} else {
		ops = append(ops, &api.TxnOp{KV: &api.KVTxnOp{Verb: api.KVSet, Key: key, Value: []byte(mode.String())}})
	}

	opCtx, cancel := d.client.withTimeout(ctx)
	defer cancel()

	ok, resp, _, err := d.client.client.Txn().Txn(ops, d.client.queryOptions(opCtx))
	if err != nil {
		return unavailable("failed to add child", err)
	}

	if ok {
		return nil
	}

	if failedAt(resp, parentOp) {
		return directory.ErrNotFound
	}

	if failedAt(resp, parentOp+1) {
		return directory.ErrAlreadyExists
	}
	return fmt.Errorf("directory/consul: failed to add child %s: %s", key, describe(resp))
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

	key := d.childPrefix() + name
	grandchildren, _, err := d.client.client.KV().Keys(key+directory.Separator, directory.Separator, d.client.queryOptions(opCtx))
	if err != nil {
		return unavailable("failed to list grandchildren", err)
	}

	if len(grandchildren) > 0 {
		return directory.ErrNotEmpty
	}

	ops := api.TxnOps{
		{KV: &api.KVTxnOp{Verb: api.KVGet, Key: key}},
		{KV: &api.KVTxnOp{Verb: api.KVDelete, Key: key}},
	}

	ok, resp, _, err := d.client.client.Txn().Txn(ops, d.client.queryOptions(opCtx))
	if err != nil {
		return unavailable("failed to delete child", err)
	}

	if ok {
		return nil
	}

	if failedAt(resp, 0) {
		return directory.ErrNotFound
	}
	return fmt.Errorf("directory/consul: failed to delete child %s: %s", key, describe(resp))
}

// ListChildren implements directory.Directory.
func (d *Directory) ListChildren(ctx context.Context) ([]string, error) {
	if d.client.closed.Load() {
		return nil, directory.ErrClosed
	}

	opCtx, cancel := d.client.withTimeout(ctx)
	defer cancel()

	children, _, err := d.children(d.client.queryOptions(opCtx))
	if err != nil {
		return nil, err
	}
	return children.ToSlice(), nil
}

// WatchOnce implements directory.Directory.
func (d *Directory) WatchOnce(ctx context.Context, fn func()) (directory.Cancel, error) {
	if d.client.closed.Load() {
		return nil, directory.ErrClosed
	}

	opCtx, cancel := d.client.withTimeout(ctx)
	initial, index, err := d.children(d.client.queryOptions(opCtx))
	cancel()
	if err != nil {
		return nil, err
	}

	watchCtx, stop := context.WithCancel(ctx)
	go func() {
		defer stop()
		for {
			options := d.client.queryOptions(watchCtx)
			options.WaitIndex = index
			options.WaitTime = d.client.config.WaitTime

			current, next, err := d.children(options)
			if watchCtx.Err() != nil {
				return
			}

			// a failed query may have missed changes
			if err != nil || !current.Equal(initial) {
				fn()
				return
			}

			// the index went backwards: start over from a fresh one
			if next < index {
				next = 0
			}
			index = next
		}
	}()

	return directory.Cancel(stop), nil
}

// children lists the direct children of the node and returns the index of
// the listing. A single prefix query covers the node and its subtree, so a
// blocking query wakes up when the node itself is deleted.
func (d *Directory) children(options *api.QueryOptions) (mapset.Set[string], uint64, error) {
	keys, meta, err := d.client.client.KV().Keys(d.key(), "", options)
	if err != nil {
		return nil, 0, unavailable("failed to list children", err)
	}

	exists := d.isRoot()
	prefix := d.childPrefix()
	children := mapset.NewThreadUnsafeSet[string]()
	for _, key := range keys {
		if key == d.key() {
			exists = true
			continue
		}

		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}

		name, _, _ := strings.Cut(rest, directory.Separator)
		if name != "" {
			children.Add(name)
		}
	}

	if !exists {
		return nil, 0, directory.ErrNotFound
	}
	return children, meta.LastIndex, nil
}

func (d *Directory) isRoot() bool {
	return d.path == directory.Separator
}

func (d *Directory) key() string {
	if d.isRoot() {
		return d.client.config.Prefix
	}
	return d.client.config.Prefix + d.path
}

func (d *Directory) childPrefix() string {
	return d.key() + directory.Separator
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = c.config.Context
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

func (c *Client) queryOptions(ctx context.Context) *api.QueryOptions {
	options := &api.QueryOptions{Datacenter: c.config.Datacenter}
	return options.WithContext(ctx)
}

func failedAt(resp *api.TxnResponse, index int) bool {
	if resp == nil || index < 0 {
		return false
	}
	for _, txnErr := range resp.Errors {
		if txnErr.OpIndex == index {
			return true
		}
	}
	return false
}

func describe(resp *api.TxnResponse) string {
	if resp == nil {
		return "transaction rolled back"
	}
	messages := make([]string, 0, len(resp.Errors))
	for _, txnErr := range resp.Errors {
		messages = append(messages, fmt.Sprintf("op %d: %s", txnErr.OpIndex, txnErr.What))
	}
	return strings.Join(messages, "; ")
}

func unavailable(op string, err error) error {
	return fmt.Errorf("directory/consul: %s: %w: %w", op, directory.ErrUnavailable, err)
}
