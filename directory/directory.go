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

// Package directory defines the hierarchical, watchable namespace that
// replicated sets use as their source of truth.
//
// A Directory is scoped to one node of the namespace. Its children are
// identified by their node name, and a child created with Ephemeral lifetime
// disappears when the session that created it ends. Implementations live in
// the sub-packages (memory, etcd, consul, nats, bolt).
package directory

import (
	"context"
)

// Mode is the lifetime of a node created through AddChild.
type Mode int

const (
	// Persistent nodes survive independently of any session.
	Persistent Mode = iota
	// Ephemeral nodes are removed when the creating session ends.
	Ephemeral
)

// String implements fmt.Stringer
func (m Mode) String() string {
	switch m {
	case Persistent:
		return "persistent"
	case Ephemeral:
		return "ephemeral"
	default:
		return "unknown"
	}
}

// Cancel unregisters a pending watch. It is safe to call more than once,
// and after the watch fired.
type Cancel func()

// Directory is a capability scoped to a single node of a hierarchical namespace.
//
// Semantics:
//   - AddChild fails with ErrAlreadyExists when the name is taken, and with
//     ErrNotFound when this node does not exist.
//   - DeleteChild fails with ErrNotFound when the name is absent, and with
//     ErrNotEmpty when the child has children of its own.
//   - ListChildren reflects the linearizable state at call time. Order is unspecified.
//   - WatchOnce registers fn to be called at most once, on the next structural
//     change to this node's children (or the removal of the node itself). The
//     watch must be registered again after it fired. fn must not block; it may be
//     called from an internal goroutine of the implementation. The watch ends
//     without firing when ctx is done or the returned Cancel is called.
//   - Implementations must be safe for concurrent use.
type Directory interface {
	// Path returns the absolute path of the node this directory is scoped to.
	// The root is "/".
	Path() string
	// AddChild creates the child node name with the given lifetime.
	AddChild(ctx context.Context, name string, mode Mode) error
	// DeleteChild deletes the child node name.
	DeleteChild(ctx context.Context, name string) error
	// ListChildren returns the names of the current children.
	ListChildren(ctx context.Context) ([]string, error)
	// WatchOnce registers a one-shot watch on the children of this node.
	WatchOnce(ctx context.Context, fn func()) (Cancel, error)
	// Subdirectory returns a Directory scoped to the given relative path.
	// No I/O is performed; the node may not exist yet.
	Subdirectory(path string) (Directory, error)
}
