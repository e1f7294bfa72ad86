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

// Package directorytest holds the behaviour every directory.Directory
// implementation must exhibit, runnable against any backend.
package directorytest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/vnetctl/statesync/directory"
)

// Harness binds the suite to a backend.
type Harness struct {
	// Root returns an empty directory the suite owns for the duration of a test.
	Root func(t *testing.T) directory.Directory
	// Session returns the directory scoped to the same path as dir but bound to
	// a new session, together with the function ending that session.
	// When nil the ephemeral tests are skipped.
	Session func(t *testing.T, dir directory.Directory) (directory.Directory, func() error)
	// WaitFor bounds how long the suite waits for a watch to fire. Defaults to 5s.
	WaitFor time.Duration
}

// Run executes the conformance suite.
func Run(t *testing.T, h Harness) {
	if h.WaitFor == 0 {
		h.WaitFor = 5 * time.Second
	}

	t.Run("add list delete", func(t *testing.T) {
		ctx := context.Background()
		dir := h.Root(t)

		children, err := dir.ListChildren(ctx)
		require.NoError(t, err)
		require.Empty(t, children)

		for _, name := range []string{"foo", "bar", "pie"} {
			require.NoError(t, dir.AddChild(ctx, name, directory.Persistent))
		}

		children, err = dir.ListChildren(ctx)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"foo", "bar", "pie"}, children)

		require.NoError(t, dir.DeleteChild(ctx, "foo"))
		children, err = dir.ListChildren(ctx)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"bar", "pie"}, children)
	})

	t.Run("add existing child", func(t *testing.T) {
		ctx := context.Background()
		dir := h.Root(t)

		require.NoError(t, dir.AddChild(ctx, "foo", directory.Persistent))
		require.ErrorIs(t, dir.AddChild(ctx, "foo", directory.Persistent), directory.ErrAlreadyExists)
		require.ErrorIs(t, dir.AddChild(ctx, "foo", directory.Ephemeral), directory.ErrAlreadyExists)

		children, err := dir.ListChildren(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"foo"}, children)
	})

	t.Run("delete missing child", func(t *testing.T) {
		ctx := context.Background()
		dir := h.Root(t)

		require.NoError(t, dir.AddChild(ctx, "foo", directory.Persistent))
		require.ErrorIs(t, dir.DeleteChild(ctx, "bar"), directory.ErrNotFound)

		require.NoError(t, dir.DeleteChild(ctx, "foo"))
		require.ErrorIs(t, dir.DeleteChild(ctx, "foo"), directory.ErrNotFound)
	})

	t.Run("delete non empty child", func(t *testing.T) {
		ctx := context.Background()
		dir := h.Root(t)

		nested, err := directory.Ensure(ctx, dir, "top/routes")
		require.NoError(t, err)
		require.NoError(t, nested.AddChild(ctx, "r1", directory.Persistent))

		require.ErrorIs(t, dir.DeleteChild(ctx, "top"), directory.ErrNotEmpty)
	})

	t.Run("missing node", func(t *testing.T) {
		ctx := context.Background()
		dir := h.Root(t)

		missing, err := dir.Subdirectory("missing")
		require.NoError(t, err)

		require.ErrorIs(t, missing.AddChild(ctx, "foo", directory.Persistent), directory.ErrNotFound)
		_, err = missing.ListChildren(ctx)
		require.ErrorIs(t, err, directory.ErrNotFound)
	})

	t.Run("invalid names", func(t *testing.T) {
		ctx := context.Background()
		dir := h.Root(t)

		require.ErrorIs(t, dir.AddChild(ctx, "a/b", directory.Persistent), directory.ErrInvalidName)
		require.ErrorIs(t, dir.AddChild(ctx, "", directory.Persistent), directory.ErrInvalidName)
		require.ErrorIs(t, dir.DeleteChild(ctx, ".."), directory.ErrInvalidName)
		_, err := dir.Subdirectory("a/../b")
		require.ErrorIs(t, err, directory.ErrInvalidName)
	})

	t.Run("subdirectories", func(t *testing.T) {
		ctx := context.Background()
		dir := h.Root(t)

		strings, err := directory.Ensure(ctx, dir, "top/strings")
		require.NoError(t, err)
		routes, err := directory.Ensure(ctx, dir, "/top/routes")
		require.NoError(t, err)

		expected, err := directory.Join(dir.Path(), "top/strings")
		require.NoError(t, err)
		require.Equal(t, expected, strings.Path())

		require.NoError(t, strings.AddChild(ctx, "foo", directory.Persistent))
		require.NoError(t, routes.AddChild(ctx, "r1", directory.Persistent))

		children, err := strings.ListChildren(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"foo"}, children)

		top, err := dir.Subdirectory("top")
		require.NoError(t, err)
		children, err = top.ListChildren(ctx)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"strings", "routes"}, children)

		// ensuring an existing path is a no-op
		_, err = directory.Ensure(ctx, dir, "top/strings")
		require.NoError(t, err)
	})

	t.Run("watch fires once on add", func(t *testing.T) {
		ctx := context.Background()
		dir := h.Root(t)

		fired := atomic.NewInt32(0)
		cancel, err := dir.WatchOnce(ctx, func() { fired.Inc() })
		require.NoError(t, err)
		defer cancel()

		require.NoError(t, dir.AddChild(ctx, "foo", directory.Persistent))
		require.Eventually(t, func() bool { return fired.Load() == 1 }, h.WaitFor, 10*time.Millisecond)

		require.NoError(t, dir.AddChild(ctx, "bar", directory.Persistent))
		pause(200 * time.Millisecond)
		assert.EqualValues(t, 1, fired.Load())
	})

	t.Run("watch fires on delete", func(t *testing.T) {
		ctx := context.Background()
		dir := h.Root(t)
		require.NoError(t, dir.AddChild(ctx, "foo", directory.Persistent))

		fired := atomic.NewInt32(0)
		cancel, err := dir.WatchOnce(ctx, func() { fired.Inc() })
		require.NoError(t, err)
		defer cancel()

		require.NoError(t, dir.DeleteChild(ctx, "foo"))
		require.Eventually(t, func() bool { return fired.Load() == 1 }, h.WaitFor, 10*time.Millisecond)
	})

	t.Run("watch ignores grandchildren", func(t *testing.T) {
		ctx := context.Background()
		dir := h.Root(t)
		require.NoError(t, dir.AddChild(ctx, "top", directory.Persistent))
		top, err := dir.Subdirectory("top")
		require.NoError(t, err)

		fired := atomic.NewInt32(0)
		cancel, err := dir.WatchOnce(ctx, func() { fired.Inc() })
		require.NoError(t, err)
		defer cancel()

		require.NoError(t, top.AddChild(ctx, "nested", directory.Persistent))
		pause(200 * time.Millisecond)
		assert.Zero(t, fired.Load())
	})

	t.Run("cancelled watch does not fire", func(t *testing.T) {
		ctx := context.Background()
		dir := h.Root(t)

		fired := atomic.NewInt32(0)
		cancel, err := dir.WatchOnce(ctx, func() { fired.Inc() })
		require.NoError(t, err)
		cancel()
		cancel()

		require.NoError(t, dir.AddChild(ctx, "foo", directory.Persistent))
		pause(200 * time.Millisecond)
		assert.Zero(t, fired.Load())
	})

	t.Run("watch ends with its context", func(t *testing.T) {
		dir := h.Root(t)

		ctx, cancelCtx := context.WithCancel(context.Background())
		fired := atomic.NewInt32(0)
		cancel, err := dir.WatchOnce(ctx, func() { fired.Inc() })
		require.NoError(t, err)
		defer cancel()
		cancelCtx()
		pause(100 * time.Millisecond)

		require.NoError(t, dir.AddChild(context.Background(), "foo", directory.Persistent))
		pause(200 * time.Millisecond)
		assert.Zero(t, fired.Load())
	})

	t.Run("ephemeral children end with their session", func(t *testing.T) {
		if h.Session == nil {
			t.Skip("backend has no session support in this harness")
		}

		ctx := context.Background()
		dir := h.Root(t)
		other, closeSession := h.Session(t, dir)

		require.NoError(t, other.AddChild(ctx, "ephemeral", directory.Ephemeral))
		require.NoError(t, other.AddChild(ctx, "persistent", directory.Persistent))

		children, err := dir.ListChildren(ctx)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"ephemeral", "persistent"}, children)

		fired := atomic.NewInt32(0)
		cancel, err := dir.WatchOnce(ctx, func() { fired.Inc() })
		require.NoError(t, err)
		defer cancel()

		require.NoError(t, closeSession())
		require.Eventually(t, func() bool { return fired.Load() == 1 }, h.WaitFor, 10*time.Millisecond)
		require.Eventually(t, func() bool {
			children, err := dir.ListChildren(ctx)
			return err == nil && len(children) == 1 && children[0] == "persistent"
		}, h.WaitFor, 50*time.Millisecond)
	})
}

func pause(duration time.Duration) {
	timer := time.NewTimer(duration)
	<-timer.C
}
