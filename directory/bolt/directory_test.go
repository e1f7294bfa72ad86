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

package bolt

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/vnetctl/statesync/directory"
	"github.com/vnetctl/statesync/internal/directorytest"
	"github.com/vnetctl/statesync/log"
	"github.com/vnetctl/statesync/replicated"
)

func openTestStore(t *testing.T, path string) *Store {
	store, err := Open(&Config{Path: path, NoSync: true, Logger: log.DiscardLogger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDirectory(t *testing.T) {
	stores := make(map[directory.Directory]*Store)
	directorytest.Run(t, directorytest.Harness{
		Root: func(t *testing.T) directory.Directory {
			store := openTestStore(t, filepath.Join(t.TempDir(), "tree.db"))
			root := store.NewSession().Root()
			stores[root] = store
			return root
		},
		Session: func(t *testing.T, dir directory.Directory) (directory.Directory, func() error) {
			session := stores[dir].NewSession()
			sub, err := session.Root().Subdirectory(dir.Path())
			require.NoError(t, err)
			return sub, session.Close
		},
	})
}

func TestOpen(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		store, err := Open(nil)
		require.Error(t, err)
		require.Nil(t, store)
	})
	t.Run("invalid config", func(t *testing.T) {
		store, err := Open(&Config{})
		require.Error(t, err)
		require.Nil(t, store)
	})
	t.Run("missing folder", func(t *testing.T) {
		store, err := Open(&Config{Path: filepath.Join(t.TempDir(), "missing", "tree.db")})
		require.Error(t, err)
		require.Nil(t, store)
	})
	t.Run("locked by another store", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tree.db")
		openTestStore(t, path)

		store, err := Open(&Config{Path: path, Timeout: 100 * time.Millisecond})
		require.Error(t, err)
		require.Nil(t, store)
	})
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tree.db")

	store, err := Open(&Config{Path: path, Logger: log.DiscardLogger})
	require.NoError(t, err)

	session := store.NewSession()
	dir, err := directory.Ensure(ctx, session.Root(), "top/routes")
	require.NoError(t, err)
	require.NoError(t, dir.AddChild(ctx, "kept", directory.Persistent))
	require.NoError(t, dir.AddChild(ctx, "dropped", directory.Ephemeral))
	require.NoError(t, dir.AddChild(ctx, "owner", directory.Ephemeral))
	owner, err := dir.Subdirectory("owner")
	require.NoError(t, err)
	require.NoError(t, owner.AddChild(ctx, "nested", directory.Ephemeral))

	// the process goes away without closing its session
	require.NoError(t, store.Close())

	reopened := openTestStore(t, path)
	dir, err = reopened.NewSession().Root().Subdirectory("top/routes")
	require.NoError(t, err)

	children, err := dir.ListChildren(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, children)
}

func TestSessionClose(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "tree.db"))

	first := store.NewSession()
	second := store.NewSession()
	require.NotEqual(t, first.ID(), second.ID())

	root := first.Root()
	require.NoError(t, root.AddChild(ctx, "first", directory.Ephemeral))
	require.NoError(t, second.Root().AddChild(ctx, "second", directory.Ephemeral))
	require.NoError(t, root.AddChild(ctx, "persistent", directory.Persistent))

	fired := atomic.NewInt32(0)
	_, err := root.WatchOnce(ctx, func() { fired.Inc() })
	require.NoError(t, err)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())
	assert.EqualValues(t, 1, fired.Load())

	children, err := second.Root().ListChildren(ctx)
	require.NoError(t, err)
	sort.Strings(children)
	assert.Equal(t, []string{"persistent", "second"}, children)

	require.ErrorIs(t, root.AddChild(ctx, "again", directory.Persistent), directory.ErrClosed)
}

func TestStoreClose(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "tree.db"))
	root := store.NewSession().Root()

	fired := atomic.NewBool(false)
	_, err := root.WatchOnce(ctx, func() { fired.Store(true) })
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	assert.False(t, fired.Load())

	_, err = root.ListChildren(ctx)
	require.ErrorIs(t, err, directory.ErrClosed)
	_, err = root.WatchOnce(ctx, func() {})
	require.ErrorIs(t, err, directory.ErrClosed)
}

func TestReplicatedSetOverBolt(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "tree.db"))

	dir, err := directory.Ensure(ctx, store.NewSession().Root(), "top/strings")
	require.NoError(t, err)

	set, err := replicated.New[string](dir, directory.Persistent, replicated.StringCodec{},
		replicated.WithLogger(log.DiscardLogger))
	require.NoError(t, err)
	require.NoError(t, set.Start(ctx))
	t.Cleanup(set.Stop)

	require.NoError(t, set.Add(ctx, "foo"))
	require.NoError(t, dir.AddChild(ctx, "bar", directory.Persistent))
	require.Eventually(t, func() bool {
		return set.Contains("foo") && set.Contains("bar")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, dir.DeleteChild(ctx, "foo"))
	require.Eventually(t, func() bool { return !set.Contains("foo") }, 5*time.Second, 20*time.Millisecond)
}
