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
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/vnetctl/statesync/directory"
	"github.com/vnetctl/statesync/directory/memory"
	"github.com/vnetctl/statesync/log"
	"github.com/vnetctl/statesync/route"
	"github.com/vnetctl/statesync/telemetry"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type SetTestSuite struct {
	suite.Suite

	ctx         context.Context
	root        *memory.Directory
	stringDir   directory.Directory
	routeDir    directory.Directory
	testStrings []string
}

func TestSet(t *testing.T) {
	suite.Run(t, new(SetTestSuite))
}

func (s *SetTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.root = memory.New()

	var err error
	s.stringDir, err = directory.Ensure(s.ctx, s.root, "/top/strings")
	s.Require().NoError(err)
	s.routeDir, err = directory.Ensure(s.ctx, s.root, "/top/routes")
	s.Require().NoError(err)

	s.testStrings = []string{"bar", "foo", "pie"}
}

func (s *SetTestSuite) newStringSet(dir directory.Directory, opts ...Option) *Set[string] {
	opts = append([]Option{WithLogger(log.DiscardLogger)}, opts...)
	set, err := New[string](dir, directory.Ephemeral, StringCodec{}, opts...)
	s.Require().NoError(err)
	s.T().Cleanup(set.Stop)
	return set
}

func (s *SetTestSuite) addToDirectory(names ...string) {
	for _, name := range names {
		s.Require().NoError(s.stringDir.AddChild(s.ctx, name, directory.Persistent))
	}
}

func (s *SetTestSuite) eventuallyStrings(set *Set[string], expected []string) {
	s.Require().Eventually(func() bool {
		return assert.ObjectsAreEqual(sorted(expected), sorted(set.Strings()))
	}, waitFor, tick)
}

// eventuallyMembers waits for the view of watcher. Local mutations update the
// cache before returning but the diff may be delivered by the watch loop.
func (s *SetTestSuite) eventuallyMembers(watcher *recorder, expected []string) {
	s.Require().Eventually(func() bool {
		return assert.ObjectsAreEqual(sorted(expected), watcher.Members())
	}, waitFor, tick)
}

func (s *SetTestSuite) TestStartEmpty() {
	set := s.newStringSet(s.stringDir)
	s.Require().Equal(Created, set.State())
	s.Require().Empty(set.Elements())

	s.Require().NoError(set.Start(s.ctx))
	s.Require().Equal(Running, set.State())
	s.Require().Empty(set.Elements())

	set.Stop()
	s.Require().Equal(Stopped, set.State())
	s.Require().Empty(set.Elements())
}

func (s *SetTestSuite) TestAddToDirectoryThenStart() {
	s.addToDirectory(s.testStrings...)

	set := s.newStringSet(s.stringDir)
	s.Require().Empty(set.Strings())

	s.Require().NoError(set.Start(s.ctx))
	s.Require().Equal(s.testStrings, sorted(set.Strings()))
	s.Require().Equal(s.testStrings, sorted(set.Elements()))
}

func (s *SetTestSuite) TestStartThenAddToDirectory() {
	set := s.newStringSet(s.stringDir)
	watcher := newRecorder()
	set.AddWatcher(watcher)
	s.Require().NoError(set.Start(s.ctx))

	s.addToDirectory(s.testStrings...)
	s.eventuallyStrings(set, s.testStrings)
	s.Require().Eventually(func() bool {
		return assert.ObjectsAreEqual(s.testStrings, watcher.Members())
	}, waitFor, tick)
}

func (s *SetTestSuite) TestRemoteAddNotifiesExactlyThatElement() {
	s.addToDirectory("foo")
	set := s.newStringSet(s.stringDir)
	s.Require().NoError(set.Start(s.ctx))

	watcher := newRecorder()
	set.AddWatcher(watcher)
	s.addToDirectory("bar")

	s.Require().Eventually(func() bool { return len(watcher.Diffs()) == 1 }, waitFor, tick)
	diffs := watcher.Diffs()
	s.Require().Equal([]string{"bar"}, diffs[0].added)
	s.Require().Empty(diffs[0].removed)
	s.Require().Equal([]string{"bar", "foo"}, sorted(set.Strings()))
}

func (s *SetTestSuite) TestStartThenAdd() {
	set := s.newStringSet(s.stringDir)
	s.Require().NoError(set.Start(s.ctx))

	for _, str := range s.testStrings {
		s.Require().NoError(set.Add(s.ctx, str))
	}
	s.Require().Equal(s.testStrings, sorted(set.Strings()))

	children, err := s.stringDir.ListChildren(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(s.testStrings, sorted(children))
}

func (s *SetTestSuite) TestStartThenAddDelete() {
	set := s.newStringSet(s.stringDir)
	s.Require().NoError(set.Start(s.ctx))

	for _, str := range s.testStrings {
		s.Require().NoError(set.Add(s.ctx, str))
	}
	s.Require().Equal(s.testStrings, sorted(set.Strings()))

	s.Require().NoError(set.Remove(s.ctx, "foo"))
	s.Require().Equal([]string{"bar", "pie"}, sorted(set.Strings()))
	s.Require().False(set.Contains("foo"))
	s.Require().True(set.Contains("bar"))
	s.Require().Equal(2, set.Len())
}

func (s *SetTestSuite) TestStartThenAddDeleteToDirectory() {
	set := s.newStringSet(s.stringDir)
	s.Require().NoError(set.Start(s.ctx))

	s.addToDirectory(s.testStrings...)
	s.eventuallyStrings(set, s.testStrings)

	s.Require().NoError(s.stringDir.DeleteChild(s.ctx, "foo"))
	s.eventuallyStrings(set, []string{"bar", "pie"})
}

func (s *SetTestSuite) TestAddExisting() {
	set := s.newStringSet(s.stringDir)
	s.Require().NoError(set.Start(s.ctx))

	s.Require().NoError(set.Add(s.ctx, "foo"))
	err := set.Add(s.ctx, "foo")
	s.Require().ErrorIs(err, directory.ErrAlreadyExists)
	s.Require().Equal([]string{"foo"}, set.Strings())
}

func (s *SetTestSuite) TestRemoveMissing() {
	set := s.newStringSet(s.stringDir)
	s.Require().NoError(set.Start(s.ctx))

	s.Require().NoError(set.Add(s.ctx, "foo"))
	err := set.Remove(s.ctx, "bar")
	s.Require().ErrorIs(err, directory.ErrNotFound)
	s.Require().Equal([]string{"foo"}, set.Strings())
}

func (s *SetTestSuite) TestAddRemoveRoundTrip() {
	s.addToDirectory("foo", "bar")
	set := s.newStringSet(s.stringDir)
	s.Require().NoError(set.Start(s.ctx))
	before := sorted(set.Strings())

	s.Require().NoError(set.Add(s.ctx, "pie"))
	s.Require().NoError(set.Remove(s.ctx, "pie"))
	s.Require().Equal(before, sorted(set.Strings()))
}

func (s *SetTestSuite) TestLocalAddIsNotifiedOnce() {
	set := s.newStringSet(s.stringDir)
	watcher := newRecorder()
	set.AddWatcher(watcher)
	s.Require().NoError(set.Start(s.ctx))

	s.Require().NoError(set.Add(s.ctx, "foo"))
	s.eventuallyMembers(watcher, []string{"foo"})

	s.Require().NoError(set.Remove(s.ctx, "foo"))
	s.eventuallyMembers(watcher, []string{})

	// give the watch loop time to observe both changes
	time.Sleep(200 * time.Millisecond)
	diffs := watcher.Diffs()
	s.Require().Len(diffs, 2)
	s.Require().Equal([]string{"foo"}, diffs[0].added)
	s.Require().Equal([]string{"foo"}, diffs[1].removed)
}

func (s *SetTestSuite) TestChangeWatchers() {
	set := s.newStringSet(s.stringDir)
	watch1 := newRecorder()
	watch2 := newRecorder()
	s.Require().True(set.AddWatcher(watch1))
	s.Require().True(set.AddWatcher(watch2))
	s.Require().False(set.AddWatcher(watch2))

	for _, str := range s.testStrings {
		s.Require().NoError(set.Add(s.ctx, str))
	}

	// nothing is broadcast before start
	s.Require().Empty(watch1.Members())
	s.Require().Empty(watch2.Members())
	s.Require().Equal(s.testStrings, sorted(set.Strings()))

	s.Require().NoError(set.Start(s.ctx))
	s.Require().Equal(s.testStrings, watch1.Members())
	s.Require().Equal(s.testStrings, watch2.Members())
	s.Require().Len(watch1.Diffs(), 1)

	s.Require().NoError(set.Remove(s.ctx, "foo"))
	s.Require().Equal([]string{"bar", "pie"}, sorted(set.Strings()))
	s.eventuallyMembers(watch1, []string{"bar", "pie"})
	s.eventuallyMembers(watch2, []string{"bar", "pie"})

	s.Require().NoError(set.Remove(s.ctx, "bar"))
	s.Require().NoError(set.Remove(s.ctx, "pie"))
	s.Require().Empty(set.Strings())
	s.eventuallyMembers(watch1, []string{})
	s.eventuallyMembers(watch2, []string{})

	s.Require().True(set.RemoveWatcher(watch2))
	s.Require().False(set.RemoveWatcher(watch2))

	s.Require().NoError(set.Add(s.ctx, "fox"))
	s.Require().Equal([]string{"fox"}, set.Strings())
	s.eventuallyMembers(watch1, []string{"fox"})
	s.Require().Empty(watch2.Members())
}

func (s *SetTestSuite) TestConsecutiveRemoteChanges() {
	set := s.newStringSet(s.stringDir)
	watcher := newRecorder()
	set.AddWatcher(watcher)
	s.Require().NoError(set.Start(s.ctx))

	expected := make([]string, 0, 25)
	for i := range 25 {
		name := fmt.Sprintf("member-%02d", i)
		expected = append(expected, name)
		s.addToDirectory(name)
	}
	s.eventuallyStrings(set, expected)
	s.Require().Eventually(func() bool {
		return assert.ObjectsAreEqual(sorted(expected), watcher.Members())
	}, waitFor, tick)

	for _, name := range expected[:20] {
		s.Require().NoError(s.stringDir.DeleteChild(s.ctx, name))
	}
	s.eventuallyStrings(set, expected[20:])
	s.Require().Eventually(func() bool {
		return assert.ObjectsAreEqual(sorted(expected[20:]), watcher.Members())
	}, waitFor, tick)
}

func (s *SetTestSuite) TestDecodeFailureIsolation() {
	destination := netip.MustParsePrefix("10.0.0.0/24")
	routes := []route.Route{
		{Source: netip.MustParsePrefix("0.0.0.0/0"), Destination: destination, NextHop: route.Blackhole},
		{Source: netip.MustParsePrefix("1.0.0.0/8"), Destination: destination, NextHop: route.Reject},
		{Source: netip.MustParsePrefix("0.0.0.0/0"), Destination: netip.MustParsePrefix("1.0.0.0/8"), NextHop: route.Local},
	}
	for _, r := range routes {
		s.Require().NoError(s.routeDir.AddChild(s.ctx, r.String(), directory.Persistent))
	}
	s.Require().NoError(s.routeDir.AddChild(s.ctx, "garbage", directory.Persistent))

	failures := atomic.NewInt32(0)
	set, err := New[route.Route](s.routeDir, directory.Ephemeral, route.Codec{},
		WithLogger(log.DiscardLogger),
		WithDecodeErrorHandler(func(err *DecodeError) {
			if err.Name == "garbage" && errors.Is(err, route.ErrMalformed) {
				failures.Inc()
			}
		}))
	s.Require().NoError(err)
	s.T().Cleanup(set.Stop)

	s.Require().NoError(set.Start(s.ctx))
	s.Require().ElementsMatch(routes, set.Elements())
	s.Require().EqualValues(1, failures.Load())

	// the malformed node is decoded again on the next pass
	extra := route.Route{Source: netip.MustParsePrefix("0.0.0.0/0"), Destination: netip.MustParsePrefix("2.0.0.0/8"), NextHop: route.Port, Weight: 10}
	s.Require().NoError(s.routeDir.AddChild(s.ctx, extra.String(), directory.Persistent))
	s.Require().Eventually(func() bool { return set.Contains(extra) }, waitFor, tick)
	s.Require().Eventually(func() bool { return failures.Load() >= 2 }, waitFor, tick)
	s.Require().Equal(4, set.Len())
	s.Require().NotContains(set.Strings(), "garbage")
}

func (s *SetTestSuite) TestRoutes() {
	set, err := New[route.Route](s.routeDir, directory.Ephemeral, route.Codec{}, WithLogger(log.DiscardLogger))
	s.Require().NoError(err)
	s.T().Cleanup(set.Stop)
	s.Require().NoError(set.Start(s.ctx))

	r := route.Route{
		Source:         netip.MustParsePrefix("192.168.0.0/16"),
		Destination:    netip.MustParsePrefix("0.0.0.0/0"),
		NextHop:        route.Port,
		NextHopGateway: netip.MustParseAddr("192.168.0.1"),
		Weight:         100,
	}
	s.Require().NoError(set.Add(s.ctx, r))
	s.Require().Equal([]route.Route{r}, set.Elements())

	children, err := s.routeDir.ListChildren(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal([]string{r.String()}, children)

	s.Require().ErrorIs(set.Add(s.ctx, r), directory.ErrAlreadyExists)
	s.Require().NoError(set.Remove(s.ctx, r))
	s.Require().Empty(set.Elements())
}

func (s *SetTestSuite) TestLifecycle() {
	set := s.newStringSet(s.stringDir)

	// stop before start is a no-op
	set.Stop()
	s.Require().Equal(Created, set.State())

	s.Require().NoError(set.Start(s.ctx))
	s.Require().NoError(set.Start(s.ctx))
	s.Require().Equal(Running, set.State())

	s.Require().NoError(set.Add(s.ctx, "foo"))
	set.Stop()
	set.Stop()
	s.Require().Equal(Stopped, set.State())
	s.Require().ErrorIs(set.Start(s.ctx), ErrStopped)

	// the cache survives stop and remote changes are no longer observed
	s.Require().Equal([]string{"foo"}, set.Strings())
	s.addToDirectory("bar")
	time.Sleep(100 * time.Millisecond)
	s.Require().Equal([]string{"foo"}, set.Strings())

	// mutations still reach the directory and the cache, silently
	watcher := newRecorder()
	set.AddWatcher(watcher)
	s.Require().NoError(set.Add(s.ctx, "pie"))
	s.Require().Equal([]string{"foo", "pie"}, sorted(set.Strings()))
	s.Require().Empty(watcher.Diffs())
}

func (s *SetTestSuite) TestStartFailsOnMissingDirectory() {
	missing, err := s.root.Subdirectory("/top/missing")
	s.Require().NoError(err)

	set := s.newStringSet(missing)
	err = set.Start(s.ctx)
	s.Require().ErrorIs(err, directory.ErrNotFound)
	s.Require().Equal(Created, set.State())

	s.Require().ErrorIs(set.Add(s.ctx, "foo"), directory.ErrNotFound)
	s.Require().Empty(set.Strings())
}

func (s *SetTestSuite) TestStartFailsWhenListingFails() {
	flaky := newFlakyDirectory(s.stringDir)
	flaky.listFailures.Store(1)

	set := s.newStringSet(flaky)
	s.Require().ErrorIs(set.Start(s.ctx), directory.ErrUnavailable)
	s.Require().Equal(Created, set.State())

	// a later attempt succeeds
	s.addToDirectory("foo")
	s.Require().NoError(set.Start(s.ctx))
	s.Require().Equal([]string{"foo"}, set.Strings())
}

func (s *SetTestSuite) TestRearmIsRetried() {
	flaky := newFlakyDirectory(s.stringDir)
	set := s.newStringSet(flaky, WithRearmBackoff(2, time.Millisecond, 5*time.Millisecond))
	s.Require().NoError(set.Start(s.ctx))

	flaky.watchFailures.Store(3)
	flaky.listFailures.Store(2)
	s.addToDirectory("foo")
	s.eventuallyStrings(set, []string{"foo"})

	// the watch is still armed after the failures
	s.addToDirectory("bar")
	s.eventuallyStrings(set, []string{"bar", "foo"})
	s.addToDirectory("pie")
	s.eventuallyStrings(set, s.testStrings)
}

func (s *SetTestSuite) TestEphemeralMembership() {
	session := s.root.NewSession()
	sessionDir, err := session.Subdirectory("/top/strings")
	s.Require().NoError(err)

	member := s.newStringSet(sessionDir)
	observer := s.newStringSet(s.stringDir)
	s.Require().NoError(member.Start(s.ctx))
	s.Require().NoError(observer.Start(s.ctx))

	s.Require().NoError(member.Add(s.ctx, "alive"))
	s.eventuallyStrings(observer, []string{"alive"})

	s.Require().NoError(session.Close())
	s.eventuallyStrings(observer, nil)
}

func (s *SetTestSuite) TestSharedDirectoryConverges() {
	sessionDir, err := s.root.NewSession().Subdirectory("/top/strings")
	s.Require().NoError(err)

	first := s.newStringSet(s.stringDir)
	second := s.newStringSet(sessionDir)
	firstView := newRecorder()
	secondView := newRecorder()
	first.AddWatcher(firstView)
	second.AddWatcher(secondView)
	s.Require().NoError(first.Start(s.ctx))
	s.Require().NoError(second.Start(s.ctx))

	eg, ctx := errgroup.WithContext(s.ctx)
	for i := range 20 {
		eg.Go(func() error {
			set := first
			if i%2 == 1 {
				set = second
			}
			name := fmt.Sprintf("member-%02d", i)
			if err := set.Add(ctx, name); err != nil {
				return err
			}
			if i%5 == 0 {
				return set.Remove(ctx, name)
			}
			return nil
		})
	}
	s.Require().NoError(eg.Wait())

	var expected []string
	for i := range 20 {
		if i%5 != 0 {
			expected = append(expected, fmt.Sprintf("member-%02d", i))
		}
	}

	s.eventuallyStrings(first, expected)
	s.eventuallyStrings(second, expected)
	s.Require().Eventually(func() bool {
		return assert.ObjectsAreEqual(expected, firstView.Members()) &&
			assert.ObjectsAreEqual(expected, secondView.Members())
	}, waitFor, tick)
}

func (s *SetTestSuite) TestWatcherSeesCacheConsistentWithDiff() {
	set := s.newStringSet(s.stringDir)
	inconsistent := atomic.NewInt32(0)
	watcher := &watcherFunc{fn: func(added, removed []string) {
		for _, item := range added {
			if !set.Contains(item) {
				inconsistent.Inc()
			}
		}
		for _, item := range removed {
			if set.Contains(item) {
				inconsistent.Inc()
			}
		}
	}}
	set.AddWatcher(watcher)
	s.Require().NoError(set.Start(s.ctx))

	s.Require().NoError(set.Add(s.ctx, "local"))
	s.addToDirectory("remote")
	s.eventuallyStrings(set, []string{"local", "remote"})
	s.Require().NoError(set.Remove(s.ctx, "local"))
	s.Require().NoError(s.stringDir.DeleteChild(s.ctx, "remote"))
	s.eventuallyStrings(set, nil)

	s.Require().Zero(inconsistent.Load())
}

func (s *SetTestSuite) TestWatcherMayMutateTheSet() {
	set := s.newStringSet(s.stringDir)
	watcher := newRecorder()
	reactor := &watcherFunc{fn: func(added, _ []string) {
		for _, item := range added {
			if item == "ping" {
				// reentrant calls must not deadlock
				_ = set.Add(context.Background(), "pong")
			}
		}
	}}
	set.AddWatcher(reactor)
	set.AddWatcher(watcher)
	s.Require().NoError(set.Start(s.ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = set.Add(s.ctx, "ping")
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		s.FailNow("Add did not return")
	}

	s.eventuallyStrings(set, []string{"ping", "pong"})
	s.eventuallyMembers(watcher, []string{"ping", "pong"})
}

func (s *SetTestSuite) TestPanickingWatcher() {
	set := s.newStringSet(s.stringDir)
	set.AddWatcher(&watcherFunc{fn: func(_, _ []string) { panic("boom") }})
	watcher := newRecorder()
	set.AddWatcher(watcher)
	s.Require().NoError(set.Start(s.ctx))

	s.Require().NotPanics(func() {
		s.Require().NoError(set.Add(s.ctx, "foo"))
	})
	s.eventuallyMembers(watcher, []string{"foo"})

	s.addToDirectory("bar")
	s.eventuallyMembers(watcher, []string{"bar", "foo"})
}

func (s *SetTestSuite) TestNilWatcher() {
	set := s.newStringSet(s.stringDir)
	s.Require().False(set.AddWatcher(nil))
	s.Require().False(set.RemoveWatcher(nil))
}

func (s *SetTestSuite) TestWithMetricsAndName() {
	metrics, err := telemetry.NewSetMetrics(telemetry.New(telemetry.WithMeterProvider(noop.NewMeterProvider())).Meter)
	s.Require().NoError(err)

	set := s.newStringSet(s.stringDir, WithName("strings"), WithMetrics(metrics))
	s.Require().Equal("strings", set.Name())
	s.Require().NoError(set.Start(s.ctx))
	s.Require().NoError(set.Add(s.ctx, "foo"))
	s.addToDirectory("bar")
	s.eventuallyStrings(set, []string{"bar", "foo"})
}

func TestNew(t *testing.T) {
	root := memory.New()

	t.Run("requires a directory", func(t *testing.T) {
		set, err := New[string](nil, directory.Persistent, StringCodec{})
		require.ErrorIs(t, err, ErrNilDirectory)
		require.Nil(t, set)
	})
	t.Run("requires a codec", func(t *testing.T) {
		set, err := New[string](root, directory.Persistent, nil)
		require.ErrorIs(t, err, ErrNilCodec)
		require.Nil(t, set)
	})
	t.Run("name defaults to the directory path", func(t *testing.T) {
		dir, err := root.Subdirectory("/routes")
		require.NoError(t, err)
		set, err := New[string](dir, directory.Persistent, StringCodec{})
		require.NoError(t, err)
		assert.Equal(t, "/routes", set.Name())
		assert.Equal(t, Created, set.State())
	})
	t.Run("persistent mode", func(t *testing.T) {
		ctx := context.Background()
		session := root.NewSession()
		set, err := New[string](session, directory.Persistent, StringCodec{}, WithLogger(log.DiscardLogger))
		require.NoError(t, err)
		require.NoError(t, set.Add(ctx, "kept"))
		require.NoError(t, session.Close())

		children, err := root.ListChildren(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"kept"}, children)
	})
}

func TestDefaultDecodeErrorHandlerLogs(t *testing.T) {
	ctx := context.Background()
	root := memory.New()
	require.NoError(t, root.AddChild(ctx, "not-a-number", directory.Persistent))

	buffer := new(syncBuffer)
	codec := CodecFunc(
		func(n int) string { return fmt.Sprint(n) },
		func(name string) (int, error) {
			var n int
			_, err := fmt.Sscan(name, &n)
			return n, err
		},
	)

	set, err := New[int](root, directory.Persistent, codec, WithLogger(log.NewZap(log.WarningLevel, buffer)))
	require.NoError(t, err)
	require.NoError(t, set.Start(ctx))
	defer set.Stop()

	require.NoError(t, set.Add(ctx, 42))
	assert.Equal(t, []int{42}, set.Elements())
	assert.Contains(t, buffer.String(), "not-a-number")
}

type syncBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}
