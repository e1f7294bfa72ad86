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
	"slices"
	"sort"
	"sync"
	"testing"

	"go.uber.org/atomic"
	"go.uber.org/goleak"

	"github.com/vnetctl/statesync/directory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder is a Watcher tracking the membership it was told about.
type recorder struct {
	mu      sync.Mutex
	members map[string]struct{}
	diffs   []diff[string]
}

var _ Watcher[string] = (*recorder)(nil)

func newRecorder() *recorder {
	return &recorder{members: make(map[string]struct{})}
}

func (r *recorder) Process(added, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range added {
		r.members[item] = struct{}{}
	}
	for _, item := range removed {
		delete(r.members, item)
	}
	r.diffs = append(r.diffs, diff[string]{added: slices.Clone(added), removed: slices.Clone(removed)})
}

func (r *recorder) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]string, 0, len(r.members))
	for item := range r.members {
		members = append(members, item)
	}
	sort.Strings(members)
	return members
}

func (r *recorder) Diffs() []diff[string] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.diffs)
}

// watcherFunc adapts a function pointer into a comparable Watcher.
type watcherFunc struct {
	fn func(added, removed []string)
}

func (w *watcherFunc) Process(added, removed []string) {
	w.fn(added, removed)
}

// flakyDirectory fails WatchOnce and ListChildren while its failure budgets last.
type flakyDirectory struct {
	directory.Directory
	watchFailures *atomic.Int32
	listFailures  *atomic.Int32
}

func newFlakyDirectory(dir directory.Directory) *flakyDirectory {
	return &flakyDirectory{
		Directory:     dir,
		watchFailures: atomic.NewInt32(0),
		listFailures:  atomic.NewInt32(0),
	}
}

func (f *flakyDirectory) WatchOnce(ctx context.Context, fn func()) (directory.Cancel, error) {
	if f.watchFailures.Dec() >= 0 {
		return nil, directory.ErrUnavailable
	}
	return f.Directory.WatchOnce(ctx, fn)
}

func (f *flakyDirectory) ListChildren(ctx context.Context) ([]string, error) {
	if f.listFailures.Dec() >= 0 {
		return nil, directory.ErrUnavailable
	}
	return f.Directory.ListChildren(ctx)
}

// sorted returns a sorted copy of items, never nil.
func sorted(items []string) []string {
	out := make([]string, len(items))
	copy(out, items)
	sort.Strings(out)
	return out
}
