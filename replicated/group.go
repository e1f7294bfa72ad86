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
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Member is what a Group drives. *Set[T] implements it for any T.
type Member interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	State() State
}

var _ Member = (*Set[string])(nil)

// Group starts and stops the sets of one process together,
// typically one set per collection under a common directory.
type Group struct {
	mu      sync.RWMutex
	members map[string]Member
}

// NewGroup creates an empty Group
func NewGroup() *Group {
	return &Group{members: make(map[string]Member)}
}

// Register adds member under its name. It returns ErrDuplicateSet when the
// name is taken.
func (g *Group) Register(member Member) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := member.Name()
	if _, ok := g.members[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSet, name)
	}
	g.members[name] = member
	return nil
}

// Get returns the member registered under name
func (g *Group) Get(name string) (Member, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	member, ok := g.members[name]
	return member, ok
}

// Names returns the registered names, sorted
func (g *Group) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.members))
	for name := range g.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start starts every member concurrently. The first failure cancels the
// listings still in flight; the members that started are then stopped and
// all the failures are returned together.
func (g *Group) Start(ctx context.Context) error {
	members := g.snapshot()

	var (
		mu   sync.Mutex
		errs error
	)

	eg, egCtx := errgroup.WithContext(ctx)
	for _, member := range members {
		eg.Go(func() error {
			if err := member.Start(egCtx); err != nil {
				err = fmt.Errorf("%s: %w", member.Name(), err)
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return err
			}
			return nil
		})
	}

	if eg.Wait() == nil {
		return nil
	}

	g.stop(members)
	return errs
}

// Stop stops every member concurrently
func (g *Group) Stop() {
	g.stop(g.snapshot())
}

func (g *Group) stop(members []Member) {
	var wg sync.WaitGroup
	for _, member := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			member.Stop()
		}()
	}
	wg.Wait()
}

func (g *Group) snapshot() []Member {
	g.mu.RLock()
	defer g.mu.RUnlock()

	members := make([]Member, 0, len(g.members))
	for _, member := range g.members {
		members = append(members, member)
	}
	return members
}
