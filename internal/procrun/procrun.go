// Package procrun supervises the goroutines backing one Client or Server
// process, generalizing the teacher's ad hoc errChan/sigChan select in
// core/main.go into a reusable helper built on golang.org/x/sync/errgroup.
package procrun

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group supervises a fixed set of long-running goroutines (each Client and
// Server runs a single combined socket/tick loop under one) whose context is
// canceled as soon as any one of them fails, and whose first non-nil error
// is the process's reported failure.
type Group struct {
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Group ready to run goroutines under.
func New() *Group {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	return &Group{group: g, ctx: ctx, cancel: cancel}
}

// Go runs fn in its own goroutine. fn should return promptly once Done's
// context is canceled.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.group.Go(func() error {
		return fn(g.ctx)
	})
}

// Done returns a channel that is closed once any goroutine returns a
// non-nil error, Stop is called, or Wait returns. A goroutine returning nil
// does not close it.
func (g *Group) Done() <-chan struct{} {
	return g.ctx.Done()
}

// Stop cancels every goroutine's context.
func (g *Group) Stop() {
	g.cancel()
}

// Wait blocks until every goroutine has returned and reports the first
// non-nil error, if any.
func (g *Group) Wait() error {
	defer g.cancel()
	return g.group.Wait()
}
