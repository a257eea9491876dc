// This file defines the "refresh on focus" signal.
// When the host regains attention (a window focus, a SIGHUP, a POST to
// /focus) every active query gets a chance to revalidate its data.
// The goal of refresh is: "Keep data fresh without slowing down reads"

package refresh

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

/*
Hook is called once per focus event. Hooks decide on their own whether
anything needs refetching; most of the time the data is still fresh and the
hook returns immediately.
*/
type Hook func(ctx context.Context)

/*
Notifier fans a focus event out to every subscribed hook.

Hooks run concurrently and Notify waits for all of them, so a caller that
notifies and then reads state sees the revalidated data.
*/
type Notifier struct {
	mu    sync.Mutex
	next  uint64
	hooks map[uint64]Hook
}

func NewNotifier() *Notifier {
	return &Notifier{hooks: make(map[uint64]Hook)}
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (n *Notifier) Subscribe(fn Hook) (unsubscribe func()) {
	n.mu.Lock()
	id := n.next
	n.next++
	n.hooks[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.hooks, id)
			n.mu.Unlock()
		})
	}
}

// Len reports the number of subscribed hooks.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.hooks)
}

/*
Notify runs every hook registered at the time of the call and blocks until
they return or ctx is done. Hooks added during a notification are not
called for it.
*/
func (n *Notifier) Notify(ctx context.Context) error {
	n.mu.Lock()
	hooks := make([]Hook, 0, len(n.hooks))
	for _, h := range n.hooks {
		hooks = append(hooks, h)
	}
	n.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range hooks {
		g.Go(func() error {
			h(gctx)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
