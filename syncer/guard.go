package syncer

import (
	"context"
	"sync"
)

// Guard allows one network operation per owner at a time. Uploads wait for
// their turn; restore refuses to start while anything else runs.
type Guard struct {
	slots sync.Map // owner -> chan struct{}
}

func NewGuard() *Guard {
	return &Guard{}
}

func (g *Guard) slot(owner string) chan struct{} {
	ch, _ := g.slots.LoadOrStore(owner, make(chan struct{}, 1))
	return ch.(chan struct{})
}

// Acquire blocks until the owner's slot is free or ctx is done.
func (g *Guard) Acquire(ctx context.Context, owner string) (func(), error) {
	ch := g.slot(owner)
	select {
	case ch <- struct{}{}:
		return releaser(ch), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes the owner's slot only if it is free.
func (g *Guard) TryAcquire(owner string) (func(), bool) {
	ch := g.slot(owner)
	select {
	case ch <- struct{}{}:
		return releaser(ch), true
	default:
		return nil, false
	}
}

// Busy reports whether an operation holds the owner's slot.
func (g *Guard) Busy(owner string) bool {
	return len(g.slot(owner)) > 0
}

func releaser(ch chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}
}
