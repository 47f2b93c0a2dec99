package loader

import (
	"context"
	"sync"

	"github.com/italolelis/fileloader/internal/cache"
)

// Future is the pending result of a download. It settles exactly once.
type Future struct {
	done   chan struct{}
	once   sync.Once
	entity *cache.Entity
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// settle records the result; only the first call has an effect.
func (f *Future) settle(entity *cache.Entity, err error) bool {
	settled := false

	f.once.Do(func() {
		f.entity, f.err = entity, err
		settled = true
		close(f.done)
	})

	return settled
}

// Done is closed once the download has settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the download settles or ctx is done. Abandoning a Future
// does not stop the download; it still runs to completion and frees its slot.
func (f *Future) Wait(ctx context.Context) (*cache.Entity, error) {
	select {
	case <-f.done:
		return f.entity, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
