package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrCanceled = errors.New("queue: future canceled")
	ErrPending  = errors.New("queue: future not completed")
)

// Future is a single-slot result that is completed at most once.
type Future struct {
	once sync.Once
	done chan struct{}
	data []byte
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(data []byte, err error) bool {
	completed := false
	f.once.Do(func() {
		f.data, f.err = data, err
		close(f.done)
		completed = true
	})
	return completed
}

func (f *Future) cancel() bool {
	return f.complete(nil, ErrCanceled)
}

// Done is closed once the future is completed or canceled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome without blocking, or ErrPending.
func (f *Future) Result() ([]byte, error) {
	if !f.IsDone() {
		return nil, ErrPending
	}
	return f.data, f.err
}

// Wait blocks until the future completes or ctx is done.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
