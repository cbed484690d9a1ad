// Package queue is a single-consumer queue over a fan-out queue with one
// reserved cursor. It adds callbacks for the next available record.
package queue

import (
	"errors"
	"sync"

	"github.com/downfa11-org/bigqueue/pkg/array"
	"github.com/downfa11-org/bigqueue/pkg/fanout"
	"github.com/downfa11-org/bigqueue/util"
)

// FrontID is the fan-out id the queue consumes with.
const FrontID = "default"

type Queue struct {
	fq *fanout.Queue

	mu            sync.Mutex // guards the futures
	dequeueFuture *Future
	peekFuture    *Future
}

func Open(dir, name string, opts ...array.Option) (*Queue, error) {
	fq, err := fanout.Open(dir, name, opts...)
	if err != nil {
		return nil, err
	}
	return &Queue{fq: fq}, nil
}

func (q *Queue) Name() string { return q.fq.Name() }

// Enqueue appends data and hands the head of the queue to a pending
// DequeueAsync or PeekAsync future.
func (q *Queue) Enqueue(data []byte) (uint64, error) {
	index, err := q.fq.Enqueue(data)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.peekFuture != nil && !q.peekFuture.IsDone() {
		q.peekFuture.complete(q.fq.Peek(FrontID))
	}
	if q.dequeueFuture != nil && !q.dequeueFuture.IsDone() {
		q.dequeueFuture.complete(q.fq.Dequeue(FrontID))
	}
	return index, nil
}

// Dequeue returns nil, nil when the queue is empty.
func (q *Queue) Dequeue() ([]byte, error) { return q.fq.Dequeue(FrontID) }

func (q *Queue) Peek() ([]byte, error) { return q.fq.Peek(FrontID) }

// DequeueAsync returns a future completed with the next record. The queue
// keeps one such future; calling again before it completes returns the
// same future.
func (q *Queue) DequeueAsync() *Future {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dequeueFuture == nil || q.dequeueFuture.IsDone() {
		q.dequeueFuture = newFuture()
	}
	if empty, err := q.fq.IsEmpty(FrontID); err != nil {
		q.dequeueFuture.complete(nil, err)
	} else if !empty {
		q.dequeueFuture.complete(q.fq.Dequeue(FrontID))
	}
	return q.dequeueFuture
}

// PeekAsync is DequeueAsync without consuming the record.
func (q *Queue) PeekAsync() *Future {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.peekFuture == nil || q.peekFuture.IsDone() {
		q.peekFuture = newFuture()
	}
	if empty, err := q.fq.IsEmpty(FrontID); err != nil {
		q.peekFuture.complete(nil, err)
	} else if !empty {
		q.peekFuture.complete(q.fq.Peek(FrontID))
	}
	return q.peekFuture
}

// Size returns the number of records not yet dequeued.
func (q *Queue) Size() (uint64, error) { return q.fq.Size(FrontID) }

func (q *Queue) IsEmpty() (bool, error) { return q.fq.IsEmpty(FrontID) }

// ForEach calls fn for every record not yet dequeued, oldest first, without
// consuming them. It stops at the first error fn returns.
func (q *Queue) ForEach(fn func(index uint64, data []byte) error) error {
	front, err := q.fq.FrontIndex(FrontID)
	if err != nil {
		return err
	}
	return q.fq.Array().View(func(r *array.Reader) error {
		if front != r.Head() && r.Validate(front) != nil {
			front = r.Tail()
		}
		for i := front; i != r.Head(); i++ {
			data, err := r.Get(i)
			if err != nil {
				return err
			}
			if err := fn(i, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// GC deletes the pages holding only dequeued records. When everything has
// been dequeued the newest record stays so the tail remains a valid index.
func (q *Queue) GC() error {
	front, err := q.fq.FrontIndex(FrontID)
	if err != nil {
		return err
	}
	if q.fq.IsArrayEmpty() || front == q.fq.TailIndex() {
		return nil
	}
	if front == q.fq.RearIndex() {
		front--
	}
	err = q.fq.RemoveBeforeIndex(front)
	if errors.Is(err, array.ErrOutOfBounds) {
		util.Debug("queue: %s gc raced with a truncation, nothing removed", q.Name())
		return nil
	}
	return err
}

func (q *Queue) RemoveAll() error { return q.fq.RemoveAll() }

func (q *Queue) Flush() error { return q.fq.Flush() }

// Close cancels pending futures and closes the underlying queue.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.dequeueFuture != nil {
		q.dequeueFuture.cancel()
	}
	if q.peekFuture != nil {
		q.peekFuture.cancel()
	}
	q.mu.Unlock()
	return q.fq.Close()
}
