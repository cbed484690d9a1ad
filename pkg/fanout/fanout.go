// Package fanout lets any number of named consumers read one array at their
// own pace. Each fan-out id owns a cursor that is persisted next to the
// array and survives restarts.
package fanout

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/downfa11-org/bigqueue/pkg/array"
	"github.com/downfa11-org/bigqueue/pkg/metrics"
	"github.com/downfa11-org/bigqueue/pkg/types"
	"github.com/downfa11-org/bigqueue/util"
)

var ErrEmpty = errors.New("fanout: no record for this id")

var _ types.QueueHandler = (*Queue)(nil)

type Queue struct {
	arr *array.Array

	mu     sync.Mutex
	fronts map[string]*front
	closed bool
}

// Open opens or creates the fan-out queue stored under dir/name.
func Open(dir, name string, opts ...array.Option) (*Queue, error) {
	arr, err := array.Open(dir, name, opts...)
	if err != nil {
		return nil, err
	}
	return &Queue{
		arr:    arr,
		fronts: make(map[string]*front),
	}, nil
}

func (q *Queue) Name() string { return q.arr.Name() }
func (q *Queue) Dir() string  { return q.arr.Dir() }

// Array exposes the shared array. Callers must not truncate it directly or
// the cursors will not be revalidated.
func (q *Queue) Array() *array.Array { return q.arr }

// front returns the cursor for id, creating it on first use. Concurrent
// first uses agree on a single cursor; a losing cursor is released.
// Creation holds the array's shared lock so no truncation can slip in
// between the initial revalidation and registration.
func (q *Queue) front(id string) (*front, error) {
	q.mu.Lock()
	f, ok := q.fronts[id]
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, array.ErrClosed
	}
	if ok {
		return f, nil
	}

	if err := util.ValidateName(id); err != nil {
		return nil, err
	}
	err := q.arr.View(func(r *array.Reader) error {
		created, err := openFront(q.arr, id)
		if err != nil {
			return err
		}
		if err := created.revalidate(r); err != nil {
			return errors.Join(err, created.close())
		}

		q.mu.Lock()
		existing, ok := q.fronts[id]
		if !ok {
			q.fronts[id] = created
		}
		q.mu.Unlock()

		if ok {
			f = existing
			if err := created.close(); err != nil {
				util.Warn("fanout: release duplicate front %s: %v", id, err)
			}
			return nil
		}
		f = created
		util.Debug("fanout: %s opened front %s at %d", q.arr.Name(), id, created.index)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (q *Queue) snapshotFronts() []*front {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*front, 0, len(q.fronts))
	for _, f := range q.fronts {
		out = append(out, f)
	}
	return out
}

// IDs lists the fan-out ids opened since the queue was opened.
func (q *Queue) IDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.fronts))
	for id := range q.fronts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Enqueue appends data for every fan-out id and returns its index.
func (q *Queue) Enqueue(data []byte) (uint64, error) {
	return q.arr.Append(data)
}

// Dequeue returns the record at id's cursor and advances it. It returns
// nil, nil when id has consumed everything.
func (q *Queue) Dequeue(id string) ([]byte, error) {
	f, err := q.front(id)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = q.arr.View(func(r *array.Reader) error {
		f.mu.Lock()
		defer f.mu.Unlock()

		data, ok, err := f.read(r)
		if err != nil || !ok {
			return err
		}
		if err := f.set(f.index + 1); err != nil {
			return err
		}
		out = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		metrics.RecordsDequeued.WithLabelValues(q.arr.Name()).Inc()
	}
	return out, nil
}

// read returns the record at the cursor. A cursor the tail has passed is
// moved to the tail and the read retried once. Caller holds f.mu.
func (f *front) read(r *array.Reader) ([]byte, bool, error) {
	if f.index == r.Head() {
		return nil, false, nil
	}
	data, err := r.Get(f.index)
	if errors.Is(err, array.ErrOutOfBounds) {
		if err := f.set(r.Tail()); err != nil {
			return nil, false, err
		}
		if f.index == r.Head() {
			return nil, false, nil
		}
		data, err = r.Get(f.index)
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Peek returns the record at id's cursor without advancing it, or nil, nil
// when there is none.
func (q *Queue) Peek(id string) ([]byte, error) {
	var out []byte
	err := q.withFront(id, func(f *front, r *array.Reader) error {
		data, _, err := f.read(r)
		out = data
		return err
	})
	return out, err
}

func (q *Queue) PeekLength(id string) (int, error) {
	var n int
	err := q.withFront(id, func(f *front, r *array.Reader) error {
		if f.index == r.Head() {
			return ErrEmpty
		}
		var err error
		n, err = r.ItemLength(f.index)
		return err
	})
	return n, err
}

func (q *Queue) PeekTimestamp(id string) (time.Time, error) {
	var ts time.Time
	err := q.withFront(id, func(f *front, r *array.Reader) error {
		if f.index == r.Head() {
			return ErrEmpty
		}
		var err error
		ts, err = r.Timestamp(f.index)
		return err
	})
	return ts, err
}

// withFront runs fn under the array's shared lock and id's cursor lock.
func (q *Queue) withFront(id string, fn func(f *front, r *array.Reader) error) error {
	f, err := q.front(id)
	if err != nil {
		return err
	}
	return q.arr.View(func(r *array.Reader) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		return fn(f, r)
	})
}

// Size returns how many records id has not consumed yet.
func (q *Queue) Size(id string) (uint64, error) {
	var n uint64
	err := q.withFront(id, func(f *front, r *array.Reader) error {
		n = r.Head() - f.index
		return nil
	})
	return n, err
}

func (q *Queue) IsEmpty(id string) (bool, error) {
	var empty bool
	err := q.withFront(id, func(f *front, r *array.Reader) error {
		empty = f.index == r.Head()
		return nil
	})
	return empty, err
}

// FrontIndex returns id's cursor.
func (q *Queue) FrontIndex(id string) (uint64, error) {
	var index uint64
	err := q.withFront(id, func(f *front, _ *array.Reader) error {
		index = f.index
		return nil
	})
	return index, err
}

// ResetQueueFrontIndex moves id's cursor to index, which must be a valid
// index or the head.
func (q *Queue) ResetQueueFrontIndex(id string, index uint64) error {
	return q.withFront(id, func(f *front, r *array.Reader) error {
		if index != r.Head() {
			if err := r.Validate(index); err != nil {
				return err
			}
		}
		return f.set(index)
	})
}

// TotalSize is the number of records in the array regardless of any cursor.
func (q *Queue) TotalSize() uint64  { return q.arr.Size() }
func (q *Queue) IsArrayEmpty() bool { return q.arr.IsEmpty() }
func (q *Queue) TailIndex() uint64  { return q.arr.Tail() }
func (q *Queue) RearIndex() uint64  { return q.arr.Head() }

func (q *Queue) Get(index uint64) ([]byte, error) { return q.arr.Get(index) }

func (q *Queue) ItemLength(index uint64) (int, error) { return q.arr.ItemLength(index) }

func (q *Queue) Timestamp(index uint64) (time.Time, error) { return q.arr.Timestamp(index) }

// FindClosestIndex returns the index whose timestamp is closest to t.
// types.Latest yields the head and types.Earliest the tail, even when the
// array is empty.
func (q *Queue) FindClosestIndex(t time.Time) (uint64, error) {
	switch t.UnixMilli() {
	case types.LatestMillis:
		return q.arr.Head(), nil
	case types.EarliestMillis:
		return q.arr.Tail(), nil
	}
	return q.arr.FindClosestIndex(t)
}

func (q *Queue) BackFileSize() (int64, error) { return q.arr.BackFileSize() }

// truncate runs fn with the array locked exclusively and then pulls every
// cursor that fell behind the tail up to it.
func (q *Queue) truncate(fn func(w *array.Writer) error) error {
	return q.arr.Update(func(w *array.Writer) error {
		if err := fn(w); err != nil {
			return err
		}
		var errs []error
		for _, f := range q.snapshotFronts() {
			f.mu.Lock()
			errs = append(errs, f.revalidate(&w.Reader))
			f.mu.Unlock()
		}
		return errors.Join(errs...)
	})
}

// RemoveBeforeIndex moves the tail to index.
func (q *Queue) RemoveBeforeIndex(index uint64) error {
	return q.truncate(func(w *array.Writer) error { return w.RemoveBeforeIndex(index) })
}

// RemoveBefore drops whole pages of records written before t.
func (q *Queue) RemoveBefore(t time.Time) error {
	return q.truncate(func(w *array.Writer) error { return w.RemoveBefore(t) })
}

// LimitBackFileSize drops the oldest records until the page files fit in
// limit bytes.
func (q *Queue) LimitBackFileSize(limit int64) error {
	return q.truncate(func(w *array.Writer) error { return w.LimitBackFileSize(limit) })
}

// RemoveAll wipes the array and rewinds every cursor to 0.
func (q *Queue) RemoveAll() error {
	return q.truncate(func(w *array.Writer) error { return w.RemoveAll() })
}

func (q *Queue) Flush() error {
	errs := []error{q.arr.Flush()}
	for _, f := range q.snapshotFronts() {
		errs = append(errs, f.flush())
	}
	return errors.Join(errs...)
}

// Close releases the cursors and the array. The files stay on disk.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	// once the array is closed no reader holds a cursor and none can be
	// created
	errs := []error{q.arr.Close()}

	q.mu.Lock()
	fronts := q.fronts
	q.fronts = make(map[string]*front)
	q.mu.Unlock()
	for _, f := range fronts {
		errs = append(errs, f.close())
	}
	return errors.Join(errs...)
}
