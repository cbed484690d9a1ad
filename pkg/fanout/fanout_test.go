package fanout_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/downfa11-org/bigqueue/pkg/array"
	"github.com/downfa11-org/bigqueue/pkg/fanout"
	"github.com/downfa11-org/bigqueue/pkg/metrics"
	"github.com/downfa11-org/bigqueue/pkg/page"
	"github.com/downfa11-org/bigqueue/pkg/types"
	"github.com/downfa11-org/bigqueue/util"
)

func openQueue(t *testing.T, dir string) *fanout.Queue {
	t.Helper()
	q, err := fanout.Open(dir, "orders", array.WithDataPageSize(types.MinDataPageSize))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func enqueueN(t *testing.T, q *fanout.Queue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := q.Enqueue([]byte(fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
	}
}

func TestFanoutsConsumeIndependently(t *testing.T) {
	dir := t.TempDir()
	q, err := fanout.Open(dir, "orders", array.WithDataPageSize(types.MinDataPageSize))
	require.NoError(t, err)

	enqueueN(t, q, 10)

	for i := 0; i < 10; i++ {
		got, err := q.Dequeue("billing")
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("msg-%d", i), string(got))
	}
	got, err := q.Dequeue("billing")
	require.NoError(t, err)
	require.Nil(t, got)

	for i := 0; i < 3; i++ {
		got, err := q.Dequeue("audit")
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("msg-%d", i), string(got))
	}

	n, err := q.Size("billing")
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
	n, err = q.Size("audit")
	require.NoError(t, err)
	require.Equal(t, uint64(7), n)
	empty, err := q.IsEmpty("billing")
	require.NoError(t, err)
	require.True(t, empty)
	require.Equal(t, uint64(10), q.TotalSize())
	require.Equal(t, []string{"audit", "billing"}, q.IDs())

	require.NoError(t, q.Flush())
	require.NoError(t, q.Close())

	_, err = q.Dequeue("audit")
	require.ErrorIs(t, err, array.ErrClosed)

	// cursors survive a reopen
	q = openQueue(t, dir)
	index, err := q.FrontIndex("audit")
	require.NoError(t, err)
	require.Equal(t, uint64(3), index)
	got, err = q.Dequeue("audit")
	require.NoError(t, err)
	require.Equal(t, "msg-3", string(got))

	_, err = os.Stat(filepath.Join(q.Dir(), types.FrontDirPrefix+"billing", page.FilePrefix+"0"+page.FileSuffix))
	require.NoError(t, err)
}

func TestPeekDoesNotAdvance(t *testing.T) {
	q := openQueue(t, t.TempDir())

	got, err := q.Peek("reader")
	require.NoError(t, err)
	require.Nil(t, got)
	_, err = q.PeekLength("reader")
	require.ErrorIs(t, err, fanout.ErrEmpty)
	_, err = q.PeekTimestamp("reader")
	require.ErrorIs(t, err, fanout.ErrEmpty)

	enqueueN(t, q, 2)

	for i := 0; i < 3; i++ {
		got, err := q.Peek("reader")
		require.NoError(t, err)
		require.Equal(t, "msg-0", string(got))
	}
	n, err := q.PeekLength("reader")
	require.NoError(t, err)
	require.Equal(t, len("msg-0"), n)

	ts, err := q.PeekTimestamp("reader")
	require.NoError(t, err)
	want, err := q.Timestamp(0)
	require.NoError(t, err)
	require.True(t, ts.Equal(want))

	got, err = q.Dequeue("reader")
	require.NoError(t, err)
	require.Equal(t, "msg-0", string(got))
	got, err = q.Peek("reader")
	require.NoError(t, err)
	require.Equal(t, "msg-1", string(got))
}

func TestInvalidFanoutID(t *testing.T) {
	q := openQueue(t, t.TempDir())

	for _, id := range []string{"", "..", "a/b", "../escape"} {
		_, err := q.Dequeue(id)
		require.ErrorIs(t, err, util.ErrInvalidName, "id %q", id)
	}
	require.Empty(t, q.IDs())
}

func TestResetQueueFrontIndex(t *testing.T) {
	q := openQueue(t, t.TempDir())
	enqueueN(t, q, 5)

	require.NoError(t, q.ResetQueueFrontIndex("r", 5))
	empty, err := q.IsEmpty("r")
	require.NoError(t, err)
	require.True(t, empty)

	require.ErrorIs(t, q.ResetQueueFrontIndex("r", 6), array.ErrOutOfBounds)

	require.NoError(t, q.ResetQueueFrontIndex("r", 2))
	got, err := q.Dequeue("r")
	require.NoError(t, err)
	require.Equal(t, "msg-2", string(got))
	n, err := q.Size("r")
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)
}

func TestFindClosestIndexLatestAndEarliest(t *testing.T) {
	q := openQueue(t, t.TempDir())

	index, err := q.FindClosestIndex(types.Latest)
	require.NoError(t, err)
	require.Equal(t, uint64(0), index)
	_, err = q.FindClosestIndex(time.UnixMilli(0))
	require.ErrorIs(t, err, array.ErrNotFound)

	enqueueN(t, q, 6)
	require.NoError(t, q.RemoveBeforeIndex(2))

	index, err = q.FindClosestIndex(types.Latest)
	require.NoError(t, err)
	require.Equal(t, uint64(6), index)
	index, err = q.FindClosestIndex(types.Earliest)
	require.NoError(t, err)
	require.Equal(t, uint64(2), index)

	require.NoError(t, q.ResetQueueFrontIndex("live", q.RearIndex()))
	enqueueN(t, q, 1)
	got, err := q.Dequeue("live")
	require.NoError(t, err)
	require.Equal(t, "msg-0", string(got))
}

func TestDequeueCountsPerQueue(t *testing.T) {
	dequeued := func() float64 {
		m := &dto.Metric{}
		_ = metrics.RecordsDequeued.WithLabelValues("orders").Write(m)
		return m.GetCounter().GetValue()
	}

	q := openQueue(t, t.TempDir())
	enqueueN(t, q, 3)
	before := dequeued()

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Dequeue(id)
		require.NoError(t, err)
	}
	_, err := q.Dequeue("a")
	require.NoError(t, err)
	require.Equal(t, before+4, dequeued())

	// an empty read is not counted
	q2, err := fanout.Open(t.TempDir(), "orders", array.WithDataPageSize(types.MinDataPageSize))
	require.NoError(t, err)
	defer q2.Close()
	got, err := q2.Dequeue("a")
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, before+4, dequeued())
}

func TestTruncationSnapsCursorsToTail(t *testing.T) {
	q := openQueue(t, t.TempDir())

	// three 10 MiB records per 32 MiB data page
	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(bytes.Repeat([]byte{byte('a' + i)}, 10<<20))
		require.NoError(t, err)
	}
	_, err := q.Size("slow")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := q.Dequeue("fast")
		require.NoError(t, err)
	}

	require.NoError(t, q.LimitBackFileSize(types.IndexPageSize+types.MinDataPageSize))
	require.Equal(t, uint64(3), q.TailIndex())

	slow, err := q.FrontIndex("slow")
	require.NoError(t, err)
	require.Equal(t, uint64(3), slow)
	fast, err := q.FrontIndex("fast")
	require.NoError(t, err)
	require.Equal(t, uint64(4), fast)

	got, err := q.Dequeue("slow")
	require.NoError(t, err)
	require.Equal(t, byte('d'), got[0])
}

func TestRemoveAllRewindsCursors(t *testing.T) {
	q := openQueue(t, t.TempDir())
	enqueueN(t, q, 4)
	for i := 0; i < 3; i++ {
		_, err := q.Dequeue("r")
		require.NoError(t, err)
	}

	require.NoError(t, q.RemoveAll())
	index, err := q.FrontIndex("r")
	require.NoError(t, err)
	require.Equal(t, uint64(0), index)
	require.True(t, q.IsArrayEmpty())

	enqueueN(t, q, 1)
	got, err := q.Dequeue("r")
	require.NoError(t, err)
	require.Equal(t, "msg-0", string(got))
}

func TestNewFrontStartsAtTail(t *testing.T) {
	dir := t.TempDir()
	metaDir := filepath.Join(dir, "orders", types.MetaDir)
	require.NoError(t, os.MkdirAll(metaDir, 0o755))
	buf := make([]byte, types.MetaPageSize)
	types.Meta{Head: 100, Tail: 100}.MarshalTo(buf)
	require.NoError(t, os.WriteFile(filepath.Join(metaDir, page.FilePrefix+"0"+page.FileSuffix), buf, 0o644))

	q := openQueue(t, dir)
	index, err := q.FrontIndex("late")
	require.NoError(t, err)
	require.Equal(t, uint64(100), index)

	enqueueN(t, q, 1)
	n, err := q.Size("late")
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestConcurrentFirstUseAgreesOnOneCursor(t *testing.T) {
	q := openQueue(t, t.TempDir())
	enqueueN(t, q, 64)

	var wg sync.WaitGroup
	results := make(chan string, 64)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 4; i++ {
				got, err := q.Dequeue("shared")
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				results <- string(got)
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for r := range results {
		require.False(t, seen[r], "%s delivered twice", r)
		seen[r] = true
	}
	require.Len(t, seen, 64)
	require.Equal(t, []string{"shared"}, q.IDs())
}

func TestConcurrentProducerAndConsumers(t *testing.T) {
	q := openQueue(t, t.TempDir())
	const total = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if _, err := q.Enqueue([]byte(fmt.Sprintf("msg-%d", i))); err != nil {
				t.Errorf("enqueue: %v", err)
				return
			}
		}
	}()

	consume := func(id string) {
		defer wg.Done()
		next := 0
		for next < total {
			got, err := q.Dequeue(id)
			if err != nil {
				t.Errorf("%s dequeue: %v", id, err)
				return
			}
			if got == nil {
				continue
			}
			if want := fmt.Sprintf("msg-%d", next); string(got) != want {
				t.Errorf("%s: expected %s, got %s", id, want, got)
				return
			}
			next++
		}
	}
	wg.Add(2)
	go consume("a")
	go consume("b")
	wg.Wait()

	for _, id := range []string{"a", "b"} {
		n, err := q.Size(id)
		require.NoError(t, err)
		require.Equal(t, uint64(0), n)
	}
}
