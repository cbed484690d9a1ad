// Package array implements an append-only sequence of byte records backed by
// memory-mapped index and data pages.
//
// Every record gets a 64-bit index that wraps modulo 2^64. Appends may run
// concurrently with reads; truncation takes the array exclusively.
package array

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/bigqueue/pkg/metrics"
	"github.com/downfa11-org/bigqueue/pkg/page"
	"github.com/downfa11-org/bigqueue/pkg/types"
	"github.com/downfa11-org/bigqueue/util"
)

var (
	ErrOutOfBounds     = errors.New("array: index out of bounds")
	ErrRecordTooLarge  = errors.New("array: record larger than a data page")
	ErrInvalidPageSize = errors.New("array: invalid data page size")
	ErrNotFound        = errors.New("array: no record")
	ErrClosed          = errors.New("array: closed")
)

const (
	DefaultPageTTL = time.Second
	MetaPageTTL    = 10 * time.Second
)

type config struct {
	dataPageSize int
	pageTTL      time.Duration
	now          func() time.Time
}

type Option func(*config)

// WithDataPageSize sets the data page size in bytes. It must be at least
// types.MinDataPageSize.
func WithDataPageSize(n int) Option {
	return func(c *config) {
		c.dataPageSize = n
	}
}

// WithPageTTL sets how long an unused index or data page stays mapped.
func WithPageTTL(d time.Duration) Option {
	return func(c *config) {
		c.pageTTL = d
	}
}

// WithClock replaces time.Now for record timestamps and page ttl bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// allowSmallPages lifts the minimum data page size. Tests only.
var allowSmallPages bool

type Array struct {
	name string
	dir  string
	cfg  config

	indexPages *page.Store
	dataPages  *page.Store
	metaPages  *page.Store
	meta       *page.Page // pinned until Close or RemoveAll

	mu       sync.RWMutex // exclusive for truncation, shared for everything else
	appendMu sync.Mutex
	closed   bool

	head atomic.Uint64
	tail atomic.Uint64

	// guarded by appendMu, or by mu held exclusively
	headDataPage   uint64
	headDataOffset int
}

// Open opens or creates the array stored under dir/name.
func Open(dir, name string, opts ...Option) (*Array, error) {
	if err := util.ValidateName(name); err != nil {
		return nil, err
	}
	cfg := config{
		dataPageSize: types.DefaultDataPageSize,
		pageTTL:      DefaultPageTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.dataPageSize <= 0 || (cfg.dataPageSize < types.MinDataPageSize && !allowSmallPages) {
		return nil, fmt.Errorf("%w: %d, minimum is %d", ErrInvalidPageSize, cfg.dataPageSize, types.MinDataPageSize)
	}
	if cfg.dataPageSize > types.MaxDataPageSize {
		return nil, fmt.Errorf("%w: %d, maximum is %d", ErrInvalidPageSize, cfg.dataPageSize, types.MaxDataPageSize)
	}

	a := &Array{
		name: name,
		dir:  filepath.Join(dir, name),
		cfg:  cfg,
	}
	if err := a.init(); err != nil {
		return nil, err
	}
	util.Info("array: opened %s head=%d tail=%d", a.dir, a.head.Load(), a.tail.Load())
	return a, nil
}

func (a *Array) init() error {
	var err error
	clock := page.WithClock(a.cfg.now)
	if a.indexPages, err = page.NewStore(types.IndexPageSize, filepath.Join(a.dir, types.IndexDir), a.cfg.pageTTL, clock); err != nil {
		return err
	}
	if a.dataPages, err = page.NewStore(a.cfg.dataPageSize, filepath.Join(a.dir, types.DataDir), a.cfg.pageTTL, clock, page.WithSequentialAccess()); err != nil {
		return err
	}
	if a.metaPages, err = page.NewStore(types.MetaPageSize, filepath.Join(a.dir, types.MetaDir), MetaPageTTL, clock); err != nil {
		return err
	}
	return a.loadMeta()
}

// loadMeta pins the metadata page and restores head, tail and the data
// cursor from it.
func (a *Array) loadMeta() error {
	p, err := a.metaPages.Acquire(0)
	if err != nil {
		return fmt.Errorf("array: map metadata page: %w", err)
	}
	a.meta = p

	var m types.Meta
	if err := p.View(0, types.MetaPageSize, func(b []byte) error {
		m = types.UnmarshalMeta(b)
		return nil
	}); err != nil {
		return err
	}
	a.head.Store(m.Head)
	a.tail.Store(m.Tail)

	a.headDataPage, a.headDataOffset = 0, 0
	if m.Head != m.Tail {
		last, err := a.indexItem(m.Head - 1)
		if err != nil {
			return fmt.Errorf("array: read last index item: %w", err)
		}
		a.headDataPage = last.DataPageIndex
		a.headDataOffset = int(last.DataOffset) + int(last.Length)
	}
	return nil
}

func (a *Array) writeMeta(head, tail uint64) error {
	var buf [types.MetaPageSize]byte
	types.Meta{Head: head, Tail: tail}.MarshalTo(buf[:])
	return a.meta.WriteAt(buf[:], 0)
}

func (a *Array) Name() string      { return a.name }
func (a *Array) Dir() string       { return a.dir }
func (a *Array) DataPageSize() int { return a.cfg.dataPageSize }

// Clock returns the clock the array stamps records with.
func (a *Array) Clock() func() time.Time {
	return a.cfg.now
}

func (a *Array) PageTTL() time.Duration {
	return a.cfg.pageTTL
}

// Append stores data as the record at the current head and returns its index.
func (a *Array) Append(data []byte) (uint64, error) {
	if len(data) > a.cfg.dataPageSize {
		return 0, fmt.Errorf("%w: %d > %d", ErrRecordTooLarge, len(data), a.cfg.dataPageSize)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return 0, ErrClosed
	}

	a.appendMu.Lock()
	defer a.appendMu.Unlock()
	start := time.Now()

	// Nothing is published until the data and its index item are written.
	dataPageIndex, offset := a.headDataPage, a.headDataOffset
	if offset+len(data) > a.cfg.dataPageSize {
		dataPageIndex++
		offset = 0
	}

	dp, err := a.dataPages.Acquire(dataPageIndex)
	if err != nil {
		return 0, err
	}
	err = dp.WriteAt(data, offset)
	a.dataPages.Release(dataPageIndex)
	if err != nil {
		return 0, fmt.Errorf("array: write data page %d: %w", dataPageIndex, err)
	}

	index := a.head.Load()
	item := types.IndexItem{
		DataPageIndex: dataPageIndex,
		DataOffset:    uint32(offset),
		Length:        uint32(len(data)),
		Timestamp:     a.cfg.now().UnixMilli(),
	}
	if err := a.writeIndexItem(index, item); err != nil {
		return 0, err
	}
	if err := a.writeMeta(index+1, a.tail.Load()); err != nil {
		return 0, fmt.Errorf("array: persist metadata: %w", err)
	}

	a.headDataPage, a.headDataOffset = dataPageIndex, offset+len(data)
	a.head.Store(index + 1)

	metrics.ObserveAppend(len(data), time.Since(start).Seconds())
	return index, nil
}

func (a *Array) writeIndexItem(index uint64, item types.IndexItem) error {
	pageIndex := types.IndexPageOf(index)
	ip, err := a.indexPages.Acquire(pageIndex)
	if err != nil {
		return err
	}
	defer a.indexPages.Release(pageIndex)

	var buf [types.IndexItemSize]byte
	item.MarshalTo(buf[:])
	if err := ip.WriteAt(buf[:], types.IndexSlotOffset(index)); err != nil {
		return fmt.Errorf("array: write index page %d: %w", pageIndex, err)
	}
	return nil
}

// indexItem reads the slot for index without checking bounds.
func (a *Array) indexItem(index uint64) (types.IndexItem, error) {
	pageIndex := types.IndexPageOf(index)
	ip, err := a.indexPages.Acquire(pageIndex)
	if err != nil {
		return types.IndexItem{}, err
	}
	defer a.indexPages.Release(pageIndex)

	var item types.IndexItem
	err = ip.View(types.IndexSlotOffset(index), types.IndexItemSize, func(b []byte) error {
		item = types.UnmarshalIndexItem(b)
		return nil
	})
	return item, err
}

func (a *Array) get(index uint64) ([]byte, error) {
	if err := a.validate(index); err != nil {
		return nil, err
	}
	item, err := a.indexItem(index)
	if err != nil {
		return nil, err
	}
	dp, err := a.dataPages.Acquire(item.DataPageIndex)
	if err != nil {
		return nil, err
	}
	defer a.dataPages.Release(item.DataPageIndex)
	return dp.ReadAt(int(item.DataOffset), int(item.Length))
}

func (a *Array) validItem(index uint64) (types.IndexItem, error) {
	if err := a.validate(index); err != nil {
		return types.IndexItem{}, err
	}
	return a.indexItem(index)
}

// validate reports whether index lies in [tail, head) modulo 2^64.
func (a *Array) validate(index uint64) error {
	tail, head := a.tail.Load(), a.head.Load()
	if index-tail < head-tail {
		return nil
	}
	return fmt.Errorf("%w: %d not in [%d, %d)", ErrOutOfBounds, index, tail, head)
}

func (a *Array) backFileSize() (int64, error) {
	indexSize, err := a.indexPages.BackFileSize()
	if err != nil {
		return 0, err
	}
	dataSize, err := a.dataPages.BackFileSize()
	if err != nil {
		return 0, err
	}
	return indexSize + dataSize, nil
}

func (a *Array) flush() error {
	return errors.Join(a.meta.Flush(), a.indexPages.Flush(), a.dataPages.Flush())
}

// View runs fn with the array read-locked. Appends may proceed concurrently;
// truncation may not.
func (a *Array) View(fn func(r *Reader) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	return fn(&Reader{a: a})
}

// Update runs fn with the array locked exclusively.
func (a *Array) Update(fn func(w *Writer) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	return fn(&Writer{Reader{a: a}})
}

func (a *Array) Head() uint64 { return a.head.Load() }
func (a *Array) Tail() uint64 { return a.tail.Load() }

// Size is head - tail modulo 2^64.
func (a *Array) Size() uint64 {
	return a.head.Load() - a.tail.Load()
}

func (a *Array) IsEmpty() bool {
	return a.head.Load() == a.tail.Load()
}

// IsFull always reports false. The index space wraps instead of filling up.
func (a *Array) IsFull() bool { return false }

// Get returns a copy of the record at index.
func (a *Array) Get(index uint64) ([]byte, error) {
	var out []byte
	err := a.View(func(r *Reader) (err error) {
		out, err = r.Get(index)
		return err
	})
	return out, err
}

// Timestamp returns the append time of the record at index, at millisecond
// precision.
func (a *Array) Timestamp(index uint64) (time.Time, error) {
	var ts time.Time
	err := a.View(func(r *Reader) (err error) {
		ts, err = r.Timestamp(index)
		return err
	})
	return ts, err
}

func (a *Array) ItemLength(index uint64) (int, error) {
	var n int
	err := a.View(func(r *Reader) (err error) {
		n, err = r.ItemLength(index)
		return err
	})
	return n, err
}

// FindClosestIndex returns the index whose timestamp is closest to t.
func (a *Array) FindClosestIndex(t time.Time) (uint64, error) {
	var index uint64
	err := a.View(func(r *Reader) (err error) {
		index, err = r.FindClosestIndex(t)
		return err
	})
	return index, err
}

// BackFileSize is the total size of the index and data page files.
func (a *Array) BackFileSize() (int64, error) {
	var n int64
	err := a.View(func(r *Reader) (err error) {
		n, err = r.BackFileSize()
		return err
	})
	return n, err
}

func (a *Array) RemoveBeforeIndex(index uint64) error {
	return a.Update(func(w *Writer) error { return w.RemoveBeforeIndex(index) })
}

func (a *Array) RemoveBefore(t time.Time) error {
	return a.Update(func(w *Writer) error { return w.RemoveBefore(t) })
}

func (a *Array) LimitBackFileSize(limit int64) error {
	return a.Update(func(w *Writer) error { return w.LimitBackFileSize(limit) })
}

func (a *Array) RemoveAll() error {
	return a.Update(func(w *Writer) error { return w.RemoveAll() })
}

// Flush msyncs the metadata, index and data pages that are dirty.
func (a *Array) Flush() error {
	return a.View(func(r *Reader) error { return r.a.flush() })
}

// Close releases every mapped page. Further calls return ErrClosed.
func (a *Array) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	a.metaPages.Release(0)
	err := errors.Join(
		a.metaPages.ReleaseCached(),
		a.indexPages.ReleaseCached(),
		a.dataPages.ReleaseCached(),
	)
	util.Info("array: closed %s", a.dir)
	return err
}

// Reader exposes read operations to code already holding the array's
// shared lock through View.
type Reader struct {
	a *Array
}

func (r *Reader) Head() uint64  { return r.a.head.Load() }
func (r *Reader) Tail() uint64  { return r.a.tail.Load() }
func (r *Reader) Size() uint64  { return r.a.Size() }
func (r *Reader) IsEmpty() bool { return r.a.IsEmpty() }

func (r *Reader) Validate(index uint64) error { return r.a.validate(index) }

func (r *Reader) Get(index uint64) ([]byte, error) { return r.a.get(index) }

func (r *Reader) Timestamp(index uint64) (time.Time, error) {
	item, err := r.a.validItem(index)
	if err != nil {
		return time.Time{}, err
	}
	return item.Time(), nil
}

func (r *Reader) ItemLength(index uint64) (int, error) {
	item, err := r.a.validItem(index)
	if err != nil {
		return 0, err
	}
	return int(item.Length), nil
}

func (r *Reader) FindClosestIndex(t time.Time) (uint64, error) {
	return r.a.findClosestIndex(t)
}

func (r *Reader) BackFileSize() (int64, error) { return r.a.backFileSize() }

// Writer exposes truncation to code already holding the array exclusively
// through Update.
type Writer struct {
	Reader
}

func (w *Writer) RemoveBeforeIndex(index uint64) error { return w.a.removeBeforeIndex(index, "index") }
func (w *Writer) RemoveBefore(t time.Time) error       { return w.a.removeBefore(t) }
func (w *Writer) LimitBackFileSize(limit int64) error  { return w.a.limitBackFileSize(limit) }
func (w *Writer) RemoveAll() error                     { return w.a.removeAll() }
