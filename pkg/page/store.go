// Package page maps fixed-size backing files into memory on demand and keeps
// the open mappings in a ttl/reference-counted cache.
package page

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/downfa11-org/bigqueue/pkg/cache"
	"github.com/downfa11-org/bigqueue/pkg/metrics"
	"github.com/downfa11-org/bigqueue/util"
	"golang.org/x/sys/unix"
)

const (
	FilePrefix = "page-"
	FileSuffix = ".dat"
)

var (
	deleteRetries    = 10
	deleteRetryDelay = 200 * time.Millisecond
)

type mapCall struct {
	done chan struct{}
	err  error
}

// Store hands out pages of one size from one directory.
type Store struct {
	pageSize   int
	dir        string
	ttl        time.Duration
	sequential bool
	now        func() time.Time

	cache *cache.Cache[uint64, *Page]

	mu       sync.Mutex
	inflight map[uint64]*mapCall
}

type Option func(*Store)

// WithClock sets the clock used for cache ttl bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithSequentialAccess hints the kernel that pages are read front to back.
func WithSequentialAccess() Option {
	return func(s *Store) {
		s.sequential = true
	}
}

func NewStore(pageSize int, dir string, ttl time.Duration, opts ...Option) (*Store, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	s := &Store{
		pageSize: pageSize,
		dir:      filepath.Clean(dir),
		ttl:      ttl,
		now:      time.Now,
		inflight: make(map[uint64]*mapCall),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create page dir %s: %w", s.dir, err)
	}
	s.cache = cache.New(
		cache.WithClock[uint64, *Page](s.now),
		cache.WithEvictHook[uint64, *Page](func(n int) { metrics.PagesEvicted.Add(float64(n)) }),
	)
	return s, nil
}

func (s *Store) PageSize() int { return s.pageSize }
func (s *Store) Dir() string   { return s.dir }

// Acquire returns the page for index, mapping it if needed. Every successful
// Acquire must be paired with a Release.
func (s *Store) Acquire(index uint64) (*Page, error) {
	for {
		if p, ok := s.cache.Get(index); ok {
			return p, nil
		}

		s.mu.Lock()
		if call, ok := s.inflight[index]; ok {
			s.mu.Unlock()
			<-call.done
			if call.err != nil {
				return nil, call.err
			}
			continue
		}
		call := &mapCall{done: make(chan struct{})}
		s.inflight[index] = call
		s.mu.Unlock()

		p, ok := s.cache.Get(index)
		var err error
		if !ok {
			p, err = s.mapPage(index)
			if err == nil {
				s.cache.Put(index, p, s.ttl)
				util.Debug("page: mapped %s and cached it", p.path)
			}
		}

		s.mu.Lock()
		delete(s.inflight, index)
		s.mu.Unlock()
		call.err = err
		close(call.done)

		return p, err
	}
}

func (s *Store) mapPage(index uint64) (*Page, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create page dir %s: %w", s.dir, err)
	}
	path := s.FileName(index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open page file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			util.Error("failed to close page file %s: %v", path, err)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat page file: %w", err)
	}
	if info.Size() < int64(s.pageSize) {
		if err := f.Truncate(int64(s.pageSize)); err != nil {
			return nil, fmt.Errorf("grow page file %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, s.pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	if s.sequential {
		adviseSequential(f, data)
	}
	metrics.PagesMapped.Inc()

	return &Page{
		index: index,
		path:  path,
		size:  s.pageSize,
		data:  data,
	}, nil
}

// Release unpins a page previously returned by Acquire.
func (s *Store) Release(index uint64) {
	s.cache.Release(index)
}

func (s *Store) FileName(index uint64) string {
	return filepath.Join(s.dir, FilePrefix+strconv.FormatUint(index, 10)+FileSuffix)
}

// Delete evicts the page and removes its file. Removal is retried a few
// times; when every attempt fails the file is left behind and logged.
func (s *Store) Delete(index uint64) error {
	closeErr := s.cache.Remove(index)
	path := s.FileName(index)

	var err error
	for round := 1; round <= deleteRetries; round++ {
		err = os.Remove(path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			util.Debug("page: file %s was just deleted", path)
			return closeErr
		}
		util.Debug("page: fail to delete %s, tried round = %d: %v", path, round, err)
		time.Sleep(deleteRetryDelay)
	}
	util.Warn("page: fail to delete %s after %d rounds, you may delete it manually: %v", path, deleteRetries, err)
	return closeErr
}

func (s *Store) DeletePages(indices []uint64) error {
	var errs []error
	for _, index := range indices {
		if err := s.Delete(index); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteAll closes every cached page and removes every page file.
func (s *Store) DeleteAll() error {
	closeErr := s.cache.RemoveAll()
	s.cache.Wait()
	indices, err := s.Indices()
	if err != nil {
		return errors.Join(closeErr, err)
	}
	return errors.Join(closeErr, s.DeletePages(indices))
}

// DeleteBeforeIndex removes every existing page whose index is below pageIndex.
func (s *Store) DeleteBeforeIndex(pageIndex uint64) error {
	indices, err := s.Indices()
	if err != nil {
		return err
	}
	var stale []uint64
	for _, index := range indices {
		if index < pageIndex {
			stale = append(stale, index)
		}
	}
	return s.DeletePages(stale)
}

func (s *Store) readDir() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}

// ParseIndex recovers the page index encoded in a page file name.
func ParseIndex(name string) (uint64, bool) {
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileSuffix) {
		return 0, false
	}
	n := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileSuffix)
	index, err := strconv.ParseUint(n, 10, 64)
	if err != nil {
		return 0, false
	}
	return index, true
}

// Indices lists the page indices that have a backing file, ascending.
func (s *Store) Indices() ([]uint64, error) {
	return s.indicesWhere(func(os.FileInfo) bool { return true })
}

// IndicesBefore lists pages whose file was last modified before t, ascending.
func (s *Store) IndicesBefore(t time.Time) ([]uint64, error) {
	return s.indicesWhere(func(info os.FileInfo) bool { return info.ModTime().Before(t) })
}

func (s *Store) indicesWhere(keep func(os.FileInfo) bool) ([]uint64, error) {
	entries, err := s.readDir()
	if err != nil {
		return nil, err
	}
	var out []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		index, ok := ParseIndex(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if keep(info) {
			out = append(out, index)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FirstIndexBefore returns the greatest page index whose file was last
// modified before t.
func (s *Store) FirstIndexBefore(t time.Time) (uint64, bool, error) {
	indices, err := s.IndicesBefore(t)
	if err != nil || len(indices) == 0 {
		return 0, false, err
	}
	return indices[len(indices)-1], true, nil
}

// BackFileSize sums the sizes of every page file on disk.
func (s *Store) BackFileSize() (int64, error) {
	entries, err := s.readDir()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if _, ok := ParseIndex(e.Name()); !ok || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// Flush msyncs every cached dirty page.
func (s *Store) Flush() error {
	var errs []error
	for _, p := range s.cache.Values() {
		if err := p.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReleaseCached closes every cached page without touching the files.
func (s *Store) ReleaseCached() error {
	err := s.cache.RemoveAll()
	s.cache.Wait()
	return err
}

func (s *Store) CacheSize() int {
	return s.cache.Len()
}

func (s *Store) inflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}
