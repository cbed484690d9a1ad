package page

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/downfa11-org/bigqueue/util"
	"golang.org/x/sys/unix"
)

var (
	ErrPageClosed = errors.New("page: closed")
	ErrOutOfRange = errors.New("page: range outside page")
)

// Page is one fixed-size file mapped MAP_SHARED into memory.
//
// Callers never share a position: every access names its own offset and
// length, so goroutines touching disjoint ranges of the same page do not
// interfere. Overlapping writers must be serialized by the caller.
type Page struct {
	index uint64
	path  string
	size  int

	mu     sync.RWMutex // data/closed vs Close
	data   []byte
	closed bool

	dirty atomic.Bool
}

func (p *Page) Index() uint64 { return p.index }
func (p *Page) Path() string  { return p.path }
func (p *Page) Size() int     { return p.size }

func (p *Page) SetDirty(dirty bool) { p.dirty.Store(dirty) }
func (p *Page) Dirty() bool         { return p.dirty.Load() }

func (p *Page) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// View runs fn over data[off:off+n] while the mapping is guaranteed to stay
// alive. fn must not retain the slice.
func (p *Page) View(off, n int, fn func(b []byte) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPageClosed
	}
	if err := p.checkRange(off, n); err != nil {
		return err
	}
	return fn(p.data[off : off+n])
}

// ReadAt copies n bytes starting at off.
func (p *Page) ReadAt(off, n int) ([]byte, error) {
	out := make([]byte, n)
	err := p.View(off, n, func(b []byte) error {
		copy(out, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteAt copies b into the page at off and marks the page dirty.
func (p *Page) WriteAt(b []byte, off int) error {
	err := p.View(off, len(b), func(dst []byte) error {
		copy(dst, b)
		return nil
	})
	if err != nil {
		return err
	}
	p.dirty.Store(true)
	return nil
}

func (p *Page) Uint64At(off int) (uint64, error) {
	var v uint64
	err := p.View(off, 8, func(b []byte) error {
		v = binary.BigEndian.Uint64(b)
		return nil
	})
	return v, err
}

func (p *Page) PutUint64At(off int, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return p.WriteAt(buf[:], off)
}

func (p *Page) checkRange(off, n int) error {
	if off < 0 || n < 0 || off > len(p.data) || n > len(p.data)-off {
		return fmt.Errorf("%w: off=%d len=%d size=%d", ErrOutOfRange, off, n, len(p.data))
	}
	return nil
}

// Flush forces dirty contents to the backing file.
func (p *Page) Flush() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil
	}
	return p.flushLocked()
}

func (p *Page) flushLocked() error {
	if !p.dirty.CompareAndSwap(true, false) {
		return nil
	}
	if err := unix.Msync(p.data, unix.MS_SYNC); err != nil {
		p.dirty.Store(true)
		return fmt.Errorf("msync %s: %w", p.path, err)
	}
	util.Debug("page: flushed %s", p.path)
	return nil
}

// Close flushes and unmaps the page. It is safe to call more than once.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	flushErr := p.flushLocked()
	unmapErr := unix.Munmap(p.data)
	p.data = nil
	p.closed = true
	if unmapErr != nil {
		unmapErr = fmt.Errorf("munmap %s: %w", p.path, unmapErr)
	}
	util.Debug("page: unmapped and closed %s", p.path)
	return errors.Join(flushErr, unmapErr)
}

func (p *Page) String() string {
	return fmt.Sprintf("page %d (%s)", p.index, p.path)
}
