package fanout

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/downfa11-org/bigqueue/pkg/array"
	"github.com/downfa11-org/bigqueue/pkg/page"
	"github.com/downfa11-org/bigqueue/pkg/types"
)

const FrontPageTTL = 10 * time.Second

// front is one fan-out id's read cursor, persisted in its own 8-byte page.
type front struct {
	id    string
	store *page.Store
	page  *page.Page // pinned until close

	mu    sync.Mutex
	index uint64
}

func FrontDir(arrayDir, id string) string {
	return filepath.Join(arrayDir, types.FrontDirPrefix+id)
}

func openFront(a *array.Array, id string) (*front, error) {
	store, err := page.NewStore(types.FrontPageSize, FrontDir(a.Dir(), id), FrontPageTTL, page.WithClock(a.Clock()))
	if err != nil {
		return nil, err
	}
	p, err := store.Acquire(0)
	if err != nil {
		return nil, fmt.Errorf("fanout: map front page of %s: %w", id, err)
	}
	index, err := p.Uint64At(0)
	if err != nil {
		store.Release(0)
		return nil, errors.Join(err, store.ReleaseCached())
	}
	return &front{id: id, store: store, page: p, index: index}, nil
}

// set moves the cursor and persists it. Caller holds f.mu.
func (f *front) set(index uint64) error {
	if err := f.page.PutUint64At(0, index); err != nil {
		return fmt.Errorf("fanout: persist front of %s: %w", f.id, err)
	}
	f.index = index
	return nil
}

// revalidate snaps the cursor to the tail when it is outside [tail, head].
// Caller holds f.mu.
func (f *front) revalidate(r *array.Reader) error {
	tail, head := r.Tail(), r.Head()
	if f.index-tail <= head-tail {
		return nil
	}
	return f.set(tail)
}

func (f *front) flush() error {
	return f.page.Flush()
}

func (f *front) close() error {
	f.store.Release(0)
	return f.store.ReleaseCached()
}
