package array

import (
	"errors"
	"math"
	"time"

	"github.com/downfa11-org/bigqueue/pkg/metrics"
	"github.com/downfa11-org/bigqueue/pkg/types"
	"github.com/downfa11-org/bigqueue/util"
)

// removeBeforeIndex moves the tail to index and deletes every index and
// data page that only holds records before it. The caller holds mu
// exclusively.
func (a *Array) removeBeforeIndex(index uint64, reason string) error {
	if err := a.validate(index); err != nil {
		return err
	}
	item, err := a.indexItem(index)
	if err != nil {
		return err
	}
	oldTail := a.tail.Load()

	if err := a.deleteIndexPagesOutside(index, a.head.Load()-1); err != nil {
		return err
	}
	if item.DataPageIndex > 0 {
		if err := a.dataPages.DeleteBeforeIndex(item.DataPageIndex); err != nil {
			return err
		}
	}

	if err := a.writeMeta(a.head.Load(), index); err != nil {
		return err
	}
	a.tail.Store(index)
	metrics.Truncations.WithLabelValues(reason).Inc()
	util.Debug("array: %s tail moved %d -> %d", a.name, oldTail, index)
	return nil
}

// deleteIndexPagesOutside deletes every index page that holds no index in
// [first, last], where the range may wrap past the top of the index space.
func (a *Array) deleteIndexPagesOutside(first, last uint64) error {
	const pageMask = math.MaxUint64 >> types.IndexItemsPerPageBits
	firstPage, lastPage := types.IndexPageOf(first), types.IndexPageOf(last)
	span := (lastPage - firstPage) & pageMask

	pages, err := a.indexPages.Indices()
	if err != nil {
		return err
	}
	var stale []uint64
	for _, p := range pages {
		if (p-firstPage)&pageMask > span {
			stale = append(stale, p)
		}
	}
	return a.indexPages.DeletePages(stale)
}

// removeBefore drops whole index pages last written before t, keeping the
// newest such page.
func (a *Array) removeBefore(t time.Time) error {
	pageIndex, ok, err := a.indexPages.FirstIndexBefore(t)
	if err != nil || !ok {
		return err
	}
	err = a.removeBeforeIndex(pageIndex<<types.IndexItemsPerPageBits, "time")
	if errors.Is(err, ErrOutOfBounds) {
		return nil
	}
	return err
}

// limitBackFileSize advances the tail until the index and data files fit in
// limit bytes. The newest record is always kept.
func (a *Array) limitBackFileSize(limit int64) error {
	if limit < int64(types.IndexPageSize+a.cfg.dataPageSize) {
		return nil
	}
	size, err := a.backFileSize()
	if err != nil {
		return err
	}
	if size <= limit {
		return nil
	}
	toTruncate := size - limit
	// Less than one data page over: moving the tail could not free a file.
	if toTruncate < int64(a.cfg.dataPageSize) {
		return nil
	}

	tail, head := a.tail.Load(), a.head.Load()
	if tail == head {
		return nil
	}
	var total int64
	for tail != head {
		item, err := a.indexItem(tail)
		if err != nil {
			return err
		}
		total += int64(item.Length)
		if total > toTruncate {
			break
		}
		tail++
		if tail%types.IndexItemsPerPage == 0 {
			total += types.IndexPageSize
		}
	}
	if tail == head {
		tail = head - 1
	}
	if tail == a.tail.Load() {
		return nil
	}
	util.Info("array: %s back files %d bytes over limit %d, truncating to index %d", a.name, size, limit, tail)
	return a.removeBeforeIndex(tail, "size")
}

// removeAll deletes every page file and starts over at index 0.
func (a *Array) removeAll() error {
	a.metaPages.Release(0)
	err := errors.Join(
		a.indexPages.DeleteAll(),
		a.dataPages.DeleteAll(),
		a.metaPages.DeleteAll(),
	)
	// the metadata page is mapped again either way; a fresh one reads as
	// head = tail = 0.
	if loadErr := a.loadMeta(); loadErr != nil {
		return errors.Join(err, loadErr)
	}
	if err != nil {
		return err
	}
	metrics.Truncations.WithLabelValues("wipe").Inc()
	util.Info("array: removed all records of %s", a.name)
	return nil
}
