package array

import (
	"math"
	"time"
)

// findClosestIndex binary-searches the valid range by timestamp. When the
// range wraps past the top of the index space both halves are searched and
// the closer result wins.
func (a *Array) findClosestIndex(t time.Time) (uint64, error) {
	target := t.UnixMilli()
	tail, head := a.tail.Load(), a.head.Load()
	if tail == head {
		return 0, ErrNotFound
	}
	last := head - 1
	if tail <= last {
		return a.closestIn(tail, last, target)
	}

	low, err := a.closestIn(0, last, target)
	if err != nil {
		return 0, err
	}
	high, err := a.closestIn(tail, math.MaxUint64, target)
	if err != nil {
		return 0, err
	}
	lowTs, err := a.timestampMillis(low)
	if err != nil {
		return 0, err
	}
	highTs, err := a.timestampMillis(high)
	if err != nil {
		return 0, err
	}
	if absDiff(lowTs, target) < absDiff(highTs, target) {
		return low, nil
	}
	return high, nil
}

func (a *Array) closestIn(low, high uint64, target int64) (uint64, error) {
	found, err := a.binarySearch(low, high, target)
	if err != nil {
		return 0, err
	}
	return a.nearestNeighbour(found, target)
}

func (a *Array) binarySearch(low, high uint64, target int64) (uint64, error) {
	for {
		mid := low + (high-low)/2
		ts, err := a.timestampMillis(mid)
		if err != nil {
			return 0, err
		}
		switch {
		case ts < target:
			if mid == math.MaxUint64 || mid+1 >= high {
				return high, nil
			}
			low = mid + 1
		case ts > target:
			if mid == 0 || mid-1 <= low {
				return low, nil
			}
			high = mid - 1
		default:
			return mid, nil
		}
	}
}

// nearestNeighbour settles the search's off-by-one: the answer is the
// candidate itself or one of its valid neighbours.
func (a *Array) nearestNeighbour(index uint64, target int64) (uint64, error) {
	best := index
	bestTs, err := a.timestampMillis(index)
	if err != nil {
		return 0, err
	}
	for _, n := range [2]uint64{index - 1, index + 1} {
		if a.validate(n) != nil {
			continue
		}
		ts, err := a.timestampMillis(n)
		if err != nil {
			return 0, err
		}
		if absDiff(ts, target) < absDiff(bestTs, target) {
			best, bestTs = n, ts
		}
	}
	return best, nil
}

func (a *Array) timestampMillis(index uint64) (int64, error) {
	item, err := a.indexItem(index)
	if err != nil {
		return 0, err
	}
	return item.Timestamp, nil
}

func absDiff(x, y int64) uint64 {
	if x > y {
		return uint64(x) - uint64(y)
	}
	return uint64(y) - uint64(x)
}
