package types

import "time"

// Sentinel times for FindClosestIndex: Latest resolves to the head and
// Earliest to the tail, whatever the record timestamps.
var (
	Latest   = time.UnixMilli(LatestMillis)
	Earliest = time.UnixMilli(EarliestMillis)
)

const (
	LatestMillis   int64 = -1
	EarliestMillis int64 = -2
)

// QueueHandler is what the disk manager hands out and the command
// controller drives. A fan-out queue satisfies it.
type QueueHandler interface {
	Name() string
	Enqueue(data []byte) (uint64, error)
	Dequeue(fanoutID string) ([]byte, error)
	Peek(fanoutID string) ([]byte, error)
	PeekLength(fanoutID string) (int, error)
	PeekTimestamp(fanoutID string) (time.Time, error)
	Size(fanoutID string) (uint64, error)
	IsEmpty(fanoutID string) (bool, error)
	FrontIndex(fanoutID string) (uint64, error)
	ResetQueueFrontIndex(fanoutID string, index uint64) error
	IDs() []string

	TotalSize() uint64
	TailIndex() uint64
	RearIndex() uint64
	FindClosestIndex(t time.Time) (uint64, error)
	RemoveBeforeIndex(index uint64) error
	RemoveBefore(t time.Time) error
	LimitBackFileSize(limit int64) error
	BackFileSize() (int64, error)
	RemoveAll() error

	Flush() error
	Close() error
}
