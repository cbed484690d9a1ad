package types

import (
	"encoding/binary"
	"math"
	"time"
)

// On-disk layout shared by the array, the fan-out fronts and the read-only
// inspector. Every integer is big-endian.
const (
	IndexItemSize         = 32
	IndexItemsPerPageBits = 17
	IndexItemsPerPage     = 1 << IndexItemsPerPageBits
	IndexPageSize         = IndexItemSize * IndexItemsPerPage

	MetaPageSize  = 16
	FrontPageSize = 8

	DefaultDataPageSize = 128 * 1024 * 1024
	MinDataPageSize     = 32 * 1024 * 1024

	// DataOffset and Length are stored as uint32 and page offsets are int.
	MaxDataPageSize = math.MaxInt32
)

// Directory names under an array or fan-out queue directory.
const (
	IndexDir       = "index"
	DataDir        = "data"
	MetaDir        = "meta_data"
	FrontDirPrefix = "front_index_"
)

// byte offsets inside an index item
const (
	itemDataPageOffset   = 0
	itemDataOffsetOffset = 8
	itemLengthOffset     = 12
	itemTimestampOffset  = 16
)

// IndexItem locates one record in the data pages. The last 8 bytes of each
// 32-byte slot are reserved and written as zero.
type IndexItem struct {
	DataPageIndex uint64
	DataOffset    uint32
	Length        uint32
	Timestamp     int64 // unix millis
}

func (it IndexItem) Time() time.Time {
	return time.UnixMilli(it.Timestamp)
}

// MarshalTo writes the item into b, which must hold IndexItemSize bytes.
func (it IndexItem) MarshalTo(b []byte) {
	_ = b[IndexItemSize-1]
	binary.BigEndian.PutUint64(b[itemDataPageOffset:], it.DataPageIndex)
	binary.BigEndian.PutUint32(b[itemDataOffsetOffset:], it.DataOffset)
	binary.BigEndian.PutUint32(b[itemLengthOffset:], it.Length)
	binary.BigEndian.PutUint64(b[itemTimestampOffset:], uint64(it.Timestamp))
	clear(b[itemTimestampOffset+8 : IndexItemSize])
}

func UnmarshalIndexItem(b []byte) IndexItem {
	_ = b[IndexItemSize-1]
	return IndexItem{
		DataPageIndex: binary.BigEndian.Uint64(b[itemDataPageOffset:]),
		DataOffset:    binary.BigEndian.Uint32(b[itemDataOffsetOffset:]),
		Length:        binary.BigEndian.Uint32(b[itemLengthOffset:]),
		Timestamp:     int64(binary.BigEndian.Uint64(b[itemTimestampOffset:])),
	}
}

// IndexPageOf returns the index page holding the item for index.
func IndexPageOf(index uint64) uint64 {
	return index >> IndexItemsPerPageBits
}

// IndexSlotOffset returns the byte offset of index's item inside its page.
func IndexSlotOffset(index uint64) int {
	return int(index&(IndexItemsPerPage-1)) * IndexItemSize
}

// Meta is the persisted head/tail pair of an array.
type Meta struct {
	Head uint64
	Tail uint64
}

func (m Meta) MarshalTo(b []byte) {
	_ = b[MetaPageSize-1]
	binary.BigEndian.PutUint64(b[0:], m.Head)
	binary.BigEndian.PutUint64(b[8:], m.Tail)
}

func UnmarshalMeta(b []byte) Meta {
	_ = b[MetaPageSize-1]
	return Meta{
		Head: binary.BigEndian.Uint64(b[0:]),
		Tail: binary.BigEndian.Uint64(b[8:]),
	}
}

// Size is the number of records between tail and head, modulo 2^64.
func (m Meta) Size() uint64 {
	return m.Head - m.Tail
}
