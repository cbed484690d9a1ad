package types_test

import (
	"math"
	"testing"
	"time"

	"github.com/downfa11-org/bigqueue/pkg/types"
)

func TestIndexItemLayout(t *testing.T) {
	item := types.IndexItem{
		DataPageIndex: 7,
		DataOffset:    1024,
		Length:        33,
		Timestamp:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(),
	}
	buf := make([]byte, types.IndexItemSize)
	for i := range buf {
		buf[i] = 0xff
	}
	item.MarshalTo(buf)

	if buf[7] != 7 || buf[0] != 0 {
		t.Fatalf("data page index not big-endian at offset 0: %v", buf[:8])
	}
	if buf[10] != 0x04 || buf[11] != 0x00 {
		t.Fatalf("data offset not at offset 8: %v", buf[8:12])
	}
	if buf[15] != 33 {
		t.Fatalf("length not at offset 12: %v", buf[12:16])
	}
	for i := 24; i < types.IndexItemSize; i++ {
		if buf[i] != 0 {
			t.Fatalf("reserved byte %d not zeroed", i)
		}
	}

	got := types.UnmarshalIndexItem(buf)
	if got != item {
		t.Fatalf("expected %+v, got %+v", item, got)
	}
	if !got.Time().Equal(time.UnixMilli(item.Timestamp)) {
		t.Fatalf("unexpected time %v", got.Time())
	}
}

func TestIndexPagePosition(t *testing.T) {
	tests := []struct {
		index  uint64
		page   uint64
		offset int
	}{
		{0, 0, 0},
		{1, 0, 32},
		{types.IndexItemsPerPage - 1, 0, types.IndexPageSize - types.IndexItemSize},
		{types.IndexItemsPerPage, 1, 0},
		{math.MaxUint64, math.MaxUint64 >> types.IndexItemsPerPageBits, types.IndexPageSize - types.IndexItemSize},
	}
	for _, tt := range tests {
		if p := types.IndexPageOf(tt.index); p != tt.page {
			t.Errorf("IndexPageOf(%d) = %d, want %d", tt.index, p, tt.page)
		}
		if off := types.IndexSlotOffset(tt.index); off != tt.offset {
			t.Errorf("IndexSlotOffset(%d) = %d, want %d", tt.index, off, tt.offset)
		}
	}
}

func TestMetaSizeWraps(t *testing.T) {
	buf := make([]byte, types.MetaPageSize)
	m := types.Meta{Head: 2, Tail: math.MaxUint64 - 1}
	m.MarshalTo(buf)
	got := types.UnmarshalMeta(buf)
	if got != m {
		t.Fatalf("expected %+v, got %+v", m, got)
	}
	if got.Size() != 4 {
		t.Fatalf("expected size 4 across the wrap, got %d", got.Size())
	}
}
