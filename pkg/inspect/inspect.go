// Package inspect reads an array directory without opening it for writing.
// Page files are mapped read-only, so inspecting a live queue does not take
// its locks and may observe a record that is still being appended.
package inspect

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/exp/mmap"

	"github.com/downfa11-org/bigqueue/pkg/page"
	"github.com/downfa11-org/bigqueue/pkg/types"
)

var ErrOutOfBounds = errors.New("inspect: index out of bounds")

// Summary is a snapshot of an array's metadata and fan-out cursors.
type Summary struct {
	Dir    string
	Meta   types.Meta
	Fronts map[string]uint64
	Pages  PageCounts
}

type PageCounts struct {
	Index int
	Data  int
}

func pageFile(dir string, index uint64) string {
	return filepath.Join(dir, page.FilePrefix+strconv.FormatUint(index, 10)+page.FileSuffix)
}

// readAt maps the page file read-only and copies n bytes at off.
func readAt(path string, off int64, n int) ([]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if off < 0 || off+int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("inspect: %s: read [%d, %d) beyond %d bytes", path, off, off+int64(n), r.Len())
	}
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("inspect: read %s: %w", path, err)
	}
	return buf, nil
}

// ReadMeta returns the head and tail stored in the array's metadata page.
func ReadMeta(arrayDir string) (types.Meta, error) {
	b, err := readAt(pageFile(filepath.Join(arrayDir, types.MetaDir), 0), 0, types.MetaPageSize)
	if err != nil {
		return types.Meta{}, err
	}
	return types.UnmarshalMeta(b), nil
}

// ReadFront returns the persisted cursor of a fan-out id.
func ReadFront(arrayDir, id string) (uint64, error) {
	b, err := readAt(pageFile(filepath.Join(arrayDir, types.FrontDirPrefix+id), 0), 0, types.FrontPageSize)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ListFronts returns the fan-out ids that have a cursor directory.
func ListFronts(arrayDir string) ([]string, error) {
	entries, err := os.ReadDir(arrayDir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), types.FrontDirPrefix) {
			ids = append(ids, strings.TrimPrefix(e.Name(), types.FrontDirPrefix))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ReadIndexItem returns the index item of a record between tail and head.
func ReadIndexItem(arrayDir string, index uint64) (types.IndexItem, error) {
	m, err := ReadMeta(arrayDir)
	if err != nil {
		return types.IndexItem{}, err
	}
	if index-m.Tail >= m.Head-m.Tail {
		return types.IndexItem{}, fmt.Errorf("%w: %d not in [%d, %d)", ErrOutOfBounds, index, m.Tail, m.Head)
	}
	return readIndexItem(arrayDir, index)
}

func readIndexItem(arrayDir string, index uint64) (types.IndexItem, error) {
	path := pageFile(filepath.Join(arrayDir, types.IndexDir), types.IndexPageOf(index))
	b, err := readAt(path, int64(types.IndexSlotOffset(index)), types.IndexItemSize)
	if err != nil {
		return types.IndexItem{}, err
	}
	return types.UnmarshalIndexItem(b), nil
}

// ReadRecord returns a copy of the record stored at index.
func ReadRecord(arrayDir string, index uint64) ([]byte, error) {
	item, err := ReadIndexItem(arrayDir, index)
	if err != nil {
		return nil, err
	}
	path := pageFile(filepath.Join(arrayDir, types.DataDir), item.DataPageIndex)
	return readAt(path, int64(item.DataOffset), int(item.Length))
}

func countPages(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if _, ok := page.ParseIndex(e.Name()); ok && !e.IsDir() {
			n++
		}
	}
	return n, nil
}

// Summarize reads the metadata, every fan-out cursor and the page counts.
func Summarize(arrayDir string) (Summary, error) {
	s := Summary{Dir: arrayDir, Fronts: make(map[string]uint64)}
	var err error
	if s.Meta, err = ReadMeta(arrayDir); err != nil {
		return s, err
	}
	ids, err := ListFronts(arrayDir)
	if err != nil {
		return s, err
	}
	for _, id := range ids {
		index, err := ReadFront(arrayDir, id)
		if err != nil {
			return s, fmt.Errorf("inspect: front %s: %w", id, err)
		}
		s.Fronts[id] = index
	}
	if s.Pages.Index, err = countPages(filepath.Join(arrayDir, types.IndexDir)); err != nil {
		return s, err
	}
	if s.Pages.Data, err = countPages(filepath.Join(arrayDir, types.DataDir)); err != nil {
		return s, err
	}
	return s, nil
}
