package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"

	"github.com/downfa11-org/bigqueue/pkg/inspect"
)

func main() {
	records := pflag.Int("records", 0, "print up to N records from the tail")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: qdump [--records N] <queue dir>\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}
	dir := pflag.Arg(0)

	s, err := inspect.Summarize(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}

	fmt.Printf("queue : %s\n", s.Dir)
	fmt.Printf("tail  : %d\n", s.Meta.Tail)
	fmt.Printf("head  : %d\n", s.Meta.Head)
	fmt.Printf("size  : %d\n", s.Meta.Size())
	fmt.Printf("pages : %d index, %d data\n", s.Pages.Index, s.Pages.Data)

	ids := make([]string, 0, len(s.Fronts))
	for id := range s.Fronts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		front := s.Fronts[id]
		fmt.Printf("fanout %s: front=%d pending=%d\n", id, front, s.Meta.Head-front)
	}

	index := s.Meta.Tail
	for i := 0; i < *records && index != s.Meta.Head; i++ {
		item, err := inspect.ReadIndexItem(dir, index)
		if err != nil {
			fmt.Fprintln(os.Stderr, "❌", err)
			os.Exit(1)
		}
		data, err := inspect.ReadRecord(dir, index)
		if err != nil {
			fmt.Fprintln(os.Stderr, "❌", err)
			os.Exit(1)
		}
		fmt.Printf("#%d page=%d offset=%d len=%d at %s: %q\n",
			index, item.DataPageIndex, item.DataOffset, item.Length, item.Time().UTC().Format("2006-01-02T15:04:05.000Z"), data)
		index++
	}
}
