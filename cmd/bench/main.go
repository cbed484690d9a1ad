package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/downfa11-org/bigqueue/pkg/bench"
	"github.com/downfa11-org/bigqueue/pkg/types"
)

func main() {
	dir := pflag.String("dir", "", "queue directory (default: a temporary directory)")
	queueName := pflag.String("queue", "bench-queue", "queue name for benchmark")
	producers := pflag.Int("producers", 4, "number of producers")
	consumers := pflag.Int("consumers", 4, "number of fan-out consumers")
	messages := pflag.Int("messages", 100000, "messages per producer")
	size := pflag.Int("size", 128, "message size in bytes")
	pageSize := pflag.Int("data-page-size", types.DefaultDataPageSize, "data page size in bytes")
	pflag.Parse()

	if *dir == "" {
		tmp, err := os.MkdirTemp("", "bigqueue-bench-")
		if err != nil {
			fmt.Println("❌ Failed to create temp dir:", err)
			os.Exit(1)
		}
		*dir = tmp
		defer os.RemoveAll(tmp)
	}

	runner := bench.NewBenchmarkRunner(*dir, *queueName, *producers, *consumers, *messages, *size, *pageSize)
	res, err := runner.Run()
	runner.Print(res)
	if err != nil {
		fmt.Println("❌ Benchmark failed:", err)
	}
}
