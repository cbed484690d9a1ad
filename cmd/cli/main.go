package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/downfa11-org/bigqueue/pkg/config"
	"github.com/downfa11-org/bigqueue/pkg/controller"
	"github.com/downfa11-org/bigqueue/pkg/disk"
	"github.com/downfa11-org/bigqueue/pkg/metrics"
)

var commands = []string{
	"CREATE", "LIST", "ENQUEUE", "DEQUEUE", "PEEK", "SIZE", "SEEK", "FANOUT",
	"STATUS", "TRUNCATE", "LIMIT", "WIPE", "FLUSH", "HELP", "EXIT",
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".bigqueue_history")
}

func completer(line string) []string {
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, strings.ToUpper(line)) {
			out = append(out, c+" ")
		}
	}
	return out
}

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Println("❌ Failed to load config:", err)
		os.Exit(1)
	}

	dm := disk.NewDiskManager(cfg)
	if err := dm.Start(); err != nil {
		fmt.Println("❌ Failed to start disk manager:", err)
		os.Exit(1)
	}
	defer func() {
		if err := dm.CloseAllQueues(); err != nil {
			fmt.Println("⚠️ Failed to close queues:", err)
		}
	}()

	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	}

	ctx := controller.NewClientContext("")
	ch := controller.NewCommandHandler(dm, cfg)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completer)
	if f, err := os.Open(historyFile()); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Printf("🔹 Queues under %s ready. Consuming as %s. Type HELP for commands.\n", cfg.QueueDir, ctx.FanoutID)
	fmt.Println("")

	for {
		input, err := line.Prompt("bigqueue> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				fmt.Println("⚠️ Read failed:", err)
			}
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if strings.EqualFold(input, "EXIT") {
			break
		}
		fmt.Println(ch.HandleCommand(input, ctx))
	}

	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}
}
