package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/downfa11-org/bigqueue/pkg/array"
	"github.com/downfa11-org/bigqueue/pkg/config"
	"github.com/downfa11-org/bigqueue/pkg/fanout"
	"github.com/downfa11-org/bigqueue/pkg/types"
	"github.com/downfa11-org/bigqueue/util"
)

type DiskManager struct {
	mu     sync.Mutex
	queues map[string]*fanout.Queue
	cfg    *config.Config

	done      chan struct{}
	closeOnce sync.Once
	shutdown  sync.WaitGroup
}

func NewDiskManager(cfg *config.Config) *DiskManager {
	return &DiskManager{
		queues: make(map[string]*fanout.Queue),
		cfg:    cfg,
		done:   make(chan struct{}),
	}
}

// Start opens the static queues and launches the retention and flush loops.
func (dm *DiskManager) Start() error {
	for _, sq := range dm.cfg.StaticQueues {
		q, err := dm.GetQueue(sq.Name)
		if err != nil {
			return fmt.Errorf("open static queue %s: %w", sq.Name, err)
		}
		for _, id := range sq.FanoutIDs {
			if _, err := q.Size(id); err != nil {
				return fmt.Errorf("open fan-out %s/%s: %w", sq.Name, id, err)
			}
		}
	}

	dm.shutdown.Add(1)
	go func() {
		defer dm.shutdown.Done()
		dm.retentionLoop()
	}()
	if dm.cfg.FlushIntervalMS > 0 {
		dm.shutdown.Add(1)
		go func() {
			defer dm.shutdown.Done()
			dm.flushLoop()
		}()
	}
	return nil
}

// GetQueue returns the queue with the given name, opening or creating it.
func (dm *DiskManager) GetQueue(name string) (types.QueueHandler, error) {
	q, err := dm.getQueue(name)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (dm *DiskManager) getQueue(name string) (*fanout.Queue, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if q, ok := dm.queues[name]; ok {
		return q, nil
	}
	if err := util.ValidateName(name); err != nil {
		return nil, err
	}

	queueDir := filepath.Join(dm.cfg.QueueDir, name)
	desc, ok, err := ReadDescriptor(queueDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		desc = Descriptor{Name: name, DataPageSize: dm.cfg.DataPageSize, CreatedAt: time.Now().UTC()}
		if err := WriteDescriptor(queueDir, desc); err != nil {
			return nil, fmt.Errorf("write descriptor of %s: %w", name, err)
		}
		util.Info("Created queue %s (data page size %d)", name, desc.DataPageSize)
	} else if desc.DataPageSize != dm.cfg.DataPageSize {
		util.Warn("Queue %s keeps its data page size %d (configured %d)", name, desc.DataPageSize, dm.cfg.DataPageSize)
	}

	q, err := fanout.Open(dm.cfg.QueueDir, name,
		array.WithDataPageSize(desc.DataPageSize),
		array.WithPageTTL(dm.cfg.PageCacheTTL()),
	)
	if err != nil {
		return nil, err
	}
	dm.queues[name] = q
	return q, nil
}

// ListQueues returns the names of every queue under the queue directory,
// open or not.
func (dm *DiskManager) ListQueues() ([]string, error) {
	entries, err := os.ReadDir(dm.cfg.QueueDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(DescriptorPath(filepath.Join(dm.cfg.QueueDir, e.Name()))); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (dm *DiskManager) openQueues() []*fanout.Queue {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	out := make([]*fanout.Queue, 0, len(dm.queues))
	for _, q := range dm.queues {
		out = append(out, q)
	}
	return out
}

// FlushAll msyncs every open queue.
func (dm *DiskManager) FlushAll() error {
	var errs []error
	for _, q := range dm.openQueues() {
		if err := q.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", q.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (dm *DiskManager) flushLoop() {
	ticker := time.NewTicker(dm.cfg.FlushInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := dm.FlushAll(); err != nil {
				util.Error("Periodic flush failed: %v", err)
			}
		case <-dm.done:
			return
		}
	}
}

// CloseAllQueues stops the background loops and closes every open queue.
func (dm *DiskManager) CloseAllQueues() error {
	dm.closeOnce.Do(func() { close(dm.done) })
	dm.shutdown.Wait()

	dm.mu.Lock()
	defer dm.mu.Unlock()

	var errs []error
	for name, q := range dm.queues {
		util.Debug("Closing queue %s", name)
		if err := q.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(dm.queues, name)
	}
	return errors.Join(errs...)
}
