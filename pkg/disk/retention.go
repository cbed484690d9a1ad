package disk

import (
	"errors"
	"fmt"
	"time"

	"github.com/downfa11-org/bigqueue/pkg/fanout"
	"github.com/downfa11-org/bigqueue/pkg/metrics"
	"github.com/downfa11-org/bigqueue/util"
)

// EnforceRetention trims every open queue by age when the cleanup policy is
// delete, and by size when retention bytes is set.
func (dm *DiskManager) EnforceRetention() error {
	var errs []error
	for _, q := range dm.openQueues() {
		if err := dm.enforce(q); err != nil {
			errs = append(errs, fmt.Errorf("retention %s: %w", q.Name(), err))
		}
		dm.updateGauges(q)
	}
	return errors.Join(errs...)
}

func (dm *DiskManager) enforce(q *fanout.Queue) error {
	if dm.cfg.CleanupPolicy == "delete" && dm.cfg.RetentionHours > 0 {
		cutoff := time.Now().Add(-time.Duration(dm.cfg.RetentionHours) * time.Hour)
		if err := q.RemoveBefore(cutoff); err != nil {
			return err
		}
	}
	if dm.cfg.RetentionBytes > 0 {
		if err := q.LimitBackFileSize(dm.cfg.RetentionBytes); err != nil {
			return err
		}
	}
	return nil
}

func (dm *DiskManager) updateGauges(q *fanout.Queue) {
	metrics.QueueSize.WithLabelValues(q.Name()).Set(float64(q.TotalSize()))
	size, err := q.BackFileSize()
	if err != nil {
		util.Debug("Retention: back file size of %s: %v", q.Name(), err)
		return
	}
	metrics.BackFileBytes.WithLabelValues(q.Name()).Set(float64(size))
}

func (dm *DiskManager) retentionLoop() {
	interval := dm.cfg.RetentionCheckInterval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := dm.EnforceRetention(); err != nil {
				util.Error("Retention pass failed: %v", err)
			}
		case <-dm.done:
			return
		}
	}
}
