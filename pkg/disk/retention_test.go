package disk_test

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downfa11-org/bigqueue/pkg/disk"
	"github.com/downfa11-org/bigqueue/pkg/metrics"
	"github.com/downfa11-org/bigqueue/pkg/types"
)

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}

func TestDiskManager_EnforceRetention(t *testing.T) {
	tests := []struct {
		name           string
		retentionBytes int64
		policy         string
		wantTail       uint64
	}{
		{
			name:           "RetentionBytes_OldRecordsDropped",
			retentionBytes: types.IndexPageSize + types.MinDataPageSize,
			policy:         "delete",
			wantTail:       3,
		},
		{
			name:           "Unbounded_NothingDropped",
			retentionBytes: -1,
			policy:         "delete",
			wantTail:       0,
		},
		{
			name:           "PolicyNone_StillBoundedBySize",
			retentionBytes: types.IndexPageSize + types.MinDataPageSize,
			policy:         "none",
			wantTail:       3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newConfig(t)
			cfg.RetentionBytes = tt.retentionBytes
			cfg.CleanupPolicy = tt.policy
			dm := disk.NewDiskManager(cfg)
			defer func() { _ = dm.CloseAllQueues() }()

			q, err := dm.GetQueue("retained")
			require.NoError(t, err)
			// three 10 MiB records fit in one 32 MiB data page
			for i := 0; i < 5; i++ {
				_, err := q.Enqueue(bytes.Repeat([]byte{byte('a' + i)}, 10<<20))
				require.NoError(t, err)
			}

			require.NoError(t, dm.EnforceRetention())
			assert.Equal(t, tt.wantTail, q.TailIndex())
			assert.Equal(t, float64(5-tt.wantTail), gaugeValue(metrics.QueueSize.WithLabelValues("retained")))

			size, err := q.BackFileSize()
			require.NoError(t, err)
			assert.Equal(t, float64(size), gaugeValue(metrics.BackFileBytes.WithLabelValues("retained")))
		})
	}
}
