package bench_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downfa11-org/bigqueue/pkg/bench"
	"github.com/downfa11-org/bigqueue/pkg/types"
)

func TestBenchmarkRunner_Run(t *testing.T) {
	runner := bench.NewBenchmarkRunner(t.TempDir(), "bench", 4, 3, 250, 64, types.MinDataPageSize)

	res, err := runner.Run()
	require.NoError(t, err)
	assert.Equal(t, 1000, res.Produced)
	assert.Equal(t, 3000, res.Consumed)
	assert.Greater(t, res.Throughput(), 0.0)
}
