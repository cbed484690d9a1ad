package metrics_test

import (
	"testing"

	"github.com/downfa11-org/bigqueue/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}

func getHistogramCount(h prometheus.Histogram) uint64 {
	m := &dto.Metric{}
	_ = h.Write(m)
	return m.GetHistogram().GetSampleCount()
}

func TestObserveAppend(t *testing.T) {
	initialRecords := getCounterValue(metrics.RecordsAppended)
	initialBytes := getCounterValue(metrics.BytesAppended)
	initialLatency := getHistogramCount(metrics.AppendLatency)

	metrics.ObserveAppend(5, 0.001)
	metrics.ObserveAppend(7, 0.002)

	if got := getCounterValue(metrics.RecordsAppended); got != initialRecords+2 {
		t.Fatalf("RecordsAppended expected %v, got %v", initialRecords+2, got)
	}
	if got := getCounterValue(metrics.BytesAppended); got != initialBytes+12 {
		t.Fatalf("BytesAppended expected %v, got %v", initialBytes+12, got)
	}
	if got := getHistogramCount(metrics.AppendLatency); got != initialLatency+2 {
		t.Fatalf("AppendLatency count expected %v, got %v", initialLatency+2, got)
	}
}

func TestQueueGauges(t *testing.T) {
	metrics.BackFileBytes.WithLabelValues("orders").Set(1024)
	metrics.QueueSize.WithLabelValues("orders").Set(3)

	if got := getGaugeValue(metrics.BackFileBytes.WithLabelValues("orders")); got != 1024 {
		t.Fatalf("BackFileBytes expected 1024, got %v", got)
	}
	if got := getGaugeValue(metrics.QueueSize.WithLabelValues("orders")); got != 3 {
		t.Fatalf("QueueSize expected 3, got %v", got)
	}
}
