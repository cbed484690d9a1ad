package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RecordsAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bigqueue_records_appended_total",
		Help: "Total number of records appended to big arrays",
	})

	BytesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bigqueue_bytes_appended_total",
		Help: "Total payload bytes appended to big arrays",
	})

	RecordsDequeued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigqueue_records_dequeued_total",
			Help: "Total number of records dequeued per queue, summed over its fan-out ids",
		},
		[]string{"queue"},
	)

	AppendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bigqueue_append_latency_seconds",
		Help:    "Histogram of append latency",
		Buckets: prometheus.DefBuckets,
	})

	PagesMapped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bigqueue_pages_mapped_total",
		Help: "Total number of page files mapped into memory",
	})

	PagesEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bigqueue_pages_evicted_total",
		Help: "Total number of mapped pages evicted by mark and sweep",
	})

	Truncations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigqueue_truncations_total",
			Help: "Total number of tail truncations by reason",
		},
		[]string{"reason"}, // index, time, size, wipe
	)

	BackFileBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bigqueue_back_file_bytes",
			Help: "Bytes of index and data page files on disk per queue",
		},
		[]string{"queue"},
	)

	QueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bigqueue_queue_size",
			Help: "Records between tail and head per queue",
		},
		[]string{"queue"},
	)
)

// ObserveAppend records one successful append.
func ObserveAppend(size int, elapsedSeconds float64) {
	RecordsAppended.Inc()
	BytesAppended.Add(float64(size))
	AppendLatency.Observe(elapsedSeconds)
}
