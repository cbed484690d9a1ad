package metrics

import (
	"fmt"
	"net/http"

	"github.com/downfa11-org/bigqueue/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(RecordsAppended, BytesAppended, RecordsDequeued, AppendLatency)
	prometheus.MustRegister(PagesMapped, PagesEvicted, Truncations, BackFileBytes, QueueSize)
}

func StartMetricsServer(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		util.Info("Prometheus exporter listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			util.Error("failed to start metrics server: %v", err)
		}
	}()
}
