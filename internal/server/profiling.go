package server

import (
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistrar serves the Prometheus registry on /metrics.
type MetricsRegistrar struct {
	Gatherer prometheus.Gatherer
}

type DebugRegistrar struct{}

func (m *MetricsRegistrar) RegisterRoutes(router Router) {
	gatherer := m.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	metricsGroup := router.Group("/metrics")
	metricsGroup.Handle("", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

func (dr *DebugRegistrar) RegisterRoutes(router Router) {
	debugGroup := router.Group("/debug/pprof")
	debugGroup.HandleFunc("/", pprof.Index)
	debugGroup.HandleFunc("/cmdline", pprof.Cmdline)
	debugGroup.HandleFunc("/profile", pprof.Profile)
	debugGroup.HandleFunc("/trace", pprof.Trace)
	debugGroup.HandleFunc("/symbol", pprof.Symbol)
	debugGroup.Handle("/heap", pprof.Handler("heap"))
	debugGroup.Handle("/goroutine", pprof.Handler("goroutine"))
	debugGroup.Handle("/block", pprof.Handler("block"))
	debugGroup.Handle("/mutex", pprof.Handler("mutex"))
}
