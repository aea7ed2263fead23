package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "print_bridge"

// Forward results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	ActiveStations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_stations",
		Help:      "Number of station listeners currently bound.",
	})

	ListenerBindErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listener_bind_errors_total",
		Help:      "Station listeners that could not be bound.",
	}, []string{"station"})

	OrdersReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_received_total",
		Help:      "Print jobs received on station ports.",
	}, []string{"station"})

	OrdersForwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_forwarded_total",
		Help:      "Order submissions to the backend by result.",
	}, []string{"station", "result"})

	RegistrationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registration_failures_total",
		Help:      "Failed registration attempts.",
	})

	ControlState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "control_channel_state",
		Help:      "1 for the current control channel state, 0 otherwise.",
	}, []string{"state"})

	ControlReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_channel_reconnects_total",
		Help:      "Control channel connection attempts after the first.",
	})

	ControlRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_channel_rejections_total",
		Help:      "Authorization rejections received by reason.",
	}, []string{"reason"})

	HostCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "host_cpu_percent",
		Help:      "Host CPU usage sampled by the status reporter.",
	})

	HostMemoryPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "host_memory_percent",
		Help:      "Host memory usage sampled by the status reporter.",
	})
)

func init() {
	prometheus.MustRegister(
		ActiveStations,
		ListenerBindErrors,
		OrdersReceived,
		OrdersForwarded,
		RegistrationFailures,
		ControlState,
		ControlReconnects,
		ControlRejections,
		HostCPUPercent,
		HostMemoryPercent,
	)
}

// SetControlState sets the gauge to 1 for current and 0 for every other
// name in all.
func SetControlState(current string, all ...string) {
	for _, s := range all {
		if s == current {
			ControlState.WithLabelValues(s).Set(1)
		} else {
			ControlState.WithLabelValues(s).Set(0)
		}
	}
}
