package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrd0ll4r/ipfs-tools/internal/api"
)

// Gauges mirror the process status into Prometheus.
type Gauges struct {
	knownGateways      prometheus.Gauge
	connectionAttempts *prometheus.GaugeVec
	eventsReceived     *prometheus.GaugeVec
}

// NewGauges creates the status gauges and registers them with reg.
func NewGauges(reg prometheus.Registerer) (*Gauges, error) {
	g := &Gauges{
		knownGateways: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitswap_monitor",
			Name:      "known_gateways",
			Help:      "Number of peer IDs in the current gateway set",
		}),
		connectionAttempts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bitswap_monitor",
			Name:      "source_connection_attempts",
			Help:      "Connection cycles started per source",
		}, []string{"monitor", "amqp_server"}),
		eventsReceived: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bitswap_monitor",
			Name:      "source_events_received",
			Help:      "Events received per source",
		}, []string{"monitor", "amqp_server"}),
	}
	for _, c := range []prometheus.Collector{g.knownGateways, g.connectionAttempts, g.eventsReceived} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register status gauges: %w", err)
		}
	}
	return g, nil
}

// Update sets every gauge from st.
func (g *Gauges) Update(st api.Status) {
	g.knownGateways.Set(float64(st.Gateways))
	for _, s := range st.Sources {
		g.connectionAttempts.WithLabelValues(s.Monitor, s.BrokerAddress).Set(float64(s.Iterations))
		g.eventsReceived.WithLabelValues(s.Monitor, s.BrokerAddress).Set(float64(s.Events))
	}
}
