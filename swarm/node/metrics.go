package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors updated by a Connection.
type Metrics struct {
	DatagramsReceived *prometheus.CounterVec
	DatagramsSent     prometheus.Counter
	DecodeErrors      prometheus.Counter
	TransportErrors   prometheus.Counter
	PeersEvicted      prometheus.Counter
	KeepAlivesSent    prometheus.Counter
	Peers             prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DatagramsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "network",
			Name:      "datagrams_received_total",
			Help:      "Decoded datagrams received, by message kind.",
		}, []string{"kind"}),
		DatagramsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "network",
			Name:      "datagrams_sent_total",
			Help:      "Datagrams successfully handed to the transport.",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "network",
			Name:      "decode_errors_total",
			Help:      "Received datagrams dropped because they could not be decoded.",
		}),
		TransportErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "network",
			Name:      "transport_errors_total",
			Help:      "Receive errors other than timeouts.",
		}),
		PeersEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "network",
			Name:      "peers_evicted_total",
			Help:      "Peers removed after a failed send.",
		}),
		KeepAlivesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "network",
			Name:      "keep_alives_sent_total",
			Help:      "Keep alive broadcasts.",
		}),
		Peers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pyrite",
			Subsystem: "network",
			Name:      "peers",
			Help:      "Number of peers in the peer registry.",
		}),
	}
}
