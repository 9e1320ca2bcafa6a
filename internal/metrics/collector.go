// Package metrics exposes host statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/based-collective/citizen-enet/internal/util"
)

const namespace = "enet"

type counterDesc struct {
	desc  *prometheus.Desc
	value func(util.Snapshot) uint64
}

func newCounter(name, help string, value func(util.Snapshot) uint64) counterDesc {
	return counterDesc{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "host", name), help, nil, nil),
		value: value,
	}
}

// Collector reports host counters on every scrape. Counters are read from a
// snapshot function, so the host never blocks on a scrape.
type Collector struct {
	snapshot func() util.Snapshot
	counters []counterDesc

	// ConnectedPeers is set by the service loop as peers come and go.
	ConnectedPeers prometheus.Gauge
}

// NewCollector returns a collector over snapshot and registers it, and the
// connected peers gauge, with reg.
func NewCollector(reg prometheus.Registerer, snapshot func() util.Snapshot) (*Collector, error) {
	c := &Collector{
		snapshot: snapshot,
		counters: []counterDesc{
			newCounter("datagrams_sent_total", "Datagrams handed to the transport.", func(s util.Snapshot) uint64 { return s.DatagramsSent }),
			newCounter("datagrams_received_total", "Datagrams read from the transport.", func(s util.Snapshot) uint64 { return s.DatagramsReceived }),
			newCounter("datagrams_dropped_total", "Datagrams discarded as malformed, unknown, corrupt or intercepted.", func(s util.Snapshot) uint64 { return s.DatagramsDropped }),
			newCounter("bytes_sent_total", "Bytes handed to the transport.", func(s util.Snapshot) uint64 { return s.BytesSent }),
			newCounter("bytes_received_total", "Bytes read from the transport.", func(s util.Snapshot) uint64 { return s.BytesReceived }),
			newCounter("packets_sent_total", "Application packets queued for sending.", func(s util.Snapshot) uint64 { return s.PacketsSent }),
			newCounter("packets_received_total", "Application packets delivered.", func(s util.Snapshot) uint64 { return s.PacketsReceived }),
			newCounter("packets_throttled_total", "Unreliable packets dropped by the packet throttle.", func(s util.Snapshot) uint64 { return s.PacketsThrottled }),
			newCounter("retransmissions_total", "Reliable commands sent again after a timeout.", func(s util.Snapshot) uint64 { return s.Retransmissions }),
			newCounter("connects_total", "Peers that reached the connected state.", func(s util.Snapshot) uint64 { return s.Connects }),
			newCounter("disconnects_total", "Connected peers that disconnected or timed out.", func(s util.Snapshot) uint64 { return s.Disconnects }),
			newCounter("failed_connects_total", "Connection attempts that never completed.", func(s util.Snapshot) uint64 { return s.FailedConnects }),
		},
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "connected_peers",
			Help:      "Peers currently connected.",
		}),
	}

	if err := reg.Register(c); err != nil {
		return nil, err
	}
	if err := reg.Register(c.ConnectedPeers); err != nil {
		return nil, err
	}
	return c, nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()
	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.value(s)))
	}
}
