package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/based-collective/citizen-enet/internal/util"
)

func TestCollectorGather(t *testing.T) {
	var counters util.Counters
	counters.AddSent(100)
	counters.AddSent(50)
	counters.Retransmissions.Add(3)

	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg, counters.Snapshot)
	require.NoError(t, err)
	c.ConnectedPeers.Set(2)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		m := mf.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			values[mf.GetName()] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}

	assert.Equal(t, 2.0, values["enet_host_datagrams_sent_total"])
	assert.Equal(t, 150.0, values["enet_host_bytes_sent_total"])
	assert.Equal(t, 3.0, values["enet_host_retransmissions_total"])
	assert.Equal(t, 0.0, values["enet_host_connects_total"])
	assert.Equal(t, 2.0, values["enet_host_connected_peers"])
	assert.Len(t, values, 13)
}

func TestCollectorDuplicateRegistration(t *testing.T) {
	var counters util.Counters
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg, counters.Snapshot)
	require.NoError(t, err)

	_, err = NewCollector(reg, counters.Snapshot)
	assert.Error(t, err)
}

func TestServerServesMetrics(t *testing.T) {
	var counters util.Counters
	counters.Connects.Add(1)

	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg, counters.Snapshot)
	require.NoError(t, err)

	s := NewServer("127.0.0.1:0", "", reg)
	assert.Nil(t, s.Addr())
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "enet_host_connects_total 1")

	require.NoError(t, s.Stop(context.Background()))
}
