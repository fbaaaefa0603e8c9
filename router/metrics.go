package router

import (
	"bytes"

	"github.com/cockpit-project/agent/channel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// MetricsChannel implements the "metrics1" payload: on open it snapshots
// the process's default Prometheus registry and streams the exposition
// text as a single data frame, then reports done. Periodic per-interval
// delivery is left to a future iteration; one snapshot per open is
// enough for a point-in-time metrics read.
type MetricsChannel struct {
	*channel.Base
}

func NewMetricsChannel(id string, sink channel.Sink) *MetricsChannel {
	return &MetricsChannel{Base: channel.NewBase(id, "metrics1", sink)}
}

func (m *MetricsChannel) Prepare(map[string]any) error {
	m.SetReady()
	go m.emit()
	return nil
}

func (m *MetricsChannel) emit() {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		m.SendClose("internal-error")
		return
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			m.SendClose("internal-error")
			return
		}
	}
	if buf.Len() > 0 {
		m.SendData(buf.Bytes())
	}
	m.SendDone()
}

func (m *MetricsChannel) Data([]byte) error { return nil }
func (m *MetricsChannel) PeerDone() error   { return nil }
func (m *MetricsChannel) Close(prob string) { m.SendClose(prob) }
