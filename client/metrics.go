package client

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "gonoti"

// metrics are created for every client and only exported when a
// Registerer is supplied. The client_id label keeps several clients on one
// registry apart.
type metrics struct {
	framesSent     prometheus.Counter
	framesSkipped  prometheus.Counter
	framesReceived prometheus.Counter
	framesInvalid  prometheus.Counter
	sendErrors     prometheus.Counter
	restarts       *prometheus.CounterVec // result: success/failed

	collectors []prometheus.Collector
}

func newMetrics(c *Client) *metrics {
	labels := prometheus.Labels{"client_id": c.id}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "client",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	gauge := func(name, help string, fn func() float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "client",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, fn)
	}

	m := &metrics{
		framesSent:     counter("frames_sent_total", "Frames written to the connection, login frames included"),
		framesSkipped:  counter("frames_skipped_total", "Commands dropped because they encoded to an empty or null frame"),
		framesReceived: counter("frames_received_total", "Inbound frames pushed to the inbound queue"),
		framesInvalid:  counter("frames_invalid_total", "Inbound frames rejected by the codec"),
		sendErrors:     counter("send_errors_total", "Commands lost because the connection refused the frame"),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "client",
			Name:        "restarts_total",
			Help:        "Connection restarts by result",
			ConstLabels: labels,
		}, []string{"result"}),
	}
	m.collectors = []prometheus.Collector{
		m.framesSent, m.framesSkipped, m.framesReceived, m.framesInvalid, m.sendErrors, m.restarts,
		gauge("outbound_queue_depth", "Commands accepted but not yet sent", func() float64 {
			return float64(c.outboundLen())
		}),
		gauge("inbound_queue_depth", "Events waiting to be received", func() float64 {
			return float64(c.inboundLen())
		}),
		gauge("state", "Current run state (0 stopped .. 5 destroyed)", func() float64 {
			return float64(c.State())
		}),
	}
	return m
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, col := range m.collectors {
		if err := reg.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return errors.New("client metrics already registered")
			}
			return err
		}
	}
	return nil
}

func (m *metrics) restart(ok bool) {
	if ok {
		m.restarts.WithLabelValues("success").Inc()
		return
	}
	m.restarts.WithLabelValues("failed").Inc()
}
