// Package metrics exposes Prometheus collectors for servers and clients.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ipcflow"

// Error kinds used as the "kind" label of errors_total.
const (
	KindDecode    = "decode"
	KindEncode    = "encode"
	KindHandler   = "handler"
	KindSend      = "send"
	KindTransport = "transport"
	KindConnect   = "connect"
)

// Metrics tracks connection and traffic statistics, labelled by role
// ("server" or "client").
type Metrics struct {
	mu sync.Mutex

	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	framesIn          *prometheus.CounterVec
	framesOut         *prometheus.CounterVec
	bytesIn           *prometheus.CounterVec
	bytesOut          *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	reconnectsTotal   prometheus.Counter

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates a collector set. A nil registerer uses
// prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer: registerer,
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open socket connections",
		}, []string{"role"}),
		connectionsTotal: newCounterVec("connections_total", "Total number of socket connections established", "role"),
		framesIn:         newCounterVec("frames_received_total", "Total number of frames decoded from sockets", "role"),
		framesOut:        newCounterVec("frames_sent_total", "Total number of frames written to sockets", "role"),
		bytesIn:          newCounterVec("bytes_received_total", "Total number of bytes read from sockets", "role"),
		bytesOut:         newCounterVec("bytes_sent_total", "Total number of bytes written to sockets", "role"),
		errorsTotal:      newCounterVec("errors_total", "Total number of errors by kind", "role", "kind"),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "reconnects_total",
			Help:      "Total number of successful client reconnects",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.connectionsActive,
		m.connectionsTotal,
		m.framesIn,
		m.framesOut,
		m.bytesIn,
		m.bytesOut,
		m.errorsTotal,
		m.reconnectsTotal,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// ConnectionOpened records a new connection for role.
func (m *Metrics) ConnectionOpened(role string) {
	if m == nil {
		return
	}
	m.connectionsActive.WithLabelValues(role).Inc()
	m.connectionsTotal.WithLabelValues(role).Inc()
}

// ConnectionClosed records a closed connection for role.
func (m *Metrics) ConnectionClosed(role string) {
	if m == nil {
		return
	}
	m.connectionsActive.WithLabelValues(role).Dec()
}

// BytesReceived records a raw chunk read from a socket.
func (m *Metrics) BytesReceived(role string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesIn.WithLabelValues(role).Add(float64(n))
}

// FramesReceived records decoded frames.
func (m *Metrics) FramesReceived(role string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.framesIn.WithLabelValues(role).Add(float64(n))
}

// FrameSent records one frame of size bytes written to a socket.
func (m *Metrics) FrameSent(role string, size int) {
	if m == nil {
		return
	}
	m.framesOut.WithLabelValues(role).Inc()
	m.bytesOut.WithLabelValues(role).Add(float64(size))
}

// Error records an error of the given kind.
func (m *Metrics) Error(role, kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(role, kind).Inc()
}

// Reconnected records a successful client reconnect.
func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}
