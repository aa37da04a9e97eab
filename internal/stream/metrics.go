package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame type labels for FramesTotal.
const (
	frameTypeEvent     = "event"
	frameTypeKeepAlive = "keep_alive"
	frameTypeError     = "error"
)

// Metrics holds the bridge's instrumentation.
type Metrics struct {
	FramesTotal      *prometheus.CounterVec
	DisconnectsTotal prometheus.Counter
}

// NewMetrics registers bridge metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowd",
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Frames sent to clients, by frame type.",
		}, []string{"type"}),
		DisconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowd",
			Subsystem: "stream",
			Name:      "disconnects_total",
			Help:      "Streams ended by client disconnect.",
		}),
	}
}
