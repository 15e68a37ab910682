package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaynet",
			Subsystem: "receiver",
			Name:      "frames_total",
			Help:      "Frames received, by message type.",
		},
		[]string{"type"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaynet",
			Subsystem: "receiver",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped before any handler ran, by reason.",
		},
		[]string{"reason"},
	)
	connectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relaynet",
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted and assigned a UID.",
		},
	)
	connectionsRefused = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relaynet",
			Subsystem: "server",
			Name:      "connections_refused_total",
			Help:      "Connections refused at the max_players cap.",
		},
	)
	connectionsCurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relaynet",
			Subsystem: "server",
			Name:      "connections_current",
			Help:      "Currently connected clients.",
		},
	)
	sendsCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relaynet",
			Subsystem: "sender",
			Name:      "commits_total",
			Help:      "Send handles committed to the transport.",
		},
	)
	sendsAborted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relaynet",
			Subsystem: "sender",
			Name:      "aborts_total",
			Help:      "Send handles aborted, including the tick sweep.",
		},
	)
)

// RegisterMetrics installs the engine collectors on the default registry.
// Embedding applications that scrape prometheus call this once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesReceived, framesDropped,
			connectionsAccepted, connectionsRefused, connectionsCurrent,
			sendsCommitted, sendsAborted,
		)
	})
}

func CountFrame(msgType string)    { framesReceived.WithLabelValues(msgType).Inc() }
func CountDrop(reason string)      { framesDropped.WithLabelValues(reason).Inc() }
func CountAccepted()               { connectionsAccepted.Inc() }
func CountRefused()                { connectionsRefused.Inc() }
func SetCurrentConnections(n int)  { connectionsCurrent.Set(float64(n)) }
func CountSendCommit()             { sendsCommitted.Inc() }
func CountSendAbort()              { sendsAborted.Inc() }
