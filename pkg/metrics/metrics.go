// Package metrics exposes Prometheus collectors for the bridge.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "presage"

// Outcomes recorded for a command.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
)

// Bridge holds the collectors updated by runtimes and sessions. A nil
// *Bridge is valid and records nothing.
type Bridge struct {
	mu         sync.Mutex
	registered bool
	registerer prometheus.Registerer

	sessionsOpen   prometheus.Gauge
	commandsTotal  *prometheus.CounterVec
	eventsTotal    *prometheus.CounterVec
	unitsDropped   *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	commandSeconds *prometheus.HistogramVec
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func gauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// New creates the collectors. A nil registerer means the default registry.
func New(registerer prometheus.Registerer) *Bridge {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Bridge{
		registerer:    registerer,
		sessionsOpen:  gauge("bridge", "sessions_open", "Sessions with a running consumer loop."),
		commandsTotal: counterVec("bridge", "commands_total", "Commands processed, by command and outcome.", "command", "outcome"),
		eventsTotal:   counterVec("bridge", "events_total", "Records delivered to the host callback, by event.", "event"),
		unitsDropped:  counterVec("normalize", "units_dropped_total", "Incoming units that produced no message, by reason.", "reason"),
		queueDepth:    gauge("bridge", "queue_depth", "Commands waiting across all session queues."),
		commandSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "command_duration_seconds",
			Help:      "Time spent executing a command.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		}, []string{"command"}),
	}
}

// Register adds the collectors to the registerer. Calling it again is a no-op.
func (b *Bridge) Register() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.registered {
		return nil
	}

	for _, c := range []prometheus.Collector{
		b.sessionsOpen,
		b.commandsTotal,
		b.eventsTotal,
		b.unitsDropped,
		b.queueDepth,
		b.commandSeconds,
	} {
		if err := b.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	b.registered = true
	return nil
}

func (b *Bridge) SessionOpened() {
	if b != nil {
		b.sessionsOpen.Inc()
	}
}

func (b *Bridge) SessionClosed() {
	if b != nil {
		b.sessionsOpen.Dec()
	}
}

func (b *Bridge) CommandQueued() {
	if b != nil {
		b.queueDepth.Inc()
	}
}

func (b *Bridge) CommandDequeued() {
	if b != nil {
		b.queueDepth.Dec()
	}
}

// CommandFinished counts one command and, for executed ones, its duration.
func (b *Bridge) CommandFinished(command, outcome string, seconds float64) {
	if b == nil {
		return
	}
	b.commandsTotal.WithLabelValues(command, outcome).Inc()
	if outcome != OutcomeAbandoned {
		b.commandSeconds.WithLabelValues(command).Observe(seconds)
	}
}

func (b *Bridge) EventEmitted(event string) {
	if b != nil {
		b.eventsTotal.WithLabelValues(event).Inc()
	}
}

func (b *Bridge) UnitDropped(reason string) {
	if b != nil {
		b.unitsDropped.WithLabelValues(reason).Inc()
	}
}
