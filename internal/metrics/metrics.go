package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orchestra"

// Set holds the collectors exported by one orchestra process. All methods
// are safe on a nil receiver so components can run without metrics.
type Set struct {
	registry *prometheus.Registry

	poolWorkers    prometheus.Gauge
	poolQueue      prometheus.Gauge
	poolBusy       prometheus.Gauge
	poolTasks      *prometheus.CounterVec
	deployments    *prometheus.CounterVec
	bootstrapState *prometheus.GaugeVec
	processes      *prometheus.CounterVec
}

// New registers every collector on a private registry.
func New() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		poolWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_workers",
			Help:      "Number of workers in the fork/join pool.",
		}),
		poolQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_queue_depth",
			Help:      "Tasks waiting for a free worker.",
		}),
		poolBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_busy_workers",
			Help:      "Workers currently running a task.",
		}),
		poolTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_tasks_total",
			Help:      "Tasks finished by the pool, by outcome.",
		}, []string{"outcome"}),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "definitions_deployed_total",
			Help:      "Definition resources handed to the engine, by result.",
		}, []string{"result"}),
		bootstrapState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bootstrap_state",
			Help:      "1 for the current bootstrap state, 0 otherwise.",
		}, []string{"state"}),
		processes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_instances_total",
			Help:      "Process instances by terminal status.",
		}, []string{"status"}),
	}
	s.registry.MustRegister(
		s.poolWorkers,
		s.poolQueue,
		s.poolBusy,
		s.poolTasks,
		s.deployments,
		s.bootstrapState,
		s.processes,
	)
	return s
}

// Registry exposes the underlying registry, mainly for tests.
func (s *Set) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Set) PoolWorkers(n int) {
	if s != nil {
		s.poolWorkers.Set(float64(n))
	}
}

func (s *Set) PoolQueueDepth(n int) {
	if s != nil {
		s.poolQueue.Set(float64(n))
	}
}

func (s *Set) PoolBusy(n int) {
	if s != nil {
		s.poolBusy.Set(float64(n))
	}
}

// PoolTaskDone counts a finished task; outcome is "ok" or "panic".
func (s *Set) PoolTaskDone(outcome string) {
	if s != nil {
		s.poolTasks.WithLabelValues(outcome).Inc()
	}
}

// Deployed counts a deployment attempt; result is "ok" or "error".
func (s *Set) Deployed(result string) {
	if s != nil {
		s.deployments.WithLabelValues(result).Inc()
	}
}

// BootstrapState marks current as the only active state among all.
func (s *Set) BootstrapState(current string, all []string) {
	if s == nil {
		return
	}
	for _, state := range all {
		value := 0.0
		if state == current {
			value = 1
		}
		s.bootstrapState.WithLabelValues(state).Set(value)
	}
}

// ProcessFinished counts a process instance reaching status.
func (s *Set) ProcessFinished(status string) {
	if s != nil {
		s.processes.WithLabelValues(status).Inc()
	}
}
