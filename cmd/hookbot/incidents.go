// cmd/hookbot/incidents.go
package main

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// IncidentLog keeps the most recent incidents in a fixed size ring
type IncidentLog struct {
	mutex  sync.RWMutex
	events []Incident
	next   int
	full   bool
	total  map[Outcome]int64
}

// NewIncidentLog creates a log holding up to size incidents
func NewIncidentLog(size int) *IncidentLog {
	if size <= 0 {
		size = DefaultIncidentBuffer
	}
	return &IncidentLog{
		events: make([]Incident, size),
		total:  make(map[Outcome]int64),
	}
}

// Record adds an incident, overwriting the oldest when full
func (l *IncidentLog) Record(i Incident) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.events[l.next] = i
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
	l.total[i.Outcome]++
}

// Recent returns up to n incidents, newest first. n <= 0 returns all.
func (l *IncidentLog) Recent(n int) []Incident {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	count := l.next
	if l.full {
		count = len(l.events)
	}
	if n <= 0 || n > count {
		n = count
	}

	out := make([]Incident, 0, n)
	for k := 1; k <= n; k++ {
		idx := (l.next - k + len(l.events)) % len(l.events)
		out = append(out, l.events[idx])
	}
	return out
}

// Counts returns the number of incidents ever recorded per outcome
func (l *IncidentLog) Counts() map[Outcome]int64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	out := make(map[Outcome]int64, len(l.total))
	for k, v := range l.total {
		out[k] = v
	}
	return out
}

// PipelineMetrics exports hook outcomes to Prometheus
type PipelineMetrics struct {
	registry    *prometheus.Registry
	outcomes    *prometheus.CounterVec
	escalations *prometheus.CounterVec
}

// NewPipelineMetrics creates the collectors on their own registry
func NewPipelineMetrics() *PipelineMetrics {
	m := &PipelineMetrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookbot_failures_total",
				Help: "Failures handled by the dispatch hook",
			},
			[]string{"outcome", "kind"},
		),
		escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookbot_escalations_total",
				Help: "Diagnostic reports sent to the owner",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(m.outcomes, m.escalations)
	return m
}

// Registry returns the registry backing /metrics
func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Record counts one incident
func (m *PipelineMetrics) Record(i Incident) {
	kind := string(i.Kind)
	if kind == "" {
		kind = "none"
	}
	m.outcomes.WithLabelValues(string(i.Outcome), kind).Inc()

	if i.IncidentID == "" {
		return
	}
	if i.Delivered {
		m.escalations.WithLabelValues("delivered").Inc()
	} else {
		m.escalations.WithLabelValues("failed").Inc()
	}
}
