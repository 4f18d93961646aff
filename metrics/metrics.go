// Package metrics holds the counters a node reports. Counters are backed
// by Prometheus when a registerer is supplied and discarded otherwise.
package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	kitprom "github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the node counters. All counters take a "dict" label.
type Metrics struct {
	Sets       metrics.Counter
	Removes    metrics.Counter
	Merges     metrics.Counter
	Publishes  metrics.Counter
	SyncErrors metrics.Counter
}

// NewDiscard returns counters that record nothing.
func NewDiscard() *Metrics {
	return &Metrics{
		Sets:       discard.NewCounter(),
		Removes:    discard.NewCounter(),
		Merges:     discard.NewCounter(),
		Publishes:  discard.NewCounter(),
		SyncErrors: discard.NewCounter(),
	}
}

// New registers the node counters with reg. A nil reg yields NewDiscard.
func New(reg prom.Registerer) (*Metrics, error) {
	if reg == nil {
		return NewDiscard(), nil
	}

	m := &Metrics{}
	counters := []struct {
		target *metrics.Counter
		name   string
		help   string
	}{
		{&m.Sets, "sets_total", "Number of local set operations"},
		{&m.Removes, "removes_total", "Number of local removals that hid a visible key"},
		{&m.Merges, "merges_total", "Number of remote snapshots merged"},
		{&m.Publishes, "publishes_total", "Number of snapshots published"},
		{&m.SyncErrors, "sync_errors_total", "Number of failed dictionary syncs"},
	}

	for _, c := range counters {
		cv := prom.NewCounterVec(prom.CounterOpts{
			Namespace: "lwwdict",
			Subsystem: "node",
			Name:      c.name,
			Help:      c.help,
		}, []string{"dict"})

		if err := reg.Register(cv); err != nil {
			return nil, err
		}
		*c.target = kitprom.NewCounter(cv)
	}

	return m, nil
}
