package crdt

// Snapshot is the full exported state of a dictionary: both observation
// sets and the bias. It is what hosts serialize to ship a replica.
type Snapshot[V any] struct {
	Bias    Bias                  `json:"bias"`
	Added   map[string]Element[V] `json:"added"`
	Removed map[string]Element[V] `json:"removed"`
}

// Snapshot returns a copy of d's state.
func (d *Dict[V]) Snapshot() Snapshot[V] {
	added, removed := d.state()
	return Snapshot[V]{
		Bias:    d.bias,
		Added:   added,
		Removed: removed,
	}
}

// FromSnapshot rebuilds a dictionary from s. The clock is advanced past
// every timestamp in s so later local writes supersede it.
func FromSnapshot[V any](s Snapshot[V], opts ...Option) *Dict[V] {
	d := New[V](s.Bias, opts...)

	var latest Timestamp
	for k, e := range s.Added {
		d.added[k] = e
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	for k, e := range s.Removed {
		d.removed[k] = e
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	if !latest.IsZero() {
		d.clock.Observe(latest)
	}
	return d
}
