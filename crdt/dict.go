package crdt

import (
	"sort"
	"sync"
)

// Dict is a last-write-wins element dictionary. It records every key as
// an added and, optionally, a removed observation; which one is visible
// is decided by timestamp and, on a tie, by the configured bias.
//
// A Dict is safe for concurrent use. One mutex guards both observation
// sets, so a removal always sees the two sets at the same instant.
type Dict[V any] struct {
	mu      sync.RWMutex
	added   map[string]Element[V]
	removed map[string]Element[V]
	bias    Bias
	clock   Clock
}

type options struct {
	clock Clock
}

// Option configures a new Dict.
type Option func(*options)

// WithClock stamps local writes with c instead of DefaultClock.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: DefaultClock}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = DefaultClock
	}
	return o
}

// New creates an empty dictionary with the given tie-break bias.
func New[V any](bias Bias, opts ...Option) *Dict[V] {
	o := buildOptions(opts)
	return &Dict[V]{
		added:   make(map[string]Element[V]),
		removed: make(map[string]Element[V]),
		bias:    bias,
		clock:   o.clock,
	}
}

// Bias returns the tie-break bias of d.
func (d *Dict[V]) Bias() Bias {
	return d.bias
}

// lookup returns the visible element for key. Callers hold d.mu.
func (d *Dict[V]) lookup(key string) (Element[V], bool) {
	a, hasAdded := d.added[key]
	r, hasRemoved := d.removed[key]
	if !visible(a, hasAdded, r, hasRemoved, d.bias) {
		return Element[V]{}, false
	}
	return a, true
}

// Get returns the visible value for key. The boolean is false when the
// key is absent.
func (d *Dict[V]) Get(key string) (V, bool) {
	e, ok := d.Lookup(key)
	return e.Value, ok
}

// Lookup is like Get but returns the whole visible element.
func (d *Dict[V]) Lookup(key string) (Element[V], bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(key)
}

// Set records value as added for key at the next clock tick.
func (d *Dict[V]) Set(key string, value V) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insert(d.added, key, Element[V]{Timestamp: d.clock.Now(), Value: value})
}

// SetAt records value as added for key at ts. Like Set, it is discarded
// if a strictly newer added observation already exists.
func (d *Dict[V]) SetAt(key string, value V, ts Timestamp) {
	d.clock.Observe(ts)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.insert(d.added, key, Element[V]{Timestamp: ts, Value: value})
}

// Remove hides key by recording its visible value as removed at the next
// clock tick. It reports whether a removal was recorded, which is false
// when key is not visible.
func (d *Dict[V]) Remove(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.lookup(key)
	if !ok {
		return false
	}
	return d.insert(d.removed, key, Element[V]{Timestamp: d.clock.Now(), Value: current.Value})
}

// RemoveAt is like Remove but records the removal at ts.
func (d *Dict[V]) RemoveAt(key string, ts Timestamp) bool {
	d.clock.Observe(ts)

	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.lookup(key)
	if !ok {
		return false
	}
	return d.insert(d.removed, key, Element[V]{Timestamp: ts, Value: current.Value})
}

// insert stores e in set unless the existing entry is strictly newer.
// Callers hold d.mu for writing.
func (d *Dict[V]) insert(set map[string]Element[V], key string, e Element[V]) bool {
	if existing, ok := set[key]; ok && existing.Timestamp.After(e.Timestamp) {
		return false
	}
	set[key] = e
	return true
}

// state copies both observation sets under a read lock.
func (d *Dict[V]) state() (added, removed map[string]Element[V]) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return copySet(d.added), copySet(d.removed)
}

func copySet[V any](set map[string]Element[V]) map[string]Element[V] {
	out := make(map[string]Element[V], len(set))
	for k, e := range set {
		out[k] = e
	}
	return out
}

// union folds src into dst keeping, per key, the later observation.
// Timestamps from different replicas never compare equal, so the result
// does not depend on which side is dst. It returns the latest timestamp in src.
func union[V any](dst, src map[string]Element[V]) Timestamp {
	var latest Timestamp
	for k, e := range src {
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
		if cur, ok := dst[k]; ok && !e.Timestamp.After(cur.Timestamp) {
			continue
		}
		dst[k] = e
	}
	return latest
}

// Merge returns a new dictionary holding the union of d and other. Neither
// input is modified. The result keeps d's bias and clock, and the clock is
// advanced past every timestamp taken from other.
//
// Each side is snapshotted under its own lock in turn, so concurrent
// merges in opposite directions cannot deadlock.
func (d *Dict[V]) Merge(other *Dict[V]) *Dict[V] {
	added, removed := d.state()
	otherAdded, otherRemoved := other.state()

	latest := union(added, otherAdded)
	if ts := union(removed, otherRemoved); ts.After(latest) {
		latest = ts
	}
	if !latest.IsZero() {
		d.clock.Observe(latest)
	}

	return &Dict[V]{
		added:   added,
		removed: removed,
		bias:    d.bias,
		clock:   d.clock,
	}
}

// Clone returns an independent copy of d sharing its bias and clock.
func (d *Dict[V]) Clone() *Dict[V] {
	added, removed := d.state()
	return &Dict[V]{
		added:   added,
		removed: removed,
		bias:    d.bias,
		clock:   d.clock,
	}
}

// Keys returns the visible keys in sorted order.
func (d *Dict[V]) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.added))
	for k := range d.added {
		if _, ok := d.lookup(k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of visible keys.
func (d *Dict[V]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for k := range d.added {
		if _, ok := d.lookup(k); ok {
			n++
		}
	}
	return n
}

// Range calls fn for every key present in either observation set, in
// key order, with the key's added and removed observations (nil when
// missing). Iteration runs over a snapshot, so fn may use d. Range stops
// when fn returns false.
func (d *Dict[V]) Range(fn func(key string, added, removed *Element[V]) bool) {
	added, removed := d.state()

	keys := make([]string, 0, len(added)+len(removed))
	for k := range added {
		keys = append(keys, k)
	}
	for k := range removed {
		if _, ok := added[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		var a, r *Element[V]
		if e, ok := added[k]; ok {
			a = &e
		}
		if e, ok := removed[k]; ok {
			r = &e
		}
		if !fn(k, a, r) {
			return
		}
	}
}

// Equal reports whether d and other expose the same visible keys with
// the same timestamps. Values are opaque and not compared.
func (d *Dict[V]) Equal(other *Dict[V]) bool {
	left := d.visibleStamps()
	right := other.visibleStamps()
	if len(left) != len(right) {
		return false
	}
	for k, ts := range left {
		if rts, ok := right[k]; !ok || rts != ts {
			return false
		}
	}
	return true
}

func (d *Dict[V]) visibleStamps() map[string]Timestamp {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]Timestamp, len(d.added))
	for k := range d.added {
		if e, ok := d.lookup(k); ok {
			out[k] = e.Timestamp
		}
	}
	return out
}
