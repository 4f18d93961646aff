// Package simulate drives a group of in-process nodes through random
// concurrent writes and anti-entropy rounds and checks that their
// replicas converge.
package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/khelechy/lwwdict/board"
	"github.com/khelechy/lwwdict/crdt"
	"github.com/khelechy/lwwdict/node"
)

// Options configures a simulation run.
type Options struct {
	Replicas int
	Rounds   int
	Keys     int
	Dict     string
	Bias     crdt.Bias
	Workers  int
	Seed     int64

	// RemoveRatio is the share of operations that remove a key.
	RemoveRatio float64

	Logger log.Logger
}

// Report summarizes a run.
type Report struct {
	Replicas  []string
	Sets      int
	Removes   int // removals that hid a visible key
	Rounds    int
	Keys      []string // union of visible keys across replicas
	Divergent []string // keys whose visible state differs between replicas
}

// Converged reports whether every replica ended with the same visible state.
func (r *Report) Converged() bool {
	return len(r.Divergent) == 0
}

func (o *Options) defaults() {
	if o.Replicas <= 0 {
		o.Replicas = 3
	}
	if o.Rounds <= 0 {
		o.Rounds = 50
	}
	if o.Keys <= 0 {
		o.Keys = 20
	}
	if o.Dict == "" {
		o.Dict = "config"
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.RemoveRatio <= 0 || o.RemoveRatio >= 1 {
		o.RemoveRatio = 0.3
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
}

// Run executes the simulation. Each round every replica writes
// concurrently, then every replica syncs through the shared board. After
// the last round replicas keep syncing without writes until they agree or
// a bound of extra rounds is reached.
func Run(ctx context.Context, opts Options) (*Report, error) {
	opts.defaults()

	b := board.New()
	nodes := make([]*node.Node, opts.Replicas)
	rngs := make([]*rand.Rand, opts.Replicas)
	for i := range nodes {
		nodes[i] = node.New(
			node.WithID(uuid.New().String()),
			node.WithBias(opts.Bias),
			node.WithBoard(b),
			node.WithLogger(opts.Logger),
		)
		rngs[i] = rand.New(rand.NewSource(opts.Seed + int64(i)))
	}

	report := &Report{}
	for _, n := range nodes {
		report.Replicas = append(report.Replicas, n.ID)
	}

	var mu sync.Mutex
	for round := 0; round < opts.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var wg sync.WaitGroup
		for i, n := range nodes {
			wg.Add(1)
			go func(n *node.Node, rng *rand.Rand) {
				defer wg.Done()

				key := fmt.Sprintf("k%d", rng.Intn(opts.Keys))
				if rng.Float64() < opts.RemoveRatio {
					if removed, err := n.Remove(opts.Dict, key); err == nil && removed {
						mu.Lock()
						report.Removes++
						mu.Unlock()
					}
					return
				}

				value, _ := json.Marshal(rng.Intn(1000))
				if err := n.Set(opts.Dict, key, value); err != nil {
					return
				}
				mu.Lock()
				report.Sets++
				mu.Unlock()
			}(n, rngs[i])
		}
		wg.Wait()

		if err := syncAll(ctx, nodes, opts.Workers); err != nil {
			return nil, err
		}
		report.Rounds++
	}

	// Quiesce: two full passes always suffice once writes stop, the bound
	// only guards against a broken merge.
	for extra := 0; extra < 2*opts.Replicas; extra++ {
		if divergent(nodes, opts.Dict) == nil {
			break
		}
		if err := syncAll(ctx, nodes, opts.Workers); err != nil {
			return nil, err
		}
		report.Rounds++
	}

	report.Keys = visibleUnion(nodes, opts.Dict)
	report.Divergent = divergent(nodes, opts.Dict)

	level.Info(opts.Logger).Log(
		"msg", "simulation finished",
		"replicas", opts.Replicas,
		"rounds", report.Rounds,
		"sets", report.Sets,
		"removes", report.Removes,
		"keys", len(report.Keys),
		"converged", report.Converged(),
	)

	return report, nil
}

func syncAll(ctx context.Context, nodes []*node.Node, workers int) error {
	for _, n := range nodes {
		if failures := n.SyncOnce(ctx, workers); failures > 0 {
			return errors.Errorf("node %s failed to sync %d dictionaries", n.ID, failures)
		}
	}
	return nil
}

// visibleUnion returns every key visible on at least one replica.
func visibleUnion(nodes []*node.Node, dict string) []string {
	keys := mapset.NewThreadUnsafeSet[string]()
	for _, n := range nodes {
		visible, err := n.Keys(dict)
		if err != nil {
			continue
		}
		keys.Append(visible...)
	}

	out := keys.ToSlice()
	sort.Strings(out)
	return out
}

// divergent returns the keys whose visible value or presence differs
// between replicas, in sorted order.
func divergent(nodes []*node.Node, dict string) []string {
	diff := mapset.NewThreadUnsafeSet[string]()
	for _, key := range visibleUnion(nodes, dict) {
		first, firstOK := nodes[0].Get(dict, key)
		for _, n := range nodes[1:] {
			v, ok := n.Get(dict, key)
			if ok != firstOK || string(v) != string(first) {
				diff.Add(key)
				break
			}
		}
	}
	if diff.Cardinality() == 0 {
		return nil
	}

	out := diff.ToSlice()
	sort.Strings(out)
	return out
}
