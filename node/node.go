package node

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/khelechy/lwwdict/board"
	"github.com/khelechy/lwwdict/crdt"
	"github.com/khelechy/lwwdict/metrics"
	"github.com/khelechy/lwwdict/utils"
)

// Replica is the dictionary type hosted by a node. Values are opaque JSON.
type Replica = crdt.Dict[json.RawMessage]

// Snapshot is the exported state of a Replica.
type Snapshot = crdt.Snapshot[json.RawMessage]

var (
	// ErrDictNotFound is returned for operations on a dictionary the node
	// does not host.
	ErrDictNotFound = errors.New("dictionary not found")

	// ErrNoBoard is returned by sync operations on a node without a board.
	ErrNoBoard = errors.New("board not available")

	// ErrEmptyDictName is returned by Set for an empty dictionary name.
	ErrEmptyDictName = errors.New("empty dictionary name")
)

// Node hosts named dictionary replicas and exchanges their state with
// the other replicas publishing on the same board.
type Node struct {
	ID         string
	board      *board.Board
	bias       crdt.Bias
	clock      crdt.Clock
	shards     []map[string]*Replica // sharded replica cache
	shardLocks []sync.RWMutex        // per-shard locks
	numShards  int
	logger     log.Logger
	metrics    *metrics.Metrics
}

// Option configures a Node.
type Option func(*Node)

// WithID sets the replica ID used on the board.
func WithID(id string) Option {
	return func(n *Node) {
		if id != "" {
			n.ID = id
		}
	}
}

// WithBias sets the bias of dictionaries created by the node.
func WithBias(b crdt.Bias) Option {
	return func(n *Node) { n.bias = b }
}

// WithBoard attaches the board used by Publish and SyncDict.
func WithBoard(b *board.Board) Option {
	return func(n *Node) { n.board = b }
}

// WithClock stamps writes with c instead of crdt.DefaultClock.
func WithClock(c crdt.Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithLogger sets the node logger.
func WithLogger(l log.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithMetrics sets the node counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// WithShards sets the number of replica cache shards.
func WithShards(count int) Option {
	return func(n *Node) {
		if count > 0 {
			n.numShards = count
		}
	}
}

// New creates a node.
func New(opts ...Option) *Node {
	n := &Node{
		ID:        uuid.New().String(),
		bias:      crdt.PreferAdded,
		clock:     crdt.DefaultClock,
		numShards: 16,
		logger:    log.NewNopLogger(),
		metrics:   metrics.NewDiscard(),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.shards = make([]map[string]*Replica, n.numShards)
	n.shardLocks = make([]sync.RWMutex, n.numShards)
	for i := range n.shards {
		n.shards[i] = make(map[string]*Replica)
	}
	n.logger = log.With(n.logger, "node", n.ID)

	return n
}

// getShardIndex returns the shard index for a dictionary name
func (n *Node) getShardIndex(name string) int {
	hash := fnv.New32a()
	hash.Write([]byte(name))
	return int(hash.Sum32() % uint32(n.numShards))
}

// withReplica runs fn with the named replica while holding its shard
// read lock, so a concurrent sync cannot swap the replica mid-operation.
func (n *Node) withReplica(name string, create bool, fn func(r *Replica)) bool {
	i := n.getShardIndex(name)

	n.shardLocks[i].RLock()
	r, ok := n.shards[i][name]
	if ok {
		defer n.shardLocks[i].RUnlock()
		fn(r)
		return true
	}
	n.shardLocks[i].RUnlock()

	if !create {
		return false
	}

	n.shardLocks[i].Lock()
	defer n.shardLocks[i].Unlock()
	r, ok = n.shards[i][name]
	if !ok {
		r = crdt.New[json.RawMessage](n.bias, crdt.WithClock(n.clock))
		n.shards[i][name] = r
	}
	fn(r)
	return true
}

// Set writes value under key in the named dictionary, creating the
// dictionary if needed.
func (n *Node) Set(name, key string, value json.RawMessage) error {
	if name == "" {
		return ErrEmptyDictName
	}
	n.withReplica(name, true, func(r *Replica) {
		r.Set(key, value)
	})
	n.metrics.Sets.With("dict", name).Add(1)
	return nil
}

// Get returns the visible value of key in the named dictionary.
func (n *Node) Get(name, key string) (json.RawMessage, bool) {
	var (
		value json.RawMessage
		found bool
	)
	n.withReplica(name, false, func(r *Replica) {
		value, found = r.Get(key)
	})
	return value, found
}

// Remove hides key in the named dictionary. It reports whether a removal
// was recorded; removing a key that is not visible changes nothing.
func (n *Node) Remove(name, key string) (bool, error) {
	var removed bool
	ok := n.withReplica(name, false, func(r *Replica) {
		removed = r.Remove(key)
	})
	if !ok {
		return false, ErrDictNotFound
	}
	if removed {
		n.metrics.Removes.With("dict", name).Add(1)
	}
	return removed, nil
}

// Keys returns the visible keys of the named dictionary.
func (n *Node) Keys(name string) ([]string, error) {
	var keys []string
	if !n.withReplica(name, false, func(r *Replica) { keys = r.Keys() }) {
		return nil, ErrDictNotFound
	}
	return keys, nil
}

// Snapshot returns the full state of the named dictionary.
func (n *Node) Snapshot(name string) (Snapshot, error) {
	var s Snapshot
	if !n.withReplica(name, false, func(r *Replica) { s = r.Snapshot() }) {
		return s, ErrDictNotFound
	}
	return s, nil
}

// Replica returns a clone of the named dictionary.
func (n *Node) Replica(name string) (*Replica, error) {
	var clone *Replica
	if !n.withReplica(name, false, func(r *Replica) { clone = r.Clone() }) {
		return nil, ErrDictNotFound
	}
	return clone, nil
}

// Dicts returns the names of all hosted dictionaries in sorted order.
func (n *Node) Dicts() []string {
	var names []string
	for i := 0; i < n.numShards; i++ {
		n.shardLocks[i].RLock()
		for name := range n.shards[i] {
			names = append(names, name)
		}
		n.shardLocks[i].RUnlock()
	}
	sort.Strings(names)
	return names
}

// Publish puts the node's snapshot of the named dictionary on the board.
func (n *Node) Publish(ctx context.Context, name string) error {
	if n.board == nil {
		return ErrNoBoard
	}

	s, err := n.Snapshot(name)
	if err != nil {
		return err
	}

	data, err := utils.EncodeSnapshot(s)
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}

	if err := n.board.Publish(ctx, name, n.ID, data); err != nil {
		return err
	}

	n.metrics.Publishes.With("dict", name).Add(1)
	level.Debug(n.logger).Log("msg", "published snapshot", "dict", name, "bytes", len(data))

	return nil
}

// SyncDict merges every peer snapshot of the named dictionary found on
// the board into the local replica. A dictionary the node does not host
// yet is created from its peers.
func (n *Node) SyncDict(ctx context.Context, name string) error {
	if n.board == nil {
		return ErrNoBoard
	}

	peers, err := n.board.Peers(ctx, name)
	if err != nil {
		return err
	}

	merged := 0
	for _, peer := range peers {
		if peer == n.ID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := n.board.Fetch(ctx, name, peer)
		if err == board.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}

		s, err := utils.DecodeSnapshot[json.RawMessage](data)
		if err != nil {
			return errors.Wrapf(err, "decode %s from %s", name, peer)
		}

		n.mergeRemote(name, crdt.FromSnapshot(s, crdt.WithClock(n.clock)))
		merged++
	}

	if merged > 0 {
		n.metrics.Merges.With("dict", name).Add(float64(merged))
	}
	level.Debug(n.logger).Log("msg", "synced dictionary", "dict", name, "peers", merged)

	return nil
}

// mergeRemote replaces the local replica with its merge with remote.
func (n *Node) mergeRemote(name string, remote *Replica) {
	i := n.getShardIndex(name)

	n.shardLocks[i].Lock()
	defer n.shardLocks[i].Unlock()

	local, ok := n.shards[i][name]
	if !ok {
		local = crdt.New[json.RawMessage](n.bias, crdt.WithClock(n.clock))
	}
	n.shards[i][name] = local.Merge(remote)
}

// StartPeriodicSync publishes and syncs every dictionary once, then again
// on every tick until ctx is cancelled.
func (n *Node) StartPeriodicSync(ctx context.Context, interval time.Duration, numWorkers int) {
	level.Info(n.logger).Log("msg", "starting periodic sync", "interval", interval, "workers", numWorkers)

	// Perform initial sync immediately
	n.SyncOnce(ctx, numWorkers)

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.SyncOnce(ctx, numWorkers)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// SyncOnce publishes and syncs every dictionary hosted locally or present
// on the board, using numWorkers goroutines. It returns the number of
// dictionaries that failed.
func (n *Node) SyncOnce(ctx context.Context, numWorkers int) int {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	names := n.Dicts()
	if n.board != nil {
		remote, err := n.board.Dicts(ctx)
		if err != nil {
			level.Warn(n.logger).Log("msg", "listing board dictionaries failed", "err", err)
		}
		names = unionSorted(names, remote)
	}
	if len(names) == 0 {
		level.Debug(n.logger).Log("msg", "no dictionaries to sync")
		return 0
	}

	// Use worker pool for concurrent sync
	jobs := make(chan string, len(names))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures int
	)
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				if err := n.syncJob(ctx, name); err != nil {
					n.metrics.SyncErrors.With("dict", name).Add(1)
					level.Warn(n.logger).Log("msg", "sync failed", "dict", name, "err", err)

					mu.Lock()
					failures++
					mu.Unlock()
				}
			}
		}()
	}
	for _, name := range names {
		jobs <- name
	}
	close(jobs)
	wg.Wait()

	return failures
}

func (n *Node) syncJob(ctx context.Context, name string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := n.SyncDict(ctxTimeout, name); err != nil {
		return err
	}
	if err := n.Publish(ctxTimeout, name); err != nil && err != ErrDictNotFound {
		return err
	}
	return nil
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
