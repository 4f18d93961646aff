// Package board is an in-process exchange where replicas hosted in the
// same process publish encoded snapshots and read those of their peers.
// It keeps only the latest snapshot per replica and holds nothing on disk.
package board

import (
	"context"
	"net/url"
	"sort"
	"strings"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dsync "github.com/ipfs/go-datastore/sync"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by Fetch when a replica has not published a
	// snapshot of the requested dictionary.
	ErrNotFound = errors.New("snapshot not found")

	// ErrEmptyName is returned for an empty dictionary or replica name.
	ErrEmptyName = errors.New("empty name")
)

// segmentPrefix marks every escaped name in a key, so no name can read as
// "." or ".." once it is part of a datastore path.
const segmentPrefix = "_"

// Board stores the latest snapshot per dictionary and replica.
type Board struct {
	store ds.Datastore
}

// New creates an empty board backed by a thread-safe in-memory datastore.
func New() *Board {
	return NewWithDatastore(dsync.MutexWrap(ds.NewMapDatastore()))
}

// NewWithDatastore creates a board on top of store. The store must be safe
// for concurrent use.
func NewWithDatastore(store ds.Datastore) *Board {
	return &Board{store: store}
}

func encodeSegment(name string) string {
	return segmentPrefix + url.PathEscape(name)
}

func decodeSegment(segment string) (string, error) {
	if !strings.HasPrefix(segment, segmentPrefix) {
		return "", errors.Errorf("segment %q lacks prefix", segment)
	}
	return url.PathUnescape(strings.TrimPrefix(segment, segmentPrefix))
}

func dictPrefix(dict string) ds.Key {
	return ds.NewKey("/dict").ChildString(encodeSegment(dict))
}

func snapshotKey(dict, replicaID string) ds.Key {
	return dictPrefix(dict).ChildString(encodeSegment(replicaID))
}

func checkNames(names ...string) error {
	for _, name := range names {
		if name == "" {
			return ErrEmptyName
		}
	}
	return nil
}

// Publish replaces the snapshot replicaID holds for dict.
func (b *Board) Publish(ctx context.Context, dict, replicaID string, data []byte) error {
	if err := checkNames(dict, replicaID); err != nil {
		return err
	}
	if err := b.store.Put(ctx, snapshotKey(dict, replicaID), data); err != nil {
		return errors.Wrapf(err, "publish %s/%s", dict, replicaID)
	}
	return nil
}

// Fetch returns the snapshot replicaID published for dict.
func (b *Board) Fetch(ctx context.Context, dict, replicaID string) ([]byte, error) {
	if err := checkNames(dict, replicaID); err != nil {
		return nil, err
	}
	data, err := b.store.Get(ctx, snapshotKey(dict, replicaID))
	if err == ds.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s/%s", dict, replicaID)
	}
	return data, nil
}

// Peers lists, in sorted order, the replicas that published dict.
func (b *Board) Peers(ctx context.Context, dict string) ([]string, error) {
	if err := checkNames(dict); err != nil {
		return nil, err
	}
	results, err := b.store.Query(ctx, query.Query{
		Prefix:   dictPrefix(dict).String(),
		KeysOnly: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", dict)
	}
	defer results.Close()

	entries, err := results.Rest()
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", dict)
	}

	peers := make([]string, 0, len(entries))
	for _, e := range entries {
		name, err := decodeSegment(ds.RawKey(e.Key).BaseNamespace())
		if err != nil {
			return nil, errors.Wrapf(err, "bad key %s", e.Key)
		}
		peers = append(peers, name)
	}
	sort.Strings(peers)
	return peers, nil
}

// Dicts lists, in sorted order, every dictionary with at least one
// published snapshot.
func (b *Board) Dicts(ctx context.Context) ([]string, error) {
	results, err := b.store.Query(ctx, query.Query{
		Prefix:   "/dict",
		KeysOnly: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "query dicts")
	}
	defer results.Close()

	entries, err := results.Rest()
	if err != nil {
		return nil, errors.Wrap(err, "query dicts")
	}

	seen := make(map[string]struct{})
	dicts := make([]string, 0)
	for _, e := range entries {
		parent := ds.RawKey(e.Key).Parent().BaseNamespace()
		name, err := decodeSegment(parent)
		if err != nil {
			return nil, errors.Wrapf(err, "bad key %s", e.Key)
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		dicts = append(dicts, name)
	}
	sort.Strings(dicts)
	return dicts, nil
}
