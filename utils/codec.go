package utils

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/khelechy/lwwdict/crdt"
)

// EncodeSnapshot serializes a replica snapshot as gzipped JSON, the
// format replicas exchange through the board and the merge command reads.
func EncodeSnapshot[V any](s crdt.Snapshot[V]) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "marshal snapshot")
	}
	return CompressData(data)
}

// DecodeSnapshot parses data produced by EncodeSnapshot.
func DecodeSnapshot[V any](data []byte) (crdt.Snapshot[V], error) {
	var s crdt.Snapshot[V]

	raw, err := DecompressData(data)
	if err != nil {
		return s, errors.Wrap(err, "decompress snapshot")
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, errors.Wrap(err, "unmarshal snapshot")
	}

	if s.Added == nil {
		s.Added = make(map[string]crdt.Element[V])
	}
	if s.Removed == nil {
		s.Removed = make(map[string]crdt.Element[V])
	}
	return s, nil
}
