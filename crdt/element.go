package crdt

import (
	"strings"

	"github.com/pkg/errors"
)

// Element is one timestamped observation of a key, either as added or
// as removed.
type Element[V any] struct {
	Timestamp Timestamp `json:"ts"`
	Value     V         `json:"value"`
}

// Bias resolves an add and a remove of the same key carrying identical
// timestamps.
type Bias int

const (
	// PreferAdded keeps the key visible on a tie.
	PreferAdded Bias = iota
	// PreferRemoved hides the key on a tie.
	PreferRemoved
)

// ErrUnknownBias is returned when a bias name cannot be parsed.
var ErrUnknownBias = errors.New("unknown bias")

func (b Bias) String() string {
	switch b {
	case PreferAdded:
		return "added"
	case PreferRemoved:
		return "removed"
	}
	return "unknown"
}

// ParseBias accepts "added"/"removed", optionally prefixed with
// "prefer", in any case.
func ParseBias(s string) (Bias, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "prefer")
	name = strings.TrimLeft(name, "-_ ")

	switch name {
	case "added", "add", "":
		return PreferAdded, nil
	case "removed", "remove":
		return PreferRemoved, nil
	}
	return PreferAdded, errors.Wrapf(ErrUnknownBias, "parse %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (b Bias) MarshalText() ([]byte, error) {
	if b != PreferAdded && b != PreferRemoved {
		return nil, errors.Wrapf(ErrUnknownBias, "marshal %d", int(b))
	}
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bias) UnmarshalText(text []byte) error {
	parsed, err := ParseBias(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// visible applies the last-write-wins rule to one key's added and removed
// observations. Only the clock readings are compared, so the bias also
// settles an add and a remove issued at the same instant by different
// replicas.
func visible[V any](added Element[V], hasAdded bool, removed Element[V], hasRemoved bool, bias Bias) bool {
	if !hasAdded {
		return false
	}
	if !hasRemoved {
		return true
	}

	switch added.Timestamp.compareTime(removed.Timestamp) {
	case 1:
		return true
	case -1:
		return false
	}
	return bias == PreferAdded
}
