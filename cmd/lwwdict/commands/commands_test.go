package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khelechy/lwwdict/board"
	"github.com/khelechy/lwwdict/config"
	"github.com/khelechy/lwwdict/crdt"
	"github.com/khelechy/lwwdict/metrics"
	"github.com/khelechy/lwwdict/utils"
)

func writeSnapshot(t *testing.T, dir, name string, d *crdt.Dict[json.RawMessage]) string {
	t.Helper()

	data, err := utils.EncodeSnapshot(d.Snapshot())
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestMergeSnapshotFiles(t *testing.T) {
	dir := t.TempDir()

	left := crdt.New[json.RawMessage](crdt.PreferAdded)
	for i, k := range []string{"a", "b", "c"} {
		left.Set(k, json.RawMessage([]byte{'0' + byte(i)}))
	}
	right := left.Clone()
	left.Set("b", json.RawMessage(`"left"`))
	right.Set("c", json.RawMessage(`"right"`))
	right.Remove("a")

	leftPath := writeSnapshot(t, dir, "left.snap", left)
	rightPath := writeSnapshot(t, dir, "right.snap", right)

	merged, err := mergeSnapshotFiles(leftPath, rightPath)
	require.NoError(t, err)

	entries := visibleEntries(merged)
	assert.Len(t, entries, 2)
	assert.Equal(t, `"left"`, string(entries["b"]))
	assert.Equal(t, `"right"`, string(entries["c"]))

	_, err = mergeSnapshotFiles(leftPath, filepath.Join(dir, "missing.snap"))
	assert.Error(t, err)
}

func TestMergeCommandOutput(t *testing.T) {
	dir := t.TempDir()

	left := crdt.New[json.RawMessage](crdt.PreferRemoved)
	left.Set("x", json.RawMessage(`1`))
	right := crdt.New[json.RawMessage](crdt.PreferAdded)
	right.Set("y", json.RawMessage(`2`))

	leftPath := writeSnapshot(t, dir, "left.snap", left)
	rightPath := writeSnapshot(t, dir, "right.snap", right)
	outPath := filepath.Join(dir, "merged.snap")

	out, err := execute(t, "merge", leftPath, rightPath, "--output", outPath, "--env", filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Contains(t, out, "2 visible keys")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	s, err := utils.DecodeSnapshot[json.RawMessage](data)
	require.NoError(t, err)
	assert.Equal(t, crdt.PreferRemoved, s.Bias)
	assert.Len(t, s.Added, 2)
}

func TestSimulateCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "simulate", "--no-banner", "--seed", "7",
		"--replicas", "3", "--rounds", "10", "--keys", "5",
		"--env", filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Contains(t, out, "All replicas converged")
}

func TestBuildReplicasShareBoard(t *testing.T) {
	ctx := context.TODO()

	conf := config.Default()
	conf.Node.ID = "edge"
	conf.Node.Bias = "removed"

	replicas := buildReplicas(conf, board.New(), log.NewNopLogger(), metrics.NewDiscard())
	require.Len(t, replicas, 3)
	assert.Equal(t, "edge-0", replicas[0].ID)

	require.NoError(t, replicas[2].Set("config", "region", json.RawMessage(`"eu-west"`)))
	for _, n := range replicas {
		assert.Zero(t, n.SyncOnce(ctx, 1))
	}
	// One more pass lets the replicas that synced first pick up the write.
	for _, n := range replicas {
		assert.Zero(t, n.SyncOnce(ctx, 1))
	}

	for _, n := range replicas {
		v, ok := n.Get("config", "region")
		require.True(t, ok, "replica %s", n.ID)
		assert.Equal(t, `"eu-west"`, string(v))

		r, err := n.Replica("config")
		require.NoError(t, err)
		assert.Equal(t, crdt.PreferRemoved, r.Bias())
	}
}

func TestInitLogger(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "bogus"} {
		assert.NotNil(t, initLogger(lvl))
	}
}
