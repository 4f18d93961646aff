package simulate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khelechy/lwwdict/crdt"
)

func TestRunConverges(t *testing.T) {
	for _, bias := range []crdt.Bias{crdt.PreferAdded, crdt.PreferRemoved} {
		report, err := Run(context.TODO(), Options{
			Replicas: 4,
			Rounds:   30,
			Keys:     8,
			Bias:     bias,
			Workers:  2,
			Seed:     42,
		})
		require.NoError(t, err)

		assert.True(t, report.Converged(), "divergent keys with bias %s: %v", bias, report.Divergent)
		assert.Len(t, report.Replicas, 4)
		assert.Positive(t, report.Sets)
		// Removes of keys that are not visible record nothing and are not counted.
		assert.LessOrEqual(t, report.Sets+report.Removes, 4*30)
		assert.GreaterOrEqual(t, report.Rounds, 30)
	}
}

func TestRunDefaults(t *testing.T) {
	report, err := Run(context.TODO(), Options{Rounds: 5})
	require.NoError(t, err)

	assert.Len(t, report.Replicas, 3)
	assert.True(t, report.Converged())
	for _, k := range report.Keys {
		assert.Regexp(t, `^k\d+$`, k)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
