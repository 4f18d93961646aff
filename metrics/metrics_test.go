package metrics

import (
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDiscard(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, m.Sets)
	assert.NotNil(t, m.SyncErrors)

	m.Sets.With("dict", "config").Add(1)
}

func TestNewPrometheus(t *testing.T) {
	reg := prom.NewRegistry()

	m, err := New(reg)
	require.NoError(t, err)

	m.Sets.With("dict", "config").Add(1)
	m.Sets.With("dict", "config").Add(2)
	m.Removes.With("dict", "other").Add(1)

	count, err := testutil.GatherAndCount(reg, "lwwdict_node_sets_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, f := range families {
		if f.GetName() != "lwwdict_node_sets_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 3.0, total)
}

func TestNewPrometheusDuplicate(t *testing.T) {
	reg := prom.NewRegistry()

	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}
