package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khelechy/lwwdict/board"
	"github.com/khelechy/lwwdict/metrics"
	"github.com/khelechy/lwwdict/models"
	"github.com/khelechy/lwwdict/node"
)

// newTestServer hosts replicas r0..r{count-1}, sharing one board when
// shared is set.
func newTestServer(t *testing.T, count int, shared bool) (*Server, *httptest.Server) {
	t.Helper()

	reg := prom.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	var b *board.Board
	if shared {
		b = board.New()
	}

	srv := &Server{Gatherer: reg, Workers: 2}
	for i := 0; i < count; i++ {
		opts := []node.Option{node.WithID(fmt.Sprintf("r%d", i)), node.WithMetrics(m)}
		if b != nil {
			opts = append(opts, node.WithBoard(b))
		}
		srv.Replicas = append(srv.Replicas, node.New(opts...))
	}

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSetGetRemove(t *testing.T) {
	_, ts := newTestServer(t, 1, false)

	resp := post(t, ts.URL+"/set", `{"dict":"config","key":"host","value":{"name":"db-1","port":5432}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts.URL+"/get?dict=config&key=host")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.GetResponse
	decode(t, resp, &got)
	assert.True(t, got.Found)
	assert.Equal(t, "r0", got.Replica)
	assert.JSONEq(t, `{"name":"db-1","port":5432}`, string(got.Value))

	resp = post(t, ts.URL+"/remove", `{"dict":"config","key":"host"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var removed models.RemoveResponse
	decode(t, resp, &removed)
	assert.True(t, removed.Removed)

	resp = post(t, ts.URL+"/remove", `{"dict":"config","key":"host"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &removed)
	assert.False(t, removed.Removed, "removing a hidden key records nothing")

	resp = get(t, ts.URL+"/get?dict=config&key=host")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBadRequests(t *testing.T) {
	_, ts := newTestServer(t, 1, false)

	resp := post(t, ts.URL+"/set", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/set", `{"dict":"config"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, ts.URL+"/set")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = get(t, ts.URL+"/get?dict=config")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/remove", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/remove", `{"dict":"","key":"k"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/remove", `{"dict":"config","key":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/remove", `{"dict":"missing","key":"k"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, ts.URL+"/keys")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, ts.URL+"/keys?dict=missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, ts.URL+"/keys?dict=config&replica=nobody")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKeys(t *testing.T) {
	_, ts := newTestServer(t, 1, false)

	post(t, ts.URL+"/set", `{"dict":"config","key":"b","value":1}`)
	post(t, ts.URL+"/set", `{"dict":"config","key":"a","value":2}`)

	resp := get(t, ts.URL+"/keys?dict=config")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.KeysResponse
	decode(t, resp, &got)
	assert.Equal(t, []string{"a", "b"}, got.Keys)
}

func TestReplicas(t *testing.T) {
	_, ts := newTestServer(t, 3, true)

	resp := get(t, ts.URL+"/replicas")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.ReplicasResponse
	decode(t, resp, &got)
	assert.Equal(t, []string{"r0", "r1", "r2"}, got.Replicas)
}

func TestReplicasAreIndependentUntilSync(t *testing.T) {
	_, ts := newTestServer(t, 2, true)

	resp := post(t, ts.URL+"/set?replica=r1", `{"dict":"config","key":"region","value":"eu-west"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts.URL+"/get?dict=config&key=region&replica=r0")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(t, ts.URL+"/sync?replica=r1", `{"dict":"config"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = post(t, ts.URL+"/sync?replica=r0", `{"dict":"config"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts.URL+"/get?dict=config&key=region&replica=r0")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.GetResponse
	decode(t, resp, &got)
	assert.Equal(t, "r0", got.Replica)
	assert.Equal(t, `"eu-west"`, string(got.Value))
}

func TestSyncAllDictionaries(t *testing.T) {
	srv, ts := newTestServer(t, 2, true)

	post(t, ts.URL+"/set?replica=r0", `{"dict":"flags","key":"dark-mode","value":true}`)
	post(t, ts.URL+"/set?replica=r1", `{"dict":"limits","key":"rps","value":100}`)

	// r0 publishes, r1 merges it and publishes both, r0 picks up limits.
	for _, id := range []string{"r0", "r1", "r0"} {
		resp := post(t, ts.URL+"/sync?replica="+id, ``)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got models.SyncResponse
		decode(t, resp, &got)
		assert.Equal(t, id, got.Replica)
		assert.Zero(t, got.Failures)
	}

	for _, n := range srv.Replicas {
		assert.Equal(t, []string{"flags", "limits"}, n.Dicts(), "dictionaries on %s", n.ID)
		v, ok := n.Get("limits", "rps")
		require.True(t, ok)
		assert.Equal(t, `100`, string(v))
	}
}

func TestSyncWithoutBoard(t *testing.T) {
	_, ts := newTestServer(t, 1, false)

	resp := post(t, ts.URL+"/sync", `{"dict":"config"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestNoReplicas(t *testing.T) {
	srv := &Server{}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	resp := get(t, ts.URL+"/keys?dict=config")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, 1, false)

	post(t, ts.URL+"/set", `{"dict":"config","key":"a","value":1}`)

	resp := get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lwwdict_node_sets_total{dict="config"} 1`)
}
