package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khelechy/lwwdict/models"
	"github.com/khelechy/lwwdict/node"
)

// Server exposes the replicas hosted by one process over HTTP. Every
// route takes an optional replica query parameter naming the replica to
// act on; without it the first replica is used.
type Server struct {
	Replicas []*node.Node
	Logger   log.Logger
	Gatherer prometheus.Gatherer
	Workers  int
}

// Routes returns the HTTP routes of the server. /metrics is only mounted
// when a Gatherer is set.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/set", s.HandleSet)
	mux.HandleFunc("/get", s.HandleGet)
	mux.HandleFunc("/remove", s.HandleRemove)
	mux.HandleFunc("/keys", s.HandleKeys)
	mux.HandleFunc("/sync", s.HandleSync)
	mux.HandleFunc("/replicas", s.HandleReplicas)
	if s.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) logger() log.Logger {
	if s.Logger == nil {
		return log.NewNopLogger()
	}
	return s.Logger
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Warn(s.logger()).Log("msg", "failed to write response", "err", err)
	}
}

// replica resolves the replica query parameter, writing an error response
// when it names no hosted replica.
func (s *Server) replica(w http.ResponseWriter, r *http.Request) (*node.Node, bool) {
	if len(s.Replicas) == 0 {
		http.Error(w, "No replicas hosted", http.StatusServiceUnavailable)
		return nil, false
	}

	id := r.URL.Query().Get("replica")
	if id == "" {
		return s.Replicas[0], true
	}
	for _, n := range s.Replicas {
		if n.ID == id {
			return n, true
		}
	}
	http.Error(w, fmt.Sprintf("Replica %q not found", id), http.StatusNotFound)
	return nil, false
}

func (s *Server) HandleSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, ok := s.replica(w, r)
	if !ok {
		return
	}
	var req models.SetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Failed to decode JSON: %v", err), http.StatusBadRequest)
		return
	}
	if req.Dict == "" || req.Key == "" {
		http.Error(w, "Missing required fields: dict and key", http.StatusBadRequest)
		return
	}
	if len(req.Value) == 0 {
		req.Value = json.RawMessage("null")
	}

	if err := n.Set(req.Dict, req.Key, req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Value set")
}

func (s *Server) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, ok := s.replica(w, r)
	if !ok {
		return
	}

	dict := r.URL.Query().Get("dict")
	key := r.URL.Query().Get("key")
	if dict == "" || key == "" {
		http.Error(w, "Missing required parameters: dict and key", http.StatusBadRequest)
		return
	}

	value, found := n.Get(dict, key)
	resp := models.GetResponse{Replica: n.ID, Dict: dict, Key: key, Value: value, Found: found}
	if !found {
		s.writeJSON(w, http.StatusNotFound, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, ok := s.replica(w, r)
	if !ok {
		return
	}
	var req models.RemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Failed to decode JSON: %v", err), http.StatusBadRequest)
		return
	}
	if req.Dict == "" || req.Key == "" {
		http.Error(w, "Missing required fields: dict and key", http.StatusBadRequest)
		return
	}

	removed, err := n.Remove(req.Dict, req.Key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, models.RemoveResponse{Replica: n.ID, Dict: req.Dict, Key: req.Key, Removed: removed})
}

func (s *Server) HandleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, ok := s.replica(w, r)
	if !ok {
		return
	}

	dict := r.URL.Query().Get("dict")
	if dict == "" {
		http.Error(w, "Missing required parameter: dict", http.StatusBadRequest)
		return
	}
	keys, err := n.Keys(dict)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, models.KeysResponse{Replica: n.ID, Dict: dict, Keys: keys})
}

func (s *Server) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, ok := s.replica(w, r)
	if !ok {
		return
	}
	var req models.SyncRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}

	if req.Dict == "" {
		failures := n.SyncOnce(ctx, s.Workers)
		s.writeJSON(w, http.StatusOK, models.SyncResponse{Replica: n.ID, Synced: n.Dicts(), Failures: failures})
		return
	}

	if err := n.SyncDict(ctx, req.Dict); err != nil {
		level.Warn(s.logger()).Log("msg", "sync failed", "replica", n.ID, "dict", req.Dict, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := n.Publish(ctx, req.Dict); err != nil && err != node.ErrDictNotFound {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, models.SyncResponse{Replica: n.ID, Synced: []string{req.Dict}})
}

func (s *Server) HandleReplicas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ids := make([]string, 0, len(s.Replicas))
	for _, n := range s.Replicas {
		ids = append(ids, n.ID)
	}
	s.writeJSON(w, http.StatusOK, models.ReplicasResponse{Replicas: ids})
}
