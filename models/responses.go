package models

import "encoding/json"

// GetResponse answers GET /get.
type GetResponse struct {
	Replica string          `json:"replica"`
	Dict    string          `json:"dict"`
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value,omitempty"`
	Found   bool            `json:"found"`
}

// RemoveResponse answers POST /remove. Removed is false when the key was
// not visible, in which case nothing was recorded.
type RemoveResponse struct {
	Replica string `json:"replica"`
	Dict    string `json:"dict"`
	Key     string `json:"key"`
	Removed bool   `json:"removed"`
}

// KeysResponse answers GET /keys.
type KeysResponse struct {
	Replica string   `json:"replica"`
	Dict    string   `json:"dict"`
	Keys    []string `json:"keys"`
}

// SyncResponse answers POST /sync.
type SyncResponse struct {
	Replica  string   `json:"replica"`
	Synced   []string `json:"synced"`
	Failures int      `json:"failures"`
}

// ReplicasResponse answers GET /replicas.
type ReplicasResponse struct {
	Replicas []string `json:"replicas"`
}
