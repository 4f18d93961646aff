package models

import "encoding/json"

// SetRequest is the body of POST /set.
type SetRequest struct {
	Dict  string          `json:"dict"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// RemoveRequest is the body of POST /remove.
type RemoveRequest struct {
	Dict string `json:"dict"`
	Key  string `json:"key"`
}

// SyncRequest is the body of POST /sync. An empty Dict syncs every
// dictionary.
type SyncRequest struct {
	Dict string `json:"dict"`
}
