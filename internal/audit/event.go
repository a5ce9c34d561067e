package audit

import (
	"time"
)

const (
	eventVersion = "1.1"
	eventType    = "geoip_refresh"
)

// RefreshEvent is the tamper-evident record of one committed refresh.
type RefreshEvent struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Refresh   RefreshInfo             `json:"refresh"`
	Artifacts map[string]ArtifactInfo `json:"artifacts"`
	Tables    map[string]TableInfo    `json:"tables"`
	Producer  ProducerInfo            `json:"producer"`
	Chain     ChainInfo               `json:"chain"`
}

// RefreshInfo identifies the dataset version that was committed.
type RefreshInfo struct {
	Dataset string `json:"dataset"`
	Marker  string `json:"marker"`
	RunID   string `json:"run_id"`
	Store   string `json:"store"`
}

// ArtifactInfo contains the checksums of one imported artifact.
type ArtifactInfo struct {
	Checksum    string `json:"checksum"`
	ETag        string `json:"etag"`
	ByteSize    int64  `json:"byte_size"`
	Bookmark    string `json:"bookmark"`
	StoragePath string `json:"storage_path,omitempty"`
}

// TableInfo summarizes what was generated for one table.
type TableInfo struct {
	RowCount   int64 `json:"row_count"`
	Statements int64 `json:"statements"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ChainInfo links an event to its predecessor. Sequence starts at 1.
type ChainInfo struct {
	Sequence      int64  `json:"sequence"`
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the unique key for this refresh's chain. Each dataset
// written to each store forms its own chain.
func (r RefreshInfo) ChainKey() string {
	return r.Dataset + "/" + r.Store
}

// Link appends the event after head and seals it with its own hash.
func (e *RefreshEvent) Link(head Head) {
	e.Chain.Sequence = head.Sequence + 1
	e.Chain.PrevEventHash = head.Hash
	e.Chain.EventHash = ComputeEventHash(e)
}
