package metadata

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/withObsrvr/obsrvr-geotime/internal/util"
)

// Summary is the JSON sidecar written next to a run's artifacts, so an
// operator inspecting the work dir can tell what produced them.
type Summary struct {
	RunID           string           `json:"run_id"`
	Marker          string           `json:"marker"`
	Mode            string           `json:"mode"`
	Status          string           `json:"status"`
	Artifacts       []SummaryFile    `json:"artifacts"`
	Rows            map[string]int64 `json:"rows"`
	ProducerVersion string           `json:"producer_version"`
	Timestamp       time.Time        `json:"timestamp"`
}

// SummaryFile is one artifact listed in a Summary.
type SummaryFile struct {
	Filename   string `json:"filename"`
	ByteLength int64  `json:"byte_length"`
	MD5        string `json:"md5"`
	SHA256     string `json:"sha256"`
}

func NewSummary(runID, marker, mode, version string) *Summary {
	return &Summary{
		RunID:           runID,
		Marker:          marker,
		Mode:            mode,
		Rows:            make(map[string]int64),
		ProducerVersion: version,
		Timestamp:       time.Now().UTC(),
	}
}

func (s *Summary) WriteJSON(path string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = util.WriteFileAtomic(path, bytes.NewReader(b))
	return err
}
