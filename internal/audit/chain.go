package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-geotime/internal/util"
)

const ledgerFile = "audit-ledger.json"

// Head is the last event emitted on one chain.
type Head struct {
	Hash     string `json:"hash"`
	Sequence int64  `json:"sequence"`
	Marker   string `json:"marker"`
	RunID    string `json:"run_id"`
}

// ComputeEventHash hashes the event's JSON encoding with event_hash cleared.
// Map keys are encoded sorted, so artifact and table order is irrelevant.
func ComputeEventHash(evt *RefreshEvent) string {
	unsealed := *evt
	unsealed.Chain.EventHash = ""

	data, err := json.Marshal(unsealed)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ledger persists the head of every chain in a single JSON file so a
// restarted process continues each chain where it stopped.
type ledger struct {
	mu    sync.Mutex
	path  string
	heads map[string]Head
}

func openLedger(dir string) (*ledger, error) {
	if dir == "" {
		dir = "./state"
	}
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	l := &ledger{path: filepath.Join(dir, ledgerFile), heads: map[string]Head{}}
	data, err := os.ReadFile(l.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if err := json.Unmarshal(data, &l.heads); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", l.path, err)
	}
	return l, nil
}

// Head returns the current head of chain key. The zero Head starts a chain.
func (l *ledger) Head(key string) Head {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heads[key]
}

// Advance makes evt the head of its chain.
func (l *ledger) Advance(evt *RefreshEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.heads[evt.Refresh.ChainKey()] = Head{
		Hash:     evt.Chain.EventHash,
		Sequence: evt.Chain.Sequence,
		Marker:   evt.Refresh.Marker,
		RunID:    evt.Refresh.RunID,
	}

	data, err := json.MarshalIndent(l.heads, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if _, err := util.WriteFileAtomic(l.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// GenerateEventID creates a unique event ID.
func GenerateEventID() string {
	return "audit_evt_" + uuid.NewString()
}
