package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"

	"github.com/withObsrvr/obsrvr-geotime/internal/util"
)

// fileBackup keeps one JSON file per emitted event.
type fileBackup struct {
	dir string
}

func newFileBackup(dir string) (*fileBackup, error) {
	if dir == "" {
		dir = "./audit-backup"
	}
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create audit backup dir: %w", err)
	}
	return &fileBackup{dir: dir}, nil
}

// Name returns {dataset}_{marker-slug}_{run}.json for evt.
func (f *fileBackup) Name(evt *RefreshEvent) string {
	return fmt.Sprintf("%s_%s_%s.json",
		util.Slug(evt.Refresh.Dataset), util.Slug(evt.Refresh.Marker), evt.Refresh.RunID)
}

// Save writes evt atomically under the backup directory.
func (f *fileBackup) Save(evt *RefreshEvent) error {
	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	path := filepath.Join(f.dir, f.Name(evt))
	if _, err := util.WriteFileAtomic(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("back up audit event: %w", err)
	}
	log.Printf("[audit] backed up to %s", path)
	return nil
}
