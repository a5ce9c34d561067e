package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/withObsrvr/obsrvr-geotime/internal/metrics"
	"github.com/withObsrvr/obsrvr-geotime/internal/util"
)

// ArchiveName is the file name of the downloaded archive in the work dir.
const ArchiveName = "GeoLite2-City.zip"

// Fetch returns the path of the archive in workDir, downloading it only
// when no copy exists or the copy's sidecar marker names a different
// dataset version. reused reports whether an existing copy was kept.
func Fetch(ctx context.Context, p Provider, workDir, marker string) (path string, reused bool, err error) {
	log := slog.With("component", "source", "provider", p.Name())

	if err := util.EnsureDir(workDir); err != nil {
		return "", false, fmt.Errorf("create work dir %s: %w", workDir, err)
	}
	path = filepath.Join(workDir, ArchiveName)
	markerPath := path + ".marker"

	exists, err := util.Exists(path)
	if err != nil {
		return "", false, fmt.Errorf("stat %s: %w", path, err)
	}
	if exists {
		prev, err := os.ReadFile(markerPath)
		switch {
		case err == nil && marker != "" && strings.TrimSpace(string(prev)) != marker:
			log.Info("cached archive is stale", "cached_marker", strings.TrimSpace(string(prev)), "marker", marker)
		case err != nil && !os.IsNotExist(err):
			return "", false, fmt.Errorf("read marker %s: %w", markerPath, err)
		default:
			log.Info("reusing cached archive", "path", path)
			return path, true, nil
		}
	}

	partial := path + ".part"
	if err := p.Download(ctx, partial); err != nil {
		os.Remove(partial)
		if m := metrics.Get(); m != nil {
			m.IncSourceErrors(metrics.Labels{Provider: p.Name()})
		}
		return "", false, fmt.Errorf("download archive: %w", err)
	}
	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return "", false, fmt.Errorf("rename %s: %w", partial, err)
	}
	if marker != "" {
		if _, err := util.WriteFileAtomic(markerPath, strings.NewReader(marker+"\n")); err != nil {
			return "", false, fmt.Errorf("write marker: %w", err)
		}
	}

	log.Info("archive fetched", "path", path, "marker", marker)
	return path, false, nil
}
