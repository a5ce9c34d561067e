package refresh

import (
	"fmt"
	"path/filepath"

	"github.com/withObsrvr/obsrvr-geotime/internal/audit"
	"github.com/withObsrvr/obsrvr-geotime/internal/metadata"
	"github.com/withObsrvr/obsrvr-geotime/internal/source"
	"github.com/withObsrvr/obsrvr-geotime/internal/storage"
	"github.com/withObsrvr/obsrvr-geotime/internal/tables"
	"github.com/withObsrvr/obsrvr-geotime/internal/util"
)

// artifactBase is the file name stem shared by every artifact of a marker.
func artifactBase(marker string) string {
	slug := util.Slug(marker)
	if slug == "" {
		slug = "unversioned"
	}
	return "geoip2-" + slug
}

// plans returns the source tables to load, in load order.
func plans(includeIPv6 bool) []tablePlan {
	p := []tablePlan{
		{Key: "ipv4", File: source.BlocksIPv4File, Table: tables.NetworkTableName, Kind: networkKind},
	}
	if includeIPv6 {
		p = append(p, tablePlan{Key: "ipv6", File: source.BlocksIPv6File, Table: tables.NetworkTableName, Kind: networkKind})
	}
	return append(p, tablePlan{Key: "locations", File: source.LocationsFile, Table: tables.LocationTableName, Kind: locationKind})
}

// producerVersion is the version string recorded in lineage.
func producerVersion() string {
	return fmt.Sprintf("%s@%s", ProducerName, Version)
}

// archiveArtifacts converts run artifacts for the archiver.
func archiveArtifacts(res *Result) []storage.Artifact {
	out := make([]storage.Artifact, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		out = append(out, storage.Artifact{Path: a.Path, ETag: a.Digest.MD5})
	}
	return out
}

// archiveTables converts run table stats for the archive manifest.
func archiveTables(res *Result) map[string]storage.TableInfo {
	out := make(map[string]storage.TableInfo, len(res.Tables))
	for key, t := range res.Tables {
		out[key] = storage.TableInfo{
			Rows:       t.Rows,
			Statements: t.Statements,
			Violations: t.Violations,
		}
	}
	return out
}

// buildAuditEvent creates the audit event for a committed refresh. manifest
// is nil when the run was not archived.
func buildAuditEvent(res *Result, storeName string, manifest *storage.Manifest) audit.Event {
	arts := make(map[string]audit.ArtifactInfo, len(res.Artifacts))
	for _, a := range res.Artifacts {
		info := audit.ArtifactInfo{
			Checksum: a.Digest.SHA256,
			ETag:     a.Digest.MD5,
			ByteSize: a.Digest.Size,
			Bookmark: a.Bookmark,
		}
		if manifest != nil {
			if stored, ok := manifest.Artifacts[a.Name]; ok {
				info.StoragePath = stored.File
			}
		}
		arts[a.Name] = info
	}

	tbls := make(map[string]audit.TableInfo, len(res.Tables))
	for key, t := range res.Tables {
		tbls[key] = audit.TableInfo{RowCount: t.Rows, Statements: t.Statements}
	}

	return audit.Event{
		Dataset:   "geoip2-city",
		Marker:    res.Marker,
		RunID:     res.RunID,
		Store:     storeName,
		Artifacts: arts,
		Tables:    tbls,
		Producer:  audit.ProducerInfo{Name: ProducerName, Version: Version},
	}
}

// buildArtifactRecord creates a catalog ArtifactRecord for one artifact.
func buildArtifactRecord(runID string, a ArtifactResult, manifest *storage.Manifest) metadata.ArtifactRecord {
	rec := metadata.ArtifactRecord{
		RunID:           runID,
		Name:            a.Name,
		ETag:            a.Digest.MD5,
		Checksum:        a.Digest.SHA256,
		ByteSize:        a.Digest.Size,
		Bookmark:        a.Bookmark,
		AlreadyImported: a.AlreadyImported || a.Resumed,
		Attempts:        a.Attempts,
	}
	if manifest != nil {
		if stored, ok := manifest.Artifacts[a.Name]; ok {
			rec.StorageURI = stored.URI
		}
	}
	return rec
}

// buildRunRecord creates a catalog RunRecord from a run result.
func buildRunRecord(res *Result, mode string, runErr error) metadata.RunRecord {
	rec := metadata.RunRecord{
		RunID:           res.RunID,
		Marker:          res.Marker,
		Mode:            mode,
		Status:          res.Status,
		RowsGenerated:   res.Rows(),
		Statements:      res.Statements(),
		Artifacts:       len(res.Artifacts),
		ProducerVersion: producerVersion(),
		StartedAt:       res.StartedAt,
		FinishedAt:      res.FinishedAt,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec
}

// buildSummary creates the JSON sidecar describing the run's artifacts.
func buildSummary(res *Result, mode string) *metadata.Summary {
	s := metadata.NewSummary(res.RunID, res.Marker, mode, producerVersion())
	s.Status = res.Status
	s.Timestamp = res.FinishedAt
	for key, t := range res.Tables {
		s.Rows[key] = t.Rows
	}
	for _, a := range res.Artifacts {
		s.Artifacts = append(s.Artifacts, metadata.SummaryFile{
			Filename:   a.Name,
			ByteLength: a.Digest.Size,
			MD5:        a.Digest.MD5,
			SHA256:     a.Digest.SHA256,
		})
	}
	for _, p := range res.Snapshots {
		d, err := tables.DigestFile(p)
		if err != nil {
			continue
		}
		s.Artifacts = append(s.Artifacts, metadata.SummaryFile{
			Filename:   filepath.Base(p),
			ByteLength: d.Size,
			MD5:        d.MD5,
			SHA256:     d.SHA256,
		})
	}
	return s
}
