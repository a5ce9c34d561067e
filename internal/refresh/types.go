package refresh

import (
	"time"

	"github.com/withObsrvr/obsrvr-geotime/internal/tables"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// ProducerName identifies this pipeline in manifests, lineage and audit events.
const ProducerName = "geotime-refresh"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSkipped   = "skipped"
	StatusCommitted = "committed"
	StatusDumped    = "dumped"
	StatusFailed    = "failed"
)

// tableKind selects the mapper used for a source table.
type tableKind int

const (
	networkKind tableKind = iota
	locationKind
)

// tablePlan is one source CSV feeding one store table.
type tablePlan struct {
	Key   string // short name used in split artifact names
	File  string // file name inside the archive
	Table string // target table
	Kind  tableKind
}

// TableStats summarizes what a run generated for one source table.
type TableStats struct {
	Table      string
	Rows       int64
	Statements int64
	Violations int64
}

// ArtifactResult is one generated SQL artifact and what happened to it.
type ArtifactResult struct {
	Name            string
	Path            string
	Digest          tables.Digest
	Bookmark        string
	AlreadyImported bool
	Resumed         bool // skipped because the checkpoint already had it
	Attempts        int
}

// Result describes a finished refresh run.
type Result struct {
	RunID      string
	Marker     string
	Status     string
	Artifacts  []ArtifactResult
	Tables     map[string]*TableStats
	Snapshots  []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Rows returns the total number of rows generated across tables.
func (r *Result) Rows() int64 {
	var n int64
	for _, t := range r.Tables {
		n += t.Rows
	}
	return n
}

// Statements returns the total number of statements generated across tables.
func (r *Result) Statements() int64 {
	var n int64
	for _, t := range r.Tables {
		n += t.Statements
	}
	return n
}
