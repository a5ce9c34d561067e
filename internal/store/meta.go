package store

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the geo tables if they do not exist.
func Migrate(ctx context.Context, q Querier) error {
	for _, stmt := range SchemaStatements() {
		if err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// SchemaStatements returns the schema split into single statements.
func SchemaStatements() []string {
	var out []string
	for _, part := range strings.Split(schemaSQL, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s+";")
		}
	}
	return out
}

// Meta reads and advances the refresh marker.
type Meta struct {
	q Querier
}

// NewMeta returns refresh-state operations over q.
func NewMeta(q Querier) *Meta {
	return &Meta{q: q}
}

// LastUpdated returns the recorded source marker, or "" when none exists.
func (m *Meta) LastUpdated(ctx context.Context) (string, error) {
	rows, err := m.q.Query(ctx, "SELECT last_updated FROM geoip2_metadata WHERE id = 1")
	if err != nil {
		return "", fmt.Errorf("read last_updated: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	v, _ := rows[0].String("last_updated")
	return v, nil
}

// SetLastUpdated records marker. This write is the refresh commit point.
func (m *Meta) SetLastUpdated(ctx context.Context, marker string) error {
	const q = `INSERT INTO geoip2_metadata (id, last_updated) VALUES (1, ?)
ON CONFLICT(id) DO UPDATE SET last_updated = excluded.last_updated`
	if err := m.q.Exec(ctx, q, marker); err != nil {
		return fmt.Errorf("write last_updated: %w", err)
	}
	return nil
}
