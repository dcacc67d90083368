package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/artifact-loader/internal/artifact"
	"github.com/JakeFAU/artifact-loader/internal/discovery"
)

// RecordStore writes one row per discovered page, with the decoded artifacts
// as JSONB.
type RecordStore struct {
	db    DB
	table string
}

// NewRecordStore wraps an open pool. table defaults to "artifact_discoveries".
func NewRecordStore(db DB, table string) (*RecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "artifact_discoveries")
	if err != nil {
		return nil, err
	}
	return &RecordStore{db: db, table: name}, nil
}

// Close releases the underlying pool.
func (s *RecordStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// StoreRecord inserts a discovery row.
func (s *RecordStore) StoreRecord(ctx context.Context, record discovery.PageRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("record store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	artifacts := record.Artifacts
	if artifacts == nil {
		artifacts = []artifact.Artifact{}
	}
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	job_id,
	url,
	mode,
	discovered_at,
	duration_ms,
	artifact_count,
	content_hash,
	blob_uri,
	error_text,
	artifacts
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	args := []any{
		record.ID,
		record.JobID,
		record.URL,
		string(record.Mode),
		record.DiscoveredAt,
		record.DurationMs,
		record.ArtifactCount,
		record.ContentHash,
		record.BlobURI,
		record.ErrorText,
		artifactsJSON,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert discovery record: %w", err)
	}
	return nil
}
