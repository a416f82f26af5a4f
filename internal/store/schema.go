package store

import (
	"context"
	"fmt"
)

// ddl creates the three tables the store writes. Interactions carry the
// dedup key as a unique constraint so re-saves fold into occurrence counts.
const ddl = `
CREATE TABLE IF NOT EXISTS scan_jobs (
    id              TEXT PRIMARY KEY,
    status          TEXT NOT NULL,
    repos           JSONB NOT NULL DEFAULT '[]',
    per_repo_errors JSONB NOT NULL DEFAULT '{}',
    error           TEXT NOT NULL DEFAULT '',
    started_at      TIMESTAMPTZ NOT NULL,
    finished_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS services (
    scan_id   TEXT NOT NULL REFERENCES scan_jobs(id) ON DELETE CASCADE,
    id        TEXT NOT NULL,
    name      TEXT NOT NULL,
    repo      TEXT NOT NULL,
    language  TEXT NOT NULL DEFAULT '',
    path_hint TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (scan_id, id)
);

CREATE TABLE IF NOT EXISTS interactions (
    scan_id          TEXT NOT NULL REFERENCES scan_jobs(id) ON DELETE CASCADE,
    source_id        TEXT NOT NULL,
    target_id        TEXT NOT NULL,
    kind             TEXT NOT NULL,
    http_method      TEXT NOT NULL DEFAULT '',
    http_url_pattern TEXT NOT NULL DEFAULT '',
    kafka_topic      TEXT NOT NULL DEFAULT '',
    occurrences      INTEGER NOT NULL DEFAULT 1,
    evidence         TEXT NOT NULL DEFAULT '',
    UNIQUE (scan_id, source_id, target_id, kind, http_method, http_url_pattern, kafka_topic)
);

CREATE INDEX IF NOT EXISTS idx_interactions_scan ON interactions (scan_id);
CREATE INDEX IF NOT EXISTS idx_services_repo ON services (repo);
`

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
