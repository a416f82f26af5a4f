// Package store persists scan jobs and their graphs. The PostgreSQL
// implementation is the durable path; MemoryStore backs CLI runs without a
// database and the test suites.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when a scan id or repo set has no stored graph.
var ErrNotFound = errors.New("not found in store")

// GraphStore is the persistence boundary consumed by the service layer.
type GraphStore interface {
	SaveScan(ctx context.Context, job *schemas.ScanJob, g *schemas.Graph) error
	LoadGraph(ctx context.Context, scanID string) (*schemas.Graph, error)
	LoadGraphByRepos(ctx context.Context, repos []string) (*schemas.Graph, error)
	LoadJob(ctx context.Context, scanID string) (*schemas.ScanJob, error)
}

// DBPool abstracts pgxpool.Pool so pgxmock can drive the tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store is the PostgreSQL implementation of GraphStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ GraphStore = (*Store)(nil)

// New creates a Store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// SaveScan writes the job record and its graph in one transaction. Nodes go
// through COPY; edges are batched upserts so re-saving the same scan sums
// occurrence counts instead of duplicating edges.
func (s *Store) SaveScan(ctx context.Context, job *schemas.ScanJob, g *schemas.Graph) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := s.persistJob(ctx, tx, job); err != nil {
		return err
	}
	if g != nil {
		if err := s.persistNodes(ctx, tx, job.ID, g.Nodes); err != nil {
			return err
		}
		if err := s.persistEdges(ctx, tx, job.ID, g.Links); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistJob(ctx context.Context, tx pgx.Tx, job *schemas.ScanJob) error {
	reposJSON, err := json.Marshal(job.Repos)
	if err != nil {
		return fmt.Errorf("failed to marshal repos: %w", err)
	}
	errsJSON, err := json.Marshal(job.PerRepoErrors)
	if err != nil {
		return fmt.Errorf("failed to marshal per-repo errors: %w", err)
	}

	sql := `
        INSERT INTO scan_jobs (id, status, repos, per_repo_errors, error, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            per_repo_errors = EXCLUDED.per_repo_errors,
            error = EXCLUDED.error,
            finished_at = EXCLUDED.finished_at;
    `
	var finished *time.Time
	if !job.FinishedAt.IsZero() {
		t := job.FinishedAt.UTC()
		finished = &t
	}
	if _, err := tx.Exec(ctx, sql, job.ID, string(job.Status), reposJSON, errsJSON, job.Error, job.StartedAt.UTC(), finished); err != nil {
		return fmt.Errorf("failed to upsert scan job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) persistNodes(ctx context.Context, tx pgx.Tx, scanID string, nodes []schemas.Service) error {
	if len(nodes) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(nodes))
	for i, n := range nodes {
		rows[i] = []interface{}{scanID, n.ID, n.Name, n.Repo, string(n.Language), n.PathHint}
	}
	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"services"},
		[]string{"scan_id", "id", "name", "repo", "language", "path_hint"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy services: %w", err)
	}
	if int(copyCount) != len(nodes) {
		return fmt.Errorf("mismatch in copied services count: expected %d, got %d", len(nodes), copyCount)
	}
	return nil
}

func (s *Store) persistEdges(ctx context.Context, tx pgx.Tx, scanID string, links []schemas.Interaction) error {
	if len(links) == 0 {
		return nil
	}
	sql := `
        INSERT INTO interactions (scan_id, source_id, target_id, kind, http_method, http_url_pattern, kafka_topic, occurrences, evidence)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (scan_id, source_id, target_id, kind, http_method, http_url_pattern, kafka_topic) DO UPDATE SET
            occurrences = interactions.occurrences + EXCLUDED.occurrences;
    `
	batch := &pgx.Batch{}
	for _, e := range links {
		batch.Queue(sql, scanID, e.SourceID, e.TargetID, string(e.Kind), e.HTTPMethod, e.HTTPURLPattern, e.KafkaTopic, e.Occurrences, e.Evidence)
	}
	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return errors.New("failed to send batch: batch results is nil")
	}
	defer func() { _ = br.Close() }()

	for i := range links {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to execute batch insert for edge %d: %w", i, err)
		}
	}
	return nil
}

// LoadGraph returns the stored graph for one scan id.
func (s *Store) LoadGraph(ctx context.Context, scanID string) (*schemas.Graph, error) {
	g := &schemas.Graph{}

	rows, err := s.pool.Query(ctx, `
        SELECT id, name, repo, language, path_hint
        FROM services WHERE scan_id = $1 ORDER BY id;
    `, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var n schemas.Service
		var lang string
		if err := rows.Scan(&n.ID, &n.Name, &n.Repo, &lang, &n.PathHint); err != nil {
			return nil, fmt.Errorf("failed to scan service row: %w", err)
		}
		n.Language = schemas.Language(lang)
		g.Nodes = append(g.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during service row iteration: %w", err)
	}

	edgeRows, err := s.pool.Query(ctx, `
        SELECT source_id, target_id, kind, http_method, http_url_pattern, kafka_topic, occurrences, evidence
        FROM interactions WHERE scan_id = $1 ORDER BY source_id, target_id;
    `, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e schemas.Interaction
		var kind string
		if err := edgeRows.Scan(&e.SourceID, &e.TargetID, &kind, &e.HTTPMethod, &e.HTTPURLPattern, &e.KafkaTopic, &e.Occurrences, &e.Evidence); err != nil {
			return nil, fmt.Errorf("failed to scan interaction row: %w", err)
		}
		e.Kind = schemas.EdgeKind(kind)
		g.Links = append(g.Links, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("error during interaction row iteration: %w", err)
	}

	if len(g.Nodes) == 0 {
		return nil, fmt.Errorf("scan %s: %w", scanID, ErrNotFound)
	}
	g.Sort()
	return g, nil
}

// LoadGraphByRepos returns the graph of the most recent successful scan
// covering every requested repository, filtered to those repositories and
// the external nodes they reference.
func (s *Store) LoadGraphByRepos(ctx context.Context, repos []string) (*schemas.Graph, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, repos FROM scan_jobs
        WHERE status = 'success'
        ORDER BY started_at DESC;
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan jobs: %w", err)
	}
	defer rows.Close()

	scanID := ""
	for rows.Next() {
		var id string
		var reposJSON []byte
		if err := rows.Scan(&id, &reposJSON); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		var scanned []schemas.RepoRef
		if err := json.Unmarshal(reposJSON, &scanned); err != nil {
			return nil, fmt.Errorf("failed to unmarshal repos for job %s: %w", id, err)
		}
		if coversRepos(scanned, repos) {
			scanID = id
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during job row iteration: %w", err)
	}
	if scanID == "" {
		return nil, fmt.Errorf("no successful scan covering %v: %w", repos, ErrNotFound)
	}

	g, err := s.LoadGraph(ctx, scanID)
	if err != nil {
		return nil, err
	}
	return FilterGraphToRepos(g, repos), nil
}

// LoadJob returns one scan job record.
func (s *Store) LoadJob(ctx context.Context, scanID string) (*schemas.ScanJob, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, status, repos, per_repo_errors, error, started_at, finished_at
        FROM scan_jobs WHERE id = $1;
    `, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error reading scan job: %w", err)
		}
		return nil, fmt.Errorf("scan %s: %w", scanID, ErrNotFound)
	}

	job := &schemas.ScanJob{}
	var status string
	var reposJSON, errsJSON []byte
	var finished *time.Time
	if err := rows.Scan(&job.ID, &status, &reposJSON, &errsJSON, &job.Error, &job.StartedAt, &finished); err != nil {
		return nil, fmt.Errorf("failed to scan job row: %w", err)
	}
	job.Status = schemas.ScanStatus(status)
	if finished != nil {
		job.FinishedAt = *finished
	}
	if err := json.Unmarshal(reposJSON, &job.Repos); err != nil {
		return nil, fmt.Errorf("failed to unmarshal repos: %w", err)
	}
	if len(errsJSON) > 0 {
		if err := json.Unmarshal(errsJSON, &job.PerRepoErrors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal per-repo errors: %w", err)
		}
	}
	return job, nil
}

// coversRepos reports whether scanned includes every requested repo.
func coversRepos(scanned []schemas.RepoRef, requested []string) bool {
	have := make(map[string]bool, len(scanned))
	for _, r := range scanned {
		have[r.FullName] = true
	}
	for _, r := range requested {
		if !have[r] {
			return false
		}
	}
	return true
}

// FilterGraphToRepos keeps nodes owned by the requested repositories plus
// any external nodes they reference, and the edges among the kept nodes.
func FilterGraphToRepos(g *schemas.Graph, repos []string) *schemas.Graph {
	want := make(map[string]bool, len(repos))
	for _, r := range repos {
		want[r] = true
	}

	keep := make(map[string]bool)
	for _, n := range g.Nodes {
		if want[n.Repo] {
			keep[n.ID] = true
		}
	}
	// External nodes ride along when an owned node touches them.
	for _, e := range g.Links {
		if keep[e.SourceID] && !keep[e.TargetID] {
			if n, ok := g.Node(e.TargetID); ok && n.Repo == schemas.ExternalRepo {
				keep[n.ID] = true
			}
		}
		if keep[e.TargetID] && !keep[e.SourceID] {
			if n, ok := g.Node(e.SourceID); ok && n.Repo == schemas.ExternalRepo {
				keep[n.ID] = true
			}
		}
	}

	out := &schemas.Graph{}
	for _, n := range g.Nodes {
		if keep[n.ID] {
			out.Nodes = append(out.Nodes, n)
		}
	}
	for _, e := range g.Links {
		if keep[e.SourceID] && keep[e.TargetID] {
			out.Links = append(out.Links, e)
		}
	}
	out.Sort()
	return out
}
