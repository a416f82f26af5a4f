package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for
// more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// anyArg accepts any value (timestamps and marshaled JSON we don't pin).
var anyArg = ArgumentMatcherFunc(func(v interface{}) bool { return true })

const (
	sqlUpsertJob = `
        INSERT INTO scan_jobs (id, status, repos, per_repo_errors, error, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            per_repo_errors = EXCLUDED.per_repo_errors,
            error = EXCLUDED.error,
            finished_at = EXCLUDED.finished_at;
    `
	sqlUpsertEdge = `
        INSERT INTO interactions (scan_id, source_id, target_id, kind, http_method, http_url_pattern, kafka_topic, occurrences, evidence)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (scan_id, source_id, target_id, kind, http_method, http_url_pattern, kafka_topic) DO UPDATE SET
            occurrences = interactions.occurrences + EXCLUDED.occurrences;
    `
)

var serviceColumns = []string{"scan_id", "id", "name", "repo", "language", "path_hint"}

func testJobAndGraph() (*schemas.ScanJob, *schemas.Graph) {
	orders := schemas.Service{ID: schemas.ServiceID("orders", "acme/orders"), Name: "orders", Repo: "acme/orders", Language: schemas.LangPython}
	payment := schemas.Service{ID: schemas.ServiceID("payment-service", ""), Name: "payment-service", Repo: schemas.ExternalRepo}

	job := &schemas.ScanJob{
		ID:         uuid.NewString(),
		Status:     schemas.ScanSuccess,
		Repos:      []schemas.RepoRef{{FullName: "acme/orders"}},
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}
	g := &schemas.Graph{
		Nodes: []schemas.Service{orders, payment},
		Links: []schemas.Interaction{{
			SourceID:       orders.ID,
			TargetID:       payment.ID,
			Kind:           schemas.EdgeHTTP,
			HTTPMethod:     "POST",
			HTTPURLPattern: "PAYMENT_SERVICE_URL",
			Occurrences:    2,
			Evidence:       "services/orders/api.py:42",
		}},
	}
	g.Sort()
	return job, g
}

func TestNewStore_PingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveScan(t *testing.T) {
	ctx := context.Background()

	t.Run("persists job, nodes and edges in one transaction", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		job, g := testJobAndGraph()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertJob)).
			WithArgs(job.ID, string(job.Status), anyArg, anyArg, job.Error, anyArg, anyArg).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"services"}, serviceColumns).
			WillReturnResult(2)

		batchExp := mockPool.ExpectBatch()
		e := g.Links[0]
		batchExp.ExpectExec(flexibleSQLMatcher(sqlUpsertEdge)).
			WithArgs(job.ID, e.SourceID, e.TargetID, string(e.Kind), e.HTTPMethod, e.HTTPURLPattern, e.KafkaTopic, e.Occurrences, e.Evidence).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.SaveScan(ctx, job, g))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("persists failed job without a graph", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		job, _ := testJobAndGraph()
		job.Status = schemas.ScanError
		job.Error = "all repositories failed"

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertJob)).
			WithArgs(job.ID, string(job.Status), anyArg, anyArg, job.Error, anyArg, anyArg).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.SaveScan(ctx, job, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rolls back when the copy fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		job, g := testJobAndGraph()
		copyErr := errors.New("copy from failed")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertJob)).
			WithArgs(job.ID, string(job.Status), anyArg, anyArg, job.Error, anyArg, anyArg).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"services"}, serviceColumns).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err = store.SaveScan(ctx, job, g)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("begin failure is propagated", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		job, g := testJobAndGraph()
		err = store.SaveScan(ctx, job, g)
		require.Error(t, err)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestLoadGraph(t *testing.T) {
	ctx := context.Background()

	t.Run("reassembles nodes and edges", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		_, g := testJobAndGraph()
		scanID := uuid.NewString()

		nodeRows := pgxmock.NewRows([]string{"id", "name", "repo", "language", "path_hint"})
		for _, n := range g.Nodes {
			nodeRows.AddRow(n.ID, n.Name, n.Repo, string(n.Language), n.PathHint)
		}
		mockPool.ExpectQuery(`SELECT id, name, repo, language, path_hint`).
			WithArgs(scanID).
			WillReturnRows(nodeRows)

		edgeRows := pgxmock.NewRows([]string{"source_id", "target_id", "kind", "http_method", "http_url_pattern", "kafka_topic", "occurrences", "evidence"})
		for _, e := range g.Links {
			edgeRows.AddRow(e.SourceID, e.TargetID, string(e.Kind), e.HTTPMethod, e.HTTPURLPattern, e.KafkaTopic, e.Occurrences, e.Evidence)
		}
		mockPool.ExpectQuery(`SELECT source_id, target_id, kind`).
			WithArgs(scanID).
			WillReturnRows(edgeRows)

		loaded, err := store.LoadGraph(ctx, scanID)
		require.NoError(t, err)
		assert.Equal(t, g.Nodes, loaded.Nodes)
		assert.Equal(t, g.Links, loaded.Links)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("empty result is ErrNotFound", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		scanID := uuid.NewString()
		mockPool.ExpectQuery(`SELECT id, name, repo, language, path_hint`).
			WithArgs(scanID).
			WillReturnRows(pgxmock.NewRows([]string{"id", "name", "repo", "language", "path_hint"}))
		mockPool.ExpectQuery(`SELECT source_id, target_id, kind`).
			WithArgs(scanID).
			WillReturnRows(pgxmock.NewRows([]string{"source_id", "target_id", "kind", "http_method", "http_url_pattern", "kafka_topic", "occurrences", "evidence"}))

		_, err = store.LoadGraph(ctx, scanID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestLoadJob(t *testing.T) {
	ctx := context.Background()

	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	store, err := New(ctx, mockPool, zap.NewNop())
	require.NoError(t, err)

	job, _ := testJobAndGraph()
	finished := job.FinishedAt

	rows := pgxmock.NewRows([]string{"id", "status", "repos", "per_repo_errors", "error", "started_at", "finished_at"}).
		AddRow(job.ID, string(job.Status), []byte(`[{"full_name":"acme/orders"}]`), []byte(`{}`), "", job.StartedAt, &finished)
	mockPool.ExpectQuery(`SELECT id, status, repos`).
		WithArgs(job.ID).
		WillReturnRows(rows)

	loaded, err := store.LoadJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, loaded.ID)
	assert.Equal(t, schemas.ScanSuccess, loaded.Status)
	require.Len(t, loaded.Repos, 1)
	assert.Equal(t, "acme/orders", loaded.Repos[0].FullName)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestFilterGraphToRepos(t *testing.T) {
	orders := schemas.Service{ID: "svc-1", Name: "orders", Repo: "acme/orders"}
	billing := schemas.Service{ID: "svc-2", Name: "billing", Repo: "acme/billing"}
	external := schemas.Service{ID: "svc-3", Name: "payment-service", Repo: schemas.ExternalRepo}

	g := &schemas.Graph{
		Nodes: []schemas.Service{orders, billing, external},
		Links: []schemas.Interaction{
			{SourceID: orders.ID, TargetID: external.ID, Kind: schemas.EdgeHTTP, Occurrences: 1},
			{SourceID: billing.ID, TargetID: external.ID, Kind: schemas.EdgeHTTP, Occurrences: 1},
			{SourceID: orders.ID, TargetID: billing.ID, Kind: schemas.EdgeHTTP, Occurrences: 1},
		},
	}

	filtered := FilterGraphToRepos(g, []string{"acme/orders"})

	// orders plus the external node it references; billing and its edges are
	// cut, including the orders->billing edge whose endpoint left the set.
	require.Len(t, filtered.Nodes, 2)
	assert.Equal(t, "orders", filtered.Nodes[0].Name)
	require.Len(t, filtered.Links, 1)
	assert.Equal(t, orders.ID, filtered.Links[0].SourceID)
	assert.Equal(t, external.ID, filtered.Links[0].TargetID)
}
