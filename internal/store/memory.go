package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/applens/api/schemas"
)

// MemoryStore is an ephemeral GraphStore for CLI runs without a database
// and for tests. Jobs and graphs are copied on write and read so callers
// can never alias the stored snapshot.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]schemas.ScanJob
	graphs map[string]schemas.Graph
	order  []string // insertion order, newest last
}

var _ GraphStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]schemas.ScanJob),
		graphs: make(map[string]schemas.Graph),
	}
}

// SaveScan stores a copy of the job and graph.
func (m *MemoryStore) SaveScan(_ context.Context, job *schemas.ScanJob, g *schemas.Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; !exists {
		m.order = append(m.order, job.ID)
	}
	m.jobs[job.ID] = copyJob(job)
	if g != nil {
		m.graphs[job.ID] = copyGraph(g)
	}
	return nil
}

// LoadGraph returns a copy of the stored graph for one scan.
func (m *MemoryStore) LoadGraph(_ context.Context, scanID string) (*schemas.Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[scanID]
	if !ok {
		return nil, fmt.Errorf("scan %s: %w", scanID, ErrNotFound)
	}
	out := copyGraph(&g)
	return &out, nil
}

// LoadGraphByRepos scans stored jobs newest-first for a successful scan
// covering every requested repo.
func (m *MemoryStore) LoadGraphByRepos(_ context.Context, repos []string) (*schemas.Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		job := m.jobs[m.order[i]]
		if job.Status != schemas.ScanSuccess || !coversRepos(job.Repos, repos) {
			continue
		}
		if g, ok := m.graphs[job.ID]; ok {
			return FilterGraphToRepos(&g, repos), nil
		}
	}
	return nil, fmt.Errorf("no successful scan covering %v: %w", repos, ErrNotFound)
}

// LoadJob returns a copy of one job record.
func (m *MemoryStore) LoadJob(_ context.Context, scanID string) (*schemas.ScanJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[scanID]
	if !ok {
		return nil, fmt.Errorf("scan %s: %w", scanID, ErrNotFound)
	}
	out := copyJob(&job)
	return &out, nil
}

// Jobs returns all stored job ids, newest first. Test helper.
func (m *MemoryStore) Jobs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.order[i])
	}
	return out
}

func copyJob(job *schemas.ScanJob) schemas.ScanJob {
	out := *job
	out.Repos = append([]schemas.RepoRef(nil), job.Repos...)
	if job.PerRepoErrors != nil {
		out.PerRepoErrors = make(map[string]string, len(job.PerRepoErrors))
		for k, v := range job.PerRepoErrors {
			out.PerRepoErrors[k] = v
		}
	}
	return out
}

func copyGraph(g *schemas.Graph) schemas.Graph {
	return schemas.Graph{
		Nodes: append([]schemas.Service(nil), g.Nodes...),
		Links: append([]schemas.Interaction(nil), g.Links...),
	}
}
