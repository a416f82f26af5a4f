// Package service is the composition root: it ties the scan pipeline,
// graph store and analyzer together behind one façade used by the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
	"github.com/xkilldash9x/applens/internal/codefetch"
	"github.com/xkilldash9x/applens/internal/graph"
	"github.com/xkilldash9x/applens/internal/scan"
	"github.com/xkilldash9x/applens/internal/store"
)

// ErrUnknownScan is returned for scan ids the app has never seen.
var ErrUnknownScan = errors.New("unknown scan id")

// ErrUnknownService is returned when an impact query names a service that is
// not a node in the graph.
var ErrUnknownService = errors.New("service not found in graph")

// App exposes scan lifecycle and impact queries. All methods are safe for
// concurrent use; job state is mutated only by the job's own goroutine.
type App struct {
	pipeline *scan.Pipeline
	store    store.GraphStore
	log      *zap.Logger

	mu      sync.RWMutex
	jobs    map[string]*schemas.ScanJob
	results map[string]*scan.Result
	wg      sync.WaitGroup
}

// New wires an App. The store is required; CLI runs without a database pass
// a MemoryStore.
func New(cfg scan.Config, source codefetch.ContentSource, graphs store.GraphStore, logger *zap.Logger) (*App, error) {
	if graphs == nil {
		return nil, errors.New("graph store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p, err := scan.New(cfg, source, logger)
	if err != nil {
		return nil, err
	}
	return &App{
		pipeline: p,
		store:    graphs,
		log:      logger.Named("service"),
		jobs:     make(map[string]*schemas.ScanJob),
		results:  make(map[string]*scan.Result),
	}, nil
}

// StartScan launches a scan in the background and returns its id
// immediately. Progress is observable through ScanStatus.
func (a *App) StartScan(ctx context.Context, repos []schemas.RepoRef) (string, error) {
	if len(repos) == 0 {
		return "", errors.New("no repositories to scan")
	}

	job := &schemas.ScanJob{
		ID:        uuid.NewString(),
		Status:    schemas.ScanQueued,
		Repos:     append([]schemas.RepoRef(nil), repos...),
		StartedAt: time.Now().UTC(),
	}
	a.mu.Lock()
	a.jobs[job.ID] = job
	a.mu.Unlock()

	// The job outlives the caller's request context but still honors
	// explicit cancellation of the app-level context.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runJob(ctx, job.ID, repos)
	}()

	a.log.Info("Scan started", zap.String("scan_id", job.ID), zap.Int("repos", len(repos)))
	return job.ID, nil
}

// RunScan executes a scan synchronously and returns the finished job along
// with the pipeline result. CLI entry point.
func (a *App) RunScan(ctx context.Context, repos []schemas.RepoRef) (*schemas.ScanJob, *scan.Result, error) {
	id, err := a.StartScan(ctx, repos)
	if err != nil {
		return nil, nil, err
	}
	a.wg.Wait()

	a.mu.RLock()
	job := a.jobs[id]
	result := a.results[id]
	a.mu.RUnlock()
	return copyOfJob(job), result, nil
}

// runJob drives one scan to a terminal state and persists the outcome.
func (a *App) runJob(ctx context.Context, id string, repos []schemas.RepoRef) {
	onStatus := func(st schemas.ScanStatus) {
		a.mu.Lock()
		a.jobs[id].Status = st
		a.mu.Unlock()
	}

	result, err := a.pipeline.Run(ctx, repos, onStatus)

	a.mu.Lock()
	job := a.jobs[id]
	job.FinishedAt = time.Now().UTC()
	if result != nil {
		job.PerRepoErrors = result.PerRepoErrors
		a.results[id] = result
	}
	if err != nil {
		job.Status = schemas.ScanError
		job.Error = err.Error()
	} else {
		job.GraphRef = id
	}
	jobCopy := copyOfJob(job)
	a.mu.Unlock()

	if err != nil {
		a.log.Warn("Scan failed", zap.String("scan_id", id), zap.Error(err))
		// Failed jobs are persisted too so status survives a restart.
		if serr := a.store.SaveScan(context.WithoutCancel(ctx), jobCopy, nil); serr != nil {
			a.log.Error("Failed to persist scan job", zap.String("scan_id", id), zap.Error(serr))
		}
		return
	}

	if serr := a.store.SaveScan(context.WithoutCancel(ctx), jobCopy, result.Graph); serr != nil {
		a.log.Error("Failed to persist scan result", zap.String("scan_id", id), zap.Error(serr))
	}
}

// ScanStatus returns a snapshot of one job, consulting the store for jobs
// started by a previous process.
func (a *App) ScanStatus(ctx context.Context, scanID string) (*schemas.ScanJob, error) {
	a.mu.RLock()
	job, ok := a.jobs[scanID]
	if ok {
		out := copyOfJob(job)
		a.mu.RUnlock()
		return out, nil
	}
	a.mu.RUnlock()

	job, err := a.store.LoadJob(ctx, scanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownScan, scanID)
		}
		return nil, err
	}
	return job, nil
}

// GetGraph returns the stored graph for one scan.
func (a *App) GetGraph(ctx context.Context, scanID string) (*schemas.Graph, error) {
	g, err := a.store.LoadGraph(ctx, scanID)
	if err != nil && errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScan, scanID)
	}
	return g, err
}

// GetGraphForRepos returns the newest stored graph covering every requested
// repository, filtered down to those repositories and their externals.
func (a *App) GetGraphForRepos(ctx context.Context, repos []string) (*schemas.Graph, error) {
	return a.store.LoadGraphByRepos(ctx, repos)
}

// Impact is the answer to one impact query, expressed in service names.
type Impact struct {
	Service   string         `json:"service"`
	Hops      map[string]int `json:"hops,omitempty"`      // blast radius: name -> distance
	Affected  []string       `json:"affected,omitempty"`  // fan-out
	Direct    []string       `json:"direct,omitempty"`    // error propagation, 1 hop
	Cascading []string       `json:"cascading,omitempty"` // error propagation, transitive
}

// BlastRadius answers "what is within maxHops of this service", ignoring
// edge direction.
func (a *App) BlastRadius(ctx context.Context, g *schemas.Graph, serviceName string, maxHops int) (*Impact, error) {
	node, an, err := a.analyzerFor(g, serviceName)
	if err != nil {
		return nil, err
	}
	hops, err := an.BlastRadius(node.ID, maxHops)
	if err != nil {
		return nil, err
	}
	named := make(map[string]int, len(hops))
	for id, d := range hops {
		if n, ok := g.Node(id); ok {
			named[n.Name] = d
		}
	}
	return &Impact{Service: node.Name, Hops: named}, nil
}

// FanOut answers "what does this service depend on", following outgoing
// edges only.
func (a *App) FanOut(ctx context.Context, g *schemas.Graph, serviceName string, maxHops int) (*Impact, error) {
	node, an, err := a.analyzerFor(g, serviceName)
	if err != nil {
		return nil, err
	}
	ids, err := an.FanOut(node.ID, maxHops)
	if err != nil {
		return nil, err
	}
	return &Impact{Service: node.Name, Affected: idsToNames(g, ids)}, nil
}

// ErrorPropagation answers "who breaks when this service starts failing":
// HTTP failures travel callee to caller, Kafka failures producer to
// consumer, at every hop of the cascade.
func (a *App) ErrorPropagation(ctx context.Context, g *schemas.Graph, serviceName string) (*Impact, error) {
	node, an, err := a.analyzerFor(g, serviceName)
	if err != nil {
		return nil, err
	}
	direct, cascading, err := an.ErrorPropagation(node.ID)
	if err != nil {
		return nil, err
	}
	return &Impact{
		Service:   node.Name,
		Direct:    idsToNames(g, direct),
		Cascading: idsToNames(g, cascading),
	}, nil
}

// Close waits for in-flight background scans to finish.
func (a *App) Close() {
	a.wg.Wait()
}

func (a *App) analyzerFor(g *schemas.Graph, serviceName string) (schemas.Service, *graph.Analyzer, error) {
	if g == nil {
		return schemas.Service{}, nil, errors.New("graph cannot be nil")
	}
	node, ok := g.NodeByName(serviceName)
	if !ok {
		return schemas.Service{}, nil, fmt.Errorf("%w: %q", ErrUnknownService, serviceName)
	}
	return node, graph.NewAnalyzer(g), nil
}

func idsToNames(g *schemas.Graph, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := g.Node(id); ok {
			out = append(out, n.Name)
		}
	}
	return out
}

func copyOfJob(job *schemas.ScanJob) *schemas.ScanJob {
	out := *job
	out.Repos = append([]schemas.RepoRef(nil), job.Repos...)
	if job.PerRepoErrors != nil {
		out.PerRepoErrors = make(map[string]string, len(job.PerRepoErrors))
		for k, v := range job.PerRepoErrors {
			out.PerRepoErrors[k] = v
		}
	}
	return &out
}
