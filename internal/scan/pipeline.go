// Package scan orchestrates the fetch → detect → resolve → build pipeline
// across a set of repositories. It owns all concurrency and failure
// isolation: detectors, resolver and builder are pure computations driven
// from here.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/applens/api/schemas"
	"github.com/xkilldash9x/applens/internal/codefetch"
	"github.com/xkilldash9x/applens/internal/detect"
	"github.com/xkilldash9x/applens/internal/graph"
	"github.com/xkilldash9x/applens/internal/resolve"
)

// ErrAllReposFailed is returned when not a single repository produced a
// result; this is the only way a scan as a whole fails (short of
// cancellation).
var ErrAllReposFailed = errors.New("all repositories failed")

// Config bounds the pipeline's concurrency. Repo workers respect the
// content provider's rate limits; file workers are cheaper since detection
// is CPU-light regex work.
type Config struct {
	RepoConcurrency int           `mapstructure:"repo_concurrency" yaml:"repo_concurrency"`
	FileConcurrency int           `mapstructure:"file_concurrency" yaml:"file_concurrency"`
	RepoTimeout     time.Duration `mapstructure:"repo_timeout" yaml:"repo_timeout"`
}

func (c Config) withDefaults() Config {
	if c.RepoConcurrency <= 0 {
		c.RepoConcurrency = 3
	}
	if c.FileConcurrency <= 0 {
		c.FileConcurrency = 8
	}
	if c.RepoTimeout <= 0 {
		c.RepoTimeout = 2 * time.Minute
	}
	return c
}

// Result is the outcome of one scan: the built graph, repository-level
// failures, and the non-fatal diagnostics accumulated along the way.
type Result struct {
	Graph         *schemas.Graph
	PerRepoErrors map[string]string
	Diagnostics   []schemas.Diagnostic
	FilesScanned  int
	CallSites     int
}

// StatusFunc observes job status transitions. Transitions are monotonic and
// emitted from a single goroutine.
type StatusFunc func(schemas.ScanStatus)

// Pipeline runs scans against a content source. Safe for concurrent use;
// each Run builds its own graph from empty state.
type Pipeline struct {
	cfg    Config
	source codefetch.ContentSource
	log    *zap.Logger
}

// New creates a Pipeline.
func New(cfg Config, source codefetch.ContentSource, logger *zap.Logger) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New("content source cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg.withDefaults(), source: source, log: logger.Named("scan")}, nil
}

// repoOutcome is what one repository worker hands back to the fold step.
type repoOutcome struct {
	repo  schemas.RepoRef
	sites []schemas.RawCallSite
	diags []schemas.Diagnostic
	files int
	err   error
}

// Run executes a full scan. Repository failures are isolated: they land in
// Result.PerRepoErrors and the remaining repositories continue. Run returns
// an error only when the context is cancelled (the partial graph is
// discarded) or when every repository failed.
func (p *Pipeline) Run(ctx context.Context, repos []schemas.RepoRef, onStatus StatusFunc) (*Result, error) {
	if onStatus == nil {
		onStatus = func(schemas.ScanStatus) {}
	}
	if len(repos) == 0 {
		return nil, errors.New("no repositories to scan")
	}

	result := &Result{PerRepoErrors: make(map[string]string)}
	resolver := resolve.New(p.log)
	detectors := detect.NewSet(p.log)

	valid := repos[:0:0]
	for _, repo := range repos {
		if err := repo.Validate(); err != nil {
			result.PerRepoErrors[repo.FullName] = err.Error()
			continue
		}
		// Every scanned repository's own identity is ground truth for the
		// resolver before any file is read.
		resolver.RegisterRepo(repo)
		valid = append(valid, repo)
	}
	if len(valid) == 0 {
		onStatus(schemas.ScanError)
		return result, fmt.Errorf("%w: no valid repository references", ErrAllReposFailed)
	}

	// -- fetch + detect, bounded fan-out per repository --
	onStatus(schemas.ScanFetching)
	outcomes := make([]repoOutcome, len(valid))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.RepoConcurrency)
	for i, repo := range valid {
		g.Go(func() error {
			outcomes[i] = p.scanRepo(gctx, repo, detectors)
			return nil
		})
	}
	_ = g.Wait() // workers report through outcomes, never through errors

	if err := ctx.Err(); err != nil {
		// A cancelled job discards its partial graph rather than persisting
		// a false success.
		onStatus(schemas.ScanError)
		return nil, err
	}

	// -- resolve, single-threaded fold in deterministic repo order --
	onStatus(schemas.ScanAnalyzing)
	builder := graph.NewBuilder(p.log)
	succeeded := 0
	for _, oc := range outcomes {
		if oc.err != nil {
			result.PerRepoErrors[oc.repo.FullName] = fetchReason(oc.err)
			p.log.Warn("Repository failed",
				zap.String("repo", oc.repo.FullName),
				zap.Error(oc.err))
			continue
		}
		succeeded++
		result.FilesScanned += oc.files
		result.CallSites += len(oc.sites)
		result.Diagnostics = append(result.Diagnostics, oc.diags...)

		// The repository's own service is a node even when no call site
		// referenced it.
		builder.AddService(resolver.RegisterRepo(oc.repo))

		for _, site := range oc.sites {
			ep, err := resolver.Resolve(site, oc.repo)
			if err != nil {
				var ambErr *resolve.AmbiguityError
				if errors.As(err, &ambErr) {
					result.Diagnostics = append(result.Diagnostics, schemas.Diagnostic{
						Repo:   oc.repo.FullName,
						File:   site.File,
						Reason: ambErr.Error(),
					})
					continue
				}
				return nil, fmt.Errorf("resolving call site in %s: %w", site.File, err)
			}
			builder.AddEndpoint(ep)
		}
	}

	if succeeded == 0 {
		onStatus(schemas.ScanError)
		return result, ErrAllReposFailed
	}

	// -- assemble the final graph --
	onStatus(schemas.ScanBuilding)
	result.Graph = builder.Build()
	if dropped := builder.DroppedEdges(); dropped > 0 {
		result.Diagnostics = append(result.Diagnostics, schemas.Diagnostic{
			Reason: fmt.Sprintf("dropped %d edges referencing missing nodes", dropped),
		})
	}

	onStatus(schemas.ScanSuccess)
	p.log.Info("Scan complete",
		zap.Int("repos", len(valid)),
		zap.Int("repo_errors", len(result.PerRepoErrors)),
		zap.Int("files", result.FilesScanned),
		zap.Int("call_sites", result.CallSites),
		zap.Int("nodes", len(result.Graph.Nodes)),
		zap.Int("edges", len(result.Graph.Links)))
	return result, nil
}

// scanRepo fetches one repository's tree and runs the detector set over
// every source file, under the per-repository timeout. File-level failures
// become diagnostics; only listing failures fail the repository.
func (p *Pipeline) scanRepo(ctx context.Context, repo schemas.RepoRef, detectors *detect.Set) repoOutcome {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RepoTimeout)
	defer cancel()

	oc := repoOutcome{repo: repo}

	files, err := p.source.ListFiles(ctx, repo)
	if err != nil {
		oc.err = err
		return oc
	}

	type fileOutcome struct {
		sites []schemas.RawCallSite
		diag  *schemas.Diagnostic
	}
	results := make([]fileOutcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.FileConcurrency)
	for i, file := range files {
		g.Go(func() error {
			content, err := p.getContentWithRetry(gctx, repo, file.Path)
			if err != nil {
				results[i].diag = &schemas.Diagnostic{Repo: repo.FullName, File: file.Path, Reason: err.Error()}
				return nil
			}
			sites, err := detectors.Detect(file.Path, content)
			if err != nil {
				// ExtractionError: local to this file, logged and skipped.
				results[i].diag = &schemas.Diagnostic{Repo: repo.FullName, File: file.Path, Reason: err.Error()}
				return nil
			}
			results[i].sites = sites
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		oc.err = &codefetch.FetchError{Repo: repo.FullName, Reason: codefetch.ReasonTimeout, Err: err}
		return oc
	}

	for _, r := range results {
		if r.diag != nil {
			oc.diags = append(oc.diags, *r.diag)
			continue
		}
		oc.files++
		oc.sites = append(oc.sites, r.sites...)
	}
	return oc
}

// getContentWithRetry retries a file fetch once; each unit is independently
// retryable without touching the rest of the repository.
func (p *Pipeline) getContentWithRetry(ctx context.Context, repo schemas.RepoRef, path string) ([]byte, error) {
	content, err := p.source.GetContent(ctx, repo, path)
	if err == nil || ctx.Err() != nil {
		return content, err
	}
	p.log.Debug("Retrying file fetch", zap.String("repo", repo.FullName), zap.String("file", path), zap.Error(err))
	return p.source.GetContent(ctx, repo, path)
}

// fetchReason flattens a repo-level error into the short reason string
// stored in PerRepoErrors.
func fetchReason(err error) string {
	var fe *codefetch.FetchError
	if errors.As(err, &fe) {
		return fmt.Sprintf("%s: %v", fe.Reason, fe.Err)
	}
	return err.Error()
}
