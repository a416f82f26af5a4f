package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
	"github.com/xkilldash9x/applens/internal/codefetch"
	"github.com/xkilldash9x/applens/internal/config"
	"github.com/xkilldash9x/applens/internal/scan"
	"github.com/xkilldash9x/applens/internal/service"
	"github.com/xkilldash9x/applens/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newApp wires the content source, graph store and service façade from the
// loaded configuration. Returns a cleanup func for the database pool.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*service.App, func(), error) {
	var source codefetch.ContentSource
	if cfg.GitHub.UseClone {
		source = codefetch.NewCloneSource(logger)
	} else {
		source = codefetch.NewGitHubSource(nil, cfg.GitHub.Token, cfg.GitHub.RequestsPerSecond, logger)
		if cfg.GitHub.BaseURL != "" {
			gh := source.(*codefetch.GitHubSource)
			if err := gh.WithBaseURL(cfg.GitHub.BaseURL); err != nil {
				return nil, nil, fmt.Errorf("invalid github base url: %w", err)
			}
		}
	}

	var graphs store.GraphStore
	cleanup := func() {}
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		pg, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		graphs = pg
		cleanup = pool.Close
	} else {
		graphs = store.NewMemoryStore()
	}

	scanCfg := scan.Config{
		RepoConcurrency: cfg.Scanner.RepoConcurrency,
		FileConcurrency: cfg.Scanner.FileConcurrency,
		RepoTimeout:     cfg.Scanner.RepoTimeout,
	}
	app, err := service.New(scanCfg, source, graphs, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return app, cleanup, nil
}

// parseRepoRefs turns "owner/repo" CLI arguments into validated references.
func parseRepoRefs(args []string, branch string) ([]schemas.RepoRef, error) {
	refs := make([]schemas.RepoRef, 0, len(args))
	for _, arg := range args {
		ref := schemas.RepoRef{FullName: strings.TrimSpace(arg), Branch: branch}
		if err := ref.Validate(); err != nil {
			return nil, fmt.Errorf("invalid repository %q: %w", arg, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// readGraphFile loads a graph exported by `applens scan --output`.
func readGraphFile(path string) (*schemas.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	var g schemas.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse graph file %s: %w", path, err)
	}
	if len(g.Nodes) == 0 {
		return nil, fmt.Errorf("graph file %s contains no nodes", path)
	}
	return &g, nil
}

// writeGraphFile serializes a graph to the nodes/links wire format.
func writeGraphFile(path string, g *schemas.Graph) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write graph file: %w", err)
	}
	return nil
}
