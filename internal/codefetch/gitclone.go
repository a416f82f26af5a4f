package codefetch

import (
	"context"
	"fmt"
	"io/fs"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
)

// CloneSource fetches repository content by shallow-cloning into memory.
// One network round trip per repository instead of one per file, at the
// cost of holding the worktree in RAM; the right trade for local runs and
// small-to-medium repos.
type CloneSource struct {
	log *zap.Logger

	mu    sync.Mutex
	trees map[string]billy.Filesystem // keyed by FullName@branch
}

// NewCloneSource returns an empty clone cache.
func NewCloneSource(logger *zap.Logger) *CloneSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloneSource{
		log:   logger.Named("gitclone"),
		trees: make(map[string]billy.Filesystem),
	}
}

func (s *CloneSource) worktree(ctx context.Context, repo schemas.RepoRef) (billy.Filesystem, error) {
	key := repo.FullName + "@" + repo.Branch

	s.mu.Lock()
	defer s.mu.Unlock()
	if tree, ok := s.trees[key]; ok {
		return tree, nil
	}

	cloneURL := repo.CloneURL
	if cloneURL == "" {
		cloneURL = "https://github.com/" + repo.FullName + ".git"
	}
	opts := &git.CloneOptions{URL: cloneURL, Depth: 1, SingleBranch: true}
	if repo.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(repo.Branch)
	}

	tree := memfs.New()
	s.log.Debug("Cloning repository", zap.String("repo", repo.FullName), zap.String("url", cloneURL))
	if _, err := git.CloneContext(ctx, memory.NewStorage(), tree, opts); err != nil {
		return nil, classify(repo.FullName, "", err)
	}
	s.trees[key] = tree
	return tree, nil
}

// ListFiles walks the cloned worktree and returns the scannable files.
func (s *CloneSource) ListFiles(ctx context.Context, repo schemas.RepoRef) ([]schemas.FileRef, error) {
	tree, err := s.worktree(ctx, repo)
	if err != nil {
		return nil, err
	}

	var files []schemas.FileRef
	walkErr := util.Walk(tree, "/", func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !schemas.IsSourceFile(path) || schemas.PathIsSkipped(path) {
			return nil
		}
		files = append(files, schemas.FileRef{Path: path, Size: info.Size()})
		return nil
	})
	if walkErr != nil {
		return nil, classify(repo.FullName, "", fmt.Errorf("walking worktree: %w", walkErr))
	}
	return files, nil
}

// GetContent reads one file from the cloned worktree.
func (s *CloneSource) GetContent(ctx context.Context, repo schemas.RepoRef, path string) ([]byte, error) {
	tree, err := s.worktree(ctx, repo)
	if err != nil {
		return nil, err
	}
	content, err := util.ReadFile(tree, path)
	if err != nil {
		return nil, classify(repo.FullName, path, err)
	}
	return content, nil
}
