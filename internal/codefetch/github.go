package codefetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/applens/api/schemas"
)

// GitHubSource reads repository trees and blobs through the GitHub REST API.
// A client-side rate limiter keeps concurrent repo workers inside the API
// budget; secondary rate limits coming back anyway are classified as
// ReasonRateLimit and charged to the repository, not the job.
type GitHubSource struct {
	client  *github.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewGitHubSource builds a source authenticated with the given token (may
// be empty for public repos). requestsPerSecond bounds total API traffic
// across all workers.
func NewGitHubSource(httpClient *http.Client, token string, requestsPerSecond float64, logger *zap.Logger) *GitHubSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	client := github.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubSource{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
		log:     logger.Named("github"),
	}
}

// WithBaseURL points the client at a different API endpoint (GitHub
// Enterprise, or an httptest server in tests).
func (s *GitHubSource) WithBaseURL(base string) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	s.client.BaseURL = u
	return nil
}

// ListFiles lists the repository tree in one recursive Git Trees call and
// filters it down to scannable source files.
func (s *GitHubSource) ListFiles(ctx context.Context, repo schemas.RepoRef) ([]schemas.FileRef, error) {
	branch := repo.Branch
	if branch == "" {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, classify(repo.FullName, "", err)
		}
		r, _, err := s.client.Repositories.Get(ctx, repo.Owner(), repo.Name())
		if err != nil {
			return nil, classify(repo.FullName, "", err)
		}
		branch = r.GetDefaultBranch()
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, classify(repo.FullName, "", err)
	}
	tree, _, err := s.client.Git.GetTree(ctx, repo.Owner(), repo.Name(), branch, true)
	if err != nil {
		return nil, classify(repo.FullName, "", err)
	}
	if tree.GetTruncated() {
		s.log.Warn("Repository tree truncated by the API; scan will be partial",
			zap.String("repo", repo.FullName))
	}

	var files []schemas.FileRef
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		p := entry.GetPath()
		if !schemas.IsSourceFile(p) || schemas.PathIsSkipped(p) {
			continue
		}
		files = append(files, schemas.FileRef{Path: p, Size: int64(entry.GetSize())})
	}
	s.log.Debug("Listed repository tree",
		zap.String("repo", repo.FullName),
		zap.String("branch", branch),
		zap.Int("source_files", len(files)))
	return files, nil
}

// GetContent fetches and decodes one blob through the contents API.
func (s *GitHubSource) GetContent(ctx context.Context, repo schemas.RepoRef, path string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, classify(repo.FullName, path, err)
	}
	opts := &github.RepositoryContentGetOptions{Ref: repo.Branch}
	fileContent, _, _, err := s.client.Repositories.GetContents(ctx, repo.Owner(), repo.Name(), path, opts)
	if err != nil {
		return nil, classify(repo.FullName, path, err)
	}
	if fileContent == nil {
		return nil, &FetchError{Repo: repo.FullName, Path: path, Reason: ReasonNotFound, Err: fmt.Errorf("path is not a file")}
	}
	content, err := fileContent.GetContent()
	if err != nil {
		return nil, classify(repo.FullName, path, err)
	}
	return []byte(content), nil
}
