// Package codefetch provides the repository-content providers the scan
// pipeline reads from: the GitHub contents API and a clone-based source for
// local or offline scans. Both speak the same ContentSource interface and
// classify their failures into FetchError reasons the pipeline can act on.
package codefetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v58/github"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/xkilldash9x/applens/api/schemas"
)

// ContentSource is the external collaborator the pipeline fetches from.
type ContentSource interface {
	// ListFiles returns every source file in the repository, already
	// filtered to scannable extensions and stripped of vendored paths.
	ListFiles(ctx context.Context, repo schemas.RepoRef) ([]schemas.FileRef, error)
	// GetContent returns the raw bytes of one file.
	GetContent(ctx context.Context, repo schemas.RepoRef, path string) ([]byte, error)
}

// FetchReason classifies a fetch failure. The pipeline treats every reason
// the same way (record against the repo, keep going) but surfaces the
// classification to the caller.
type FetchReason string

const (
	ReasonAuth      FetchReason = "auth"
	ReasonRateLimit FetchReason = "rate_limit"
	ReasonNotFound  FetchReason = "not_found"
	ReasonTimeout   FetchReason = "timeout"
	ReasonNetwork   FetchReason = "network"
)

// FetchError is a classified failure at repo or file granularity.
type FetchError struct {
	Repo   string
	Path   string // empty for repo-level failures
	Reason FetchReason
	Err    error
}

func (e *FetchError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("fetch %s/%s failed (%s): %v", e.Repo, e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch %s failed (%s): %v", e.Repo, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// classify wraps err in a FetchError with the best-matching reason.
func classify(repo, path string, err error) *FetchError {
	fe := &FetchError{Repo: repo, Path: path, Err: err, Reason: ReasonNetwork}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		fe.Reason = ReasonTimeout
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		fe.Reason = ReasonAuth
	case errors.Is(err, transport.ErrRepositoryNotFound):
		fe.Reason = ReasonNotFound
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var ghErr *github.ErrorResponse
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		fe.Reason = ReasonRateLimit
	case errors.As(err, &ghErr):
		if ghErr.Response != nil {
			switch ghErr.Response.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				fe.Reason = ReasonAuth
			case http.StatusNotFound:
				fe.Reason = ReasonNotFound
			}
		}
	}
	return fe
}
