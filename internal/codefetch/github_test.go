package codefetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
)

// newGitHubTestServer serves the minimal slice of the REST API the source
// touches: repo metadata, the recursive tree, and file contents.
func newGitHubTestServer(t *testing.T) (*httptest.Server, *GitHubSource) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/orders", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"default_branch": "main"}`)
	})
	mux.HandleFunc("GET /repos/acme/orders/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("recursive"))
		fmt.Fprint(w, `{
			"sha": "abc123",
			"tree": [
				{"path": "services/orders/api.py", "type": "blob", "size": 120},
				{"path": "services/orders", "type": "tree"},
				{"path": "node_modules/left-pad/index.js", "type": "blob", "size": 50},
				{"path": "README.md", "type": "blob", "size": 10},
				{"path": "src/worker.ts", "type": "blob", "size": 80}
			],
			"truncated": false
		}`)
	})
	mux.HandleFunc("GET /repos/acme/orders/contents/services/orders/api.py", func(w http.ResponseWriter, r *http.Request) {
		content := base64.StdEncoding.EncodeToString([]byte(`requests.get("http://user-service/api")`))
		fmt.Fprintf(w, `{"type": "file", "encoding": "base64", "content": %q}`, content)
	})
	mux.HandleFunc("GET /repos/acme/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})
	mux.HandleFunc("GET /repos/acme/private", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "Requires authentication"}`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	source := NewGitHubSource(nil, "", 100, zap.NewNop())
	require.NoError(t, source.WithBaseURL(server.URL+"/"))
	return server, source
}

func TestGitHubSource_ListFiles(t *testing.T) {
	_, source := newGitHubTestServer(t)

	files, err := source.ListFiles(context.Background(), schemas.RepoRef{FullName: "acme/orders"})
	require.NoError(t, err)

	// Trees, vendored paths and non-source extensions are filtered out.
	require.Len(t, files, 2)
	assert.Equal(t, "services/orders/api.py", files[0].Path)
	assert.Equal(t, int64(120), files[0].Size)
	assert.Equal(t, "src/worker.ts", files[1].Path)
}

func TestGitHubSource_ListFiles_ExplicitBranchSkipsRepoLookup(t *testing.T) {
	_, source := newGitHubTestServer(t)

	// The metadata endpoint would 404 for a wrong owner; an explicit branch
	// goes straight to the tree call.
	files, err := source.ListFiles(context.Background(), schemas.RepoRef{FullName: "acme/orders", Branch: "main"})
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGitHubSource_GetContent(t *testing.T) {
	_, source := newGitHubTestServer(t)

	content, err := source.GetContent(context.Background(), schemas.RepoRef{FullName: "acme/orders"}, "services/orders/api.py")
	require.NoError(t, err)
	assert.Equal(t, `requests.get("http://user-service/api")`, string(content))
}

func TestGitHubSource_NotFoundClassified(t *testing.T) {
	_, source := newGitHubTestServer(t)

	_, err := source.ListFiles(context.Background(), schemas.RepoRef{FullName: "acme/missing"})
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ReasonNotFound, fe.Reason)
	assert.Equal(t, "acme/missing", fe.Repo)
}

func TestGitHubSource_AuthFailureClassified(t *testing.T) {
	_, source := newGitHubTestServer(t)

	_, err := source.ListFiles(context.Background(), schemas.RepoRef{FullName: "acme/private"})
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ReasonAuth, fe.Reason)
}

func TestGitHubSource_ContextCancellation(t *testing.T) {
	_, source := newGitHubTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := source.ListFiles(ctx, schemas.RepoRef{FullName: "acme/orders"})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Run("deadline exceeded is timeout", func(t *testing.T) {
		fe := classify("acme/x", "", context.DeadlineExceeded)
		assert.Equal(t, ReasonTimeout, fe.Reason)
	})

	t.Run("unknown errors default to network", func(t *testing.T) {
		fe := classify("acme/x", "a.py", fmt.Errorf("connection reset"))
		assert.Equal(t, ReasonNetwork, fe.Reason)
		assert.Equal(t, "a.py", fe.Path)
	})

	t.Run("error string carries repo and reason", func(t *testing.T) {
		fe := classify("acme/x", "", context.DeadlineExceeded)
		assert.Contains(t, fe.Error(), "acme/x")
		assert.Contains(t, fe.Error(), "timeout")
	})
}
