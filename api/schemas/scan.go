package schemas

import "time"

// ScanStatus is the lifecycle state of a scan job. Transitions are monotonic
// (queued, fetching, analyzing, building, then success or error) and only the
// pipeline mutates them.
type ScanStatus string

const (
	ScanQueued    ScanStatus = "queued"
	ScanFetching  ScanStatus = "fetching"
	ScanAnalyzing ScanStatus = "analyzing"
	ScanBuilding  ScanStatus = "building"
	ScanSuccess   ScanStatus = "success"
	ScanError     ScanStatus = "error"
)

// Terminal reports whether the status is an end state.
func (s ScanStatus) Terminal() bool {
	return s == ScanSuccess || s == ScanError
}

// ScanJob tracks one execution of the pipeline across a set of repositories.
// PerRepoErrors records repository-level failures without failing the job;
// the job as a whole errors only when every repository failed.
type ScanJob struct {
	ID            string            `json:"id"`
	Status        ScanStatus        `json:"status"`
	Repos         []RepoRef         `json:"repos"`
	PerRepoErrors map[string]string `json:"per_repo_errors,omitempty"`
	GraphRef      string            `json:"result_graph_ref,omitempty"`
	Error         string            `json:"error,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at,omitempty"`
}

// Diagnostic is a non-fatal event recorded during a scan: an unparseable
// file, an unresolvable identifier, a dropped inconsistent edge. Diagnostics
// are surfaced with the scan result but never abort it.
type Diagnostic struct {
	Repo   string `json:"repo,omitempty"`
	File   string `json:"file,omitempty"`
	Reason string `json:"reason"`
}
