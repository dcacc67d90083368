// Package discovery defines the job and record types shared by the
// discovery service subsystems.
package discovery

import (
	"errors"
	"time"

	"github.com/JakeFAU/artifact-loader/internal/artifact"
)

// JobStatus represents the lifecycle state of a discovery job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Mode selects how a URL is interpreted.
type Mode string

// Supported modes.
const (
	ModeHTML Mode = "html"
	ModeJSON Mode = "json"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeHTML || m == ModeJSON
}

// JobParameters captures what the client asked to discover.
type JobParameters struct {
	URLs []string          `json:"urls"`
	Mode Mode              `json:"mode"`
	Tags map[string]string `json:"tags,omitempty"`
}

// Job is the metadata persisted for each submitted discovery request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks per-job outcome stats.
type JobCounters struct {
	URLsSucceeded int `json:"urls_succeeded"`
	URLsFailed    int `json:"urls_failed"`
	Artifacts     int `json:"artifacts"`
}

// PageRecord is persisted for each URL a job processed.
type PageRecord struct {
	ID            string              `json:"id"`
	JobID         string              `json:"job_id"`
	URL           string              `json:"url"`
	Mode          Mode                `json:"mode"`
	DiscoveredAt  time.Time           `json:"discovered_at"`
	DurationMs    int64               `json:"duration_ms"`
	ArtifactCount int                 `json:"artifact_count"`
	ContentHash   string              `json:"content_hash,omitempty"`
	BlobURI       string              `json:"blob_uri,omitempty"`
	ErrorText     string              `json:"error_text,omitempty"`
	Artifacts     []artifact.Artifact `json:"artifacts,omitempty"`
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job   Job          `json:"job"`
	Pages []PageRecord `json:"pages"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}

// CompletionEvent is published once per processed URL.
type CompletionEvent struct {
	JobID         string    `json:"job_id"`
	RecordID      string    `json:"record_id"`
	URL           string    `json:"url"`
	ArtifactCount int       `json:"artifact_count"`
	BlobURI       string    `json:"blob_uri,omitempty"`
	ContentHash   string    `json:"content_hash,omitempty"`
	Error         string    `json:"error,omitempty"`
	DiscoveredAt  time.Time `json:"discovered_at"`
}

// Sentinel errors returned by stores.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
	ErrQueueClosed = errors.New("queue closed")
)

// IsTerminal reports whether no further transitions are expected from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}
