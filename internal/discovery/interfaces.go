package discovery

import (
	"context"
	"io"
	"time"
)

// JobStore persists job and page metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordPage(ctx context.Context, page PageRecord) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListPages(ctx context.Context, jobID string) ([]PageRecord, error)
}

// BlobStore writes serialized artifact lists and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RecordStore durably persists page records outside the job store.
type RecordStore interface {
	StoreRecord(ctx context.Context, record PageRecord) error
	Close()
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for discovery jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// KeyValueStore keeps named boolean flags, such as whether a user has
// finished onboarding.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value bool, found bool, err error)
	Set(ctx context.Context, key string, value bool) error
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
