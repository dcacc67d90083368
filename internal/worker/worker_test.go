package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/artifact-loader/internal/artifact"
	"github.com/JakeFAU/artifact-loader/internal/discovery"
	"github.com/JakeFAU/artifact-loader/internal/loader"
	pubmemory "github.com/JakeFAU/artifact-loader/internal/publisher/memory"
	queuememory "github.com/JakeFAU/artifact-loader/internal/queue/memory"
	"github.com/JakeFAU/artifact-loader/internal/storage/memory"
)

type harness struct {
	queue     *queuememory.Queue
	jobs      *memory.JobStore
	blobs     *memory.BlobStore
	records   *fakeRecordStore
	publisher *pubmemory.Publisher
	loader    *fakeLoader
	worker    *Worker
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		queue:     queuememory.NewQueue(4),
		jobs:      memory.NewJobStore(),
		blobs:     memory.NewBlobStore(),
		records:   &fakeRecordStore{},
		publisher: pubmemory.New(),
		loader:    &fakeLoader{html: map[string][]artifact.Artifact{}, json: map[string][]artifact.Artifact{}, errs: map[string]error{}},
	}
	h.worker = New(
		h.queue,
		h.jobs,
		h.blobs,
		h.records,
		h.publisher,
		&fakeHasher{hash: "abc123"},
		&fakeClock{now: time.Unix(100, 0).UTC()},
		&fakeIDs{},
		h.loader,
		cfg,
		zap.NewNop(),
	)
	return h
}

func (h *harness) submit(t *testing.T, id string, params discovery.JobParameters) {
	t.Helper()
	require.NoError(t, h.jobs.CreateJob(context.Background(), discovery.Job{ID: id, Status: discovery.JobStatusQueued, Parameters: params}))
	require.NoError(t, h.queue.Enqueue(context.Background(), discovery.QueueItem{JobID: id, Params: params}))
}

func (h *harness) waitForStatus(t *testing.T, id string, status discovery.JobStatus) discovery.Job {
	t.Helper()
	var job discovery.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = h.jobs.GetJob(context.Background(), id)
		return err == nil && job.Status == status
	}, time.Second, 5*time.Millisecond)
	return job
}

func TestWorker_ProcessJob_SuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{BlobPrefix: "artifacts", Topic: "discoveries"})
	h.loader.html["https://example.com/"] = []artifact.Artifact{{ID: "a", Types: []string{"ARArtifact"}}, {ID: "b"}}
	h.submit(t, "job-success", discovery.JobParameters{URLs: []string{"https://example.com/"}, Mode: discovery.ModeHTML})

	go h.worker.Run(ctx)
	job := h.waitForStatus(t, "job-success", discovery.JobStatusSucceeded)
	assert.Equal(t, discovery.JobCounters{URLsSucceeded: 1, Artifacts: 2}, job.Counters)

	pages, err := h.jobs.ListPages(ctx, "job-success")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "rec-1", pages[0].ID)
	assert.Equal(t, 2, pages[0].ArtifactCount)
	assert.Equal(t, "memory://artifacts/job-success/abc123.json", pages[0].BlobURI)

	blob, ok := h.blobs.Object("artifacts/job-success/abc123.json")
	require.True(t, ok)
	var stored []artifact.Artifact
	require.NoError(t, json.Unmarshal(blob, &stored))
	assert.Len(t, stored, 2)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "discoveries", msgs[0].Topic)
	event, ok := msgs[0].Payload.(discovery.CompletionEvent)
	require.True(t, ok)
	assert.Equal(t, 2, event.ArtifactCount)
	assert.Empty(t, event.Error)

	assert.Len(t, h.records.stored(), 1)
}

func TestWorker_ProcessJob_JSONMode(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{})
	h.loader.json["https://example.com/a.json"] = []artifact.Artifact{{ID: "json"}}
	h.submit(t, "job-json", discovery.JobParameters{URLs: []string{"https://example.com/a.json"}, Mode: discovery.ModeJSON})

	go h.worker.Run(ctx)
	h.waitForStatus(t, "job-json", discovery.JobStatusSucceeded)
	assert.Equal(t, []string{"json:https://example.com/a.json"}, h.loader.called())
	assert.Empty(t, h.publisher.Messages(), "no topic configured")
}

func TestWorker_ProcessJob_PartialFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{Topic: "discoveries"})
	h.loader.json["https://example.com/ok.json"] = []artifact.Artifact{{ID: "ok"}}
	h.loader.errs["https://example.com/missing.json"] = &loader.FetchError{URL: "https://example.com/missing.json", StatusCode: 404, Status: "Not Found"}
	h.submit(t, "job-partial", discovery.JobParameters{
		URLs: []string{"https://example.com/missing.json", "https://example.com/ok.json"},
		Mode: discovery.ModeJSON,
	})

	go h.worker.Run(ctx)
	job := h.waitForStatus(t, "job-partial", discovery.JobStatusSucceeded)
	assert.Equal(t, discovery.JobCounters{URLsSucceeded: 1, URLsFailed: 1, Artifacts: 1}, job.Counters)
	assert.Contains(t, job.ErrorText, "Not Found")

	pages, err := h.jobs.ListPages(ctx, "job-partial")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Contains(t, pages[0].ErrorText, "Not Found")
	assert.Empty(t, pages[1].ErrorText)

	events := h.publisher.Events("job-partial")
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].Error)
	assert.Equal(t, "https://example.com/ok.json", events[1].URL)
}

func TestWorker_ProcessJob_AllFailed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{})
	h.loader.errs["https://example.com/"] = errors.New("decode artifacts: boom")
	h.submit(t, "job-failed", discovery.JobParameters{URLs: []string{"https://example.com/"}})

	go h.worker.Run(ctx)
	job := h.waitForStatus(t, "job-failed", discovery.JobStatusFailed)
	assert.Equal(t, 1, job.Counters.URLsFailed)
	assert.Contains(t, job.ErrorText, "boom")
}

func TestWorker_ProcessJob_CanceledJobStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{})
	params := discovery.JobParameters{URLs: []string{"https://example.com/"}}
	h.submit(t, "job-canceled", params)
	require.NoError(t, h.jobs.UpdateJobStatus(ctx, "job-canceled", discovery.JobStatusCanceled, "canceled", discovery.JobCounters{}))

	go h.worker.Run(ctx)
	require.Eventually(t, func() bool { return h.queue.Len() == 0 }, time.Second, 5*time.Millisecond)
	job := h.waitForStatus(t, "job-canceled", discovery.JobStatusCanceled)
	assert.Zero(t, job.Counters.URLsSucceeded)
	assert.Empty(t, h.loader.called())
}

func TestWorker_ProcessJob_PublishFailureFailsURL(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{Topic: "discoveries"})
	h.publisher.FailWith(errors.New("pubsub down"))
	h.loader.html["https://example.com/"] = []artifact.Artifact{{ID: "a"}}
	h.submit(t, "job-publish", discovery.JobParameters{URLs: []string{"https://example.com/"}})

	go h.worker.Run(ctx)
	job := h.waitForStatus(t, "job-publish", discovery.JobStatusFailed)
	assert.Equal(t, 1, job.Counters.URLsFailed)
	assert.Contains(t, job.ErrorText, "pubsub down")

	pages, err := h.jobs.ListPages(ctx, "job-publish")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0].ErrorText, "pubsub down")
}

func TestWorker_ProcessJob_RecordStoreFailureMarksPage(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{Topic: "discoveries"})
	h.records.err = errors.New("db unavailable")
	h.loader.html["https://example.com/"] = []artifact.Artifact{{ID: "a"}}
	h.submit(t, "job-store", discovery.JobParameters{URLs: []string{"https://example.com/"}})

	go h.worker.Run(ctx)
	job := h.waitForStatus(t, "job-store", discovery.JobStatusFailed)
	assert.Equal(t, discovery.JobCounters{URLsFailed: 1}, job.Counters)

	pages, err := h.jobs.ListPages(ctx, "job-store")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0].ErrorText, "store record: db unavailable")

	events := h.publisher.Events("job-store")
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Error, "db unavailable")
}

func TestWorker_RunStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.queue.Close()
	done := make(chan struct{})
	go func() {
		h.worker.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after queue close")
	}
}

func TestWorkerBuildBlobPath(t *testing.T) {
	t.Parallel()

	w := New(nil, nil, nil, nil, nil, nil, nil, nil, nil, Config{BlobPrefix: "/artifacts/"}, nil)
	assert.Equal(t, "artifacts/job/hash.json", w.buildBlobPath("job", "hash"))
	w.cfg.BlobPrefix = ""
	assert.Equal(t, "job/hash.json", w.buildBlobPath("job", "hash"))
}

// --- fakes ---

type fakeLoader struct {
	mu    sync.Mutex
	html  map[string][]artifact.Artifact
	json  map[string][]artifact.Artifact
	errs  map[string]error
	calls []string
}

func (f *fakeLoader) FromHTMLURL(_ context.Context, url string) ([]artifact.Artifact, error) {
	return f.lookup("html", url, f.html)
}

func (f *fakeLoader) FromJSONURL(_ context.Context, url string) ([]artifact.Artifact, error) {
	return f.lookup("json", url, f.json)
}

func (f *fakeLoader) lookup(kind, url string, m map[string][]artifact.Artifact) ([]artifact.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind+":"+url)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return m[url], nil
}

func (f *fakeLoader) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeRecordStore struct {
	mu      sync.Mutex
	records []discovery.PageRecord
	err     error
}

func (f *fakeRecordStore) StoreRecord(_ context.Context, r discovery.PageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, r)
	return nil
}

func (f *fakeRecordStore) Close() {}

func (f *fakeRecordStore) stored() []discovery.PageRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discovery.PageRecord(nil), f.records...)
}

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDs) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return "rec-" + string(rune('0'+f.n)), nil
}

type fakeHasher struct {
	hash string
}

func (h *fakeHasher) Hash([]byte) (string, error) {
	return h.hash, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}
