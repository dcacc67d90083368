package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/artifact-loader/internal/artifact"
	"github.com/JakeFAU/artifact-loader/internal/config"
	"github.com/JakeFAU/artifact-loader/internal/discovery"
	"github.com/JakeFAU/artifact-loader/internal/dispatcher"
	"github.com/JakeFAU/artifact-loader/internal/loader"
	queueMemory "github.com/JakeFAU/artifact-loader/internal/queue/memory"
	memoryStorage "github.com/JakeFAU/artifact-loader/internal/storage/memory"
)

type testEnv struct {
	server   *Server
	jobStore discovery.JobStore
	queue    *queueMemory.Queue
	loader   *fakeDiscoverer
	flags    *memoryStorage.FlagStore
}

func baseConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5},
		Jobs:   config.JobsConfig{Workers: 1, QueueDepth: 10, MaxURLs: 3},
		StandardJobs: map[string]discovery.JobParameters{
			"catalog": {
				URLs: []string{"https://example.com/catalog.json"},
				Mode: discovery.ModeJSON,
				Tags: map[string]string{"team": "ar"},
			},
		},
	}
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := baseConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	env := &testEnv{
		jobStore: memoryStorage.NewJobStore(),
		queue:    queueMemory.NewQueue(cfg.Jobs.QueueDepth),
		loader:   &fakeDiscoverer{},
		flags:    memoryStorage.NewFlagStore(),
	}
	env.server = NewServer(
		env.jobStore,
		dispatcher.New(env.queue, nil),
		env.loader,
		env.flags,
		&fakeIDGen{ids: []string{"job-1", "job-2"}},
		&fakeClock{now: time.Unix(100, 0)},
		cfg,
		zap.NewNop(),
	)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func TestServer_SubmitCustomJob_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/jobs", `{"urls":["https://example.com/a"],"tags":{"k":"v"}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-1")

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-1", item.JobID)
	assert.Equal(t, discovery.ModeHTML, item.Params.Mode)
	assert.Equal(t, "v", item.Params.Tags["k"])

	job, err := env.jobStore.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, discovery.JobStatusQueued, job.Status)
	assert.Equal(t, time.Unix(100, 0), job.Submitted)
}

func TestServer_SubmitCustomJob_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{invalid`, "invalid JSON"},
		{"missing urls", `{"urls":[]}`, "urls required"},
		{"too many urls", `{"urls":["https://a.com","https://b.com","https://c.com","https://d.com"]}`, "at most 3 urls"},
		{"relative url", `{"urls":["/relative"]}`, "absolute http(s) URL"},
		{"unknown mode", `{"urls":["https://a.com"],"mode":"xml"}`, "mode must be html or json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/v1/jobs", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Equal(t, 0, env.queue.Len())
		})
	}
}

func TestServer_SubmitCustomJob_QueueClosed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.queue.Close()
	rec := env.do(t, http.MethodPost, "/v1/jobs", `{"urls":["https://example.com"]}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	job, err := env.jobStore.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, discovery.JobStatusFailed, job.Status)
}

func TestServer_SubmitStandardJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/jobs/standard", `{"name":"missing"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/jobs/standard", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/jobs/standard", `{"name":"catalog"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, discovery.ModeJSON, item.Params.Mode)
	assert.Equal(t, "catalog", item.Params.Tags["standard_job"])
	assert.Equal(t, "ar", item.Params.Tags["team"])

	// The configured template must not pick up per-submission tags.
	_, tagged := env.server.cfg.StandardJobs["catalog"].Tags["standard_job"]
	assert.False(t, tagged)
}

func TestServer_JobStatusAndResult(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.jobStore.CreateJob(ctx, discovery.Job{ID: "job", Status: discovery.JobStatusRunning}))
	require.NoError(t, env.jobStore.RecordPage(ctx, discovery.PageRecord{ID: "rec", JobID: "job", URL: "https://example.com"}))

	rec := env.do(t, http.MethodGet, "/v1/jobs/job/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"running"`)

	rec = env.do(t, http.MethodGet, "/v1/jobs/job/result", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var result discovery.JobResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Pages, 1)
	assert.Equal(t, "rec", result.Pages[0].ID)

	rec = env.do(t, http.MethodGet, "/v1/jobs/unknown/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/jobs/unknown/result", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetJobResult_ListPagesError(t *testing.T) {
	t.Parallel()

	store := &failingListStore{JobStore: memoryStorage.NewJobStore()}
	require.NoError(t, store.CreateJob(context.Background(), discovery.Job{ID: "job"}))
	server := NewServer(store, dispatcher.New(queueMemory.NewQueue(1), nil), &fakeDiscoverer{},
		memoryStorage.NewFlagStore(), &fakeIDGen{}, &fakeClock{}, baseConfig(), nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/job/result", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_CancelJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.jobStore.CreateJob(ctx, discovery.Job{ID: "job", Status: discovery.JobStatusQueued}))

	rec := env.do(t, http.MethodPost, "/v1/jobs/job/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	job, err := env.jobStore.GetJob(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, discovery.JobStatusCanceled, job.Status)

	rec = env.do(t, http.MethodPost, "/v1/jobs/job/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/jobs/unknown/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DiscoverArtifacts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.loader.arts = []artifact.Artifact{{ID: "a", Types: []string{"ARArtifact"}}}

	rec := env.do(t, http.MethodPost, "/v1/artifacts/discover", `{"url":"https://example.com/page"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp artifactsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, discovery.ModeHTML, resp.Mode)
	assert.Equal(t, []string{"html:https://example.com/page"}, env.loader.calls())

	rec = env.do(t, http.MethodPost, "/v1/artifacts/discover", `{"url":"https://example.com/a.json","mode":"json"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, env.loader.calls(), "json:https://example.com/a.json")

	rec = env.do(t, http.MethodPost, "/v1/artifacts/discover", `{"url":"ftp://example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/artifacts/discover", `{"url":"https://example.com","mode":"xml"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DiscoverArtifacts_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"fetch", &loader.FetchError{URL: "https://example.com/a.json", StatusCode: 404, Status: "Not Found"}, http.StatusBadGateway},
		{"parse", &loader.ParseError{Err: errors.New("bad json")}, http.StatusUnprocessableEntity},
		{"decode", fmt.Errorf("decode artifacts: %w", &artifact.DecodeError{Reason: "not an object"}), http.StatusUnprocessableEntity},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			env.loader.err = tt.err
			rec := env.do(t, http.MethodPost, "/v1/artifacts/discover", `{"url":"https://example.com/a.json","mode":"json"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_ExtractArtifacts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.loader.arts = []artifact.Artifact{{ID: "inline"}}

	rec := env.do(t, http.MethodPost, "/v1/artifacts/extract",
		`{"html":"<script type=\"application/ld+json\">{}</script>","base_url":"https://example.com/"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
	assert.Equal(t, []string{"extract:https://example.com/"}, env.loader.calls())

	rec = env.do(t, http.MethodPost, "/v1/artifacts/extract", `{"html":"  ","base_url":"https://example.com/"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/artifacts/extract", `{"html":"<p></p>","base_url":"relative"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Flags(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/flags/onboarded", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"onboarded","value":false,"found":false}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/v1/flags/onboarded", `{"value":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/flags/onboarded", "")
	assert.JSONEq(t, `{"name":"onboarded","value":true,"found":true}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/v1/flags/onboarded", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/flags/bad%20name", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *config.Config) {
		c.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	})

	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/flags/onboarded", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/flags/onboarded", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/flags/onboarded?api_key=secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	env.server.AddReadinessCheck("postgres", func(context.Context) error { return errors.New("down") })
	rec = env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "down")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type fakeDiscoverer struct {
	mu    sync.Mutex
	arts  []artifact.Artifact
	err   error
	trace []string
}

func (f *fakeDiscoverer) record(call string) ([]artifact.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trace = append(f.trace, call)
	if f.err != nil {
		return nil, f.err
	}
	return f.arts, nil
}

func (f *fakeDiscoverer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.trace...)
}

func (f *fakeDiscoverer) FromHTMLURL(_ context.Context, url string) ([]artifact.Artifact, error) {
	return f.record("html:" + url)
}

func (f *fakeDiscoverer) FromJSONURL(_ context.Context, url string) ([]artifact.Artifact, error) {
	return f.record("json:" + url)
}

func (f *fakeDiscoverer) FromHTML(_ context.Context, _ io.Reader, baseURL string) ([]artifact.Artifact, error) {
	return f.record("extract:" + baseURL)
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type failingListStore struct {
	discovery.JobStore
}

func (s *failingListStore) ListPages(context.Context, string) ([]discovery.PageRecord, error) {
	return nil, errors.New("boom")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
