// Package worker runs queued discovery jobs: it loads artifacts for each URL,
// archives them, records the outcome, and publishes a completion event.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/artifact-loader/internal/artifact"
	"github.com/JakeFAU/artifact-loader/internal/discovery"
	"github.com/JakeFAU/artifact-loader/internal/metrics"
)

const (
	blobContentType = "application/json"
	tracerName      = "github.com/JakeFAU/artifact-loader/internal/worker"
)

// Discoverer is the subset of *loader.Loader the worker needs.
type Discoverer interface {
	FromHTMLURL(ctx context.Context, url string) ([]artifact.Artifact, error)
	FromJSONURL(ctx context.Context, url string) ([]artifact.Artifact, error)
}

// Config controls Worker behavior.
type Config struct {
	BlobPrefix string
	Topic      string
}

// Worker consumes queue items and executes the discovery pipeline.
type Worker struct {
	queue       discovery.Queue
	jobStore    discovery.JobStore
	blobStore   discovery.BlobStore
	recordStore discovery.RecordStore
	publisher   discovery.Publisher
	hasher      discovery.Hasher
	clock       discovery.Clock
	ids         discovery.IDGenerator
	loader      Discoverer
	cfg         Config
	logger      *zap.Logger
}

// New constructs a Worker. blobStore, recordStore and publisher are optional.
func New(
	queue discovery.Queue,
	jobStore discovery.JobStore,
	blobStore discovery.BlobStore,
	recordStore discovery.RecordStore,
	publisher discovery.Publisher,
	hasher discovery.Hasher,
	clock discovery.Clock,
	ids discovery.IDGenerator,
	loader Discoverer,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:       queue,
		jobStore:    jobStore,
		blobStore:   blobStore,
		recordStore: recordStore,
		publisher:   publisher,
		hasher:      hasher,
		clock:       clock,
		ids:         ids,
		loader:      loader,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if errors.Is(err, discovery.ErrQueueClosed) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item discovery.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "discovery.job")
	span.SetAttributes(
		attribute.String("job.id", item.JobID),
		attribute.Int("job.urls", len(item.Params.URLs)),
	)
	defer span.End()

	log := w.logger.With(zap.String("job_id", item.JobID))
	if w.loader == nil {
		log.Error("no loader configured")
		w.finish(ctx, item.JobID, discovery.JobStatusFailed, "no loader configured", discovery.JobCounters{})
		return
	}

	counters := discovery.JobCounters{}
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, discovery.JobStatusRunning, "", counters); err != nil {
		log.Error("update job status failed", zap.Error(err))
		return
	}

	errText := ""
	for _, url := range item.Params.URLs {
		if w.canceled(ctx, item.JobID) {
			log.Info("job canceled, skipping remaining urls")
			break
		}
		if err := w.handleURL(ctx, item, url, &counters); err != nil {
			errText = err.Error()
		}
	}

	status, errText := w.deriveFinalStatus(ctx, counters, errText)
	w.finish(ctx, item.JobID, status, errText, counters)
	log.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("urls_succeeded", counters.URLsSucceeded),
		zap.Int("urls_failed", counters.URLsFailed),
		zap.Int("artifacts", counters.Artifacts),
	)
}

func (w *Worker) finish(
	ctx context.Context,
	jobID string,
	status discovery.JobStatus,
	errText string,
	counters discovery.JobCounters,
) {
	// The job context may already be done on shutdown; the final write
	// still needs to land.
	if err := w.jobStore.UpdateJobStatus(context.WithoutCancel(ctx), jobID, status, errText, counters); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", jobID), zap.Error(err))
	}
	metrics.ObserveJob(string(status))
}

func (w *Worker) canceled(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return true
	}
	job, err := w.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Status == discovery.JobStatusCanceled
}

func (w *Worker) handleURL(
	ctx context.Context,
	item discovery.QueueItem,
	url string,
	counters *discovery.JobCounters,
) error {
	mode := item.Params.Mode
	if !mode.Valid() {
		mode = discovery.ModeHTML
	}
	log := w.logger.With(zap.String("job_id", item.JobID), zap.String("url", url))

	start := w.clock.Now()
	arts, err := w.discover(ctx, mode, url)
	elapsed := w.clock.Now().Sub(start)

	recordID, idErr := w.ids.NewID()
	if idErr != nil {
		counters.URLsFailed++
		return fmt.Errorf("generate record id: %w", idErr)
	}
	record := discovery.PageRecord{
		ID:           recordID,
		JobID:        item.JobID,
		URL:          url,
		Mode:         mode,
		DiscoveredAt: start,
		DurationMs:   elapsed.Milliseconds(),
	}

	site := metrics.SanitizeSite(url)
	if err != nil {
		counters.URLsFailed++
		metrics.ObserveDiscovery(site, string(mode), "error", 0, elapsed)
		log.Warn("discovery failed", zap.Error(err))
		record.ErrorText = err.Error()
		if persistErr := w.persist(ctx, &record); persistErr != nil {
			log.Error("persist failed record", zap.Error(persistErr))
		}
		return fmt.Errorf("discover %s: %w", url, err)
	}

	record.Artifacts = arts
	record.ArtifactCount = len(arts)
	if err := w.archive(ctx, &record); err != nil {
		counters.URLsFailed++
		log.Error("archive artifacts failed", zap.Error(err))
		record.ErrorText = err.Error()
		if persistErr := w.persist(ctx, &record); persistErr != nil {
			log.Error("persist failed record", zap.Error(persistErr))
		}
		return err
	}
	if err := w.persist(ctx, &record); err != nil {
		counters.URLsFailed++
		log.Error("persist record failed", zap.Error(err))
		return err
	}

	counters.URLsSucceeded++
	counters.Artifacts += len(arts)
	metrics.ObserveDiscovery(site, string(mode), "ok", len(arts), elapsed)
	log.Debug("url processed", zap.Int("artifacts", len(arts)), zap.String("blob_uri", record.BlobURI))
	return nil
}

func (w *Worker) discover(ctx context.Context, mode discovery.Mode, url string) ([]artifact.Artifact, error) {
	if mode == discovery.ModeJSON {
		return w.loader.FromJSONURL(ctx, url)
	}
	return w.loader.FromHTMLURL(ctx, url)
}

// archive serializes the artifacts, hashes them, and stores the blob.
func (w *Worker) archive(ctx context.Context, record *discovery.PageRecord) error {
	arts := record.Artifacts
	if arts == nil {
		arts = []artifact.Artifact{}
	}
	body, err := json.Marshal(arts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	hash, err := w.hasher.Hash(body)
	if err != nil {
		return fmt.Errorf("hash artifacts: %w", err)
	}
	record.ContentHash = hash
	if w.blobStore == nil {
		return nil
	}
	uri, err := w.blobStore.PutObject(ctx, w.buildBlobPath(record.JobID, hash), blobContentType, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	record.BlobURI = uri
	return nil
}

// persist stores the page in the optional record store, publishes the
// completion event, and records the page in the job store last so its error
// text reflects every failure along the way.
func (w *Worker) persist(ctx context.Context, record *discovery.PageRecord) error {
	var errs []error
	fail := func(err error) {
		errs = append(errs, err)
		if record.ErrorText == "" {
			record.ErrorText = err.Error()
		}
	}
	if w.recordStore != nil {
		if err := w.recordStore.StoreRecord(ctx, *record); err != nil {
			fail(fmt.Errorf("store record: %w", err))
		}
	}
	if err := w.publishResult(ctx, *record); err != nil {
		fail(err)
	}
	if err := w.jobStore.RecordPage(ctx, *record); err != nil {
		errs = append(errs, fmt.Errorf("record page: %w", err))
	}
	return errors.Join(errs...)
}

func (w *Worker) publishResult(ctx context.Context, record discovery.PageRecord) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	event := discovery.CompletionEvent{
		JobID:         record.JobID,
		RecordID:      record.ID,
		URL:           record.URL,
		ArtifactCount: record.ArtifactCount,
		BlobURI:       record.BlobURI,
		ContentHash:   record.ContentHash,
		Error:         record.ErrorText,
		DiscoveredAt:  record.DiscoveredAt,
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	w.logger.Debug("event published",
		zap.String("job_id", record.JobID),
		zap.String("url", record.URL),
		zap.String("message_id", id),
	)
	return nil
}

func (w *Worker) buildBlobPath(jobID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, jobID, hash)
}

func (w *Worker) deriveFinalStatus(
	ctx context.Context,
	counters discovery.JobCounters,
	errText string,
) (discovery.JobStatus, string) {
	if counters.URLsSucceeded == 0 && errText == "" {
		errText = "no urls were processed"
	}
	switch {
	case ctx.Err() != nil:
		return discovery.JobStatusCanceled, errText
	case counters.URLsSucceeded == 0:
		return discovery.JobStatusFailed, errText
	default:
		return discovery.JobStatusSucceeded, errText
	}
}
