// Package exportjob runs chain exports in the background and publishes the
// artifacts behind expiring links.
package exportjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

// Exporter is satisfied by *trail.Store.
type Exporter interface {
	ExportAuditChain(ctx context.Context, chainID string, format trail.Format, includeEvidence bool) (trail.ExportResult, error)
}

// Recorder appends an audit_access event for every finished job.
type Recorder interface {
	CreateAuditEvent(ctx context.Context, in trail.EventInput) (string, error)
}

type Observer interface {
	JobFinished(status string)
}

type Deps struct {
	Exporter Exporter
	Storage  Storage
	Recorder Recorder
	Observer Observer
	Logger   *slog.Logger
}

type jobState struct {
	job            Job
	requester      string
	criteriaHash   string
	idempotencyKey string
	request        Request
	cancel         context.CancelFunc
}

type ConflictErr struct {
	Reason ConflictReason
	JobID  string
}

func (e ConflictErr) Error() string {
	return string(e.Reason)
}

type RateLimitErr struct {
	RetryAfter time.Duration
}

func (e RateLimitErr) Error() string {
	return "rate limited"
}

var ErrNotFound = errors.New("job not found")

type JobQueue struct {
	mu          sync.RWMutex
	jobs        map[string]*jobState
	byKey       map[string]*jobState
	byCriteria  map[string]*jobState
	deps        Deps
	cfg         Config
	workerSlots chan struct{}
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewJobQueue(deps Deps, cfg Config) *JobQueue {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Storage == nil {
		deps.Storage = NewInMemoryStorage(URLSigner{})
	}
	return &JobQueue{
		jobs:        map[string]*jobState{},
		byKey:       map[string]*jobState{},
		byCriteria:  map[string]*jobState{},
		deps:        deps,
		cfg:         cfg,
		workerSlots: make(chan struct{}, cfg.MaxConcurrentJobs),
		stop:        make(chan struct{}),
	}
}

// CriteriaHash identifies requests for the same artifact by the same requester.
func CriteriaHash(requester string, req Request) string {
	return trail.Checksum(struct {
		Requester       string `json:"requester"`
		ChainID         string `json:"chainId"`
		Format          string `json:"format"`
		IncludeEvidence bool   `json:"includeEvidence"`
	}{requester, req.ChainID, req.Format, req.IncludeEvidence})
}

func normalize(req Request) Request {
	if req.ChainID == "" {
		req.ChainID = trail.DefaultChainID
	}
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	return req
}

// Enqueue registers a job and starts it once a worker slot is free. A repeated
// idempotency key returns the original job when the request matches.
func (q *JobQueue) Enqueue(ctx context.Context, requester, idempotencyKey string, req Request) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	req = normalize(req)
	criteriaHash := CriteriaHash(requester, req)

	q.mu.Lock()
	defer q.mu.Unlock()

	key := requester + ":" + idempotencyKey
	criteriaKey := requester + ":" + criteriaHash

	if idempotencyKey != "" {
		if existing, ok := q.byKey[key]; ok {
			if existing.criteriaHash == criteriaHash {
				return cloneJob(existing.job), nil
			}
			return Job{}, ConflictErr{Reason: IdempotencyBodyMismatch, JobID: existing.job.JobID.String()}
		}
	}
	if existing, ok := q.byCriteria[criteriaKey]; ok && !isTerminal(existing.job.Status) {
		return Job{}, ConflictErr{Reason: DuplicateJob, JobID: existing.job.JobID.String()}
	}
	if q.cfg.MaxQueueDepth > 0 && q.activeCountLocked() >= q.cfg.MaxQueueDepth {
		return Job{}, RateLimitErr{RetryAfter: q.cfg.QueueRetryAfter}
	}

	canCancel := true
	job := Job{
		JobID:        openapi_types.UUID(uuid.New()),
		ChainID:      req.ChainID,
		Format:       req.Format,
		Status:       Queued,
		RequestedAt:  time.Now().UTC(),
		CriteriaHash: &criteriaHash,
		CanCancel:    &canCancel,
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	state := &jobState{
		job:            job,
		requester:      requester,
		criteriaHash:   criteriaHash,
		idempotencyKey: idempotencyKey,
		request:        req,
		cancel:         cancel,
	}
	q.jobs[job.JobID.String()] = state
	if idempotencyKey != "" {
		q.byKey[key] = state
	}
	q.byCriteria[criteriaKey] = state

	q.wg.Add(1)
	go q.runJob(jobCtx, state)
	return cloneJob(job), nil
}

// Cancel stops a queued or running job owned by requester.
func (q *JobQueue) Cancel(requester, jobID string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, ok := q.jobs[jobID]
	if !ok || state.requester != requester {
		return Job{}, ErrNotFound
	}
	if isTerminal(state.job.Status) {
		return cloneJob(state.job), ConflictErr{Reason: NotCancelable, JobID: jobID}
	}
	state.cancel()
	now := time.Now().UTC()
	state.job.Status = Canceled
	state.job.FinishedAt = &now
	state.job.Error = &JobError{Code: "CANCELED", Message: "canceled by requester", Retryable: true}
	disable := false
	state.job.CanCancel = &disable
	state.job.Result = nil
	q.observe(Canceled)
	return cloneJob(state.job), nil
}

// Get returns the job and the requester that owns it.
func (q *JobQueue) Get(jobID string) (Job, string, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	state, ok := q.jobs[jobID]
	if !ok {
		return Job{}, "", false
	}
	return cloneJob(state.job), state.requester, true
}

// Close cancels outstanding jobs and retention timers and waits for workers.
func (q *JobQueue) Close() {
	q.stopOnce.Do(func() {
		close(q.stop)
		q.mu.Lock()
		for _, st := range q.jobs {
			st.cancel()
		}
		q.mu.Unlock()
	})
	q.wg.Wait()
}

func (q *JobQueue) runJob(ctx context.Context, state *jobState) {
	defer q.wg.Done()
	id := state.job.JobID
	log := q.deps.Logger.With("jobId", id.String(), "chain", state.request.ChainID)

	select {
	case q.workerSlots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-q.workerSlots }()

	start := time.Now().UTC()
	if err := q.updateWithErr(id, func(job *Job) error {
		if job.Status == Canceled {
			return context.Canceled
		}
		job.Status = Running
		job.StartedAt = &start
		job.Progress = 5
		return nil
	}); err != nil {
		return
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = q.cfg.RetryBaseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	retries := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(q.cfg.MaxRetries-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		q.setRetryCount(id, attempt)
		attempt++
		err := q.processJob(ctx, state)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, trail.ErrChainNotFound) || errors.Is(err, trail.ErrUnsupportedFormat) {
			return backoff.Permanent(err)
		}
		return err
	}, retries, func(err error, wait time.Duration) {
		log.Warn("export job attempt failed", "attempt", attempt, "retryIn", wait, "err", err)
	})
	switch {
	case err == nil:
		log.Info("export job succeeded", "attempts", attempt)
	case errors.Is(err, context.Canceled):
		log.Info("export job canceled")
	default:
		q.failJob(id, err)
		q.record(state, "", trail.OutcomeFailure)
		log.Error("export job failed", "attempts", attempt, "err", err)
	}
}

func (q *JobQueue) processJob(ctx context.Context, state *jobState) error {
	id := state.job.JobID
	if err := q.bumpProgress(id, 10); err != nil {
		return err
	}
	format, err := trail.ParseFormat(state.request.Format)
	if err != nil {
		return err
	}
	res, err := q.deps.Exporter.ExportAuditChain(ctx, state.request.ChainID, format, state.request.IncludeEvidence)
	if err != nil {
		return err
	}
	if err := q.bumpProgress(id, 60); err != nil {
		return err
	}

	side, err := json.MarshalIndent(sidecar{
		ChainID:    state.request.ChainID,
		Filename:   res.Filename,
		MimeType:   res.MimeType,
		RenderedAs: res.RenderedAs,
		Checksum:   res.Integrity.Checksum,
		Signature:  res.Integrity.Signature,
		Timestamp:  res.Integrity.Timestamp,
	}, "", "  ")
	if err != nil {
		return err
	}
	artifact, integrity := q.artifactKey(state, res.Filename), q.integrityKey(state)
	if err := q.deps.Storage.PutObject(ctx, artifact, res.Data, res.MimeType); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	if err := q.deps.Storage.PutObject(ctx, integrity, side, "application/json"); err != nil {
		return fmt.Errorf("store integrity sidecar: %w", err)
	}
	q.scheduleRetention(artifact, integrity)
	if err := q.bumpProgress(id, 90); err != nil {
		return err
	}

	expiry := time.Now().UTC().Add(q.cfg.SignURLTTL)
	signed, err := q.deps.Storage.GetSignedURL(ctx, artifact, q.cfg.SignURLTTL)
	if err != nil {
		return err
	}
	integrityURL, err := q.deps.Storage.GetSignedURL(ctx, integrity, q.cfg.SignURLTTL)
	if err != nil {
		return err
	}
	done := q.completeJob(id, Result{
		SignedURL:    signed,
		IntegrityURL: integrityURL,
		ExpiresAt:    expiry,
		Size:         len(res.Data),
		Filename:     res.Filename,
		RenderedAs:   res.RenderedAs,
		Checksum:     res.Integrity.Checksum,
	})
	if done {
		q.record(state, res.Integrity.Checksum, trail.OutcomeSuccess)
	}
	return nil
}

func (q *JobQueue) scheduleRetention(keys ...string) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		timer := time.NewTimer(q.cfg.RetentionPeriod)
		defer timer.Stop()
		select {
		case <-timer.C:
			for _, k := range keys {
				if err := q.deps.Storage.DeleteObject(context.Background(), k); err != nil {
					q.deps.Logger.Warn("export retention delete failed", "key", k, "err", err)
				}
			}
		case <-q.stop:
		}
	}()
}

func (q *JobQueue) record(state *jobState, checksum string, outcome trail.Outcome) {
	if q.deps.Recorder == nil {
		return
	}
	id := state.job.JobID.String()
	_, err := q.deps.Recorder.CreateAuditEvent(context.Background(), trail.EventInput{
		ChainID:   state.request.ChainID,
		EventType: trail.EventAuditAccess,
		Actor:     trail.Actor{Type: trail.ActorUser, ID: state.requester},
		Resource: trail.Resource{
			Type:           trail.ResourceSystem,
			ID:             state.request.ChainID,
			Name:           "audit chain",
			Classification: trail.ClassRestricted,
		},
		Action: trail.Action{
			Operation:   trail.OpExport,
			Description: fmt.Sprintf("audit chain export as %s (job %s)", state.request.Format, id),
			Category:    trail.CategoryCompliance,
			Outcome:     outcome,
		},
		Compliance: trail.Compliance{Frameworks: []trail.Framework{trail.SOX, trail.ISO27001}, RetentionPeriod: 2555},
		Technical:  trail.Technical{SourceSystem: "audit_export_job", TransactionID: id, ChecksumAfter: checksum},
	})
	if err != nil {
		q.deps.Logger.Warn("export job audit record failed", "jobId", id, "err", err)
	}
}

func (q *JobQueue) completeJob(jobID openapi_types.UUID, res Result) bool {
	now := time.Now().UTC()
	err := q.updateWithErr(jobID, func(job *Job) error {
		if isTerminal(job.Status) {
			return context.Canceled
		}
		job.Status = Succeeded
		job.FinishedAt = &now
		job.Progress = 100
		job.Result = &res
		disable := false
		job.CanCancel = &disable
		job.Error = nil
		return nil
	})
	if err == nil {
		q.observe(Succeeded)
	}
	return err == nil
}

func (q *JobQueue) failJob(jobID openapi_types.UUID, cause error) {
	now := time.Now().UTC()
	err := q.updateWithErr(jobID, func(job *Job) error {
		if isTerminal(job.Status) {
			return context.Canceled
		}
		job.Status = Failed
		job.FinishedAt = &now
		disable := false
		job.CanCancel = &disable
		job.Result = nil
		job.Error = &JobError{Code: errorCode(cause), Message: cause.Error(), Retryable: !isPermanentCause(cause)}
		return nil
	})
	if err == nil {
		q.observe(Failed)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, trail.ErrChainNotFound):
		return "CHAIN_NOT_FOUND"
	case errors.Is(err, trail.ErrUnsupportedFormat):
		return "UNSUPPORTED_FORMAT"
	}
	return "INTERNAL_ERROR"
}

func isPermanentCause(err error) bool {
	return errors.Is(err, trail.ErrChainNotFound) || errors.Is(err, trail.ErrUnsupportedFormat)
}

func (q *JobQueue) observe(status JobStatus) {
	if q.deps.Observer != nil {
		q.deps.Observer.JobFinished(string(status))
	}
}

func (q *JobQueue) bumpProgress(jobID openapi_types.UUID, progress int) error {
	return q.updateWithErr(jobID, func(job *Job) error {
		if job.Status == Canceled {
			return context.Canceled
		}
		if progress > job.Progress {
			job.Progress = progress
		}
		return nil
	})
}

func (q *JobQueue) setRetryCount(jobID openapi_types.UUID, retries int) {
	_ = q.updateWithErr(jobID, func(job *Job) error {
		job.RetryCount = retries
		return nil
	})
}

func (q *JobQueue) updateWithErr(jobID openapi_types.UUID, mutate func(job *Job) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, ok := q.jobs[jobID.String()]
	if !ok {
		return ErrNotFound
	}
	return mutate(&state.job)
}

func (q *JobQueue) artifactKey(state *jobState, filename string) string {
	return fmt.Sprintf("%s/%s/%s/%s", q.cfg.Bucket, state.request.ChainID, state.job.JobID, filename)
}

func (q *JobQueue) integrityKey(state *jobState) string {
	return fmt.Sprintf("%s/%s/%s/integrity.json", q.cfg.Bucket, state.request.ChainID, state.job.JobID)
}

func (q *JobQueue) activeCountLocked() int {
	count := 0
	for _, state := range q.jobs {
		if !isTerminal(state.job.Status) {
			count++
		}
	}
	return count
}

func cloneJob(job Job) Job {
	clone := job
	if job.CriteriaHash != nil {
		ch := *job.CriteriaHash
		clone.CriteriaHash = &ch
	}
	if job.CanCancel != nil {
		cc := *job.CanCancel
		clone.CanCancel = &cc
	}
	if job.Result != nil {
		res := *job.Result
		clone.Result = &res
	}
	if job.Error != nil {
		e := *job.Error
		clone.Error = &e
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		clone.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		clone.FinishedAt = &t
	}
	return clone
}

func isTerminal(status JobStatus) bool {
	return status == Succeeded || status == Failed || status == Canceled
}
