package exportjob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTrailStore(t *testing.T) *trail.Store {
	t.Helper()
	s, err := trail.NewStore(context.Background(), trail.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	_, err = s.CreateAuditEvent(context.Background(), trail.EventInput{
		EventType: trail.EventUserAction,
		Actor:     trail.Actor{Type: trail.ActorUser, ID: "u1"},
		Resource:  trail.Resource{Type: trail.ResourceDocument, ID: "d1", Classification: trail.ClassInternal},
		Action:    trail.Action{Operation: trail.OpCreate, Description: "created", Category: trail.CategoryDataProcessing, Outcome: trail.OutcomeSuccess},
	})
	if err != nil {
		t.Fatalf("CreateAuditEvent() error = %v", err)
	}
	return s
}

// gatedExporter blocks every export until release is closed.
type gatedExporter struct {
	inner   Exporter
	release chan struct{}
}

func (g gatedExporter) ExportAuditChain(ctx context.Context, chainID string, format trail.Format, includeEvidence bool) (trail.ExportResult, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return trail.ExportResult{}, ctx.Err()
	}
	return g.inner.ExportAuditChain(ctx, chainID, format, includeEvidence)
}

// flakyExporter fails the first n calls.
type flakyExporter struct {
	mu    sync.Mutex
	n     int
	calls int
	inner Exporter
}

func (f *flakyExporter) ExportAuditChain(ctx context.Context, chainID string, format trail.Format, includeEvidence bool) (trail.ExportResult, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.n
	f.mu.Unlock()
	if fail {
		return trail.ExportResult{}, errors.New("storage temporarily unavailable")
	}
	return f.inner.ExportAuditChain(ctx, chainID, format, includeEvidence)
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingObserver) JobFinished(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[status]++
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetentionPeriod = time.Hour
	return cfg
}

func newQueue(t *testing.T, deps Deps, cfg Config) *JobQueue {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	q := NewJobQueue(deps, cfg)
	t.Cleanup(q.Close)
	return q
}

func waitForStatus(t *testing.T, q *JobQueue, jobID string, want JobStatus) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, _, ok := q.Get(jobID)
		if !ok {
			t.Fatalf("job %s not found", jobID)
		}
		if job.Status == want {
			return job
		}
		if isTerminal(job.Status) {
			t.Fatalf("job reached %s, want %s (error %+v)", job.Status, want, job.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach %s", jobID, want)
	return Job{}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestJobSucceedsAndStoresArtifacts(t *testing.T) {
	store := newTrailStore(t)
	storage := NewInMemoryStorage(URLSigner{Key: []byte("k")})
	obs := &countingObserver{}
	q := newQueue(t, Deps{Exporter: store, Storage: storage, Recorder: store, Observer: obs}, testConfig())

	job, err := q.Enqueue(context.Background(), "auditor@example.com", "key-1", Request{Format: "CSV"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if job.ChainID != trail.DefaultChainID || job.Format != "csv" || job.Status != Queued {
		t.Fatalf("unexpected queued job %+v", job)
	}

	done := waitForStatus(t, q, job.JobID.String(), Succeeded)
	if done.Progress != 100 || done.Result == nil || done.RetryCount != 0 {
		t.Fatalf("unexpected finished job %+v", done)
	}
	if !strings.HasSuffix(done.Result.Filename, ".csv") {
		t.Fatalf("unexpected filename %s", done.Result.Filename)
	}
	if !(URLSigner{Key: []byte("k")}).Verify(done.Result.SignedURL, time.Now()) {
		t.Fatalf("signed url does not verify: %s", done.Result.SignedURL)
	}

	key := q.artifactKey(&jobState{job: done, request: Request{ChainID: trail.DefaultChainID}}, done.Result.Filename)
	data, err := storage.GetObject(context.Background(), key)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if trail.Checksum(data) != done.Result.Checksum {
		t.Fatalf("artifact checksum mismatch")
	}
	raw, err := storage.GetObject(context.Background(), q.integrityKey(&jobState{job: done, request: Request{ChainID: trail.DefaultChainID}}))
	if err != nil {
		t.Fatalf("integrity sidecar missing: %v", err)
	}
	var side sidecar
	if err := json.Unmarshal(raw, &side); err != nil {
		t.Fatalf("decode sidecar: %v", err)
	}
	if side.Checksum != done.Result.Checksum || side.Signature == "" {
		t.Fatalf("unexpected sidecar %+v", side)
	}

	eventually(t, func() bool {
		chain, _ := store.Chain(trail.DefaultChainID)
		return len(chain.Events) == 2
	})
	chain, _ := store.Chain(trail.DefaultChainID)
	last := chain.Events[len(chain.Events)-1]
	if last.EventType != trail.EventAuditAccess || last.Actor.ID != "auditor@example.com" || last.Technical.TransactionID != job.JobID.String() {
		t.Fatalf("export job was not recorded in the chain: %+v", last)
	}
	eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.counts["succeeded"] == 1
	})
}

func TestIdempotencyAndDuplicates(t *testing.T) {
	store := newTrailStore(t)
	gate := gatedExporter{inner: store, release: make(chan struct{})}
	defer close(gate.release)
	q := newQueue(t, Deps{Exporter: gate}, testConfig())
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "alice", "k1", Request{Format: "json"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	again, err := q.Enqueue(ctx, "alice", "k1", Request{Format: "json"})
	if err != nil || again.JobID != first.JobID {
		t.Fatalf("same key and body should return the original job, got %v %v", again.JobID, err)
	}

	var conflict ConflictErr
	_, err = q.Enqueue(ctx, "alice", "k1", Request{Format: "xml"})
	if !errors.As(err, &conflict) || conflict.Reason != IdempotencyBodyMismatch {
		t.Fatalf("expected body mismatch conflict, got %v", err)
	}
	_, err = q.Enqueue(ctx, "alice", "k2", Request{Format: "json"})
	if !errors.As(err, &conflict) || conflict.Reason != DuplicateJob || conflict.JobID != first.JobID.String() {
		t.Fatalf("expected duplicate job conflict, got %v", err)
	}
	if _, err := q.Enqueue(ctx, "bob", "k1", Request{Format: "json"}); err != nil {
		t.Fatalf("other requesters are independent, got %v", err)
	}
}

func TestQueueDepthLimit(t *testing.T) {
	store := newTrailStore(t)
	gate := gatedExporter{inner: store, release: make(chan struct{})}
	defer close(gate.release)
	cfg := testConfig()
	cfg.MaxQueueDepth = 1
	q := newQueue(t, Deps{Exporter: gate}, cfg)

	if _, err := q.Enqueue(context.Background(), "alice", "", Request{Format: "json"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	_, err := q.Enqueue(context.Background(), "alice", "", Request{Format: "csv"})
	var limited RateLimitErr
	if !errors.As(err, &limited) || limited.RetryAfter != cfg.QueueRetryAfter {
		t.Fatalf("expected queue full error, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	store := newTrailStore(t)
	gate := gatedExporter{inner: store, release: make(chan struct{})}
	defer close(gate.release)
	obs := &countingObserver{}
	q := newQueue(t, Deps{Exporter: gate, Observer: obs}, testConfig())

	job, err := q.Enqueue(context.Background(), "alice", "", Request{Format: "json"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := q.Cancel("mallory", job.JobID.String()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other requesters must not see the job, got %v", err)
	}
	canceled, err := q.Cancel("alice", job.JobID.String())
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if canceled.Status != Canceled || canceled.Error == nil || canceled.Error.Code != "CANCELED" {
		t.Fatalf("unexpected canceled job %+v", canceled)
	}
	_, err = q.Cancel("alice", job.JobID.String())
	var conflict ConflictErr
	if !errors.As(err, &conflict) || conflict.Reason != NotCancelable {
		t.Fatalf("expected not cancelable, got %v", err)
	}
	if _, err := q.Enqueue(context.Background(), "alice", "", Request{Format: "json"}); err != nil {
		t.Fatalf("criteria should be free after cancel, got %v", err)
	}
}

func TestUnknownChainFailsWithoutRetry(t *testing.T) {
	store := newTrailStore(t)
	q := newQueue(t, Deps{Exporter: store}, testConfig())
	job, err := q.Enqueue(context.Background(), "alice", "", Request{ChainID: "missing", Format: "json"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	failed := waitForStatus(t, q, job.JobID.String(), Failed)
	if failed.RetryCount != 0 || failed.Error == nil || failed.Error.Code != "CHAIN_NOT_FOUND" || failed.Error.Retryable {
		t.Fatalf("unexpected failed job %+v", failed)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	store := newTrailStore(t)
	flaky := &flakyExporter{n: 2, inner: store}
	q := newQueue(t, Deps{Exporter: flaky}, testConfig())
	job, err := q.Enqueue(context.Background(), "alice", "", Request{Format: "xml"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	done := waitForStatus(t, q, job.JobID.String(), Succeeded)
	if done.RetryCount != 2 {
		t.Fatalf("expected two retries, got %d", done.RetryCount)
	}

	exhausted := &flakyExporter{n: 10, inner: store}
	q2 := newQueue(t, Deps{Exporter: exhausted}, testConfig())
	job, _ = q2.Enqueue(context.Background(), "alice", "", Request{Format: "xml"})
	failed := waitForStatus(t, q2, job.JobID.String(), Failed)
	if failed.Error == nil || !failed.Error.Retryable || exhausted.calls != 3 {
		t.Fatalf("expected three attempts then failure, got %+v after %d calls", failed, exhausted.calls)
	}
}
