package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

// Defaults applied when Options leaves a field zero.
const (
	defaultRetryBaseDelay = 2 * time.Second
	defaultRetryMaxDelay  = 2 * time.Minute
)

// AdapterSource resolves a provider to its storage adapter.
type AdapterSource interface {
	Adapter(p auth.Provider) (storage.Adapter, error)
}

// CredentialSource returns a credential fresh enough to start an upload.
// On refresh failure it may return the stale credential with an error.
type CredentialSource interface {
	Credential(ctx context.Context, p auth.Provider) (*auth.Credential, error)
}

// Options configures a Queue.
type Options struct {
	MaxAutoRetries int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	VerifyUploads  bool

	// Registry receives the queue's metrics. Nil creates a private one.
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// Queue is the upload queue. All job mutations go through its methods; the
// job map is guarded by mu and every status transition is persisted to the
// Store before the method returns.
type Queue struct {
	store    *Store
	adapters AdapterSource
	creds    CredentialSource
	opts     Options
	logger   *slog.Logger
	metrics  *metrics
	registry *prometheus.Registry

	nowFunc func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	jobs map[string]*Job

	lmu          sync.RWMutex
	listeners    map[int]func(Event)
	nextListener int

	pumpMu sync.Mutex
}

// New loads the persisted jobs from store. When store owns the database,
// jobs left uploading by a previous process are returned to pending.
func New(ctx context.Context, store *Store, adapters AdapterSource, creds CredentialSource, opts Options) (*Queue, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultRetryBaseDelay
	}

	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = defaultRetryMaxDelay
	}

	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	q := &Queue{
		store:     store,
		adapters:  adapters,
		creds:     creds,
		opts:      opts,
		logger:    opts.Logger,
		metrics:   newMetrics(opts.Registry),
		registry:  opts.Registry,
		nowFunc:   time.Now,
		sleep:     storage.TimeSleep,
		jobs:      make(map[string]*Job),
		listeners: make(map[int]func(Event)),
	}

	loaded, err := store.Load(ctx, q.nowFunc())
	if err != nil {
		return nil, err
	}

	for _, j := range loaded {
		q.jobs[j.ID] = j
	}

	q.updateGauges()
	q.logger.Debug("queue loaded", slog.Int("jobs", len(loaded)))

	return q, nil
}

// ReadOnly reports whether the queue was loaded from a read-only store. A
// read-only queue lists jobs but refuses every change.
func (q *Queue) ReadOnly() bool {
	return q.store.ReadOnly()
}

// Registry returns the registry holding the queue's metrics.
func (q *Queue) Registry() *prometheus.Registry {
	return q.registry
}

// OnEvent registers fn for every job event and returns a function that
// unregisters it. Listeners run on the goroutine that caused the event and
// must not block.
func (q *Queue) OnEvent(fn func(Event)) (remove func()) {
	q.lmu.Lock()
	defer q.lmu.Unlock()

	id := q.nextListener
	q.nextListener++
	q.listeners[id] = fn

	return func() {
		q.lmu.Lock()
		defer q.lmu.Unlock()

		delete(q.listeners, id)
	}
}

func (q *Queue) emit(events ...Event) {
	q.lmu.RLock()
	defer q.lmu.RUnlock()

	for _, ev := range events {
		for _, fn := range q.listeners {
			fn(ev)
		}
	}
}

func (q *Queue) event(kind EventKind, j *Job) Event {
	return Event{Kind: kind, Job: j.snapshot(), At: q.nowFunc()}
}

// Enqueue adds an upload of localPath to remotePath on p. Enqueuing a file
// that already has an unfinished job for the same destination returns that
// job instead of a duplicate.
func (q *Queue) Enqueue(ctx context.Context, p auth.Provider, localPath, remotePath string) (Job, error) {
	if err := q.store.writable(); err != nil {
		return Job{}, err
	}

	if _, err := q.adapters.Adapter(p); err != nil {
		return Job{}, err
	}

	if localPath == "" {
		return Job{}, errors.New("queue: empty local path")
	}

	local, err := filepath.Abs(localPath)
	if err != nil {
		return Job{}, fmt.Errorf("queue: resolving %s: %w", localPath, err)
	}

	remote, err := storage.CleanRemotePath(remotePath)
	if err != nil {
		return Job{}, err
	}

	if remote == "/" {
		return Job{}, fmt.Errorf("%w: %q names no file", storage.ErrInvalidPath, remotePath)
	}

	q.mu.Lock()

	for _, j := range q.jobs {
		if j.Provider == p && j.LocalPath == local && j.RemotePath == remote && j.Status != StatusComplete {
			snap := j.snapshot()
			q.mu.Unlock()

			q.logger.Debug("job already queued", slog.String("job", snap.ID), slog.String("local", local))

			return snap, nil
		}
	}

	now := q.nowFunc()
	j := &Job{
		ID:         uuid.NewString(),
		Provider:   p,
		LocalPath:  local,
		RemotePath: remote,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := q.store.Save(ctx, j); err != nil {
		q.mu.Unlock()
		return Job{}, err
	}

	q.jobs[j.ID] = j
	q.updateGaugesLocked()
	ev := q.event(EventEnqueued, j)
	q.mu.Unlock()

	q.logger.Info("job enqueued",
		slog.String("job", j.ID),
		slog.String("provider", p.String()),
		slog.String("remote", remote),
	)

	q.emit(ev)

	return ev.Job, nil
}

// Get returns a snapshot of job id.
func (q *Queue) Get(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	return j.snapshot(), nil
}

// Jobs returns snapshots of every job, oldest first.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.snapshot())
	}

	slices.SortFunc(out, func(a, b Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return out
}

// Pause stops a job. A pending job is paused at once. An uploading job
// finishes its in-flight request first: if that succeeds the job completes,
// otherwise it lands in paused instead of failed.
func (q *Queue) Pause(ctx context.Context, id string) (Job, error) {
	if err := q.store.writable(); err != nil {
		return Job{}, err
	}

	q.mu.Lock()

	j, err := q.lookupLocked(id)
	if err != nil {
		q.mu.Unlock()
		return Job{}, err
	}

	if j.Status == StatusUploading {
		j.pauseRequested = true
		snap := j.snapshot()
		q.mu.Unlock()

		q.logger.Info("pause requested for in-flight job", slog.String("job", id))

		return snap, nil
	}

	if err := q.transitionLocked(ctx, j, StatusPaused, nil); err != nil {
		q.mu.Unlock()
		return Job{}, err
	}

	ev := q.event(EventPaused, j)
	q.mu.Unlock()

	q.emit(ev)

	return ev.Job, nil
}

// Resume returns a paused job to pending.
func (q *Queue) Resume(ctx context.Context, id string) (Job, error) {
	return q.requeue(ctx, id, StatusPaused, EventResumed, func(j *Job) {
		j.Error = ""
	})
}

// Retry returns a failed job to pending and counts the retry.
func (q *Queue) Retry(ctx context.Context, id string) (Job, error) {
	job, err := q.requeue(ctx, id, StatusFailed, EventRetrying, func(j *Job) {
		j.Retries++
		j.Error = ""
	})
	if err == nil {
		q.metrics.retries.WithLabelValues(job.Provider.String(), "manual").Inc()
	}

	return job, err
}

func (q *Queue) requeue(ctx context.Context, id string, from Status, kind EventKind, mutate func(*Job)) (Job, error) {
	if err := q.store.writable(); err != nil {
		return Job{}, err
	}

	q.mu.Lock()

	j, err := q.lookupLocked(id)
	if err != nil {
		q.mu.Unlock()
		return Job{}, err
	}

	if j.Status != from {
		q.mu.Unlock()
		return Job{}, &TransitionError{JobID: id, From: j.Status, To: StatusPending}
	}

	err = q.transitionLocked(ctx, j, StatusPending, func(j *Job) {
		mutate(j)
		j.Progress = 0
		j.NextAttempt = time.Time{}
	})
	if err != nil {
		q.mu.Unlock()
		return Job{}, err
	}

	ev := q.event(kind, j)
	q.mu.Unlock()

	q.emit(ev)

	return ev.Job, nil
}

// Remove deletes a job that is not currently uploading.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := q.store.writable(); err != nil {
		return err
	}

	q.mu.Lock()

	j, err := q.lookupLocked(id)
	if err != nil {
		q.mu.Unlock()
		return err
	}

	if j.Status == StatusUploading {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobActive, id)
	}

	if err := q.store.Delete(ctx, id); err != nil {
		q.mu.Unlock()
		return err
	}

	delete(q.jobs, id)
	q.updateGaugesLocked()
	ev := q.event(EventRemoved, j)
	q.mu.Unlock()

	q.emit(ev)

	return nil
}

// ClearCompleted removes every complete job and returns how many there were.
func (q *Queue) ClearCompleted(ctx context.Context) (int, error) {
	if err := q.store.writable(); err != nil {
		return 0, err
	}

	q.mu.Lock()

	if _, err := q.store.DeleteCompleted(ctx); err != nil {
		q.mu.Unlock()
		return 0, err
	}

	var events []Event

	for id, j := range q.jobs {
		if j.Status == StatusComplete {
			delete(q.jobs, id)
			events = append(events, q.event(EventRemoved, j))
		}
	}

	q.updateGaugesLocked()
	q.mu.Unlock()

	q.emit(events...)

	return len(events), nil
}

func (q *Queue) lookupLocked(id string) (*Job, error) {
	j, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	return j, nil
}

// transitionLocked moves j to status, applies mutate and persists the result.
// If persisting fails the in-memory job is left as it was.
func (q *Queue) transitionLocked(ctx context.Context, j *Job, to Status, mutate func(*Job)) error {
	if !CanTransition(j.Status, to) {
		return &TransitionError{JobID: j.ID, From: j.Status, To: to}
	}

	next := *j
	next.Status = to
	next.UpdatedAt = q.nowFunc()

	if mutate != nil {
		mutate(&next)
	}

	if err := q.store.Save(ctx, &next); err != nil {
		return err
	}

	*j = next
	q.updateGaugesLocked()

	return nil
}

func (q *Queue) updateGauges() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.updateGaugesLocked()
}

func (q *Queue) updateGaugesLocked() {
	counts := make(map[Status]int, len(AllStatuses))
	for _, j := range q.jobs {
		counts[j.Status]++
	}

	for _, s := range AllStatuses {
		q.metrics.jobs.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
