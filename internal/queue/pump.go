package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

// Pump uploads pending jobs until none are runnable: one in-flight upload
// per provider, providers in parallel. Jobs waiting out an automatic retry
// backoff are waited for. A failing job never stops the pump; only context
// cancellation or a persistence failure does. Concurrent calls serialize.
func (q *Queue) Pump(ctx context.Context) error {
	if err := q.store.writable(); err != nil {
		return err
	}

	q.pumpMu.Lock()
	defer q.pumpMu.Unlock()

	providers := q.pendingProviders()
	if len(providers) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, p := range providers {
		a, err := q.adapters.Adapter(p)
		if err != nil {
			q.logger.Error("no adapter for queued provider",
				slog.String("provider", p.String()),
				slog.String("error", err.Error()),
			)

			continue
		}

		g.Go(func() error {
			return q.drain(gctx, p, a)
		})
	}

	return g.Wait()
}

func (q *Queue) pendingProviders() []auth.Provider {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []auth.Provider

	for _, j := range q.jobs {
		if j.Status == StatusPending && !slices.Contains(out, j.Provider) {
			out = append(out, j.Provider)
		}
	}

	slices.Sort(out)

	return out
}

// drain runs p's pending jobs one at a time, oldest first.
func (q *Queue) drain(ctx context.Context, p auth.Provider, a storage.Adapter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, wait, err := q.claim(ctx, p)
		if err != nil {
			return err
		}

		if job == nil {
			if wait <= 0 {
				return nil
			}

			q.logger.Debug("waiting for retry backoff",
				slog.String("provider", p.String()),
				slog.Duration("wait", wait),
			)

			if err := q.sleep(ctx, wait); err != nil {
				return err
			}

			continue
		}

		q.run(ctx, a, *job)
	}
}

// claim moves p's oldest runnable pending job to uploading. With nothing
// runnable it returns how long until the earliest backed-off job is due, or
// zero when p has no pending jobs at all.
func (q *Queue) claim(ctx context.Context, p auth.Provider) (*Job, time.Duration, error) {
	q.mu.Lock()

	now := q.nowFunc()

	var (
		next *Job
		wait time.Duration
	)

	for _, j := range q.jobs {
		if j.Provider != p || j.Status != StatusPending {
			continue
		}

		if d := j.NextAttempt.Sub(now); d > 0 {
			if wait == 0 || d < wait {
				wait = d
			}

			continue
		}

		if next == nil || j.CreatedAt.Before(next.CreatedAt) ||
			(j.CreatedAt.Equal(next.CreatedAt) && j.ID < next.ID) {
			next = j
		}
	}

	if next == nil {
		q.mu.Unlock()
		return nil, wait, nil
	}

	err := q.transitionLocked(ctx, next, StatusUploading, func(j *Job) {
		j.Progress = 0
		j.Error = ""
		j.NextAttempt = time.Time{}
	})
	if err != nil {
		q.mu.Unlock()
		return nil, 0, err
	}

	ev := q.event(EventStarted, next)
	q.mu.Unlock()

	q.logger.Info("upload started",
		slog.String("job", ev.Job.ID),
		slog.String("provider", p.String()),
		slog.String("local", ev.Job.LocalPath),
		slog.String("remote", ev.Job.RemotePath),
	)

	q.emit(ev)

	return &ev.Job, 0, nil
}

func (q *Queue) run(ctx context.Context, a storage.Adapter, job Job) {
	start := q.nowFunc()
	res, err := q.upload(ctx, a, job)

	q.metrics.duration.WithLabelValues(job.Provider.String()).Observe(q.nowFunc().Sub(start).Seconds())

	// Record the outcome even when the pump is being cancelled.
	q.finish(context.WithoutCancel(ctx), ctx, job.ID, res, err)
}

func (q *Queue) upload(ctx context.Context, a storage.Adapter, job Job) (*storage.PutResult, error) {
	cred, err := q.creds.Credential(ctx, job.Provider)
	if cred == nil {
		if err == nil {
			err = fmt.Errorf("queue: %w", auth.ErrNotConnected)
		}

		return nil, err
	}

	if err != nil {
		// The adapter's unauthorized-retry decides whether the stale token
		// still works.
		q.logger.Warn("token refresh failed, trying stored credential",
			slog.String("provider", job.Provider.String()),
			slog.String("error", err.Error()),
		)
	}

	res, err := a.PutChunked(ctx, job.LocalPath, job.RemotePath, func(f float64) {
		q.progress(job.ID, f)
	}, cred)
	if err != nil {
		return nil, err
	}

	if q.opts.VerifyUploads {
		if err := q.verify(ctx, a, job, res, cred); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// verify checks the uploaded object against the local file's
// provider-native hash.
func (q *Queue) verify(ctx context.Context, a storage.Adapter, job Job, res *storage.PutResult, cred *auth.Credential) error {
	sum, err := a.Checksum(ctx, job.LocalPath)
	if err != nil {
		return fmt.Errorf("queue: hashing %s: %w", job.LocalPath, err)
	}

	target := res.ObjectID
	if target == "" {
		target = job.RemotePath
	}

	ok, err := a.Verify(ctx, target, sum, cred)
	if err != nil {
		return fmt.Errorf("queue: verifying %s: %w", job.RemotePath, err)
	}

	if !ok {
		return fmt.Errorf("queue: verifying %s: %w", job.RemotePath, storage.ErrChecksumMismatch)
	}

	q.logger.Debug("upload verified", slog.String("job", job.ID), slog.String("checksum", sum))

	return nil
}

// progress records a new fraction for an uploading job. Fractions that
// would move progress backwards are dropped.
func (q *Queue) progress(id string, f float64) {
	f = min(max(f, 0), 1)

	q.mu.Lock()

	j, ok := q.jobs[id]
	if !ok || j.Status != StatusUploading || f <= j.Progress {
		q.mu.Unlock()
		return
	}

	j.Progress = f
	ev := q.event(EventProgress, j)
	q.mu.Unlock()

	q.emit(ev)
}

// finish records the outcome of an attempt. pumpCtx tells a cancelled pump
// apart from a failed upload: a cancelled attempt is lost, not failed.
func (q *Queue) finish(ctx, pumpCtx context.Context, id string, res *storage.PutResult, uploadErr error) {
	q.mu.Lock()

	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}

	p := j.Provider.String()

	var (
		events []Event
		err    error
	)

	switch {
	case uploadErr == nil:
		err = q.transitionLocked(ctx, j, StatusComplete, func(j *Job) {
			j.Progress = 1
			j.ObjectID = res.ObjectID
			j.WebURL = res.Meta.WebURL
			j.Size = res.Meta.Size
			j.pauseRequested = false
		})
		if err == nil {
			q.metrics.outcomes.WithLabelValues(p, "complete").Inc()
			q.metrics.bytes.WithLabelValues(p).Add(float64(j.Size))
			events = append(events, q.event(EventCompleted, j))
		}

	case pumpCtx.Err() != nil && errors.Is(uploadErr, context.Canceled):
		err = q.demoteLocked(ctx, j)

	case j.pauseRequested:
		err = q.transitionLocked(ctx, j, StatusPaused, func(j *Job) {
			j.Error = uploadErr.Error()
			j.pauseRequested = false
		})
		if err == nil {
			q.metrics.outcomes.WithLabelValues(p, "paused").Inc()
			events = append(events, q.event(EventPaused, j))
		}

	default:
		events, err = q.failLocked(ctx, j, uploadErr)
	}

	q.mu.Unlock()

	if err != nil {
		q.logger.Error("recording upload outcome failed",
			slog.String("job", id),
			slog.String("error", err.Error()),
		)
	}

	q.logOutcome(id, p, uploadErr)
	q.emit(events...)
}

// failLocked marks j failed and, for transient errors under the retry
// budget, schedules an automatic retry with exponential backoff.
func (q *Queue) failLocked(ctx context.Context, j *Job, uploadErr error) ([]Event, error) {
	p := j.Provider.String()

	err := q.transitionLocked(ctx, j, StatusFailed, func(j *Job) {
		j.Error = uploadErr.Error()
	})
	if err != nil {
		return nil, err
	}

	q.metrics.outcomes.WithLabelValues(p, "failed").Inc()
	events := []Event{q.event(EventFailed, j)}

	if !storage.IsTransient(uploadErr) || j.Retries >= q.opts.MaxAutoRetries {
		return events, nil
	}

	delay := storage.Backoff(q.opts.RetryBaseDelay, q.opts.RetryMaxDelay, j.Retries)

	err = q.transitionLocked(ctx, j, StatusPending, func(j *Job) {
		j.Retries++
		j.Progress = 0
		j.NextAttempt = q.nowFunc().Add(delay)
	})
	if err != nil {
		return events, err
	}

	q.metrics.retries.WithLabelValues(p, "auto").Inc()

	q.logger.Info("upload will be retried",
		slog.String("job", j.ID),
		slog.Int("retry", j.Retries),
		slog.Duration("delay", delay),
	)

	return append(events, q.event(EventRetrying, j)), nil
}

// demoteLocked returns an interrupted upload to pending, the same recovery
// Store.Load applies after a crash.
func (q *Queue) demoteLocked(ctx context.Context, j *Job) error {
	next := *j
	next.Status = StatusPending
	next.Progress = 0
	next.pauseRequested = false
	next.UpdatedAt = q.nowFunc()

	if err := q.store.Save(ctx, &next); err != nil {
		return err
	}

	*j = next
	q.updateGaugesLocked()

	return nil
}

func (q *Queue) logOutcome(id, provider string, err error) {
	if err == nil {
		q.logger.Info("upload complete", slog.String("job", id), slog.String("provider", provider))
		return
	}

	q.logger.Warn("upload failed",
		slog.String("job", id),
		slog.String("provider", provider),
		slog.String("error", err.Error()),
		slog.Bool("transient", storage.IsTransient(err)),
	)
}
