package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/clipcloud/internal/queue"
)

// errAmbiguousJob means a job id prefix matched more than one job.
var errAmbiguousJob = errors.New("ambiguous job id")

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <job-id>...",
		Short: "Pause queued jobs",
		Long: `Pause jobs so the pump skips them. A pending job pauses at once; a job that
is uploading finishes its current request first and pauses only if that
request does not complete the upload.

Job ids may be abbreviated to any unique prefix.`,
		Args: cobra.MinimumNArgs(1),
		RunE: jobAction("Paused", func(ctx context.Context, q *queue.Queue, id string) error {
			_, err := q.Pause(ctx, id)
			return err
		}),
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>...",
		Short: "Return paused jobs to the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: jobAction("Resumed", func(ctx context.Context, q *queue.Queue, id string) error {
			_, err := q.Resume(ctx, id)
			return err
		}),
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Queue failed jobs again",
		Args:  cobra.MinimumNArgs(1),
		RunE: jobAction("Requeued", func(ctx context.Context, q *queue.Queue, id string) error {
			_, err := q.Retry(ctx, id)
			return err
		}),
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <job-id>...",
		Short: "Remove jobs from the queue (the remote file is left alone)",
		Args:  cobra.MinimumNArgs(1),
		RunE: jobAction("Removed", func(ctx context.Context, q *queue.Queue, id string) error {
			return q.Remove(ctx, id)
		}),
	}
}

// jobAction builds a RunE that resolves every argument to a job and applies
// fn to it. All ids are resolved before any job is touched.
func jobAction(verb string, fn func(ctx context.Context, q *queue.Queue, id string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cc := mustCLIContext(cmd.Context())
		ctx := cmd.Context()

		sess, err := openQueueSession(ctx, cc, queueExclusive)
		if err != nil {
			return err
		}
		defer sess.Close()

		ids := make([]string, 0, len(args))

		for _, arg := range args {
			id, err := resolveJobID(sess.queue.Jobs(), arg)
			if err != nil {
				return err
			}

			ids = append(ids, id)
		}

		for _, id := range ids {
			if err := fn(ctx, sess.queue, id); err != nil {
				return describeJobError(id, err)
			}

			cc.Statusf("%s %s\n", verb, shortID(id))
		}

		return nil
	}
}

// resolveJobID expands a unique id prefix to the full job id.
func resolveJobID(jobs []queue.Job, prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty id", queue.ErrJobNotFound)
	}

	var matches []string

	for _, j := range jobs {
		if j.ID == prefix {
			return j.ID, nil
		}

		if strings.HasPrefix(j.ID, prefix) {
			matches = append(matches, j.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", queue.ErrJobNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w %q matches %d jobs", errAmbiguousJob, prefix, len(matches))
	}
}

// describeJobError rewords queue errors a user is likely to hit.
func describeJobError(id string, err error) error {
	var te *queue.TransitionError

	switch {
	case errors.As(err, &te):
		return fmt.Errorf("job %s is %s: %w", shortID(id), te.From, err)
	case errors.Is(err, queue.ErrJobActive):
		return fmt.Errorf("job %s is uploading; pause it first: %w", shortID(id), err)
	default:
		return err
	}
}
