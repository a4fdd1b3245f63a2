package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/queue"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

func newEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <provider> <file>...",
		Short: "Add files to the upload queue",
		Long: `Queue local files for upload. Each file goes to the provider's folder
(folder_template, or --to) under its own name. Queuing a file that already has
an unfinished job for the same destination returns the existing job.

Examples:
  clipcloud enqueue dropbox take1.m4a take2.m4a
  clipcloud enqueue gdrive --to "/Podcasts/{yyyy}" episode.mp3 --pump`,
		Args: cobra.MinimumNArgs(2),
		RunE: runEnqueue,
	}

	cmd.Flags().String("to", "", "remote folder template (default: the provider's folder_template)")
	cmd.Flags().Bool("pump", false, "upload the queue right away")

	return cmd
}

func newPumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pump",
		Short: "Upload pending jobs until the queue is drained",
		Long: `Upload every pending job, one at a time per provider. Transient failures
are retried automatically with backoff up to [queue] max_auto_retries.
Ctrl-C returns the in-flight uploads to pending.`,
		Args: cobra.NoArgs,
		RunE: runPump,
	}

	cmd.Flags().Bool("verify", false, "verify every upload (overrides [queue] verify_uploads)")

	return cmd
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List upload jobs",
		Args:  cobra.NoArgs,
		RunE:  runJobs,
	}

	cmd.Flags().String("status", "", "only jobs with this status (pending, uploading, paused, failed, complete)")
	cmd.Flags().String("provider", "", "only jobs for this provider")

	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove completed jobs from the queue",
		Args:  cobra.NoArgs,
		RunE:  runClear,
	}
}

// remotePathFor maps a local file to its destination under folderTemplate.
func remotePathFor(folderTemplate string, p auth.Provider, localPath string, now time.Time) (string, error) {
	dir := storage.ExpandTemplate(folderTemplate, p, now)

	return storage.CleanRemotePath(path.Join(dir, filepath.Base(localPath)))
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	p, err := auth.ParseProvider(args[0])
	if err != nil {
		return err
	}

	sess, err := openQueueSession(ctx, cc, queueExclusive)
	if err != nil {
		return err
	}
	defer sess.Close()

	tmpl, _ := cmd.Flags().GetString("to")
	if tmpl == "" {
		tmpl = sess.registry.FolderTemplate(p)
	}

	now := time.Now()
	jobs := make([]queue.Job, 0, len(args)-1)

	for _, local := range args[1:] {
		info, err := os.Stat(local)
		if err != nil {
			return fmt.Errorf("cannot queue %s: %w", local, err)
		}

		if !info.Mode().IsRegular() {
			return fmt.Errorf("cannot queue %s: not a regular file", local)
		}

		remote, err := remotePathFor(tmpl, p, local, now)
		if err != nil {
			return err
		}

		job, err := sess.queue.Enqueue(ctx, p, local, remote)
		if err != nil {
			return err
		}

		cc.Logger.Info("enqueued", "job", job.ID, "local", job.LocalPath, "remote", job.RemotePath)
		jobs = append(jobs, job)
	}

	if cc.Flags.JSON {
		if err := printJSON(os.Stdout, jobs); err != nil {
			return err
		}
	} else {
		for _, j := range jobs {
			fmt.Printf("%s  %s -> %s:%s\n", shortID(j.ID), j.LocalPath, j.Provider, j.RemotePath)
		}
	}

	if pump, _ := cmd.Flags().GetBool("pump"); pump {
		return pumpQueue(cmd, sess)
	}

	return nil
}

func runPump(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openQueueSession(cmd.Context(), cc, queueExclusive)
	if err != nil {
		return err
	}
	defer sess.Close()

	return pumpQueue(cmd, sess)
}

// pumpQueue drains the queue, printing progress to stderr.
func pumpQueue(cmd *cobra.Command, sess *session) error {
	cc := sess.cc
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	printer := newProgressPrinter(os.Stderr, cc.Flags.Quiet || cc.Flags.JSON)
	remove := sess.queue.OnEvent(printer.handle)
	defer remove()

	if err := sess.queue.Pump(ctx); err != nil {
		return err
	}

	completed, failed := printer.summary()

	if ctx.Err() != nil {
		cc.Statusf("Interrupted; unfinished uploads stay queued.\n")
		return nil
	}

	cc.Statusf("%d uploaded, %d failed.\n", completed, failed)

	if failed > 0 {
		return fmt.Errorf("%d upload(s) failed; see 'clipcloud jobs --status failed'", failed)
	}

	return nil
}

func runJobs(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	status, _ := cmd.Flags().GetString("status")
	providerFlag, _ := cmd.Flags().GetString("provider")

	if status != "" && !slices.Contains(queue.AllStatuses, queue.Status(status)) {
		return fmt.Errorf("unknown status %q (want one of pending, uploading, paused, failed, complete)", status)
	}

	var provider auth.Provider

	if providerFlag != "" {
		p, err := auth.ParseProvider(providerFlag)
		if err != nil {
			return err
		}

		provider = p
	}

	sess, err := openQueueSession(cmd.Context(), cc, queueReadOnly)
	if err != nil {
		return err
	}
	defer sess.Close()

	jobs := filterJobs(sess.queue.Jobs(), queue.Status(status), provider)

	if cc.Flags.JSON {
		return printJSON(os.Stdout, jobs)
	}

	if len(jobs) == 0 {
		cc.Statusf("No jobs.\n")
		return nil
	}

	printJobsTable(jobs)

	return nil
}

func filterJobs(jobs []queue.Job, status queue.Status, provider auth.Provider) []queue.Job {
	out := make([]queue.Job, 0, len(jobs))

	for _, j := range jobs {
		if status != "" && j.Status != status {
			continue
		}

		if provider != "" && j.Provider != provider {
			continue
		}

		out = append(out, j)
	}

	return out
}

func printJobsTable(jobs []queue.Job) {
	headers := []string{"ID", "PROVIDER", "STATUS", "PROGRESS", "RETRIES", "REMOTE", "DETAIL"}
	rows := make([][]string, 0, len(jobs))

	for _, j := range jobs {
		detail := j.Error
		if j.Status == queue.StatusComplete {
			detail = j.WebURL
		}

		rows = append(rows, []string{
			shortID(j.ID),
			string(j.Provider),
			string(j.Status),
			formatProgress(j.Progress),
			fmt.Sprint(j.Retries),
			j.RemotePath,
			detail,
		})
	}

	printTable(os.Stdout, headers, rows)
}

func runClear(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openQueueSession(cmd.Context(), cc, queueExclusive)
	if err != nil {
		return err
	}
	defer sess.Close()

	n, err := sess.queue.ClearCompleted(cmd.Context())
	if err != nil {
		return err
	}

	cc.Statusf("Removed %d completed job(s).\n", n)

	return nil
}
