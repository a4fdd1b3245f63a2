package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/config"
	"github.com/tonimelisma/clipcloud/internal/feed"
	"github.com/tonimelisma/clipcloud/internal/queue"
	"github.com/tonimelisma/clipcloud/internal/watch"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch a folder, upload continuously and serve a progress feed",
		Long: `Run until interrupted:
  - the watch folder ([watch] dir) queues new recordings once they settle
  - the queue is pumped on every new job and every [queue] pump_interval
  - the progress feed listens on [serve] listen:
      GET /events   websocket stream of queue events
      GET /jobs     job list as JSON (?status=, ?provider=)
      GET /metrics  Prometheus metrics

SIGINT or SIGTERM returns in-flight uploads to pending and exits.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "feed address (overrides [serve] listen)")
	cmd.Flags().Bool("verify", false, "verify every upload (overrides [queue] verify_uploads)")
	cmd.Flags().Bool("scan-existing", false, "also queue files already in the watch folder")
	cmd.Flags().Bool("no-feed", false, "do not start the progress feed")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	cleanup, err := writePIDFile(config.ServePIDPath(cc.Cfg.DataDir))
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := openQueueSession(cmd.Context(), cc, queueExclusive)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := shutdownContext(cmd.Context(), logger)
	g, gctx := errgroup.WithContext(ctx)

	kick := make(chan struct{}, 1)
	remove := sess.queue.OnEvent(func(ev queue.Event) {
		if ev.Kind == queue.EventEnqueued || ev.Kind == queue.EventResumed {
			select {
			case kick <- struct{}{}:
			default:
			}
		}
	})
	defer remove()

	g.Go(func() error {
		return pumpLoop(gctx, sess.queue, cc.Cfg.PumpInterval(), kick, logger)
	})

	if cc.Cfg.Watch.Dir != "" {
		scan, _ := cmd.Flags().GetBool("scan-existing")

		w, err := newWatcher(cc.Cfg, sess, scan, logger)
		if err != nil {
			return err
		}

		g.Go(func() error { return w.Run(gctx) })
	} else {
		logger.Info("watch folder disabled")
	}

	if noFeed, _ := cmd.Flags().GetBool("no-feed"); !noFeed {
		srv := feed.New(sess.queue, feed.Options{Addr: cc.Cfg.Serve.Listen, Logger: logger})
		defer srv.Close()

		g.Go(func() error { return srv.Run(gctx) })
	}

	cc.Statusf("Serving. Press Ctrl-C to stop.\n")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// newWatcher builds the watch folder from [watch]. The remote folder falls
// back to the provider's folder_template.
func newWatcher(cfg *config.Resolved, sess *session, scan bool, logger *slog.Logger) (*watch.Watcher, error) {
	p, err := auth.ParseProvider(cfg.Watch.Provider)
	if err != nil {
		return nil, err
	}

	remoteDir := cfg.Watch.RemoteDir
	if remoteDir == "" {
		remoteDir = sess.registry.FolderTemplate(p)
	}

	return watch.New(watch.Options{
		Dir:          cfg.Watch.Dir,
		Provider:     p,
		RemoteDir:    remoteDir,
		Extensions:   cfg.Watch.Extensions,
		Ignore:       cfg.Watch.Ignore,
		Settle:       cfg.Settle(),
		ScanExisting: scan,
		Enqueue: func(ctx context.Context, p auth.Provider, local, remote string) error {
			_, err := sess.queue.Enqueue(ctx, p, local, remote)
			return err
		},
		Logger: logger,
	})
}

// pumper is the part of queue.Queue the pump loop drives.
type pumper interface {
	Pump(ctx context.Context) error
}

// pumpLoop drains the queue now, then again on every kick or tick, until
// ctx is cancelled. Pump errors are logged, never fatal.
func pumpLoop(ctx context.Context, q pumper, interval time.Duration, kick <-chan struct{}, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := q.Pump(ctx); err != nil && ctx.Err() == nil {
			logger.Error("pump failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-kick:
		}
	}
}
