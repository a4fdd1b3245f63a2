package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/tonimelisma/clipcloud/internal/queue"
)

// progressPrinter renders queue events for a human. On a terminal the
// running upload redraws a single line; otherwise only start and finish
// lines are written.
type progressPrinter struct {
	w     io.Writer
	tty   bool
	quiet bool

	mu        sync.Mutex
	lineOpen  bool
	completed int
	failed    int
}

func newProgressPrinter(w io.Writer, quiet bool) *progressPrinter {
	return &progressPrinter{w: w, tty: isTerminal(w), quiet: quiet}
}

func (pp *progressPrinter) handle(ev queue.Event) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	j := ev.Job
	name := filepath.Base(j.LocalPath)

	switch ev.Kind {
	case queue.EventCompleted:
		pp.completed++
	case queue.EventFailed:
		pp.failed++
	case queue.EventRetrying:
		pp.failed--
	}

	if pp.quiet {
		return
	}

	switch ev.Kind {
	case queue.EventProgress:
		if pp.tty {
			fmt.Fprintf(pp.w, "\r\x1b[K%s  %s  %s", shortID(j.ID), name, formatProgress(j.Progress))
			pp.lineOpen = true
		}

	case queue.EventStarted:
		pp.line("%s  uploading %s to %s:%s", shortID(j.ID), name, j.Provider, j.RemotePath)

	case queue.EventCompleted:
		dest := j.WebURL
		if dest == "" {
			dest = string(j.Provider) + ":" + j.RemotePath
		}

		pp.line("%s  done %s (%s) %s", shortID(j.ID), name, formatSize(j.Size), dest)

	case queue.EventFailed:
		pp.line("%s  failed %s: %s", shortID(j.ID), name, j.Error)

	case queue.EventRetrying:
		wait := time.Until(j.NextAttempt).Round(time.Second)
		pp.line("%s  retry %d in %s", shortID(j.ID), j.Retries, max(wait, 0))

	case queue.EventPaused:
		pp.line("%s  paused %s", shortID(j.ID), name)
	}
}

// line ends any open progress line and writes a full line.
func (pp *progressPrinter) line(format string, args ...any) {
	if pp.lineOpen {
		fmt.Fprint(pp.w, "\r\x1b[K")
		pp.lineOpen = false
	}

	fmt.Fprintf(pp.w, format+"\n", args...)
}

// summary reports how many uploads finished and how many ended failed.
func (pp *progressPrinter) summary() (completed, failed int) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	return pp.completed, pp.failed
}
