// Package watch turns a local recordings folder into queue entries: new or
// modified audio files are enqueued once they stop changing.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
	minCheckInterval    = 10 * time.Millisecond
)

// EnqueueFunc hands a settled file to the upload queue.
type EnqueueFunc func(ctx context.Context, p auth.Provider, localPath, remotePath string) error

// Options configures a Watcher.
type Options struct {
	Dir        string
	Provider   auth.Provider
	RemoteDir  string // folder template, e.g. "/clipcloud/{yyyy}-{mm}"
	Extensions []string
	Ignore     []string // gitignore-style patterns relative to Dir
	Settle     time.Duration

	// ScanExisting enqueues matching files already present at start.
	ScanExisting bool

	Enqueue EnqueueFunc
	Logger  *slog.Logger
}

// fsWatcher is the slice of fsnotify.Watcher the loop needs.
type fsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// candidate is a file seen changing that has not settled yet.
type candidate struct {
	size       int64
	modTime    time.Time
	lastChange time.Time
}

// Watcher watches Dir recursively and enqueues settled files.
type Watcher struct {
	opts    Options
	exts    []string
	ignorer *ignore.GitIgnore
	logger  *slog.Logger

	nowFunc func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	pending map[string]candidate
}

// New validates opts and compiles the ignore patterns.
func New(opts Options) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, errors.New("watch: no directory configured")
	}

	if !opts.Provider.Valid() {
		return nil, fmt.Errorf("watch: %w %q", auth.ErrUnknownProvider, opts.Provider)
	}

	if opts.Enqueue == nil {
		return nil, errors.New("watch: no enqueue function")
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolving %s: %w", opts.Dir, err)
	}

	opts.Dir = dir

	exts := make([]string, 0, len(opts.Extensions))
	for _, e := range opts.Extensions {
		exts = append(exts, strings.ToLower(e))
	}

	return &Watcher{
		opts:    opts,
		exts:    exts,
		ignorer: ignore.CompileIgnoreLines(opts.Ignore...),
		logger:  opts.Logger,
		nowFunc: time.Now,
		sleep:   storage.TimeSleep,
		pending: make(map[string]candidate),
	}, nil
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}

	return w.run(ctx, fsnotifyWatcher{w: fw})
}

func (w *Watcher) run(ctx context.Context, fw fsWatcher) error {
	defer fw.Close()

	if err := w.addTree(fw, w.opts.Dir, w.opts.ScanExisting); err != nil {
		return err
	}

	w.logger.Info("watching folder",
		slog.String("dir", w.opts.Dir),
		slog.String("provider", w.opts.Provider.String()),
		slog.Duration("settle", w.opts.Settle),
	)

	tick := max(w.opts.Settle/2, minCheckInterval)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			w.handleEvent(fw, ev)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if err := w.sleep(ctx, errBackoff); err != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// addTree watches dir and every non-ignored directory below it. With scan
// set, files found along the way become candidates.
func (w *Watcher) addTree(fw fsWatcher, dir string, scan bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return fmt.Errorf("watch: reading %s: %w", dir, err)
			}

			w.logger.Warn("skipping unreadable path", slog.String("path", p), slog.String("error", err.Error()))

			return nil
		}

		if d.IsDir() {
			if p != w.opts.Dir && w.ignored(p, true) {
				return filepath.SkipDir
			}

			if err := fw.Add(p); err != nil {
				return fmt.Errorf("watch: adding %s: %w", p, err)
			}

			return nil
		}

		if scan || dir != w.opts.Dir {
			w.touch(p)
		}

		return nil
	})
}

func (w *Watcher) handleEvent(fw fsWatcher, ev fsnotify.Event) {
	// Mode changes alone do not alter content.
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}

		if info.IsDir() {
			if w.ignored(ev.Name, true) {
				return
			}

			// Files written before the watch was registered are picked up
			// by the walk.
			if err := w.addTree(fw, ev.Name, true); err != nil {
				w.logger.Warn("watching new directory failed", slog.String("dir", ev.Name), slog.String("error", err.Error()))
			}

			return
		}

		w.touch(ev.Name)

	case ev.Has(fsnotify.Write):
		w.touch(ev.Name)

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.pending, ev.Name)
		w.mu.Unlock()
	}
}

// touch records activity on a file that passes the filters.
func (w *Watcher) touch(p string) {
	if !w.Matches(p) {
		return
	}

	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[p] = candidate{size: info.Size(), modTime: info.ModTime(), lastChange: w.nowFunc()}
}

// flush enqueues candidates whose size and modification time have not
// changed for the settle period.
func (w *Watcher) flush(ctx context.Context) {
	now := w.nowFunc()

	var ready []string

	w.mu.Lock()

	for p, c := range w.pending {
		info, err := os.Stat(p)
		if err != nil {
			delete(w.pending, p)
			continue
		}

		if info.Size() != c.size || !info.ModTime().Equal(c.modTime) {
			w.pending[p] = candidate{size: info.Size(), modTime: info.ModTime(), lastChange: now}
			continue
		}

		if now.Sub(c.lastChange) >= w.opts.Settle {
			delete(w.pending, p)
			ready = append(ready, p)
		}
	}

	w.mu.Unlock()

	slices.Sort(ready)

	for _, p := range ready {
		w.enqueue(ctx, p, now)
	}
}

func (w *Watcher) enqueue(ctx context.Context, p string, now time.Time) {
	remote, err := w.RemotePath(p, now)
	if err != nil {
		w.logger.Warn("cannot map file to a remote path", slog.String("path", p), slog.String("error", err.Error()))
		return
	}

	if err := w.opts.Enqueue(ctx, w.opts.Provider, p, remote); err != nil {
		w.logger.Error("enqueue failed",
			slog.String("path", p),
			slog.String("remote", remote),
			slog.String("error", err.Error()),
		)

		return
	}

	w.logger.Info("settled file enqueued", slog.String("path", p), slog.String("remote", remote))
}

// Matches reports whether p (a file under Dir) should be uploaded.
func (w *Watcher) Matches(p string) bool {
	name := filepath.Base(p)

	if isTemporary(name) {
		return false
	}

	if len(w.exts) > 0 && !slices.Contains(w.exts, strings.ToLower(filepath.Ext(name))) {
		return false
	}

	return !w.ignored(p, false)
}

func (w *Watcher) ignored(p string, isDir bool) bool {
	rel, err := filepath.Rel(w.opts.Dir, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}

	// go-gitignore expects forward slashes and uses trailing slash for dirs.
	match := filepath.ToSlash(rel)
	if isDir {
		match += "/"
	}

	return w.ignorer.MatchesPath(match)
}

// RemotePath maps a local file to its destination: the expanded folder
// template followed by the file's path relative to Dir, NFC-normalized.
func (w *Watcher) RemotePath(p string, now time.Time) (string, error) {
	rel, err := filepath.Rel(w.opts.Dir, p)
	if err != nil {
		return "", fmt.Errorf("watch: %s is outside %s: %w", p, w.opts.Dir, err)
	}

	root := storage.ExpandTemplate(w.opts.RemoteDir, w.opts.Provider, now)

	return storage.CleanRemotePath(path.Join(root, norm.NFC.String(filepath.ToSlash(rel))))
}

// isTemporary reports names recorders and editors use while writing.
func isTemporary(name string) bool {
	lower := strings.ToLower(name)

	for _, ext := range temporarySuffixes {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~")
}

var temporarySuffixes = []string{".part", ".partial", ".tmp", ".swp", ".crdownload"}
