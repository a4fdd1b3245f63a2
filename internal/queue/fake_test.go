package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

var testEpoch = time.Date(2026, 5, 9, 10, 0, 0, 0, time.UTC)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is advanced by the queue's sleep function, so backoff waits
// complete instantly but still order correctly.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(time.Millisecond)

	return c.now
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	return nil
}

type putFunc func(ctx context.Context, local, remote string, onProgress storage.ProgressFunc) (*storage.PutResult, error)

// fakeAdapter is a scripted storage.Adapter.
type fakeAdapter struct {
	provider auth.Provider
	put      putFunc
	checksum string
	verifyOK bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeAdapter) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, op)
}

func (f *fakeAdapter) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0

	for _, c := range f.calls {
		if c == op {
			n++
		}
	}

	return n
}

func (f *fakeAdapter) Provider() auth.Provider { return f.provider }

func (f *fakeAdapter) Init(context.Context, *auth.Credential) error { return nil }

func (f *fakeAdapter) EnsureRoot(_ context.Context, tmpl string, _ *auth.Credential) (string, error) {
	return tmpl, nil
}

func (f *fakeAdapter) PutChunked(
	ctx context.Context, local, remote string, onProgress storage.ProgressFunc, _ *auth.Credential,
) (*storage.PutResult, error) {
	f.record("put")

	if f.put != nil {
		return f.put(ctx, local, remote, onProgress)
	}

	return succeed(ctx, local, remote, onProgress)
}

func (f *fakeAdapter) Verify(_ context.Context, _, checksum string, _ *auth.Credential) (bool, error) {
	f.record("verify")
	return f.verifyOK && checksum == f.checksum, nil
}

func (f *fakeAdapter) CreateShareLink(context.Context, string, time.Time, *auth.Credential) (string, error) {
	return "", storage.ErrNotImplemented
}

func (f *fakeAdapter) ListChanges(context.Context, string, *auth.Credential) (*storage.ChangePage, error) {
	return &storage.ChangePage{Cursor: "c1"}, nil
}

func (f *fakeAdapter) Rename(context.Context, string, string, *auth.Credential) (*storage.ObjectMeta, error) {
	return nil, storage.ErrNotImplemented
}

func (f *fakeAdapter) Move(context.Context, string, string, *auth.Credential) (*storage.ObjectMeta, error) {
	return nil, storage.ErrNotImplemented
}

func (f *fakeAdapter) Delete(context.Context, string, *auth.Credential) error { return nil }

func (f *fakeAdapter) RefreshAuth(_ context.Context, cred *auth.Credential) (*auth.Credential, error) {
	return cred, nil
}

func (f *fakeAdapter) Checksum(context.Context, string) (string, error) {
	f.record("checksum")
	return f.checksum, nil
}

// succeed reports progress in four steps and returns a result.
func succeed(_ context.Context, _, remote string, onProgress storage.ProgressFunc) (*storage.PutResult, error) {
	for _, f := range []float64{0.25, 0.5, 0.5, 0.75, 1} {
		onProgress(f)
	}

	return &storage.PutResult{
		ObjectID: "obj-" + filepath.Base(remote),
		Meta: storage.ObjectMeta{
			Name:   filepath.Base(remote),
			Path:   remote,
			Size:   2048,
			WebURL: "https://files.example.com" + remote,
		},
	}, nil
}

type fakeRegistry map[auth.Provider]storage.Adapter

func (r fakeRegistry) Adapter(p auth.Provider) (storage.Adapter, error) {
	a, ok := r[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", auth.ErrUnknownProvider, p)
	}

	return a, nil
}

type fakeCreds struct {
	err error
}

func (c fakeCreds) Credential(_ context.Context, p auth.Provider) (*auth.Credential, error) {
	if c.err != nil {
		return nil, c.err
	}

	return &auth.Credential{Provider: p, AccessToken: "tok-" + string(p)}, nil
}

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()

	store, err := OpenStore(t.Context(), filepath.Join(dir, "queue.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

// newTestQueue builds a queue over a fresh database with the given adapters.
func newTestQueue(t *testing.T, opts Options, adapters ...*fakeAdapter) (*Queue, *testClock) {
	t.Helper()

	reg := fakeRegistry{}
	for _, a := range adapters {
		reg[a.provider] = a
	}

	opts.Logger = testLogger(t)

	q, err := New(t.Context(), newTestStore(t, t.TempDir()), reg, fakeCreds{}, opts)
	require.NoError(t, err)

	clock := &testClock{now: testEpoch}
	q.nowFunc = clock.Now
	q.sleep = clock.Sleep

	return q, clock
}

// eventLog collects events delivered to a listener.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(jobID string) []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []EventKind

	for _, ev := range l.events {
		if ev.Job.ID == jobID && ev.Kind != EventProgress {
			out = append(out, ev.Kind)
		}
	}

	return out
}

func (l *eventLog) progress(jobID string) []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []float64

	for _, ev := range l.events {
		if ev.Job.ID == jobID && (ev.Kind == EventProgress || ev.Kind == EventCompleted) {
			out = append(out, ev.Job.Progress)
		}
	}

	return out
}
