package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

func makeJob(id string, status Status, created time.Time) *Job {
	return &Job{
		ID:         id,
		Provider:   auth.OneDrive,
		LocalPath:  "/rec/" + id + ".m4a",
		RemotePath: "/clips/" + id + ".m4a",
		Status:     status,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	j := makeJob("a", StatusFailed, testEpoch)
	j.Retries = 2
	j.Error = "storage: network error"
	j.Progress = 0.5
	require.NoError(t, store.Save(t.Context(), j))

	jobs, err := store.Load(t.Context(), testEpoch)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	got := jobs[0]
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, auth.OneDrive, got.Provider)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 2, got.Retries)
	assert.Equal(t, "storage: network error", got.Error)
	assert.InDelta(t, 0.5, got.Progress, 1e-9)
	assert.True(t, testEpoch.Equal(got.CreatedAt))
}

func TestStore_SaveUpdatesInPlace(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	j := makeJob("a", StatusPending, testEpoch)
	require.NoError(t, store.Save(t.Context(), j))

	j.Status = StatusComplete
	j.Progress = 1
	j.ObjectID = "obj-1"
	j.WebURL = "https://example.com/a"
	j.Size = 99
	j.UpdatedAt = testEpoch.Add(time.Minute)
	require.NoError(t, store.Save(t.Context(), j))

	jobs, err := store.Load(t.Context(), testEpoch)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusComplete, jobs[0].Status)
	assert.Equal(t, "obj-1", jobs[0].ObjectID)
	assert.Equal(t, int64(99), jobs[0].Size)
	assert.True(t, testEpoch.Add(time.Minute).Equal(jobs[0].UpdatedAt))
}

func TestStore_LoadDemotesInterruptedUploads(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)

	up := makeJob("up", StatusUploading, testEpoch)
	up.Progress = 0.6
	require.NoError(t, store.Save(t.Context(), up))
	require.NoError(t, store.Save(t.Context(), makeJob("done", StatusComplete, testEpoch.Add(time.Second))))
	require.NoError(t, store.Close())

	// A new process opens the same database.
	reopened := newTestStore(t, dir)

	jobs, err := reopened.Load(t.Context(), testEpoch.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "up", jobs[0].ID)
	assert.Equal(t, StatusPending, jobs[0].Status)
	assert.Zero(t, jobs[0].Progress)
	assert.True(t, testEpoch.Add(time.Hour).Equal(jobs[0].UpdatedAt))

	assert.Equal(t, StatusComplete, jobs[1].Status)
}

func TestStore_DeleteAndDeleteCompleted(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	require.NoError(t, store.Save(t.Context(), makeJob("a", StatusComplete, testEpoch)))
	require.NoError(t, store.Save(t.Context(), makeJob("b", StatusComplete, testEpoch.Add(time.Second))))
	require.NoError(t, store.Save(t.Context(), makeJob("c", StatusPaused, testEpoch.Add(2*time.Second))))

	n, err := store.DeleteCompleted(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, store.Delete(t.Context(), "c"))
	require.NoError(t, store.Delete(t.Context(), "missing"))

	jobs, err := store.Load(t.Context(), testEpoch)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestQueue_RestartDemotesAndPumps(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	require.NoError(t, store.Save(t.Context(), makeJob("crashed", StatusUploading, testEpoch)))
	require.NoError(t, store.Close())

	ad := &fakeAdapter{provider: auth.OneDrive}

	q, err := New(t.Context(), newTestStore(t, dir), fakeRegistry{auth.OneDrive: ad}, fakeCreds{}, Options{Logger: testLogger(t)})
	require.NoError(t, err)

	got, err := q.Get("crashed")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	require.NoError(t, q.Pump(t.Context()))

	got, err = q.Get("crashed")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, 1, ad.count("put"))
}

func TestStore_RejectsInvalidStatus(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	err := store.Save(t.Context(), makeJob("x", Status("exploded"), testEpoch))
	assert.Error(t, err)
}
