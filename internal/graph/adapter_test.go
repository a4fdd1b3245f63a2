package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/storage"
	"github.com/tonimelisma/clipcloud/pkg/quickxorhash"
)

// noopSleep returns immediately so retry tests are fast.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

type countingRefresher struct {
	calls atomic.Int32
	token string
}

func (r *countingRefresher) Refresh(_ context.Context, p auth.Provider, _ string) (*auth.Credential, error) {
	r.calls.Add(1)
	return &auth.Credential{Provider: p, AccessToken: r.token}, nil
}

var testCred = &auth.Credential{Provider: auth.OneDrive, AccessToken: "stale-token"}

func newTestAdapter(t *testing.T, mux *http.ServeMux) (*Adapter, *countingRefresher, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ref := &countingRefresher{token: "fresh-token"}
	a := NewAdapter(ref, Options{BaseURL: srv.URL})
	a.client.REST().SetSleepFunc(noopSleep)
	a.nowFunc = func() time.Time { return time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC) }

	return a, ref, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func graphError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"code": code, "message": code}})
}

func writeTempFile(t *testing.T, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.m4a")
	data := make([]byte, size)

	for i := range data {
		data[i] = byte(i % 251)
	}

	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestEnsureRoot_CreatesEachSegmentAndToleratesExisting(t *testing.T) {
	var created []string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /me/drive/root/children", func(w http.ResponseWriter, r *http.Request) {
		var req createFolderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "fail", req.ConflictBehavior)
		created = append(created, "/"+req.Name)
		graphError(w, http.StatusConflict, "nameAlreadyExists")
	})
	mux.HandleFunc("POST /me/drive/root:/Clips:/children", func(w http.ResponseWriter, r *http.Request) {
		var req createFolderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		created = append(created, "/Clips/"+req.Name)
		writeJSON(w, http.StatusCreated, driveItemResponse{ID: "f2", Name: req.Name, Folder: &folderFacet{}})
	})

	a, _, _ := newTestAdapter(t, mux)

	root, err := a.EnsureRoot(t.Context(), "/Clips/{yyyy}", testCred)
	require.NoError(t, err)
	assert.Equal(t, "/Clips/2026", root)
	assert.Equal(t, []string{"/Clips", "/Clips/2026"}, created)
}

func TestPutChunked_UploadsWithProgress(t *testing.T) {
	local := writeTempFile(t, 1000)

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /me/drive/root:/Clips/take1.m4a:/content", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer stale-token", r.Header.Get("Authorization"))
		assert.Equal(t, "replace", r.URL.Query().Get("@microsoft.graph.conflictBehavior"))

		body, _ := io.ReadAll(r.Body)
		assert.Len(t, body, 1000)

		writeJSON(w, http.StatusCreated, driveItemResponse{
			ID:              "item-1",
			Name:            "take1.m4a",
			Size:            1000,
			ParentReference: &parentRef{ID: "p", Path: "/drive/root:/Clips"},
			File:            &fileFacet{Hashes: &hashFacet{QuickXorHash: "abc="}},
		})
	})

	a, _, _ := newTestAdapter(t, mux)

	var fractions []float64

	res, err := a.PutChunked(t.Context(), local, "/Clips/take1.m4a", func(f float64) {
		fractions = append(fractions, f)
	}, testCred)
	require.NoError(t, err)
	assert.Equal(t, "item-1", res.ObjectID)
	assert.Equal(t, "/Clips/take1.m4a", res.Meta.Path)
	assert.Equal(t, "abc=", res.Meta.Checksum)

	require.NotEmpty(t, fractions)
	assert.InDelta(t, 1.0, fractions[len(fractions)-1], 1e-9)

	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
}

func TestPutChunked_TooLarge(t *testing.T) {
	local := writeTempFile(t, SimpleUploadMaxSize+1)

	var hits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(http.ResponseWriter, *http.Request) { hits.Add(1) })

	a, _, _ := newTestAdapter(t, mux)

	_, err := a.PutChunked(t.Context(), local, "/Clips/big.m4a", nil, testCred)
	require.ErrorIs(t, err, storage.ErrUnsupportedSize)
	assert.Zero(t, hits.Load())
}

func TestUnauthorized_RefreshesOnceAndRetries(t *testing.T) {
	var tokens []string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /me/drive", func(w http.ResponseWriter, r *http.Request) {
		tokens = append(tokens, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			graphError(w, http.StatusUnauthorized, "InvalidAuthenticationToken")
			return
		}

		writeJSON(w, http.StatusOK, driveResponse{ID: "d1", DriveType: "personal"})
	})

	a, ref, _ := newTestAdapter(t, mux)

	require.NoError(t, a.Init(t.Context(), testCred))
	assert.Equal(t, int32(1), ref.calls.Load())
	assert.Equal(t, []string{"Bearer stale-token", "Bearer fresh-token"}, tokens)
}

func TestUnauthorized_SecondRejectionExpires(t *testing.T) {
	var hits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /me/drive/items/x", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		graphError(w, http.StatusUnauthorized, "InvalidAuthenticationToken")
	})

	a, ref, _ := newTestAdapter(t, mux)

	err := a.Delete(t.Context(), "x", testCred)
	require.ErrorIs(t, err, auth.ErrAuthenticationExpired)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), ref.calls.Load())
}

func TestDelete_MissingIsSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /me/drive/items/gone", func(w http.ResponseWriter, _ *http.Request) {
		graphError(w, http.StatusNotFound, "itemNotFound")
	})
	mux.HandleFunc("DELETE /me/drive/items/present", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	a, _, _ := newTestAdapter(t, mux)

	require.NoError(t, a.Delete(t.Context(), "gone", testCred))
	require.NoError(t, a.Delete(t.Context(), "present", testCred))
}

func TestVerify(t *testing.T) {
	local := writeTempFile(t, 300)

	h := quickxorhash.New()
	data, err := os.ReadFile(local)
	require.NoError(t, err)
	_, _ = h.Write(data)
	sum := base64.StdEncoding.EncodeToString(h.Sum(nil))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /me/drive/root:/Clips/a.m4a:", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, driveItemResponse{ID: "a", Name: "a.m4a", File: &fileFacet{Hashes: &hashFacet{QuickXorHash: sum}}})
	})
	mux.HandleFunc("GET /me/drive/root:/Clips/missing.m4a:", func(w http.ResponseWriter, _ *http.Request) {
		graphError(w, http.StatusNotFound, "itemNotFound")
	})

	a, _, _ := newTestAdapter(t, mux)

	checksum, err := a.Checksum(t.Context(), local)
	require.NoError(t, err)
	assert.Equal(t, sum, checksum)

	ok, err := a.Verify(t.Context(), "/Clips/a.m4a", checksum, testCred)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Verify(t.Context(), "/Clips/a.m4a", "different", testCred)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Verify(t.Context(), "/Clips/missing.m4a", "", testCred)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateShareLink(t *testing.T) {
	expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /me/drive/items/a/createLink", func(w http.ResponseWriter, r *http.Request) {
		var req createLinkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "view", req.Type)
		assert.Equal(t, "anonymous", req.Scope)
		assert.Equal(t, "2026-06-01T00:00:00Z", req.ExpirationDateTime)

		writeJSON(w, http.StatusCreated, map[string]any{"link": map[string]string{"webUrl": "https://1drv.ms/u/abc"}})
	})

	a, _, _ := newTestAdapter(t, mux)

	link, err := a.CreateShareLink(t.Context(), "a", expires, testCred)
	require.NoError(t, err)
	assert.Equal(t, "https://1drv.ms/u/abc", link)
}

func TestListChanges(t *testing.T) {
	mux := http.NewServeMux()

	var srvURL string

	mux.HandleFunc("GET /me/drive/root/delta", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("token") {
		case "latest":
			writeJSON(w, http.StatusOK, map[string]any{
				"value":            []any{},
				"@odata.deltaLink": srvURL + "/me/drive/root/delta?token=t1",
			})
		case "t1":
			writeJSON(w, http.StatusOK, map[string]any{
				"value": []driveItemResponse{
					{ID: "a", Name: "a.m4a", ParentReference: &parentRef{Path: "/drive/root:/Clips"}, LastModifiedDateTime: "2026-05-01T10:00:00Z"},
					{ID: "b", Name: "b.m4a", Deleted: rawJSON(`{}`)},
				},
				"@odata.nextLink": srvURL + "/me/drive/root/delta?token=t2",
			})
		case "t2":
			writeJSON(w, http.StatusOK, map[string]any{
				"value":            []any{},
				"@odata.deltaLink": srvURL + "/me/drive/root/delta?token=t3",
			})
		case "old":
			graphError(w, http.StatusGone, "resyncRequired")
		}
	})

	a, _, srv := newTestAdapter(t, mux)
	srvURL = srv.URL

	fresh, err := a.ListChanges(t.Context(), "", testCred)
	require.NoError(t, err)
	assert.Empty(t, fresh.Items)
	assert.Equal(t, srv.URL+"/me/drive/root/delta?token=t1", fresh.Cursor)

	page, err := a.ListChanges(t.Context(), fresh.Cursor, testCred)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "/Clips/a.m4a", page.Items[0].Path)
	assert.True(t, page.Items[1].Deleted)

	last, err := a.ListChanges(t.Context(), page.Cursor, testCred)
	require.NoError(t, err)
	assert.False(t, last.HasMore)
	assert.Equal(t, srv.URL+"/me/drive/root/delta?token=t3", last.Cursor)

	_, err = a.ListChanges(t.Context(), srv.URL+"/me/drive/root/delta?token=old", testCred)
	assert.ErrorIs(t, err, storage.ErrCursorExpired)

	_, err = a.ListChanges(t.Context(), "https://evil.example.com/delta", testCred)
	assert.Error(t, err)
}

func rawJSON(s string) *json.RawMessage {
	m := json.RawMessage(s)
	return &m
}

func TestRenameAndMove(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /me/drive/root:/Archive:", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, driveItemResponse{ID: "archive-id", Name: "Archive", Folder: &folderFacet{}})
	})
	mux.HandleFunc("PATCH /me/drive/items/a", func(w http.ResponseWriter, r *http.Request) {
		var req patchItemRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := driveItemResponse{ID: "a", Name: "a.m4a"}
		if req.Name != "" {
			resp.Name = req.Name
		}

		if req.ParentReference != nil {
			resp.ParentReference = &parentRef{ID: req.ParentReference.ID, Path: "/drive/root:/Archive"}
		}

		writeJSON(w, http.StatusOK, resp)
	})

	a, _, _ := newTestAdapter(t, mux)

	meta, err := a.Rename(t.Context(), "a", "renamed.m4a", testCred)
	require.NoError(t, err)
	assert.Equal(t, "renamed.m4a", meta.Name)

	meta, err = a.Move(t.Context(), "a", "/Archive", testCred)
	require.NoError(t, err)
	assert.Equal(t, "archive-id", meta.ParentID)
	assert.Equal(t, "/Archive/a.m4a", meta.Path)

	_, err = a.Rename(t.Context(), "a", "bad/name", testCred)
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
}

func TestFetchAccount_FallsBackToUPN(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, userResponse{ID: "u", DisplayName: "Carol", UPN: "carol@example.com"})
	})

	a, _, _ := newTestAdapter(t, mux)

	acct, err := a.Client().FetchAccount(t.Context(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", acct.Email)
	assert.Equal(t, "Carol", acct.Name)
}

func TestDecodeError(t *testing.T) {
	code, _, sentinel := decodeError(http.StatusGone, []byte(`{"error":{"code":"resyncRequired","message":"m"}}`))
	assert.Equal(t, "resyncRequired", code)
	assert.Equal(t, storage.ErrCursorExpired, sentinel)

	_, _, sentinel = decodeError(http.StatusBadRequest, []byte(`not json`))
	assert.NoError(t, sentinel)
}

func TestEncodePathSegments(t *testing.T) {
	assert.Equal(t, "a%20b/c%23d", encodePathSegments("a b/c#d"))
	assert.Equal(t, "/me/drive/root", itemPathURL("/"))
	assert.Equal(t, fmt.Sprintf("/me/drive/root:/%s:", "Clips/x.m4a"), itemPathURL("/Clips/x.m4a"))
}
