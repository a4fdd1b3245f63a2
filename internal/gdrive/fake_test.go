package gdrive

import (
	"crypto/md5" //nolint:gosec // test fixture mirrors Drive's md5Checksum
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type fakeFile struct {
	ID       string
	Name     string
	Parent   string
	MimeType string
	Content  []byte
	Shared   bool
	Trashed  bool
}

// fakeDrive is an in-memory subset of the Drive v3 REST surface.
type fakeDrive struct {
	mu        sync.Mutex
	token     string
	files     map[string]*fakeFile
	nextID    int
	requests  []string
	failNext  map[string]int // "METHOD path" -> status to return once
	changes   map[string]map[string]any
	startPage string
}

func newFakeDrive(t *testing.T) (*fakeDrive, *httptest.Server) {
	t.Helper()

	fd := &fakeDrive{
		token:     "fresh-token",
		files:     map[string]*fakeFile{"root": {ID: "root", Name: "My Drive", MimeType: folderMimeType}},
		failNext:  map[string]int{},
		changes:   map[string]map[string]any{},
		startPage: "100",
	}

	srv := httptest.NewServer(fd)
	t.Cleanup(srv.Close)

	return fd, srv
}

func (fd *fakeDrive) add(name, parent, mimeType string, content []byte) *fakeFile {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return fd.addLocked(name, parent, mimeType, content)
}

func (fd *fakeDrive) addLocked(name, parent, mimeType string, content []byte) *fakeFile {
	fd.nextID++
	f := &fakeFile{ID: "id" + strconv.Itoa(fd.nextID), Name: name, Parent: parent, MimeType: mimeType, Content: content}
	fd.files[f.ID] = f

	return f
}

func (fd *fakeDrive) byName(name string) *fakeFile {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	for _, f := range fd.files {
		if f.Name == name {
			return f
		}
	}

	return nil
}

func (fd *fakeDrive) count(prefix string) int {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	n := 0

	for _, r := range fd.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}

	return n
}

func (f *fakeFile) json() map[string]any {
	sum := md5.Sum(f.Content) //nolint:gosec // fixture

	out := map[string]any{
		"id":           f.ID,
		"name":         f.Name,
		"mimeType":     f.MimeType,
		"parents":      []string{f.Parent},
		"size":         strconv.Itoa(len(f.Content)),
		"modifiedTime": "2026-05-01T10:00:00Z",
		"trashed":      f.Trashed,
	}

	if f.MimeType != folderMimeType {
		out["md5Checksum"] = hex.EncodeToString(sum[:])
	}

	if f.Shared {
		out["webViewLink"] = "https://drive.google.com/file/d/" + f.ID + "/view"
	}

	return out
}

func writeDriveJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func driveError(w http.ResponseWriter, status int, reason string) {
	writeDriveJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": reason,
			"errors":  []map[string]string{{"reason": reason, "message": reason}},
		},
	})
}

var queryPattern = regexp.MustCompile(`name = '((?:[^'\\]|\\.)*)' and '([^']*)' in parents`)

func (fd *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	key := r.Method + " " + r.URL.Path
	fd.requests = append(fd.requests, key)

	if r.Header.Get("Authorization") != "Bearer "+fd.token {
		driveError(w, http.StatusUnauthorized, "authError")
		return
	}

	if status, ok := fd.failNext[key]; ok {
		delete(fd.failNext, key)
		driveError(w, status, "backendError")

		return
	}

	p := r.URL.Path

	switch {
	case r.Method == http.MethodGet && p == "/drive/v3/about":
		writeDriveJSON(w, http.StatusOK, map[string]any{
			"user":         map[string]string{"emailAddress": "dana@example.com", "displayName": "Dana"},
			"storageQuota": map[string]string{"limit": "1000", "usage": "10"},
		})
	case r.Method == http.MethodGet && p == "/drive/v3/files":
		fd.list(w, r)
	case r.Method == http.MethodPost && p == "/drive/v3/files":
		var meta struct {
			Name     string   `json:"name"`
			MimeType string   `json:"mimeType"`
			Parents  []string `json:"parents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&meta)
		f := fd.addLocked(meta.Name, meta.Parents[0], meta.MimeType, nil)
		writeDriveJSON(w, http.StatusOK, f.json())
	case r.Method == http.MethodPost && p == "/upload/drive/v3/files":
		fd.upload(w, r, nil)
	case r.Method == http.MethodPatch && strings.HasPrefix(p, "/upload/drive/v3/files/"):
		fd.upload(w, r, fd.files[strings.TrimPrefix(p, "/upload/drive/v3/files/")])
	case r.Method == http.MethodGet && p == "/drive/v3/changes/startPageToken":
		writeDriveJSON(w, http.StatusOK, map[string]string{"startPageToken": fd.startPage})
	case r.Method == http.MethodGet && p == "/drive/v3/changes":
		page, ok := fd.changes[r.URL.Query().Get("pageToken")]
		if !ok {
			driveError(w, http.StatusBadRequest, "invalid")
			return
		}

		writeDriveJSON(w, http.StatusOK, page)
	case strings.HasPrefix(p, "/drive/v3/files/"):
		fd.item(w, r, strings.TrimPrefix(p, "/drive/v3/files/"))
	default:
		http.NotFound(w, r)
	}
}

func (fd *fakeDrive) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	m := queryPattern.FindStringSubmatch(q)
	if m == nil {
		driveError(w, http.StatusBadRequest, "invalidQuery")
		return
	}

	name := strings.NewReplacer(`\'`, `'`, `\\`, `\`).Replace(m[1])
	folderOnly := strings.Contains(q, "mimeType = '"+folderMimeType+"'")

	files := []map[string]any{}

	for _, f := range fd.files {
		if f.Name == name && f.Parent == m[2] && !f.Trashed && (!folderOnly || f.MimeType == folderMimeType) {
			files = append(files, f.json())
		}
	}

	writeDriveJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (fd *fakeDrive) upload(w http.ResponseWriter, r *http.Request, existing *fakeFile) {
	if r.URL.Query().Get("uploadType") != "multipart" {
		driveError(w, http.StatusBadRequest, "expected multipart upload")
		return
	}

	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		driveError(w, http.StatusBadRequest, "badContentType")
		return
	}

	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		driveError(w, http.StatusBadRequest, "missingMetadata")
		return
	}

	var meta struct {
		Name    string   `json:"name"`
		Parents []string `json:"parents"`
	}
	_ = json.NewDecoder(metaPart).Decode(&meta)

	mediaPart, err := mr.NextPart()
	if err != nil {
		driveError(w, http.StatusBadRequest, "missingMedia")
		return
	}

	content, _ := io.ReadAll(mediaPart)

	if existing != nil {
		existing.Content = content
		writeDriveJSON(w, http.StatusOK, existing.json())

		return
	}

	f := fd.addLocked(meta.Name, meta.Parents[0], mediaPart.Header.Get("Content-Type"), content)
	writeDriveJSON(w, http.StatusOK, f.json())
}

func (fd *fakeDrive) item(w http.ResponseWriter, r *http.Request, rest string) {
	id, sub, _ := strings.Cut(rest, "/")

	f, ok := fd.files[id]
	if !ok {
		driveError(w, http.StatusNotFound, "notFound")
		return
	}

	switch {
	case sub == "permissions" && r.Method == http.MethodPost:
		f.Shared = true
		writeDriveJSON(w, http.StatusOK, map[string]string{"id": "perm-" + f.ID})
	case r.Method == http.MethodGet:
		writeDriveJSON(w, http.StatusOK, f.json())
	case r.Method == http.MethodPatch:
		var patch struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&patch)

		if patch.Name != "" {
			f.Name = patch.Name
		}

		if add := r.URL.Query().Get("addParents"); add != "" {
			if remove := r.URL.Query().Get("removeParents"); remove != f.Parent {
				driveError(w, http.StatusBadRequest, fmt.Sprintf("removeParents %q does not match %q", remove, f.Parent))
				return
			}

			f.Parent = add
		}

		writeDriveJSON(w, http.StatusOK, f.json())
	case r.Method == http.MethodDelete:
		delete(fd.files, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}
