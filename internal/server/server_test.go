package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/systemshift/bup-fs/internal/repo"
	"github.com/systemshift/bup-fs/internal/repotest"
	"github.com/systemshift/bup-fs/internal/vfs"
)

var t0 = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*gin.Engine, []repo.ContentID) {
	t.Helper()
	b := repotest.New(t)
	v1 := b.Blob("one")
	v2 := b.Blob("two!")
	s1 := b.Tree(
		repotest.Dir("etc", b.Tree(repotest.File("hosts", v1))),
		repotest.File("notes", b.Blob("n")),
	)
	s2 := b.Tree(
		repotest.Dir("etc", b.Tree(repotest.File("hosts", v2))),
		repotest.File("notes", b.Blob("n")),
	)
	b.Chain("kup", t0, s1, s2)

	l, _ := logtest.NewNullLogger()
	root, err := vfs.OpenRepository(b.Repository("/srv/bup"), "kup", vfs.WithLogger(logrus.NewEntry(l)))
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	return New(root, logrus.NewEntry(l)), []repo.ContentID{v2, v1}
}

func get(t *testing.T, h http.Handler, target string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", target, err)
		}
	}
	return rec.Code
}

func TestTreeRoot(t *testing.T) {
	h, _ := newTestServer(t)

	var got NodeJSON
	if code := get(t, h, "/api/tree/", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.Kind != "dir" || got.Path != "/" {
		t.Errorf("root = %s %s", got.Kind, got.Path)
	}
	if len(got.Versions) != 2 {
		t.Errorf("root versions = %d, want 2", len(got.Versions))
	}
	var names []string
	for _, c := range got.Children {
		names = append(names, c.Kind+":"+c.Name)
	}
	if diff := cmp.Diff([]string{"dir:etc", "file:notes"}, names); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeFileVersions(t *testing.T) {
	h, ids := newTestServer(t)

	var got NodeJSON
	if code := get(t, h, "/api/tree/etc/hosts", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	type summary struct {
		Size    int64
		CID     string
		Locator string
	}
	var sums []summary
	for _, v := range got.Versions {
		sums = append(sums, summary{v.Size, v.CID, v.Locator})
	}
	want := []summary{
		{4, repo.CIDString(ids[0]), "bup://%2Fsrv%2Fbup/kup/2024-05-02T11:00:00Z/etc/hosts"},
		{3, repo.CIDString(ids[1]), "bup://%2Fsrv%2Fbup/kup/2024-05-02T10:00:00Z/etc/hosts"},
	}
	if diff := cmp.Diff(want, sums); diff != "" {
		t.Errorf("versions mismatch (-want +got):\n%s", diff)
	}
	if got.Children != nil {
		t.Errorf("file has children: %v", got.Children)
	}
}

func TestTreeErrors(t *testing.T) {
	h, _ := newTestServer(t)
	for _, target := range []string{"/api/tree/missing", "/api/tree/notes/below"} {
		if code := get(t, h, target, nil); code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", target, code)
		}
	}
}

func TestLocate(t *testing.T) {
	h, _ := newTestServer(t)

	l := "bup://%2Fsrv%2Fbup/kup/2024-05-02T10:00:00Z/etc/hosts"
	var got struct {
		Node    NodeJSON    `json:"node"`
		Version VersionJSON `json:"version"`
	}
	if code := get(t, h, "/api/locate?l="+url.QueryEscape(l), &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.Node.Path != "/etc/hosts" || got.Version.Index != 1 || got.Version.Size != 3 {
		t.Errorf("locate = %s #%d size %d", got.Node.Path, got.Version.Index, got.Version.Size)
	}

	cases := map[string]int{
		"not-a-locator": http.StatusBadRequest,
		"bup://%2Fsrv%2Fbup/kup/2024-05-02T09:00:00Z/etc/hosts": http.StatusNotFound,
		"bup://other/kup/2024-05-02T10:00:00Z/etc/hosts":        http.StatusNotFound,
	}
	for l, want := range cases {
		if code := get(t, h, "/api/locate?l="+url.QueryEscape(l), nil); code != want {
			t.Errorf("%s: status = %d, want %d", l, code, want)
		}
	}
}

func TestSnapshots(t *testing.T) {
	h, _ := newTestServer(t)

	var got []SnapshotJSON
	if code := get(t, h, "/api/snapshots", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var locs []string
	for _, s := range got {
		locs = append(locs, s.Locator)
	}
	want := []string{
		"bup://%2Fsrv%2Fbup/kup/2024-05-02T11:00:00Z/",
		"bup://%2Fsrv%2Fbup/kup/2024-05-02T10:00:00Z/",
	}
	if diff := cmp.Diff(want, locs); diff != "" {
		t.Errorf("snapshots mismatch (-want +got):\n%s", diff)
	}
}
