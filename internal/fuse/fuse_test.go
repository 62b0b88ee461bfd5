package fuse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/systemshift/bup-fs/internal/locator"
	"github.com/systemshift/bup-fs/internal/repotest"
	"github.com/systemshift/bup-fs/internal/vfs"
)

var t0 = time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

func openTestTree(t *testing.T, access *AccessLog) *Tree {
	t.Helper()
	b := repotest.New(t)
	s1 := b.Tree(
		repotest.Dir("docs", b.Tree(repotest.File("a.txt", b.Blob("first")))),
		repotest.Link("link", b.Blob("docs/a.txt")),
	)
	s2 := b.Tree(
		repotest.Dir("docs", b.Tree(repotest.File("a.txt", b.Blob("second version")))),
		repotest.Link("link", b.Blob("docs/a.txt")),
		repotest.ChunkedFile("big", b.Chunked("hello ", "chunked ", "world")),
	)
	b.Chain("kup", t0, s1, s2)

	l, _ := logtest.NewNullLogger()
	log := logrus.NewEntry(l)
	root, err := vfs.OpenRepository(b.Repository("mem"), "kup", vfs.WithLogger(log))
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	return NewTree(root, log, access)
}

func listDir(t *testing.T, ds fs.DirStream) []fuse.DirEntry {
	t.Helper()
	defer ds.Close()
	var out []fuse.DirEntry
	for ds.HasNext() {
		e, errno := ds.Next()
		if errno != fs.OK {
			t.Fatalf("Next: %v", errno)
		}
		out = append(out, e)
	}
	return out
}

func readHandle(t *testing.T, fh fs.FileHandle, size int, off int64) string {
	t.Helper()
	res, errno := fh.(fs.FileReader).Read(context.Background(), make([]byte, size), off)
	if errno != fs.OK {
		t.Fatalf("Read: %v", errno)
	}
	data, _ := res.Bytes(nil)
	return string(data)
}

func TestLatestReaddir(t *testing.T) {
	tree := openTestTree(t, nil)
	latest := &DirNode{tree: tree, node: tree.root.Node, key: "latest"}

	ds, errno := latest.Readdir(context.Background())
	if errno != fs.OK {
		t.Fatalf("Readdir: %v", errno)
	}
	type entry struct {
		Name string
		Mode uint32
	}
	var got []entry
	for _, e := range listDir(t, ds) {
		got = append(got, entry{e.Name, e.Mode})
		if e.Ino != stableIno("latest/"+e.Name) {
			t.Errorf("%s: ino = %d, want stable", e.Name, e.Ino)
		}
	}
	want := []entry{
		{"docs", syscall.S_IFDIR},
		{"big", syscall.S_IFREG},
		{"link", syscall.S_IFLNK},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Readdir mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryReaddirShowsFilesAsDirectories(t *testing.T) {
	tree := openTestTree(t, nil)
	history := &DirNode{tree: tree, node: tree.root.Node, key: "history", history: true}

	ds, _ := history.Readdir(context.Background())
	for _, e := range listDir(t, ds) {
		if e.Mode != syscall.S_IFDIR {
			t.Errorf("%s mode = %o, want directory", e.Name, e.Mode)
		}
	}

	docs, err := tree.root.Lookup("docs/a.txt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	versions := &VersionsDir{tree: tree, node: docs, key: "history/docs/a.txt"}
	ds, _ = versions.Readdir(context.Background())
	var names []string
	for _, e := range listDir(t, ds) {
		names = append(names, e.Name)
	}
	want := []string{"2024-07-01T09:00:00Z", "2024-07-01T08:00:00Z"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("versions mismatch (-want +got):\n%s", diff)
	}
}

func TestFileNodeAttrAndRead(t *testing.T) {
	access, err := NewAccessLog(filepath.Join(t.TempDir(), "access.jsonl"))
	if err != nil {
		t.Fatalf("NewAccessLog: %v", err)
	}
	defer access.Close()
	tree := openTestTree(t, access)
	a, err := tree.root.Lookup("docs/a.txt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	f := &FileNode{tree: tree, node: a, version: 1, key: "history/docs/a.txt/old"}
	var out fuse.AttrOut
	if errno := f.Getattr(context.Background(), nil, &out); errno != fs.OK {
		t.Fatalf("Getattr: %v", errno)
	}
	if out.Size != uint64(len("first")) || out.Mode != 0444 {
		t.Errorf("attr size %d mode %o", out.Size, out.Mode)
	}
	if out.Mtime != uint64(t0.Unix()) {
		t.Errorf("mtime = %d, want %d", out.Mtime, t0.Unix())
	}

	fh, _, errno := f.Open(context.Background(), syscall.O_RDONLY)
	if errno != fs.OK {
		t.Fatalf("Open: %v", errno)
	}
	if got := readHandle(t, fh, 64, 0); got != "first" {
		t.Errorf("Read = %q, want %q", got, "first")
	}
	fh.(fs.FileReleaser).Release(context.Background())

	if _, _, errno := f.Open(context.Background(), syscall.O_WRONLY); errno != syscall.EROFS {
		t.Errorf("Open(O_WRONLY) = %v, want EROFS", errno)
	}

	data, err := os.ReadFile(access.path)
	if err != nil {
		t.Fatalf("read access log: %v", err)
	}
	var rec AccessEntry
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("access log entry: %v", err)
	}
	if rec.Path != "/docs/a.txt" || rec.Locator != "bup://mem/kup/2024-07-01T08:00:00Z/docs/a.txt" {
		t.Errorf("access entry = %+v", rec)
	}
}

func TestChunkedReadAtOffsets(t *testing.T) {
	tree := openTestTree(t, nil)
	big, err := tree.root.Lookup("big")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	f := &FileNode{tree: tree, node: big, key: "latest/big"}
	fh, _, errno := f.Open(context.Background(), syscall.O_RDONLY)
	if errno != fs.OK {
		t.Fatalf("Open: %v", errno)
	}
	defer fh.(fs.FileReleaser).Release(context.Background())

	if got := readHandle(t, fh, 5, 0); got != "hello" {
		t.Errorf("Read(0) = %q", got)
	}
	if got := readHandle(t, fh, 7, 6); got != "chunked" {
		t.Errorf("Read(6) = %q", got)
	}
	// Going backwards reopens the stream.
	if got := readHandle(t, fh, 3, 2); got != "llo" {
		t.Errorf("Read(2) = %q", got)
	}
	if got := readHandle(t, fh, 100, 14); got != "world" {
		t.Errorf("Read(14) = %q", got)
	}
	if got := readHandle(t, fh, 10, 500); got != "" {
		t.Errorf("Read past end = %q", got)
	}
}

func TestLinkNodeReadlink(t *testing.T) {
	tree := openTestTree(t, nil)
	link, err := tree.root.Lookup("link")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	l := &LinkNode{tree: tree, node: link, key: "latest/link"}
	target, errno := l.Readlink(context.Background())
	if errno != fs.OK || string(target) != "docs/a.txt" {
		t.Errorf("Readlink = %q, %v", target, errno)
	}
}

func TestSnapshotsDir(t *testing.T) {
	tree := openTestTree(t, nil)
	d := &SnapshotsDir{tree: tree}

	ds, _ := d.Readdir(context.Background())
	var names []string
	for _, e := range listDir(t, ds) {
		names = append(names, e.Name)
	}
	if diff := cmp.Diff([]string{"HEAD", "0", "1"}, names); diff != "" {
		t.Errorf("snapshots mismatch (-want +got):\n%s", diff)
	}

	snaps := tree.root.Snapshots()
	if got := string(headBytes(snaps)); got != snaps[0].Commit.String()+"\n" {
		t.Errorf("HEAD = %q", got)
	}
	if got := string(headBytes(nil)); got != "(none)\n" {
		t.Errorf("empty HEAD = %q", got)
	}

	var decoded snapshotJSON
	if err := json.Unmarshal(snapshotBytes("repo", "kup", snaps[1]), &decoded); err != nil {
		t.Fatalf("snapshot JSON: %v", err)
	}
	if decoded.Tree != snaps[1].Tree.String() || !decoded.Time.Equal(t0) {
		t.Errorf("snapshot = %+v", decoded)
	}
	if decoded.Locator != "bup://repo/kup/2024-07-01T08:00:00Z/" {
		t.Errorf("locator = %q", decoded.Locator)
	}
	if !strings.HasPrefix(decoded.CommitCID, "b") {
		t.Errorf("commit cid = %q", decoded.CommitCID)
	}
}

func TestStaticFileRead(t *testing.T) {
	f := &StaticFile{data: []byte("0123456789"), key: "k"}
	res, errno := f.Read(context.Background(), nil, make([]byte, 4), 8)
	if errno != fs.OK {
		t.Fatalf("Read: %v", errno)
	}
	data, _ := res.Bytes(nil)
	if string(data) != "89" {
		t.Errorf("Read = %q, want %q", data, "89")
	}
}

func TestAccessLog(t *testing.T) {
	var nilLog *AccessLog
	if err := nilLog.Log(locator.Locator{}); err != nil {
		t.Errorf("nil Log = %v", err)
	}

	path := filepath.Join(t.TempDir(), "access.jsonl")
	a, err := NewAccessLog(path)
	if err != nil {
		t.Fatalf("NewAccessLog: %v", err)
	}
	a.now = func() time.Time { return t0 }
	for _, p := range []string{"/a", "/b"} {
		if err := a.Log(locator.Locator{Repository: "r", Branch: "kup", Time: t0, Path: p}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Log(locator.Locator{Path: "/c"}); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Log after Close = %v, want os.ErrClosed", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	var got []AccessEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AccessEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		got = append(got, e)
	}
	want := []AccessEntry{
		{Timestamp: t0, Path: "/a", Locator: "bup://r/kup/2024-07-01T08:00:00Z/a"},
		{Timestamp: t0, Path: "/b", Locator: "bup://r/kup/2024-07-01T08:00:00Z/b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("access log mismatch (-want +got):\n%s", diff)
	}
}

func TestStableIno(t *testing.T) {
	if stableIno("latest/a") != stableIno("latest/a") {
		t.Error("stableIno is not deterministic")
	}
	if stableIno("latest/a") == stableIno("history/a") {
		t.Error("different paths share an inode")
	}
}
