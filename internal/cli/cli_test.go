package cli

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"

	"github.com/systemshift/bup-fs/internal/locator"
	"github.com/systemshift/bup-fs/internal/repo"
	"github.com/systemshift/bup-fs/internal/repotest"
)

var t0 = time.Date(2024, 9, 10, 6, 0, 0, 0, time.UTC)

const (
	hostsV1 = "127.0.0.1 localhost\n"
	hostsV2 = "127.0.0.1 localhost\n::1 localhost\n"
)

type fixture struct {
	dir     string
	hostsV1 repo.ContentID
	big     repo.ContentID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	color.NoColor = true
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("BUP_DIR", "")
	for _, k := range []string{"BUPFS_REPO", "BUPFS_BRANCH", "BUPFS_LOG_LEVEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	b, dir := repotest.OnDisk(t)
	v1 := b.Blob(hostsV1)
	big := b.Chunked("abc", "def")
	s1 := b.Tree(
		repotest.Dir("etc", b.Tree(repotest.File("hosts", v1))),
		repotest.ChunkedFile("big", big),
	)
	s2 := b.Tree(
		repotest.Dir("etc", b.Tree(repotest.File("hosts", b.Blob(hostsV2)))),
		repotest.ChunkedFile("big", big),
	)
	b.Chain("kup", t0, s1, s2)
	b.Chain("other", t0.Add(48*time.Hour), s1)
	return fixture{dir: dir, hostsV1: v1, big: big}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func lines(s string) [][]string {
	var out [][]string
	for _, l := range strings.Split(strings.TrimSpace(s), "\n") {
		out = append(out, strings.Fields(l))
	}
	return out
}

func TestLs(t *testing.T) {
	f := newFixture(t)

	got := lines(mustRun(t, "--repo", f.dir, "ls"))
	var summary [][]string
	for _, l := range got {
		// kind, size, versions, name
		summary = append(summary, []string{l[0], l[1], l[3], l[4]})
	}
	want := [][]string{
		{"dir", "0", "2", "etc/"},
		{"file", "6", "1", "big"},
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Errorf("ls mismatch (-want +got):\n%s", diff)
	}

	got = lines(mustRun(t, "--repo", f.dir, "ls", "/etc/hosts"))
	if len(got) != 1 || got[0][1] != "34" || got[0][4] != "hosts" {
		t.Errorf("ls file = %v", got)
	}

	if _, err := run(t, "--repo", f.dir, "ls", "/nope"); err == nil {
		t.Error("ls of a missing path succeeded")
	}
}

func TestVersions(t *testing.T) {
	f := newFixture(t)

	got := lines(mustRun(t, "--repo", f.dir, "versions", "etc/hosts"))
	if len(got) != 2 {
		t.Fatalf("versions = %v", got)
	}
	old := got[1]
	if old[0] != "1" || old[3] != "20" || old[4] != repo.CIDString(f.hostsV1) {
		t.Errorf("old version = %v", old)
	}
	want := locator.Locator{Repository: f.dir, Branch: "kup", Time: t0, Path: "/etc/hosts"}.String()
	if old[5] != want {
		t.Errorf("locator = %s, want %s", old[5], want)
	}
}

func TestSnapshotsAndConfig(t *testing.T) {
	f := newFixture(t)

	if got := lines(mustRun(t, "--repo", f.dir, "snapshots")); len(got) != 2 {
		t.Errorf("kup snapshots = %v", got)
	}

	cfgDir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "bup-fs")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := "repo: " + f.dir + "\nbranch: other\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	got := lines(mustRun(t, "snapshots"))
	if len(got) != 1 || got[0][1] != "2024-09-12T06:00:00Z" {
		t.Errorf("configured snapshots = %v", got)
	}

	t.Setenv("BUPFS_BRANCH", "kup")
	if got := lines(mustRun(t, "snapshots")); len(got) != 2 {
		t.Errorf("env branch snapshots = %v", got)
	}

	if got := lines(mustRun(t, "--branch", "other", "snapshots")); len(got) != 1 {
		t.Errorf("flag branch snapshots = %v", got)
	}
}

func TestMissingBranch(t *testing.T) {
	f := newFixture(t)
	_, err := run(t, "--repo", f.dir, "--branch", "nope", "snapshots")
	if !errors.Is(err, repo.ErrBranchNotFound) {
		t.Errorf("err = %v, want ErrBranchNotFound", err)
	}
}

func TestBadLogLevel(t *testing.T) {
	f := newFixture(t)
	if _, err := run(t, "--repo", f.dir, "--log-level", "loud", "snapshots"); err == nil {
		t.Error("invalid log level accepted")
	}
}

func TestBranches(t *testing.T) {
	f := newFixture(t)

	got := lines(mustRun(t, "--repo", f.dir, "branches", "-j", "2"))
	want := [][]string{
		{"kup", "2", "2024-09-10T07:00:00Z", "2"},
		{"other", "1", "2024-09-12T06:00:00Z", "2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("branches mismatch (-want +got):\n%s", diff)
	}
}

func TestCat(t *testing.T) {
	f := newFixture(t)

	if got := mustRun(t, "--repo", f.dir, "cat", f.hostsV1.String()); got != hostsV1 {
		t.Errorf("cat blob = %q", got)
	}
	if got := mustRun(t, "--repo", f.dir, "cat", repo.CIDString(f.big)); got != "abcdef" {
		t.Errorf("cat chunked = %q", got)
	}
	if _, err := run(t, "--repo", f.dir, "cat", "zz"); !errors.Is(err, repo.ErrInvalidID) {
		t.Errorf("cat bad id = %v, want ErrInvalidID", err)
	}
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	dest := t.TempDir()

	l := locator.Locator{Repository: f.dir, Branch: "kup", Time: t0, Path: "/etc/hosts"}
	mustRun(t, "restore", l.String(), dest)
	data, err := os.ReadFile(filepath.Join(dest, "hosts"))
	if err != nil || string(data) != hostsV1 {
		t.Errorf("restored hosts = %q, %v", data, err)
	}

	l = locator.Locator{Repository: f.dir, Branch: "kup", Time: t0.Add(time.Hour), Path: "/"}
	archive := filepath.Join(t.TempDir(), "snap.tar.zst")
	mustRun(t, "restore", "--archive", l.String(), archive)

	af, err := os.Open(archive)
	if err != nil {
		t.Fatal(err)
	}
	defer af.Close()
	zr, err := zstd.NewReader(af)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	contents := map[string]string{}
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar: %v", err)
		}
		if h.Typeflag == tar.TypeReg {
			b, _ := io.ReadAll(tr)
			contents[h.Name] = string(b)
		}
	}
	want := map[string]string{"etc/hosts": hostsV2, "big": "abcdef"}
	if diff := cmp.Diff(want, contents); diff != "" {
		t.Errorf("archive mismatch (-want +got):\n%s", diff)
	}

	if _, err := run(t, "restore", "bup://nowhere", dest); err == nil {
		t.Error("restore of a malformed locator succeeded")
	}
}
