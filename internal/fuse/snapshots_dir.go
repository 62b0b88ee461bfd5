package fuse

import (
	"context"
	"encoding/json"
	"strconv"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/bup-fs/internal/locator"
	"github.com/systemshift/bup-fs/internal/repo"
)

// SnapshotsDir exposes the branch history as files in the FUSE tree.
// Layout: snapshots/HEAD (newest commit id), snapshots/0 (newest snapshot
// JSON), snapshots/1, ...
type SnapshotsDir struct {
	fs.Inode
	tree *Tree
}

var _ = (fs.NodeLookuper)((*SnapshotsDir)(nil))
var _ = (fs.NodeReaddirer)((*SnapshotsDir)(nil))
var _ = (fs.NodeGetattrer)((*SnapshotsDir)(nil))

func (d *SnapshotsDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno("snapshots")
	return fs.OK
}

func (d *SnapshotsDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries := []fuse.DirEntry{
		{Name: "HEAD", Mode: syscall.S_IFREG, Ino: stableIno("snapshots/HEAD")},
	}
	for i := range d.tree.root.Snapshots() {
		name := strconv.Itoa(i)
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Mode: syscall.S_IFREG,
			Ino:  stableIno("snapshots/" + name),
		})
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *SnapshotsDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	snaps := d.tree.root.Snapshots()

	var data []byte
	if name == "HEAD" {
		data = headBytes(snaps)
	} else {
		idx, err := strconv.Atoi(name)
		if err != nil || idx < 0 || idx >= len(snaps) || strconv.Itoa(idx) != name {
			return nil, syscall.ENOENT
		}
		data = snapshotBytes(d.tree.root.Repository(), d.tree.root.Branch(), snaps[idx])
	}

	f := &StaticFile{data: data, key: "snapshots/" + name}
	f.attr(&out.Attr)
	child := d.NewInode(ctx, f, fs.StableAttr{
		Mode: syscall.S_IFREG,
		Ino:  stableIno(f.key),
	})
	return child, fs.OK
}

func headBytes(snaps []repo.Snapshot) []byte {
	if len(snaps) == 0 {
		return []byte("(none)\n")
	}
	return []byte(snaps[0].Commit.String() + "\n")
}

// snapshotJSON is the content of one snapshots/<n> file.
type snapshotJSON struct {
	Commit    string    `json:"commit"`
	CommitCID string    `json:"commit_cid"`
	Tree      string    `json:"tree"`
	Time      time.Time `json:"time"`
	Locator   string    `json:"locator"`
}

func snapshotBytes(repository, branch string, s repo.Snapshot) []byte {
	v := snapshotJSON{
		Commit:    s.Commit.String(),
		CommitCID: repo.CIDString(s.Commit),
		Tree:      s.Tree.String(),
		Time:      s.Time.UTC(),
		Locator:   locator.Locator{Repository: repository, Branch: branch, Time: s.Time, Path: "/"}.String(),
	}
	data, _ := json.MarshalIndent(v, "", "  ")
	return append(data, '\n')
}

// StaticFile serves a fixed byte slice.
type StaticFile struct {
	fs.Inode
	data []byte
	key  string
}

var _ = (fs.NodeGetattrer)((*StaticFile)(nil))
var _ = (fs.NodeReader)((*StaticFile)(nil))
var _ = (fs.NodeOpener)((*StaticFile)(nil))

func (f *StaticFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	f.attr(&out.Attr)
	return fs.OK
}

func (f *StaticFile) attr(out *fuse.Attr) {
	out.Mode = 0444
	out.Size = uint64(len(f.data))
	out.Ino = stableIno(f.key)
}

func (f *StaticFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_KEEP_CACHE, fs.OK
}

func (f *StaticFile) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data := f.data
	if off >= int64(len(data)) {
		return fuse.ReadResultData(nil), fs.OK
	}
	end := off + int64(len(dest))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return fuse.ReadResultData(data[off:end]), fs.OK
}
