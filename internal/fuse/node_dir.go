package fuse

import (
	"context"
	"io"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/bup-fs/internal/locator"
	"github.com/systemshift/bup-fs/internal/vfs"
)

// DirNode is one merged directory. Under latest/ its files show their
// newest version; under history/ every file becomes a directory of its
// versions.
type DirNode struct {
	fs.Inode
	tree    *Tree
	node    *vfs.Node
	key     string
	history bool
}

var _ = (fs.NodeLookuper)((*DirNode)(nil))
var _ = (fs.NodeReaddirer)((*DirNode)(nil))
var _ = (fs.NodeGetattrer)((*DirNode)(nil))

func (d *DirNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	d.attr(&out.Attr)
	return fs.OK
}

func (d *DirNode) attr(out *fuse.Attr) {
	out.Mode = 0555
	out.Ino = stableIno(d.key)
	if v, ok := d.node.Latest(); ok {
		out.SetTimes(nil, &v.ModTime, &v.CommitTime)
	}
}

// childMode is the file type a child shows in this directory.
func (d *DirNode) childMode(c *vfs.Node) uint32 {
	switch {
	case c.Kind() == vfs.Directory || d.history:
		return syscall.S_IFDIR
	case c.Kind() == vfs.Symlink:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

func (d *DirNode) childKey(name string) string {
	return d.key + "/" + name
}

func (d *DirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	children := d.tree.children(d.node)
	entries := make([]fuse.DirEntry, len(children))
	for i, c := range children {
		entries[i] = fuse.DirEntry{
			Name: c.Name(),
			Mode: d.childMode(c),
			Ino:  stableIno(d.childKey(c.Name())),
		}
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *DirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	c, ok := d.tree.child(d.node, name)
	if !ok {
		return nil, syscall.ENOENT
	}
	key := d.childKey(name)

	var embed fs.InodeEmbedder
	switch {
	case c.Kind() == vfs.Directory:
		dir := &DirNode{tree: d.tree, node: c, key: key, history: d.history}
		dir.attr(&out.Attr)
		embed = dir
	case d.history:
		dir := &VersionsDir{tree: d.tree, node: c, key: key}
		dir.attr(&out.Attr)
		embed = dir
	case c.Kind() == vfs.Symlink:
		link := &LinkNode{tree: d.tree, node: c, key: key}
		link.attr(&out.Attr)
		embed = link
	default:
		file := &FileNode{tree: d.tree, node: c, key: key}
		file.attr(&out.Attr)
		embed = file
	}
	child := d.NewInode(ctx, embed, fs.StableAttr{
		Mode: d.childMode(c),
		Ino:  stableIno(key),
	})
	return child, fs.OK
}

// VersionsDir lists every version of one path, named by commit time.
type VersionsDir struct {
	fs.Inode
	tree *Tree
	node *vfs.Node
	key  string
}

var _ = (fs.NodeLookuper)((*VersionsDir)(nil))
var _ = (fs.NodeReaddirer)((*VersionsDir)(nil))
var _ = (fs.NodeGetattrer)((*VersionsDir)(nil))

func (d *VersionsDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	d.attr(&out.Attr)
	return fs.OK
}

func (d *VersionsDir) attr(out *fuse.Attr) {
	out.Mode = 0555
	out.Ino = stableIno(d.key)
	if v, ok := d.node.Latest(); ok {
		out.SetTimes(nil, &v.ModTime, &v.CommitTime)
	}
}

func (d *VersionsDir) entryMode() uint32 {
	if d.node.Kind() == vfs.Symlink {
		return syscall.S_IFLNK
	}
	return syscall.S_IFREG
}

func versionName(v vfs.Version) string {
	return v.CommitTime.UTC().Format(locator.TimeFormat)
}

func (d *VersionsDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	versions := d.node.Versions()
	entries := make([]fuse.DirEntry, len(versions))
	for i, v := range versions {
		name := versionName(v)
		entries[i] = fuse.DirEntry{
			Name: name,
			Mode: d.entryMode(),
			Ino:  stableIno(d.key + "/" + name),
		}
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *VersionsDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	for i, v := range d.node.Versions() {
		if versionName(v) != name {
			continue
		}
		key := d.key + "/" + name
		var embed fs.InodeEmbedder
		if d.node.Kind() == vfs.Symlink {
			link := &LinkNode{tree: d.tree, node: d.node, version: i, key: key}
			link.attr(&out.Attr)
			embed = link
		} else {
			file := &FileNode{tree: d.tree, node: d.node, version: i, key: key}
			file.attr(&out.Attr)
			embed = file
		}
		child := d.NewInode(ctx, embed, fs.StableAttr{Mode: d.entryMode(), Ino: stableIno(key)})
		return child, fs.OK
	}
	return nil, syscall.ENOENT
}

// FileNode is one version of a merged file.
type FileNode struct {
	fs.Inode
	tree    *Tree
	node    *vfs.Node
	version int
	key     string
}

var _ = (fs.NodeGetattrer)((*FileNode)(nil))
var _ = (fs.NodeOpener)((*FileNode)(nil))

func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	f.attr(&out.Attr)
	return fs.OK
}

func (f *FileNode) attr(out *fuse.Attr) {
	v := f.node.Version(f.version)
	out.Mode = 0444
	if f.node.Mode()&0o111 != 0 {
		out.Mode = 0555
	}
	out.Size = uint64(v.Size)
	out.Ino = stableIno(f.key)
	out.SetTimes(nil, &v.ModTime, &v.CommitTime)
}

func (f *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}
	if err := f.tree.access.Log(f.node.Locator(f.version)); err != nil {
		f.tree.log.WithError(err).Warn("access log write failed")
	}
	return &fileHandle{tree: f.tree, node: f.node, version: f.version}, fuse.FOPEN_KEEP_CACHE, fs.OK
}

// fileHandle streams content, reopening only when a read is not sequential.
type fileHandle struct {
	tree    *Tree
	node    *vfs.Node
	version int

	rc  io.ReadCloser
	pos int64
}

var _ = (fs.FileReader)((*fileHandle)(nil))
var _ = (fs.FileReleaser)((*fileHandle)(nil))

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.tree.mu.Lock()
	defer h.tree.mu.Unlock()

	if h.rc == nil || off < h.pos {
		if h.rc != nil {
			h.rc.Close()
		}
		rc, err := h.node.Open(h.version)
		if err != nil {
			h.tree.log.WithField("path", h.node.Path()).WithError(err).Warn("open failed")
			h.rc = nil
			return nil, syscall.EIO
		}
		h.rc, h.pos = rc, 0
	}
	if off > h.pos {
		skipped, err := io.CopyN(io.Discard, h.rc, off-h.pos)
		h.pos += skipped
		if err == io.EOF {
			return fuse.ReadResultData(nil), fs.OK
		}
		if err != nil {
			return nil, syscall.EIO
		}
	}
	n, err := io.ReadFull(h.rc, dest)
	h.pos += int64(n)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		h.tree.log.WithField("path", h.node.Path()).WithError(err).Warn("read failed")
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), fs.OK
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.tree.mu.Lock()
	defer h.tree.mu.Unlock()
	if h.rc != nil {
		h.rc.Close()
		h.rc = nil
	}
	return fs.OK
}

// LinkNode is one version of a merged symlink.
type LinkNode struct {
	fs.Inode
	tree    *Tree
	node    *vfs.Node
	version int
	key     string
}

var _ = (fs.NodeGetattrer)((*LinkNode)(nil))
var _ = (fs.NodeReadlinker)((*LinkNode)(nil))

func (l *LinkNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	l.attr(&out.Attr)
	return fs.OK
}

func (l *LinkNode) attr(out *fuse.Attr) {
	v := l.node.Version(l.version)
	out.Mode = 0777
	out.Size = uint64(v.Size)
	out.Ino = stableIno(l.key)
	out.SetTimes(nil, &v.ModTime, &v.CommitTime)
}

func (l *LinkNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	l.tree.mu.Lock()
	defer l.tree.mu.Unlock()
	rc, err := l.node.Open(l.version)
	if err != nil {
		return nil, syscall.EIO
	}
	defer rc.Close()
	target, err := io.ReadAll(rc)
	if err != nil {
		return nil, syscall.EIO
	}
	return target, fs.OK
}

// mountTime is reported for synthetic directories with no versions.
var mountTime = time.Now()
