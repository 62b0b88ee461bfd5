// Package fuse presents a merged bup branch as a read-only FUSE filesystem.
package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// RootNode is the mountpoint directory. Contains "latest/", "history/" and
// "snapshots/".
type RootNode struct {
	fs.Inode
	tree *Tree
}

var _ = (fs.NodeOnAdder)((*RootNode)(nil))
var _ = (fs.NodeGetattrer)((*RootNode)(nil))

func (r *RootNode) OnAdd(ctx context.Context) {
	latest := &DirNode{tree: r.tree, node: r.tree.root.Node, key: "latest"}
	latestInode := r.NewPersistentInode(ctx, latest, fs.StableAttr{
		Mode: syscall.S_IFDIR,
		Ino:  stableIno("latest"),
	})
	r.AddChild("latest", latestInode, true)

	history := &DirNode{tree: r.tree, node: r.tree.root.Node, key: "history", history: true}
	historyInode := r.NewPersistentInode(ctx, history, fs.StableAttr{
		Mode: syscall.S_IFDIR,
		Ino:  stableIno("history"),
	})
	r.AddChild("history", historyInode, true)

	snapshots := &SnapshotsDir{tree: r.tree}
	snapshotsInode := r.NewPersistentInode(ctx, snapshots, fs.StableAttr{
		Mode: syscall.S_IFDIR,
		Ino:  stableIno("snapshots"),
	})
	r.AddChild("snapshots", snapshotsInode, true)
}

func (r *RootNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno("/")
	out.SetTimes(nil, &mountTime, &mountTime)
	return fs.OK
}
