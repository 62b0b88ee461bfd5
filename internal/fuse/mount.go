package fuse

import (
	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
)

// MountFS mounts tree read-only at mountpoint.
// Returns the server (call server.Wait() to block, server.Unmount() to stop).
func MountFS(mountpoint string, tree *Tree, debug bool) (*gofuse.Server, error) {
	root := &RootNode{tree: tree}

	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			FsName:        "bup:" + tree.root.Repository(),
			Name:          "bup",
			DisableXAttrs: true,
			Debug:         debug,
			Options:       []string{"ro"},
		},
	}

	server, err := fs.Mount(mountpoint, root, opts)
	if err != nil {
		return nil, err
	}
	tree.log.WithField("mountpoint", mountpoint).Info("mounted")
	return server, nil
}
