package fuse

import (
	"hash/fnv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/systemshift/bup-fs/internal/vfs"
)

// Tree is the state shared by every inode of one mount. The merged tree
// computes children on first access, so every call into it holds mu.
type Tree struct {
	mu     sync.Mutex
	root   *vfs.Root
	log    *logrus.Entry
	access *AccessLog
}

// NewTree wraps root for mounting. access may be nil.
func NewTree(root *vfs.Root, log *logrus.Entry, access *AccessLog) *Tree {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tree{root: root, log: log.WithField("component", "fuse"), access: access}
}

func (t *Tree) children(n *vfs.Node) []*vfs.Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return n.Children()
}

func (t *Tree) child(n *vfs.Node, name string) (*vfs.Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return n.Child(name)
}

// stableIno derives an inode number from a mount-relative key. 0 and 1 are
// reserved for "unknown" and the mount root.
func stableIno(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	if ino := h.Sum64(); ino > 1 {
		return ino
	}
	return 2
}
