package vfs

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/sirupsen/logrus"

	"github.com/systemshift/bup-fs/internal/locator"
	"github.com/systemshift/bup-fs/internal/repo"
)

// Version is one distinct content observed at a path.
type Version struct {
	// ID is the blob or tree holding this content.
	ID repo.ContentID
	// CommitTime is the snapshot in which this content was recorded at the path.
	CommitTime time.Time
	// ModTime is the file's mtime from metadata, or CommitTime when unknown.
	ModTime time.Time
	Size    int64
	// Chunked is set when ID is a chunk tree rather than a blob.
	Chunked bool
}

type childState int

const (
	notComputed childState = iota
	computed
)

// session is the per-open context shared by every node of one Root.
type session struct {
	store      Store
	log        *logrus.Entry
	repository string
	branch     string
}

// Node is the merged identity of one path across all snapshots.
//
// A Node is not safe for concurrent use. Children are computed on first
// access and cached, so callers sharing a tree between goroutines must
// serialize access.
type Node struct {
	name   string
	kind   Kind
	mode   filemode.FileMode
	parent *Node
	sess   *session

	byID     map[repo.ContentID]*Version
	versions []*Version

	state    childState
	children []*Node
}

func newNode(parent *Node, sess *session, name string, kind Kind, mode filemode.FileMode) *Node {
	return &Node{
		name:   name,
		kind:   kind,
		mode:   mode,
		parent: parent,
		sess:   sess,
		byID:   make(map[repo.ContentID]*Version),
	}
}

// Name is the displayed name, including any disambiguation suffix.
func (n *Node) Name() string { return n.name }

// Kind reports whether the node is a file, directory or symlink.
func (n *Node) Kind() Kind { return n.kind }

// Mode is the git mode of the first content seen at this path.
func (n *Node) Mode() filemode.FileMode { return n.mode }

// Parent returns the containing directory, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// IsDir reports whether n is a directory.
func (n *Node) IsDir() bool { return n.kind == Directory }

// Path returns the slash separated path from the root; the root is "/".
func (n *Node) Path() string {
	var parts []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// Versions returns every distinct content of this path, newest first.
func (n *Node) Versions() []Version {
	out := make([]Version, len(n.versions))
	for i, v := range n.versions {
		out[i] = *v
	}
	return out
}

// Version returns version i; it panics when i is out of range.
func (n *Node) Version(i int) Version {
	n.checkIndex(i)
	return *n.versions[i]
}

// Latest returns the newest version.
func (n *Node) Latest() (Version, bool) {
	if len(n.versions) == 0 {
		return Version{}, false
	}
	return *n.versions[0], true
}

// Children returns the merged children of a directory, sorted directories
// first and then by name. The list is computed once and cached.
func (n *Node) Children() []*Node {
	if n.state == notComputed {
		n.children = n.merge()
		n.state = computed
	}
	return n.children
}

// Child returns the child with the given displayed name.
func (n *Node) Child(name string) (*Node, bool) {
	for _, c := range n.Children() {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// Lookup resolves a slash separated path relative to n.
func (n *Node) Lookup(p string) (*Node, error) {
	cur := n
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			if cur.parent != nil {
				cur = cur.parent
			}
			continue
		}
		if cur.kind != Directory {
			return nil, fmt.Errorf("%w: %s", ErrNotDirectory, cur.Path())
		}
		next, ok := cur.Child(part)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchPath, strings.TrimSuffix(cur.Path(), "/")+"/"+part)
		}
		cur = next
	}
	return cur, nil
}

// Open streams the content of version i of a file or symlink.
func (n *Node) Open(i int) (io.ReadCloser, error) {
	if n.kind == Directory {
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, n.Path())
	}
	if i < 0 || i >= len(n.versions) {
		return nil, fmt.Errorf("%w: %s has %d versions, asked for %d", ErrNoSuchVersion, n.Path(), len(n.versions), i)
	}
	if n.sess.store == nil {
		return nil, ErrClosed
	}
	v := n.versions[i]
	return OpenContent(n.sess.store, v.ID, v.Chunked)
}

// Locator returns the address of version i. It panics when i is out of
// range.
func (n *Node) Locator(i int) locator.Locator {
	n.checkIndex(i)
	return locator.Locator{
		Repository: n.sess.repository,
		Branch:     n.sess.branch,
		Time:       n.versions[i].CommitTime,
		Path:       n.Path(),
	}
}

// Store returns the object store backing this node, nil once closed.
func (n *Node) Store() Store {
	return n.sess.store
}

func (n *Node) checkIndex(i int) {
	if i < 0 || i >= len(n.versions) {
		panic(fmt.Sprintf("vfs: version index %d out of range [0,%d) at %s", i, len(n.versions), n.Path()))
	}
}
