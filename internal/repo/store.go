// Package repo is the read-only object-store adapter for bup repositories.
//
// A bup repository is a bare git repository, so trees, blobs and commits are
// read through go-git's storage layer. Every Repository is its own handle:
// nothing here is shared between two opened repositories.
package repo

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTreeCacheSize is the number of decoded trees kept per repository.
const DefaultTreeCacheSize = 4096

// ContentID identifies an immutable blob, tree or commit.
type ContentID = plumbing.Hash

// Entry is one raw entry of a tree, exactly as stored.
type Entry struct {
	Name string
	Mode filemode.FileMode
	ID   ContentID
}

// Tree is a decoded tree object.
type Tree struct {
	ID      ContentID
	Entries []Entry
}

// Find returns the entry called name.
func (t *Tree) Find(name string) (Entry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Blob describes a blob without loading its content.
type Blob struct {
	ID   ContentID
	Size int64
}

// Commit is the part of a commit object the history walk needs.
type Commit struct {
	ID      ContentID
	Tree    ContentID
	Time    time.Time
	Parents []ContentID
}

// Repository reads objects from one opened repository.
type Repository struct {
	name   string
	storer storage.Storer
	trees  *lru.Cache[ContentID, *Tree]
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	treeCacheSize int
}

// WithTreeCacheSize sets how many decoded trees are cached.
func WithTreeCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.treeCacheSize = n
		}
	}
}

// Open opens the bup repository at path.
func Open(path string, opts ...Option) (*Repository, error) {
	r, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRepositoryOpen, path, err)
	}
	return New(filepath.Clean(path), r.Storer, opts...), nil
}

// New wraps an existing object storer. name is how the repository is
// addressed in locators.
func New(name string, s storage.Storer, opts ...Option) *Repository {
	o := options{treeCacheSize: DefaultTreeCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	// lru.New only fails for a non-positive size.
	trees, _ := lru.New[ContentID, *Tree](o.treeCacheSize)
	return &Repository{name: name, storer: s, trees: trees}
}

// Name returns the repository name given at open time.
func (r *Repository) Name() string {
	return r.name
}

// Commit reads a commit object.
func (r *Repository) Commit(id ContentID) (*Commit, error) {
	c, err := object.GetCommit(r.storer, id)
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s: %v", ErrNotFound, id, err)
	}
	return &Commit{
		ID:      c.Hash,
		Tree:    c.TreeHash,
		Time:    c.Committer.When.UTC(),
		Parents: c.ParentHashes,
	}, nil
}

// Tree reads a tree object, served from the cache when possible.
func (r *Repository) Tree(id ContentID) (*Tree, error) {
	if t, ok := r.trees.Get(id); ok {
		return t, nil
	}
	gt, err := object.GetTree(r.storer, id)
	if err != nil {
		return nil, fmt.Errorf("%w: tree %s: %v", ErrNotFound, id, err)
	}
	t := &Tree{ID: id, Entries: make([]Entry, len(gt.Entries))}
	for i, e := range gt.Entries {
		t.Entries[i] = Entry{Name: e.Name, Mode: e.Mode, ID: e.Hash}
	}
	r.trees.Add(id, t)
	return t, nil
}

// Blob returns the size of a blob.
func (r *Repository) Blob(id ContentID) (Blob, error) {
	o, err := r.storer.EncodedObject(plumbing.BlobObject, id)
	if err != nil {
		return Blob{}, fmt.Errorf("%w: blob %s: %v", ErrNotFound, id, err)
	}
	return Blob{ID: id, Size: o.Size()}, nil
}

// OpenBlob streams the content of a blob.
func (r *Repository) OpenBlob(id ContentID) (io.ReadCloser, error) {
	o, err := r.storer.EncodedObject(plumbing.BlobObject, id)
	if err != nil {
		return nil, fmt.Errorf("%w: blob %s: %v", ErrNotFound, id, err)
	}
	rc, err := o.Reader()
	if err != nil {
		return nil, fmt.Errorf("%w: blob %s: %v", ErrNotFound, id, err)
	}
	return rc, nil
}

// ReadBlob reads a whole blob into memory.
func (r *Repository) ReadBlob(id ContentID) ([]byte, error) {
	rc, err := r.OpenBlob(id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: blob %s: %v", ErrNotFound, id, err)
	}
	return data, nil
}
