// Package repotest builds bup-shaped repositories for tests.
package repotest

import (
	"sort"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/systemshift/bup-fs/internal/bupm"
	"github.com/systemshift/bup-fs/internal/repo"
)

// Builder writes objects into a git object store.
type Builder struct {
	t testing.TB
	s storage.Storer
}

// New returns a Builder over an empty in-memory store.
func New(t testing.TB) *Builder {
	t.Helper()
	return &Builder{t: t, s: memory.NewStorage()}
}

// OnDisk returns a Builder over a new bare repository in a temporary
// directory, and the repository path.
func OnDisk(t testing.TB) (*Builder, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := git.PlainInit(dir, true)
	if err != nil {
		t.Fatalf("init repository: %v", err)
	}
	return &Builder{t: t, s: r.Storer}, dir
}

// Repository wraps the store as a repo.Repository named name.
func (b *Builder) Repository(name string, opts ...repo.Option) *repo.Repository {
	return repo.New(name, b.s, opts...)
}

// Blob stores data and returns its id.
func (b *Builder) Blob(data string) plumbing.Hash {
	b.t.Helper()
	obj := b.s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		b.t.Fatalf("blob writer: %v", err)
	}
	if _, err := w.Write([]byte(data)); err != nil {
		b.t.Fatalf("write blob: %v", err)
	}
	if err := w.Close(); err != nil {
		b.t.Fatalf("close blob: %v", err)
	}
	return b.store(obj)
}

// Tree stores a tree with the given entries, sorted the way git requires.
func (b *Builder) Tree(entries ...object.TreeEntry) plumbing.Hash {
	b.t.Helper()
	sorted := append([]object.TreeEntry(nil), entries...)
	sort.Sort(object.TreeEntrySorter(sorted))
	obj := b.s.NewEncodedObject()
	if err := (&object.Tree{Entries: sorted}).Encode(obj); err != nil {
		b.t.Fatalf("encode tree: %v", err)
	}
	return b.store(obj)
}

// Commit stores a commit of tree at when.
func (b *Builder) Commit(tree plumbing.Hash, when time.Time, parents ...plumbing.Hash) plumbing.Hash {
	b.t.Helper()
	sig := object.Signature{Name: "bup", Email: "bup@localhost", When: when}
	c := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      "bup save\n",
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := b.s.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		b.t.Fatalf("encode commit: %v", err)
	}
	return b.store(obj)
}

// Branch points refs/heads/name at commit.
func (b *Builder) Branch(name string, commit plumbing.Hash) {
	b.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), commit)
	if err := b.s.SetReference(ref); err != nil {
		b.t.Fatalf("set branch %s: %v", name, err)
	}
}

// Chain commits each tree on top of the previous one, one hour apart
// starting at start, and points branch at the last commit. It returns the
// commit ids oldest first.
func (b *Builder) Chain(branch string, start time.Time, trees ...plumbing.Hash) []plumbing.Hash {
	b.t.Helper()
	var (
		commits []plumbing.Hash
		parents []plumbing.Hash
	)
	for i, tree := range trees {
		c := b.Commit(tree, start.Add(time.Duration(i)*time.Hour), parents...)
		commits = append(commits, c)
		parents = []plumbing.Hash{c}
	}
	if len(commits) > 0 {
		b.Branch(branch, commits[len(commits)-1])
	}
	return commits
}

// Metadata stores records as a .bupm blob and returns its tree entry.
func (b *Builder) Metadata(records ...bupm.Record) object.TreeEntry {
	b.t.Helper()
	return object.TreeEntry{Name: ".bupm", Mode: filemode.Regular, Hash: b.Blob(string(bupm.Encode(records...)))}
}

// Chunked stores data split into chunks as a bup chunk tree and returns
// the tree id. Chunk names are the hex offsets bup uses.
func (b *Builder) Chunked(chunks ...string) plumbing.Hash {
	b.t.Helper()
	var (
		entries []object.TreeEntry
		offset  int
	)
	for _, c := range chunks {
		entries = append(entries, File(offsetName(offset), b.Blob(c)))
		offset += len(c)
	}
	return b.Tree(entries...)
}

func offsetName(off int) string {
	const digits = "0123456789abcdef"
	name := make([]byte, 16)
	for i := len(name) - 1; i >= 0; i-- {
		name[i] = digits[off&0xf]
		off >>= 4
	}
	return string(name)
}

func (b *Builder) store(obj plumbing.EncodedObject) plumbing.Hash {
	b.t.Helper()
	h, err := b.s.SetEncodedObject(obj)
	if err != nil {
		b.t.Fatalf("store object: %v", err)
	}
	return h
}

// File is a regular file entry.
func File(name string, id plumbing.Hash) object.TreeEntry {
	return object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: id}
}

// Exec is an executable file entry.
func Exec(name string, id plumbing.Hash) object.TreeEntry {
	return object.TreeEntry{Name: name, Mode: filemode.Executable, Hash: id}
}

// Dir is a subdirectory entry.
func Dir(name string, id plumbing.Hash) object.TreeEntry {
	return object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: id}
}

// Link is a symlink entry whose blob holds the target.
func Link(name string, id plumbing.Hash) object.TreeEntry {
	return object.TreeEntry{Name: name, Mode: filemode.Symlink, Hash: id}
}

// ChunkedFile is the entry bup writes for a large file: a tree named
// name+".bup".
func ChunkedFile(name string, tree plumbing.Hash) object.TreeEntry {
	return object.TreeEntry{Name: name + ".bup", Mode: filemode.Dir, Hash: tree}
}

// Missing returns an id no object in any store will have.
func Missing(seed byte) plumbing.Hash {
	var h plumbing.Hash
	for i := range h {
		h[i] = seed
	}
	return h
}
