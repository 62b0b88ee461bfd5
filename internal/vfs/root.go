// Package vfs merges every snapshot of a bup branch into one read-only tree
// in which each path carries the history of its distinct contents.
//
// Opening a Root walks the branch history once. Directories are merged
// lazily: a directory's children are computed the first time they are asked
// for and cached for the life of the Root.
package vfs

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/sirupsen/logrus"

	"github.com/systemshift/bup-fs/internal/locator"
	"github.com/systemshift/bup-fs/internal/repo"
)

// Root is the merged root directory of one repository branch.
type Root struct {
	*Node
	repo      *repo.Repository
	snapshots []repo.Snapshot
}

// Option configures Open and OpenRepository.
type Option func(*options)

type options struct {
	log       *logrus.Entry
	cacheSize int
	name      string
}

// WithLogger sets the logger for skipped contributions and partial history.
func WithLogger(log *logrus.Entry) Option {
	return func(o *options) { o.log = log }
}

// WithTreeCacheSize sets the per-session tree cache size used by Open.
func WithTreeCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithName overrides the repository name used in locators.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func buildOptions(opts []Option) options {
	o := options{cacheSize: repo.DefaultTreeCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logrus.NewEntry(logrus.StandardLogger())
	}
	o.log = o.log.WithField("component", "vfs")
	return o
}

// Open opens the repository at path and merges branch. When the repository
// or branch cannot be opened the error is returned together with an empty
// Root that has no children and no versions.
func Open(path, branch string, opts ...Option) (*Root, error) {
	o := buildOptions(opts)
	r, err := repo.Open(path, repo.WithTreeCacheSize(o.cacheSize))
	if err != nil {
		name := path
		if o.name != "" {
			name = o.name
		}
		return emptyRoot(name, branch, o.log), err
	}
	return openRepository(r, branch, o)
}

// OpenRepository merges branch of an already opened repository.
func OpenRepository(r *repo.Repository, branch string, opts ...Option) (*Root, error) {
	return openRepository(r, branch, buildOptions(opts))
}

func openRepository(r *repo.Repository, branch string, o options) (*Root, error) {
	name := r.Name()
	if o.name != "" {
		name = o.name
	}
	log := o.log.WithFields(logrus.Fields{"repository": name, "branch": branch})

	snaps, err := r.History(branch)
	var partial *repo.PartialHistoryError
	switch {
	case errors.As(err, &partial):
		log.WithField("skipped", partial.Skipped).Warn("history is incomplete")
	case err != nil:
		return emptyRoot(name, branch, log), err
	}

	sess := &session{store: r, log: log, repository: name, branch: branch}
	root := &Root{
		Node:      newNode(nil, sess, "/", Directory, filemode.Dir),
		repo:      r,
		snapshots: snaps,
	}
	for _, s := range snaps {
		v := &Version{ID: s.Tree, CommitTime: s.Time, ModTime: s.Time}
		if _, ok := root.byID[s.Tree]; !ok {
			root.byID[s.Tree] = v
		}
		root.versions = append(root.versions, v)
	}
	return root, nil
}

func emptyRoot(name, branch string, log *logrus.Entry) *Root {
	sess := &session{log: log, repository: name, branch: branch}
	root := &Root{Node: newNode(nil, sess, "/", Directory, filemode.Dir)}
	root.state = computed
	return root
}

// Repository returns the name used in locators.
func (r *Root) Repository() string { return r.sess.repository }

// Branch returns the merged branch.
func (r *Root) Branch() string { return r.sess.branch }

// Repo returns the underlying repository, nil for an empty or closed root.
func (r *Root) Repo() *repo.Repository { return r.repo }

// Snapshots returns the branch history, newest first.
func (r *Root) Snapshots() []repo.Snapshot {
	return append([]repo.Snapshot(nil), r.snapshots...)
}

// Resolve finds the node and version a locator addresses: the version of
// the path whose commit time equals the locator time.
func (r *Root) Resolve(l locator.Locator) (*Node, int, error) {
	if l.Repository != r.sess.repository || l.Branch != r.sess.branch {
		return nil, 0, fmt.Errorf("%w: %s", ErrForeignLocator, l)
	}
	n, err := r.Lookup(l.Path)
	if err != nil {
		return nil, 0, err
	}
	for i, v := range n.versions {
		if v.CommitTime.Equal(l.Time) {
			return n, i, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: %s", ErrNoSuchVersion, l)
}

// Close releases the object store and the merged tree. Nodes obtained
// earlier report no further children and can no longer be opened.
func (r *Root) Close() error {
	r.sess.store = nil
	r.repo = nil
	r.snapshots = nil
	r.children = nil
	r.versions = nil
	r.byID = make(map[repo.ContentID]*Version)
	r.state = computed
	return nil
}
