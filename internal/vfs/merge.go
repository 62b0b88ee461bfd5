package vfs

import (
	"errors"
	"io"
	"sort"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/sirupsen/logrus"

	"github.com/systemshift/bup-fs/internal/bupm"
	"github.com/systemshift/bup-fs/internal/repo"
)

// merge computes the children of a directory from every distinct tree
// recorded at its path, walking versions newest first.
func (n *Node) merge() []*Node {
	if n.kind != Directory || n.sess.store == nil {
		return nil
	}

	m := merger{parent: n, byName: make(map[string]*Node)}
	done := make(map[repo.ContentID]bool, len(n.versions))
	for _, v := range n.versions {
		if done[v.ID] {
			continue
		}
		done[v.ID] = true
		m.contribute(v)
	}

	sort.SliceStable(m.children, func(i, j int) bool {
		a, b := m.children[i], m.children[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		return a.name < b.name
	})
	for _, c := range m.children {
		sort.SliceStable(c.versions, func(i, j int) bool {
			return c.versions[i].CommitTime.After(c.versions[j].CommitTime)
		})
	}
	return m.children
}

// merger accumulates the children of one directory.
type merger struct {
	parent   *Node
	byName   map[string]*Node
	children []*Node
}

func (m *merger) log() *logrus.Entry {
	return m.parent.sess.log.WithField("path", m.parent.Path())
}

// contribute adds one snapshot's tree of the directory.
func (m *merger) contribute(v *Version) {
	s := m.parent.sess.store
	tree, err := s.Tree(v.ID)
	if err != nil {
		m.log().WithField("tree", v.ID.String()).WithError(err).Warn("skipping unreadable tree")
		return
	}

	meta := m.metadata(tree)
	for _, e := range tree.Entries {
		if e.Name == MetadataName {
			continue
		}
		name, mode, chunked := Demangle(e.Name, e.Mode)
		kind := KindOf(mode)

		// One record per non-directory entry, consumed even when the content
		// is already known so later entries stay aligned.
		var rec *bupm.Record
		if kind != Directory && meta != nil {
			r, err := meta.Next()
			switch {
			case err == nil:
				rec = &r
			case errors.Is(err, io.EOF):
				meta = nil
			default:
				m.log().WithFields(logrus.Fields{"tree": tree.ID.String(), "entry": e.Name}).
					WithError(err).Warn("metadata stream unreadable, using commit times")
				meta = nil
			}
		}

		child := m.child(name, kind, mode)
		if _, seen := child.byID[e.ID]; seen {
			continue
		}
		ver := &Version{ID: e.ID, CommitTime: v.CommitTime, ModTime: v.CommitTime, Chunked: chunked}
		if kind != Directory {
			ver.Size = m.size(tree, e, chunked)
			if rec != nil && rec.HasTimes {
				ver.ModTime = rec.Mtime
			}
		}
		child.byID[e.ID] = ver
		child.versions = append(child.versions, ver)
	}
}

// metadata opens the directory's metadata stream positioned after the
// record describing the directory itself, or returns nil.
func (m *merger) metadata(tree *repo.Tree) *bupm.Reader {
	e, ok := tree.Find(MetadataName)
	if !ok {
		return nil
	}
	fields := logrus.Fields{"tree": tree.ID.String(), "entry": MetadataName}

	// Large metadata streams are chunked like any other file.
	rc, err := OpenContent(m.parent.sess.store, e.ID, KindOf(e.Mode) == Directory)
	if err != nil {
		m.log().WithFields(fields).WithError(err).Warn("metadata unavailable, using commit times")
		return nil
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		m.log().WithFields(fields).WithError(err).Warn("metadata unavailable, using commit times")
		return nil
	}

	r := bupm.NewReader(data)
	if _, err := r.Next(); err != nil {
		if !errors.Is(err, io.EOF) {
			m.log().WithFields(fields).WithError(err).Warn("metadata stream unreadable, using commit times")
		}
		return nil
	}
	return r
}

// child returns the sibling that entries called name of this kind merge
// into. A name taken by another kind gets the kind's suffix appended.
func (m *merger) child(name string, kind Kind, mode filemode.FileMode) *Node {
	for {
		c, ok := m.byName[name]
		if !ok {
			c = newNode(m.parent, m.parent.sess, name, kind, mode)
			m.byName[name] = c
			m.children = append(m.children, c)
			return c
		}
		if c.kind == kind {
			return c
		}
		name += kind.suffix()
	}
}

func (m *merger) size(tree *repo.Tree, e repo.Entry, chunked bool) int64 {
	s := m.parent.sess.store
	if chunked {
		return ChunkedSize(s, e.ID)
	}
	b, err := s.Blob(e.ID)
	if err != nil {
		m.log().WithFields(logrus.Fields{"tree": tree.ID.String(), "entry": e.Name}).
			WithError(err).Warn("blob unavailable, size unknown")
		return 0
	}
	return b.Size
}
