// Package restore extracts one version of a merged path, a single file or a
// whole directory subtree, either onto disk or into a tar.zst archive.
package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/systemshift/bup-fs/internal/bupm"
	"github.com/systemshift/bup-fs/internal/repo"
	"github.com/systemshift/bup-fs/internal/vfs"
)

// ErrUnsafeName is returned for tree entries that would escape the
// destination.
var ErrUnsafeName = errors.New("restore: unsafe entry name")

// entry describes one restored path. rel is slash separated and relative to
// the restore root; "" is the root itself.
type entry struct {
	rel   string
	mode  os.FileMode
	mtime time.Time
}

// sink receives the restored tree in depth-first order.
type sink interface {
	dir(e entry) error
	dirDone(e entry) error
	file(e entry, size int64, r io.Reader) error
	symlink(e entry, target string) error
}

type walker struct {
	ctx   context.Context
	store vfs.Store
	out   sink
}

// walk emits version i of n to out. The node itself lands at its own name,
// except the root, whose children land at the top.
func walk(ctx context.Context, n *vfs.Node, i int, out sink) error {
	versions := n.Versions()
	if i < 0 || i >= len(versions) {
		return fmt.Errorf("%w: %s has %d versions, asked for %d", vfs.ErrNoSuchVersion, n.Path(), len(versions), i)
	}
	store := n.Store()
	if store == nil {
		return vfs.ErrClosed
	}
	v := versions[i]

	rel := n.Name()
	if n.Parent() == nil {
		rel = ""
	}
	w := &walker{ctx: ctx, store: store, out: out}
	if n.Kind() == vfs.Directory {
		return w.tree(v.ID, rel, v.ModTime)
	}
	return w.leaf(n.Kind(), v.ID, v.Chunked, entry{rel: rel, mode: perm(n.Mode()), mtime: v.ModTime}, nil)
}

func (w *walker) tree(id repo.ContentID, rel string, mtime time.Time) error {
	t, err := w.store.Tree(id)
	if err != nil {
		return fmt.Errorf("restore %s: %w", displayPath(rel), err)
	}

	self := entry{rel: rel, mode: 0o755, mtime: mtime}
	meta := w.metadata(t)
	if meta != nil {
		rec, err := meta.Next()
		if err != nil {
			meta = nil
		} else {
			applyRecord(&self, &rec)
		}
	}
	if err := w.out.dir(self); err != nil {
		return err
	}

	for _, e := range t.Entries {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		if e.Name == vfs.MetadataName {
			continue
		}
		name, mode, chunked := vfs.Demangle(e.Name, e.Mode)
		if !safeName(name) {
			return fmt.Errorf("%w: %q in %s", ErrUnsafeName, name, displayPath(rel))
		}
		kind := vfs.KindOf(mode)

		var rec *bupm.Record
		if kind != vfs.Directory && meta != nil {
			r, err := meta.Next()
			if err != nil {
				meta = nil
			} else {
				rec = &r
			}
		}

		child := path.Join(rel, name)
		if kind == vfs.Directory {
			err = w.tree(e.ID, child, mtime)
		} else {
			err = w.leaf(kind, e.ID, chunked, entry{rel: child, mode: perm(mode), mtime: mtime}, rec)
		}
		if err != nil {
			return err
		}
	}
	return w.out.dirDone(self)
}

func (w *walker) leaf(kind vfs.Kind, id repo.ContentID, chunked bool, e entry, rec *bupm.Record) error {
	applyRecord(&e, rec)

	if kind == vfs.Symlink {
		target, err := w.store.ReadBlob(id)
		if err != nil {
			return fmt.Errorf("restore %s: %w", displayPath(e.rel), err)
		}
		return w.out.symlink(e, string(target))
	}

	var size int64
	if chunked {
		size = vfs.ChunkedSize(w.store, id)
	} else {
		b, err := w.store.Blob(id)
		if err != nil {
			return fmt.Errorf("restore %s: %w", displayPath(e.rel), err)
		}
		size = b.Size
	}
	rc, err := vfs.OpenContent(w.store, id, chunked)
	if err != nil {
		return fmt.Errorf("restore %s: %w", displayPath(e.rel), err)
	}
	defer rc.Close()
	return w.out.file(e, size, rc)
}

// metadata returns the directory's metadata stream, or nil when it is
// absent or unreadable.
func (w *walker) metadata(t *repo.Tree) *bupm.Reader {
	e, ok := t.Find(vfs.MetadataName)
	if !ok {
		return nil
	}
	rc, err := vfs.OpenContent(w.store, e.ID, vfs.KindOf(e.Mode) == vfs.Directory)
	if err != nil {
		return nil
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil
	}
	return bupm.NewReader(data)
}

func applyRecord(e *entry, rec *bupm.Record) {
	if rec == nil {
		return
	}
	if rec.HasTimes {
		e.mtime = rec.Mtime
	}
	if p := os.FileMode(rec.Mode) & os.ModePerm; p != 0 {
		e.mode = p
	}
}

func perm(mode filemode.FileMode) os.FileMode {
	if mode == filemode.Executable {
		return 0o755
	}
	return 0o644
}

func safeName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\x00")
}

func displayPath(rel string) string {
	return "/" + rel
}
