package vfs

import (
	"fmt"
	"io"

	"github.com/systemshift/bup-fs/internal/repo"
)

// Store is the read-only object access the merged view needs.
// *repo.Repository implements it.
type Store interface {
	Tree(id repo.ContentID) (*repo.Tree, error)
	Blob(id repo.ContentID) (repo.Blob, error)
	OpenBlob(id repo.ContentID) (io.ReadCloser, error)
	ReadBlob(id repo.ContentID) ([]byte, error)
}

// ChunkedSize returns the byte size of a file stored as a chunk tree: the
// sum of all chunk blobs, recursing into nested index trees. A tree or blob
// that cannot be read contributes 0.
func ChunkedSize(s Store, id repo.ContentID) int64 {
	t, err := s.Tree(id)
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range t.Entries {
		if KindOf(e.Mode) == Directory {
			total += ChunkedSize(s, e.ID)
			continue
		}
		if b, err := s.Blob(e.ID); err == nil {
			total += b.Size
		}
	}
	return total
}

// chunkLeaves lists the chunk blobs of a chunk tree in file order.
func chunkLeaves(s Store, id repo.ContentID) ([]repo.ContentID, error) {
	t, err := s.Tree(id)
	if err != nil {
		return nil, err
	}
	var leaves []repo.ContentID
	for _, e := range t.Entries {
		if KindOf(e.Mode) != Directory {
			leaves = append(leaves, e.ID)
			continue
		}
		sub, err := chunkLeaves(s, e.ID)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, sub...)
	}
	return leaves, nil
}

// OpenContent streams the bytes of one stored file: a plain blob, or the
// concatenated chunks of a chunk tree when chunked is set.
func OpenContent(s Store, id repo.ContentID, chunked bool) (io.ReadCloser, error) {
	if !chunked {
		return s.OpenBlob(id)
	}
	leaves, err := chunkLeaves(s, id)
	if err != nil {
		return nil, fmt.Errorf("chunk tree %s: %w", id, err)
	}
	return &chunkReader{store: s, leaves: leaves}, nil
}

// chunkReader reads chunk blobs one after another, opening each lazily.
type chunkReader struct {
	store  Store
	leaves []repo.ContentID
	cur    io.ReadCloser
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if len(r.leaves) == 0 {
				return 0, io.EOF
			}
			rc, err := r.store.OpenBlob(r.leaves[0])
			if err != nil {
				return 0, err
			}
			r.cur, r.leaves = rc, r.leaves[1:]
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *chunkReader) Close() error {
	r.leaves = nil
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}
