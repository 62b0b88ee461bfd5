package restore

import (
	"archive/tar"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/systemshift/bup-fs/internal/vfs"
)

// ToArchive writes version i of n to w as a zstd compressed tar stream
// with the same layout ToDir would produce.
func ToArchive(ctx context.Context, n *vfs.Node, i int, w io.Writer) (err error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)
	defer func() {
		if cerr := tw.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close tar: %w", cerr)
		}
		if cerr := zw.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close zstd: %w", cerr)
		}
	}()
	return walk(ctx, n, i, &tarSink{tw: tw})
}

type tarSink struct {
	tw *tar.Writer
}

func (s *tarSink) dir(e entry) error {
	if e.rel == "" {
		return nil
	}
	return s.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     e.rel + "/",
		Mode:     int64(e.mode),
		ModTime:  e.mtime,
	})
}

func (s *tarSink) dirDone(entry) error { return nil }

func (s *tarSink) file(e entry, size int64, r io.Reader) error {
	err := s.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.rel,
		Mode:     int64(e.mode),
		Size:     size,
		ModTime:  e.mtime,
	})
	if err != nil {
		return fmt.Errorf("tar header %s: %w", e.rel, err)
	}
	n, err := io.Copy(s.tw, r)
	if err != nil {
		return fmt.Errorf("tar %s: %w", e.rel, err)
	}
	if n != size {
		return fmt.Errorf("tar %s: wrote %d of %d bytes", e.rel, n, size)
	}
	return nil
}

func (s *tarSink) symlink(e entry, target string) error {
	return s.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeSymlink,
		Name:     e.rel,
		Linkname: target,
		Mode:     0o777,
		ModTime:  e.mtime,
	})
}
