package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/systemshift/bup-fs/internal/vfs"
)

// ToDir writes version i of n below dest. A file or directory is created
// as dest/<name>; for the root, the snapshot's top level is written into
// dest. Existing files are replaced.
func ToDir(ctx context.Context, n *vfs.Node, i int, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	return walk(ctx, n, i, &dirSink{root: dest})
}

type dirSink struct {
	root string
}

func (s *dirSink) target(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *dirSink) dir(e entry) error {
	if err := os.MkdirAll(s.target(e.rel), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return nil
}

// dirDone applies mode and times once the contents are in place.
func (s *dirSink) dirDone(e entry) error {
	if e.rel == "" {
		return nil
	}
	p := s.target(e.rel)
	if err := os.Chmod(p, e.mode); err != nil {
		return fmt.Errorf("chmod %s: %w", p, err)
	}
	if err := os.Chtimes(p, e.mtime, e.mtime); err != nil {
		return fmt.Errorf("chtimes %s: %w", p, err)
	}
	return nil
}

func (s *dirSink) file(e entry, _ int64, r io.Reader) error {
	p := s.target(e.rel)
	if err := SafeWrite(p, r, e.mode); err != nil {
		return fmt.Errorf("restore %s: %w", p, err)
	}
	if err := os.Chtimes(p, e.mtime, e.mtime); err != nil {
		return fmt.Errorf("chtimes %s: %w", p, err)
	}
	return nil
}

func (s *dirSink) symlink(e entry, target string) error {
	p := s.target(e.rel)
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("replace %s: %w", p, err)
	}
	if err := os.Symlink(target, p); err != nil {
		return fmt.Errorf("symlink %s: %w", p, err)
	}
	return nil
}
