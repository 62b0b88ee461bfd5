package vfs

import (
	"strings"

	"github.com/go-git/go-git/v5/plumbing/filemode"
)

// MetadataName is the tree entry holding a directory's metadata stream.
const MetadataName = ".bupm"

const (
	chunkedSuffix   = ".bup"
	linkSuffix      = ".bupl"
	modeTypeMask    = 0o170000
	modeDirectory   = 0o040000
	modeSymlink     = 0o120000
	chunkedFileMode = filemode.Regular
)

// Kind is the type of a merged path.
type Kind int

const (
	File Kind = iota
	Directory
	Symlink
)

// KindOf classifies a raw git mode.
func KindOf(mode filemode.FileMode) Kind {
	switch uint32(mode) & modeTypeMask {
	case modeDirectory:
		return Directory
	case modeSymlink:
		return Symlink
	default:
		return File
	}
}

func (k Kind) String() string {
	switch k {
	case Directory:
		return "dir"
	case Symlink:
		return "symlink"
	default:
		return "file"
	}
}

// suffix is appended to a name that collides with a sibling of another kind.
func (k Kind) suffix() string {
	switch k {
	case Directory:
		return " (folder)"
	case Symlink:
		return " (symlink)"
	default:
		return " (file)"
	}
}

// Demangle undoes bup's name mangling for one tree entry. Entries ending in
// ".bup" are chunked files stored as trees; they are presented as regular
// files. A ".bupl" suffix is dropped.
func Demangle(name string, mode filemode.FileMode) (string, filemode.FileMode, bool) {
	if base, ok := strings.CutSuffix(name, linkSuffix); ok {
		return base, mode, false
	}
	if base, ok := strings.CutSuffix(name, chunkedSuffix); ok {
		return base, chunkedFileMode, true
	}
	return name, mode, false
}
