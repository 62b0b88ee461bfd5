package repo

import (
	"errors"
	"fmt"
)

// Sentinel errors for package repo.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// ErrRepositoryOpen means the path is not a readable git/bup repository.
	ErrRepositoryOpen = errors.New("repo: cannot open repository")

	// ErrBranchNotFound means refs/heads/<name> does not exist.
	ErrBranchNotFound = errors.New("repo: branch not found")

	// ErrNotFound means a tree, blob or commit is missing or unreadable.
	ErrNotFound = errors.New("repo: object not found")

	// ErrInvalidID means a string is neither a hex object id nor a git-raw CID.
	ErrInvalidID = errors.New("repo: invalid content id")
)

// PartialHistoryError reports commits that could not be read while walking a
// branch. The history returned alongside it is still usable, only shorter.
type PartialHistoryError struct {
	Branch  string
	Skipped int
}

func (e *PartialHistoryError) Error() string {
	return fmt.Sprintf("repo: branch %s: skipped %d unreadable commits", e.Branch, e.Skipped)
}
