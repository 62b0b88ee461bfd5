package repo

import (
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Branch resolves refs/heads/<name> to the commit it points at.
// Symbolic refs are followed.
func (r *Repository) Branch(name string) (ContentID, error) {
	ref, err := storer.ResolveReference(r.storer, plumbing.NewBranchReferenceName(name))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	return ref.Hash(), nil
}

// Branches lists the short names of all branches, sorted.
func (r *Repository) Branches() ([]string, error) {
	iter, err := r.storer.IterReferences()
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	defer iter.Close()

	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name().IsBranch() {
			names = append(names, ref.Name().Short())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
