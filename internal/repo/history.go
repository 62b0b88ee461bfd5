package repo

import (
	"sort"
	"time"
)

// Snapshot is one commit of a branch: a full point-in-time tree.
type Snapshot struct {
	Commit ContentID
	Tree   ContentID
	Time   time.Time
}

// History walks every commit reachable from the tip of branch and returns one
// Snapshot per commit, newest first. Commits with equal times keep walk order.
//
// Commits that cannot be read are skipped; in that case the non-empty result
// comes back together with a *PartialHistoryError.
func (r *Repository) History(branch string) ([]Snapshot, error) {
	tip, err := r.Branch(branch)
	if err != nil {
		return nil, err
	}

	var (
		snaps   []Snapshot
		skipped int
		seen    = make(map[ContentID]bool)
		stack   = []ContentID{tip}
	)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true

		c, err := r.Commit(id)
		if err != nil {
			skipped++
			continue
		}
		snaps = append(snaps, Snapshot{Commit: c.ID, Tree: c.Tree, Time: c.Time})

		// Push in reverse so the first parent is walked first.
		for i := len(c.Parents) - 1; i >= 0; i-- {
			stack = append(stack, c.Parents[i])
		}
	}

	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].Time.After(snaps[j].Time)
	})

	if skipped > 0 {
		return snaps, &PartialHistoryError{Branch: branch, Skipped: skipped}
	}
	return snaps, nil
}
