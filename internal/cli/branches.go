package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/systemshift/bup-fs/internal/repo"
)

const defaultBranchJobs = 4

type branchSummary struct {
	Name      string
	Snapshots int
	Newest    time.Time
	Children  int
	Err       error
}

func (a *app) branchesCommand() *cobra.Command {
	var jobs int
	cmd := &cobra.Command{
		Use:   "branches",
		Short: "Summarize every branch of the repository",
		Long: "Open one session per branch in parallel and report its snapshot count,\n" +
			"newest snapshot and number of merged top level entries.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := a.summarizeBranches(cmd.Context(), jobs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "(no branches)")
			}
			for _, s := range summaries {
				if s.Err != nil {
					fmt.Fprintf(out, "%s\terror: %v\n", s.Name, s.Err)
					continue
				}
				fmt.Fprintf(out, "%s\t%d\t%s\t%d\n", s.Name, s.Snapshots, formatTime(s.Newest), s.Children)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&jobs, "jobs", "j", defaultBranchJobs, "branches merged in parallel")
	return cmd
}

// summarizeBranches opens an independent session for every branch.
func (a *app) summarizeBranches(ctx context.Context, jobs int) ([]branchSummary, error) {
	if jobs < 1 {
		jobs = 1
	}
	r, err := repo.Open(a.repoPath())
	if err != nil {
		return nil, err
	}
	names, err := r.Branches()
	if err != nil {
		return nil, err
	}

	p := pool.NewWithResults[branchSummary]().WithContext(ctx).WithMaxGoroutines(jobs)
	for _, name := range names {
		p.Go(func(ctx context.Context) (branchSummary, error) {
			s := branchSummary{Name: name}
			if err := ctx.Err(); err != nil {
				return s, err
			}
			root, err := a.openBranch(a.repoPath(), name)
			if err != nil {
				s.Err = err
				return s, nil
			}
			defer root.Close()

			snaps := root.Snapshots()
			s.Snapshots = len(snaps)
			if len(snaps) > 0 {
				s.Newest = snaps[0].Time
			}
			s.Children = len(root.Children())
			return s, nil
		})
	}
	summaries, err := p.Wait()
	if err != nil {
		return nil, err
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries, nil
}
