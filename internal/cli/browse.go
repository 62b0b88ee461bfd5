package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/systemshift/bup-fs/internal/locator"
	"github.com/systemshift/bup-fs/internal/repo"
	"github.com/systemshift/bup-fs/internal/vfs"
)

var (
	dirName  = color.New(color.FgBlue, color.Bold).SprintFunc()
	linkName = color.New(color.FgCyan).SprintFunc()
)

func (a *app) lsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a merged directory",
		Long:  "List the children of a merged directory with their newest size and time.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) == 1 {
				p = args[0]
			}
			root, err := a.open()
			if err != nil {
				return err
			}
			defer root.Close()

			n, err := root.Lookup(p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !n.IsDir() {
				printChild(out, n)
				return nil
			}
			children := n.Children()
			if len(children) == 0 {
				fmt.Fprintln(out, "(empty)")
			}
			for _, c := range children {
				printChild(out, c)
			}
			return nil
		},
	}
}

func printChild(w io.Writer, n *vfs.Node) {
	name := n.Name()
	switch n.Kind() {
	case vfs.Directory:
		name = dirName(name + "/")
	case vfs.Symlink:
		name = linkName(name)
	}
	v, _ := n.Latest()
	fmt.Fprintf(w, "%-7s\t%10d\t%s\t%d\t%s\n", n.Kind(), v.Size, formatTime(v.ModTime), len(n.Versions()), name)
}

func (a *app) versionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions <path>",
		Short: "List every version of a path",
		Long:  "List every distinct content of a path, newest first, with its locator.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.open()
			if err != nil {
				return err
			}
			defer root.Close()

			n, err := root.Lookup(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, v := range n.Versions() {
				fmt.Fprintf(out, "%d\t%s\t%s\t%10d\t%s\t%s\n",
					i, formatTime(v.CommitTime), formatTime(v.ModTime), v.Size,
					repo.CIDString(v.ID), n.Locator(i))
			}
			return nil
		},
	}
}

func (a *app) snapshotsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List the snapshots of the branch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.open()
			if err != nil {
				return err
			}
			defer root.Close()

			out := cmd.OutOrStdout()
			snaps := root.Snapshots()
			if len(snaps) == 0 {
				fmt.Fprintln(out, "(no snapshots)")
			}
			for i, s := range snaps {
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", i, formatTime(s.Time), s.Commit, s.Tree)
			}
			return nil
		},
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(locator.TimeFormat)
}
