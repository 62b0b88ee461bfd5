package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/systemshift/bup-fs/internal/locator"
	"github.com/systemshift/bup-fs/internal/restore"
)

func (a *app) restoreCommand() *cobra.Command {
	var archive bool
	cmd := &cobra.Command{
		Use:   "restore <locator> <dest>",
		Short: "Restore the version a locator addresses",
		Long: "Restore a file, symlink or directory version to dest. With --archive the\n" +
			"version is written as a zstd compressed tar stream instead.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			l, err := locator.Parse(args[0])
			if err != nil {
				return err
			}
			// The locator names its own repository and branch.
			root, err := a.openBranch(l.Repository, l.Branch)
			if err != nil {
				return err
			}
			defer root.Close()

			n, i, err := root.Resolve(l)
			if err != nil {
				return err
			}
			dest := args[1]
			log := a.entry().WithFields(logrus.Fields{"locator": l.String(), "dest": dest})

			if !archive {
				if err := restore.ToDir(cmd.Context(), n, i, dest); err != nil {
					return err
				}
				log.Info("restored")
				return nil
			}

			f, err := os.Create(dest)
			if err != nil {
				return fmt.Errorf("create archive: %w", err)
			}
			defer func() {
				if cerr := f.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()
			if err := restore.ToArchive(cmd.Context(), n, i, f); err != nil {
				return err
			}
			log.Info("archived")
			return nil
		},
	}
	cmd.Flags().BoolVar(&archive, "archive", false, "write a tar.zst archive to dest")
	return cmd
}
