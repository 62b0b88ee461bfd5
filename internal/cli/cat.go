package cli

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/systemshift/bup-fs/internal/repo"
	"github.com/systemshift/bup-fs/internal/vfs"
)

func (a *app) catCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <content-id>",
		Short: "Write one stored object to stdout",
		Long: "Write the content of a blob, or of a chunked file tree, to stdout. The id\n" +
			"is a 40 character hex object id or the CID printed by versions.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := repo.ParseContentID(args[0])
			if err != nil {
				return err
			}
			r, err := repo.Open(a.repoPath())
			if err != nil {
				return err
			}
			rc, err := openObject(r, id)
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(cmd.OutOrStdout(), rc)
			return err
		},
	}
}

// openObject opens id as a blob, falling back to a chunked tree.
func openObject(r *repo.Repository, id repo.ContentID) (io.ReadCloser, error) {
	rc, err := r.OpenBlob(id)
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if _, terr := r.Tree(id); terr != nil {
		return nil, err
	}
	return vfs.OpenContent(r, id, true)
}
