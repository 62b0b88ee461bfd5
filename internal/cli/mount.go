package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	bupfuse "github.com/systemshift/bup-fs/internal/fuse"
)

func (a *app) mountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Mount the merged branch read-only",
		Long: "Mount the merged branch with FUSE. latest/ shows the newest version of\n" +
			"every path, history/<path>/<commit time> every version, and snapshots/\n" +
			"the branch history. Interrupt to unmount.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mountpoint := args[0]
			if err := os.MkdirAll(mountpoint, 0755); err != nil {
				return fmt.Errorf("create mountpoint: %w", err)
			}

			root, err := a.open()
			if err != nil {
				return err
			}
			defer root.Close()

			var access *bupfuse.AccessLog
			if p := a.v.GetString("mount.access_log"); p != "" {
				if access, err = bupfuse.NewAccessLog(p); err != nil {
					return err
				}
				defer access.Close()
			}
			tree := bupfuse.NewTree(root, a.entry(), access)

			server, err := bupfuse.MountFS(mountpoint, tree, a.v.GetBool("mount.debug"))
			if err != nil {
				return fmt.Errorf("mount: %w", err)
			}

			ctx := cmd.Context()
			go func() {
				<-ctx.Done()
				a.log.Info("unmounting")
				server.Unmount()
			}()

			a.entry().WithField("pid", os.Getpid()).Info("ready")
			server.Wait()
			return nil
		},
	}
	cmd.Flags().Bool("debug", false, "log every FUSE request")
	cmd.Flags().String("access-log", "", "append opened versions to this JSONL file")
	a.v.BindPFlag("mount.debug", cmd.Flags().Lookup("debug"))
	a.v.BindPFlag("mount.access_log", cmd.Flags().Lookup("access-log"))
	return cmd
}
