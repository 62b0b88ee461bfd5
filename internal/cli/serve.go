package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/systemshift/bup-fs/internal/server"
)

const shutdownTimeout = 5 * time.Second

func (a *app) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the merged branch over a JSON API",
		Long: "Serve GET /api/tree/<path>, /api/locate?l=<locator> and /api/snapshots.\n" +
			"Only metadata is served, never file contents.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.open()
			if err != nil {
				return err
			}
			defer root.Close()

			gin.SetMode(gin.ReleaseMode)
			addr := a.v.GetString("serve.addr")
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(root, a.entry()),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx := cmd.Context()
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			a.entry().WithField("addr", addr).Info("serving")

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8765)")
	a.v.BindPFlag("serve.addr", cmd.Flags().Lookup("addr"))
	return cmd
}
