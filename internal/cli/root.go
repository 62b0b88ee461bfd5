// Package cli implements the bup-fs command line.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/systemshift/bup-fs/internal/vfs"
)

// DefaultBranch is the branch bup-fs merges unless told otherwise.
const DefaultBranch = "kup"

type app struct {
	v   *viper.Viper
	log *logrus.Logger
}

// NewRootCommand builds the command tree. Each call gets its own config and
// logger so commands can be run side by side in tests.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New(), log: logrus.New()}

	root := &cobra.Command{
		Use:   "bup-fs",
		Short: "Browse every snapshot of a bup branch as one merged tree",
		Long: "bup-fs merges all snapshots of a bup branch into a single read-only tree in\n" +
			"which every path keeps the history of its distinct contents.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default: ~/.config/bup-fs/config.yaml)")
	pf.String("repo", "", "bup repository (default: $BUP_DIR or ~/.bup)")
	pf.String("branch", DefaultBranch, "branch to merge")
	pf.String("log-level", "warning", "log level (debug, info, warning, error)")
	pf.Int("tree-cache", 0, "number of trees kept in memory per session")

	a.v.BindPFlag("repo", pf.Lookup("repo"))
	a.v.BindPFlag("branch", pf.Lookup("branch"))
	a.v.BindPFlag("log_level", pf.Lookup("log-level"))
	a.v.BindPFlag("cache.trees", pf.Lookup("tree-cache"))

	root.AddCommand(
		a.lsCommand(),
		a.versionsCommand(),
		a.snapshotsCommand(),
		a.branchesCommand(),
		a.restoreCommand(),
		a.mountCommand(),
		a.serveCommand(),
		a.catCommand(),
	)
	return root
}

func (a *app) initConfig(cmd *cobra.Command) error {
	explicit := cmd.Flags().Lookup("config").Value.String()
	if explicit != "" {
		a.v.SetConfigFile(explicit)
	} else {
		a.v.AddConfigPath(configDir())
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}

	a.v.SetEnvPrefix("BUPFS")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()
	a.v.SetDefault("repo", defaultRepo())
	a.v.SetDefault("branch", DefaultBranch)
	a.v.SetDefault("log_level", "warning")
	a.v.SetDefault("cache.trees", 0)
	a.v.SetDefault("mount.debug", false)
	a.v.SetDefault("mount.access_log", "")
	a.v.SetDefault("serve.addr", "127.0.0.1:8765")

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	level, err := logrus.ParseLevel(a.v.GetString("log_level"))
	if err != nil {
		return err
	}
	a.log.SetLevel(level)
	a.log.SetOutput(cmd.ErrOrStderr())
	a.log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return nil
}

func (a *app) entry() *logrus.Entry {
	return logrus.NewEntry(a.log)
}

func (a *app) repoPath() string {
	return a.v.GetString("repo")
}

func (a *app) branch() string {
	return a.v.GetString("branch")
}

func (a *app) sessionOptions() []vfs.Option {
	opts := []vfs.Option{vfs.WithLogger(a.entry())}
	if n := a.v.GetInt("cache.trees"); n > 0 {
		opts = append(opts, vfs.WithTreeCacheSize(n))
	}
	return opts
}

// open starts a session on the configured repository and branch.
func (a *app) open() (*vfs.Root, error) {
	return a.openBranch(a.repoPath(), a.branch())
}

func (a *app) openBranch(path, branch string) (*vfs.Root, error) {
	root, err := vfs.Open(path, branch, a.sessionOptions()...)
	if err != nil {
		return nil, err
	}
	return root, nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "bup-fs")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "bup-fs")
	}
	return ".bup-fs"
}

// defaultRepo follows bup: $BUP_DIR, then ~/.bup.
func defaultRepo() string {
	if dir := os.Getenv("BUP_DIR"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".bup")
	}
	return ".bup"
}
