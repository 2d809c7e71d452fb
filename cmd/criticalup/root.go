package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skade/criticalup/config"
	"github.com/skade/criticalup/downloadclient"
	"github.com/skade/criticalup/state"
)

// cli holds the lazily initialized pieces every subcommand needs.
type cli struct {
	logLevel string
	project  string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "criticalup",
		Short:         "Installs and manages verified toolchains",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn",
		"minimum log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&c.project, "project", "",
		"path to the criticalup.toml project manifest")

	// Usage mistakes exit with 2, operational failures with 1.
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		fmt.Fprintln(os.Stderr, cmd.UsageString())
		return &exitError{code: 2, err: err}
	})

	root.AddCommand(
		newAuthCommand(c),
		newInstallCommand(c),
		newRunCommand(c),
		newWhichCommand(c),
	)
	return root
}

func (c *cli) setup() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.logLevel)); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("invalid log level %q", c.logLevel)}
	}
	c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(whitelabel())
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func (c *cli) state() (*state.State, error) {
	return state.Load(c.cfg.Paths.StateFile)
}

func (c *cli) client(st *state.State) (*downloadclient.Client, error) {
	return downloadclient.New(c.cfg, st,
		downloadclient.WithLogger(c.logger),
		downloadclient.WithDownloadCacheDir(c.cfg.Paths.CacheDir),
	)
}
