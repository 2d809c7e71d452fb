package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skade/criticalup/installer"
	"github.com/skade/criticalup/project"
)

// cmdContext returns the context commands run under. There is no internal
// timeout: latency bounds belong to the HTTP client's retry policy.
func cmdContext() context.Context {
	return context.Background()
}

func newInstallCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the products requested by the project manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return install(c)
		},
	}
}

func install(c *cli) error {
	manifest, err := project.Discover(c.project, "")
	if err != nil {
		return err
	}

	st, err := c.state()
	if err != nil {
		return err
	}
	client, err := c.client(st)
	if err != nil {
		return err
	}

	ctx := cmdContext()
	keychain, err := client.Keys(ctx)
	if err != nil {
		return err
	}

	inst := installer.New(client, keychain, c.cfg.Paths, st, installer.WithLogger(c.logger))
	if err := inst.Install(ctx, manifest); err != nil {
		return err
	}

	fmt.Println("installation complete")
	return nil
}
