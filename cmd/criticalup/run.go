package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skade/criticalup/project"
)

// envProjectManifestPath tells proxied binaries which project manifest they
// run within. Strictly for internal use.
const envProjectManifestPath = "CRITICALUP_CURRENT_PROJ_MANIFEST_CANONICAL_PATH"

func newRunCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run <binary> [args...]",
		Short: "Run an installed binary through its proxy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(c, args)
		},
	}
}

func runProxy(c *cli, command []string) error {
	// Resolve the manifest early so a missing project fails fast, before
	// anything is spawned.
	manifestPath, err := project.DiscoverCanonical(c.project, "")
	if err != nil {
		return err
	}

	binaryPath, err := resolveProxy(c, command[0])
	if err != nil {
		return err
	}

	cmd := exec.Command(binaryPath, command[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), envProjectManifestPath+"="+manifestPath)

	if err := cmd.Run(); err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			// Propagate the child's exit code without extra noise.
			return &exitError{code: exit.ExitCode()}
		}
		return err
	}
	return nil
}

func newWhichCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "which <binary>",
		Short: "Print the path of an installed binary's proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveProxy(c, args[0])
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}

func resolveProxy(c *cli, binary string) (string, error) {
	path := filepath.Join(c.cfg.Paths.ProxiesDir, binary)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("binary %q is not installed; run \"criticalup install\" first", binary)
	}
	return path, nil
}
