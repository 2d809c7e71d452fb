package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skade/criticalup/downloadclient"
	"github.com/skade/criticalup/state"
)

func newAuthCommand(c *cli) *cobra.Command {
	auth := &cobra.Command{
		Use:   "auth",
		Short: "Show the authentication status with the download server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return authShow(c)
		},
	}

	var token string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store the authentication token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return authSet(c, token)
		},
	}
	set.Flags().StringVar(&token, "token", "", "the token to store (read from stdin when omitted)")

	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove the stored authentication token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return authRemove(c)
		},
	}

	auth.AddCommand(set, remove)
	return auth
}

func authShow(c *cli) error {
	st, err := c.state()
	if err != nil {
		return err
	}
	client, err := c.client(st)
	if err != nil {
		return err
	}

	data, err := client.CurrentTokenData(cmdContext())
	if errors.Is(err, downloadclient.ErrAuthenticationFailed) {
		return &exitError{code: 1, err: errors.New(
			"not authenticated; run \"criticalup auth set\" to store a token")}
	}
	if err != nil {
		return err
	}

	fmt.Printf("authenticated as %s (%s)\n", data.Name, data.OrganizationName)
	if data.ExpiresAt != nil {
		fmt.Printf("token expires at %s\n", *data.ExpiresAt)
	}
	return nil
}

func authSet(c *cli, token string) error {
	if token == "" {
		if terminalAttached() {
			fmt.Fprint(os.Stderr, "enter the authentication token: ")
		}
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return err
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		return &exitError{code: 2, err: errors.New("no token provided")}
	}

	st, err := c.state()
	if err != nil {
		return err
	}
	sealed := state.SealToken(token)
	st.SetAuthenticationToken(&sealed)
	return st.Persist()
}

func authRemove(c *cli) error {
	st, err := c.state()
	if err != nil {
		return err
	}
	st.SetAuthenticationToken(nil)
	return st.Persist()
}

func terminalAttached() bool {
	info, err := os.Stdin.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
