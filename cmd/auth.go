package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var loginSecret string

var loginCmd = &cobra.Command{
	Use:   "login [token]",
	Short: "Save the authentication token for later commands",
	Long: `Save the authentication token for later commands.

With --secret the token is requested from the server instead.`,
	Example: `  dlwatch login 3f2a9c
  dlwatch login --secret hunter2`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var token string
		switch {
		case loginSecret != "" && len(args) == 1:
			return errors.New("pass either a token or --secret, not both")
		case loginSecret != "":
			err := withClient(cmd, func(ctx context.Context, app *App) error {
				var err error
				token, err = app.Archive.Login(ctx, loginSecret)
				return err
			})
			if err != nil {
				return err
			}
		case len(args) == 1:
			token = strings.TrimSpace(args[0])
		}
		if token == "" {
			return errors.New("token must not be empty")
		}
		if err := cfg.SaveToken(token); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token saved")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved authentication token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ClearToken(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token removed")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginSecret, "secret", "", "server secret to exchange for a token")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}
