// File: cmd/token.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign in and acquire a device-scope OAuth token.",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		defer stack.shutdown()

		creds, err := credentialsFromFlags()
		if err != nil {
			return err
		}
		if stack.cfg.OAuth.ClientID == "" {
			return fmt.Errorf("oauth.client_id must be configured for the token command")
		}

		surface, err := stack.browsers.NewSurface(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to open browsing surface: %w", err)
		}
		// Login may rotate to a replacement surface; only the returned handle
		// holds the authenticated session.
		active, err := stack.orchestrator.Login(cmd.Context(), surface, creds)
		if err != nil {
			return err
		}
		if stack.standby.Active() {
			return fmt.Errorf("account entered standby; token acquisition skipped")
		}
		if active == nil {
			return fmt.Errorf("sign-in did not produce an authenticated session; token acquisition skipped")
		}

		flow := stack.orchestrator.TokenFlow(stack.cfg.OAuth)
		token, err := flow.GetSecondFactorToken(cmd.Context(), active, creds.Email)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
		return nil
	},
}

func init() {
	tokenCmd.Flags().AddFlagSet(loginCmd.Flags())
	rootCmd.AddCommand(tokenCmd)
}
