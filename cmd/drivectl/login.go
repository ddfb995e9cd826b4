package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/identhost/drivesync/auth"
	"github.com/identhost/drivesync/drive"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify the session credentials against the host",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newSession(true)
		if err != nil {
			return err
		}

		// Listing drives exercises both the token and the shared secret:
		// the response envelope only opens with the right secret.
		drives, err := drive.GetDrives(cmd.Context(), c, 1, 100)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		fmt.Printf("logged in to %s (%d drives)\n", cfg.Identity, len(drives))

		if cfg.AccessToken != "" {
			info, err := auth.InspectToken(cfg.AccessToken)
			if err != nil {
				fmt.Printf("warning: access token is not a readable JWT: %v\n", err)
				return nil
			}
			if info.ExpiresWithin(24 * time.Hour) {
				fmt.Printf("warning: access token expires %s\n", info.ExpiresAt.Format(time.RFC3339))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
