package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/identhost/drivesync/transit"
)

var inboxDrive string

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Drain pending cross-identity deliveries for a drive",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newSession(true)
		if err != nil {
			return err
		}
		mount, err := mountFor(cfg, inboxDrive)
		if err != nil {
			return err
		}

		processed, err := transit.ProcessInbox(cmd.Context(), c, mount.TargetDrive())
		if err != nil {
			return err
		}
		fmt.Printf("processed %d inbox items\n", processed)
		return nil
	},
}

func init() {
	inboxCmd.Flags().StringVarP(&inboxDrive, "drive", "d", "", "drive mount name from config")
	_ = inboxCmd.MarkFlagRequired("drive")
	rootCmd.AddCommand(inboxCmd)
}
