package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/identhost/drivesync/drive"
)

var drivesCmd = &cobra.Command{
	Use:   "drives",
	Short: "List the identity's drives",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newSession(true)
		if err != nil {
			return err
		}

		drives, err := drive.GetDrives(cmd.Context(), c, 1, 100)
		if err != nil {
			return err
		}
		for _, d := range drives {
			fmt.Printf("%s\talias=%s type=%s anonymous=%v\n",
				d.Name, d.TargetDriveInfo.Alias, d.TargetDriveInfo.Type, d.AllowAnonymousReads)
		}
		return nil
	},
}

var drivesEnsureCmd = &cobra.Command{
	Use:   "ensure <mount>",
	Short: "Provision a configured drive mount if it does not exist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newSession(true)
		if err != nil {
			return err
		}
		mount, err := mountFor(cfg, args[0])
		if err != nil {
			return err
		}

		ok, err := drive.EnsureDrive(cmd.Context(), c, mount.TargetDrive(), mount.Name, "", mount.AllowAnonymousReads)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("drive %q ready (alias=%s)\n", mount.Name, mount.Alias)
		}
		return nil
	},
}

func init() {
	drivesCmd.AddCommand(drivesEnsureCmd)
	rootCmd.AddCommand(drivesCmd)
}
