package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/identhost/drivesync/drive"
)

var deleteDrive string

var deleteCmd = &cobra.Command{
	Use:   "delete <fileId>",
	Short: "Delete a file from a drive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newSession(true)
		if err != nil {
			return err
		}
		mount, err := mountFor(cfg, deleteDrive)
		if err != nil {
			return err
		}

		deleted, err := drive.DeleteFile(cmd.Context(), c, mount.TargetDrive(), args[0])
		if err != nil {
			return err
		}
		if deleted {
			fmt.Printf("deleted %s\n", args[0])
		} else {
			fmt.Printf("%s was already gone\n", args[0])
		}
		return nil
	},
}

func init() {
	deleteCmd.Flags().StringVarP(&deleteDrive, "drive", "d", "", "drive mount name from config")
	_ = deleteCmd.MarkFlagRequired("drive")
	rootCmd.AddCommand(deleteCmd)
}
