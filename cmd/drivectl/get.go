package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/identhost/drivesync/content"
	"github.com/identhost/drivesync/drive"
)

var (
	getDrive   string
	getPayload string
)

var getCmd = &cobra.Command{
	Use:   "get <fileId>",
	Short: "Fetch a file's content (or one payload) from a drive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newSession(true)
		if err != nil {
			return err
		}
		mount, err := mountFor(cfg, getDrive)
		if err != nil {
			return err
		}
		fileID := args[0]

		if getPayload != "" {
			payload, err := drive.GetPayloadBytes(cmd.Context(), c, mount.TargetDrive(), fileID, getPayload, nil)
			if err != nil {
				return err
			}
			if payload == nil {
				return fmt.Errorf("file %s has no payload %q", fileID, getPayload)
			}
			_, err = os.Stdout.Write(payload.Bytes)
			return err
		}

		codec := content.JSONCodec[map[string]any]()
		header, value, err := drive.GetContent(cmd.Context(), c, codec, mount.TargetDrive(), fileID)
		if err != nil {
			return err
		}
		if header == nil {
			return fmt.Errorf("file %s not found", fileID)
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	},
}

func init() {
	getCmd.Flags().StringVarP(&getDrive, "drive", "d", "", "drive mount name from config")
	getCmd.Flags().StringVar(&getPayload, "payload", "", "dump this payload key instead of the content")
	_ = getCmd.MarkFlagRequired("drive")
	rootCmd.AddCommand(getCmd)
}
