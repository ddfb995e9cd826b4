package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/identhost/drivesync/content"
	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/drive"
)

var (
	uploadDrive      string
	uploadFileID     string
	uploadVersionTag string
	uploadUniqueID   string
	uploadTags       []string
	uploadRecipients []string
	uploadACL        string
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file.json]",
	Short: "Store a JSON document on a drive (reads stdin without an argument)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newSession(true)
		if err != nil {
			return err
		}
		mount, err := mountFor(cfg, uploadDrive)
		if err != nil {
			return err
		}

		var raw []byte
		if len(args) == 1 {
			raw, err = os.ReadFile(args[0])
		} else {
			raw, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("reading content: %w", err)
		}
		var value map[string]any
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("content must be a JSON object: %w", err)
		}

		file := drive.ContentFile[map[string]any]{
			TargetDrive: mount.TargetDrive(),
			FileID:      uploadFileID,
			VersionTag:  uploadVersionTag,
			ACL: core.AccessControlList{
				RequiredSecurityGroup: core.SecurityGroup(strings.ToLower(uploadACL)),
			},
			AppData: core.AppFileMetaData{
				UniqueID: uploadUniqueID,
				Tags:     uploadTags,
			},
			Content:    value,
			Recipients: uploadRecipients,
		}

		// Updates of encrypted files need the stored key header.
		if uploadFileID != "" {
			header, err := drive.GetFileHeader(cmd.Context(), c, mount.TargetDrive(), uploadFileID)
			if err != nil {
				return err
			}
			if header == nil {
				return fmt.Errorf("file %s not found", uploadFileID)
			}
			file.EncryptedKeyHeader = header.SharedSecretEncryptedKeyHeader
			if file.VersionTag == "" {
				file.VersionTag = header.FileMetadata.VersionTag
			}
		}

		codec := content.JSONCodec[map[string]any]()
		result, err := drive.UploadContent(cmd.Context(), c, codec, file, nil)

		var partial *core.PartialDeliveryError
		if errors.As(err, &partial) {
			fmt.Printf("stored %s (version %s)\n", result.File.FileID, result.NewVersionTag)
			fmt.Printf("warning: delivery failed for %s\n", strings.Join(partial.FailedRecipients(), ", "))
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("stored %s (version %s)\n", result.File.FileID, result.NewVersionTag)
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadDrive, "drive", "d", "", "drive mount name from config")
	uploadCmd.Flags().StringVar(&uploadFileID, "file-id", "", "update this file instead of creating one")
	uploadCmd.Flags().StringVar(&uploadVersionTag, "version-tag", "", "expected version tag for updates")
	uploadCmd.Flags().StringVar(&uploadUniqueID, "unique-id", "", "client-assigned unique id")
	uploadCmd.Flags().StringSliceVar(&uploadTags, "tag", nil, "tags to store on the file")
	uploadCmd.Flags().StringSliceVar(&uploadRecipients, "to", nil, "recipient identities to deliver to")
	uploadCmd.Flags().StringVar(&uploadACL, "acl", string(core.SecurityGroupOwner), "required security group (anonymous, authenticated, connected, owner)")
	_ = uploadCmd.MarkFlagRequired("drive")
	rootCmd.AddCommand(uploadCmd)
}
