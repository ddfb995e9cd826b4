package drive

import (
	"context"
	"fmt"

	"github.com/identhost/drivesync/content"
	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/keyheader"
)

// ContentFile describes one domain object to store: its typed content, the
// drive and app metadata it lives under, extra payloads and thumbnails, and
// the recipients it should fan out to. A non-empty FileID makes it an
// update of an existing file.
type ContentFile[T any] struct {
	TargetDrive core.TargetDrive

	// FileID and VersionTag identify the file and revision being updated.
	// Empty FileID means create.
	FileID     string
	VersionTag string

	// EncryptedKeyHeader is the stored envelope from the existing header.
	// On updates of encrypted files it is decrypted and reused so payload
	// blocks written under the old key stay valid.
	EncryptedKeyHeader *keyheader.EncryptedKeyHeader

	AppData           core.AppFileMetaData
	ACL               core.AccessControlList
	AllowDistribution bool
	Content           T
	Payloads          []PayloadFile
	Thumbnails        []ThumbnailFile

	Recipients   []string
	Notification *AppNotificationOptions

	// IsDraft suppresses fan-out even when recipients are present.
	IsDraft bool
}

// UploadContent stores a domain object, deciding encryption from the ACL
// and embed-vs-payload from the serialized size, and fans it out to
// recipients.
//
// On success the result carries the new version tag; callers must propagate
// it into their in-memory copy so the next save passes the tag check. When
// some recipients fail, the file itself is kept, the per-recipient status
// map is patched onto its header, and a *core.PartialDeliveryError is
// returned alongside the result.
func UploadContent[T any](ctx context.Context, c *core.Client, codec content.Codec[T],
	file ContentFile[T], opts *UploadOptions) (*UploadResult, error) {

	// Work on a copy: the key-header reuse below must not leak into a
	// caller-held options value shared across files.
	if opts == nil {
		opts = &UploadOptions{}
	} else {
		copied := *opts
		opts = &copied
	}
	encrypt := file.ACL.RequiredSecurityGroup.RequiresEncryption()

	serialized, err := codec.Marshal(file.Content)
	if err != nil {
		return nil, fmt.Errorf("serializing content: %w", err)
	}

	metadata := UploadFileMetadata{
		IsEncrypted:       encrypt,
		AllowDistribution: file.AllowDistribution || len(file.Recipients) > 0,
		AccessControlList: file.ACL,
		VersionTag:        file.VersionTag,
		AppData:           file.AppData,
	}

	payloads := file.Payloads
	if len(serialized) < core.MaxHeaderContentBytes {
		metadata.AppData.ContentIsComplete = true
		metadata.AppData.JSONContent = string(serialized)
	} else {
		metadata.AppData.ContentIsComplete = false
		metadata.AppData.JSONContent = ""
		payloads = append([]PayloadFile{{
			Key:         core.DefaultPayloadKey,
			ContentType: "application/json",
			Bytes:       serialized,
		}}, payloads...)
	}

	// Updating an encrypted file reuses its stored key header so existing
	// payload blocks stay decryptable.
	if encrypt && file.FileID != "" && file.EncryptedKeyHeader != nil && opts.KeyHeader == nil {
		kh, err := keyheader.Decrypt(c.SharedSecret(), file.EncryptedKeyHeader)
		if err != nil {
			return nil, err
		}
		opts.KeyHeader = kh
	}

	instructions := UploadInstructionSet{
		StorageOptions: StorageOptions{
			Drive:           file.TargetDrive,
			OverwriteFileID: file.FileID,
		},
	}
	if len(file.Recipients) > 0 && !file.IsDraft {
		instructions.TransitOptions = &TransitOptions{
			Recipients:             file.Recipients,
			Schedule:               ScheduleSendNowAwaitResponse,
			SendContents:           SendContentsAll,
			UseAppNotification:     file.Notification != nil,
			AppNotificationOptions: file.Notification,
		}
	}

	result, err := UploadFile(ctx, c, instructions, metadata, payloads, file.Thumbnails, encrypt, opts)
	if err != nil {
		return nil, err
	}

	if failed := failedRecipients(result.RecipientStatus); len(failed) > 0 {
		deliveryErr := &core.PartialDeliveryError{RecipientStatus: result.RecipientStatus}
		c.Logger().Warn(ctx, "file stored but delivery failed",
			"fileId", result.File.FileID, "recipients", deliveryErr.FailedRecipients())

		if err := recordDeliveryStatus(ctx, c, result, metadata); err != nil {
			c.Logger().Error(ctx, "recording delivery status failed",
				"fileId", result.File.FileID, "error", err)
		}
		return result, deliveryErr
	}
	return result, nil
}

func failedRecipients(status map[string]core.TransferStatus) []string {
	var out []string
	for recipient, s := range status {
		if s.Failed() {
			out = append(out, recipient)
		}
	}
	return out
}

// recordDeliveryStatus patches the per-recipient status map onto the file
// header so the annotation survives a reload. The file is intentionally not
// rolled back: local durability wins over all-or-nothing delivery.
func recordDeliveryStatus(ctx context.Context, c *core.Client, result *UploadResult, metadata UploadFileMetadata) error {
	patchMeta := UploadFileMetadata{
		IsEncrypted:       false,
		AllowDistribution: metadata.AllowDistribution,
		AccessControlList: metadata.AccessControlList,
		VersionTag:        result.NewVersionTag,
		AppData: core.AppFileMetaData{
			DeliveryStatus: result.RecipientStatus,
		},
	}

	patched, err := PatchFile(ctx, c, nil, UpdateInstructionSet{File: result.File}, patchMeta, nil, nil, nil)
	if err != nil {
		return err
	}
	result.NewVersionTag = patched.NewVersionTag
	return nil
}

// GetContent fetches and resolves a file's typed content in one step.
// Returns (nil, nil, nil) when the file does not exist.
func GetContent[T any](ctx context.Context, c *core.Client, codec content.Codec[T],
	drive core.TargetDrive, fileID string) (*core.FileHeader, *T, error) {

	header, err := GetFileHeader(ctx, c, drive, fileID)
	if err != nil || header == nil {
		return nil, nil, err
	}

	value, err := content.Resolve(ctx, c.SharedSecret(), header, codec,
		PayloadFetcherFor(c, drive, fileID), true)
	if err != nil {
		return header, nil, err
	}
	return header, value, nil
}
