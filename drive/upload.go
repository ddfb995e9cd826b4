package drive

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/cryptox"
	"github.com/identhost/drivesync/keyheader"
)

// Delivery schedules for distributed uploads.
const (
	ScheduleSendNowAwaitResponse = "sendNowAwaitResponse"
	ScheduleSendLater            = "sendLater"
)

// What the host forwards to recipients.
const (
	SendContentsHeaderOnly = "headerOnly"
	SendContentsAll        = "all"
)

// StorageOptions names the target drive and, for updates, the file being
// overwritten.
type StorageOptions struct {
	Drive           core.TargetDrive `json:"drive"`
	OverwriteFileID string           `json:"overwriteFileId,omitempty"`
}

// AppNotificationOptions asks recipients' hosts to raise a notification.
type AppNotificationOptions struct {
	AppID   string `json:"appId,omitempty"`
	TypeID  string `json:"typeId,omitempty"`
	TagID   string `json:"tagId,omitempty"`
	Silent  bool   `json:"silent"`
	Message string `json:"unEncryptedMessage,omitempty"`
}

// TransitOptions makes the host fan the file out to other identities.
type TransitOptions struct {
	Recipients             []string                `json:"recipients"`
	Schedule               string                  `json:"schedule,omitempty"`
	SendContents           string                  `json:"sendContents,omitempty"`
	UseAppNotification     bool                    `json:"useAppNotification,omitempty"`
	AppNotificationOptions *AppNotificationOptions `json:"appNotificationOptions,omitempty"`
}

// UploadInstructionSet is the "instructions" part of an upload request.
type UploadInstructionSet struct {
	TransferIv     keyheader.ByteArray `json:"transferIv"`
	StorageOptions StorageOptions      `json:"storageOptions"`
	TransitOptions *TransitOptions     `json:"transitOptions,omitempty"`
}

// UpdateInstructionSet is the "instructions" part of a patch request. Only
// the named payload keys are replaced or deleted; metadata fields are
// merged server-side.
type UpdateInstructionSet struct {
	TransferIv        keyheader.ByteArray `json:"transferIv"`
	File              FileIdentifier      `json:"file"`
	DeletePayloadKeys []string            `json:"deletePayloadKeys,omitempty"`
}

// FileIdentifier addresses one file on one drive.
type FileIdentifier struct {
	FileID      string           `json:"fileId"`
	TargetDrive core.TargetDrive `json:"targetDrive"`
}

// UploadFileMetadata is the "metaData" part of an upload request.
type UploadFileMetadata struct {
	IsEncrypted       bool                          `json:"isEncrypted"`
	AllowDistribution bool                          `json:"allowDistribution"`
	AccessControlList core.AccessControlList        `json:"accessControlList"`
	KeyHeader         *keyheader.EncryptedKeyHeader `json:"keyHeader,omitempty"`
	VersionTag        string                        `json:"versionTag,omitempty"`
	AppData           core.AppFileMetaData          `json:"appData"`
}

// PayloadFile is one payload block to upload.
type PayloadFile struct {
	Key         string
	ContentType string
	Bytes       []byte
}

// ThumbnailFile is one pre-generated thumbnail to upload, tied to a payload
// key at a specific size.
type ThumbnailFile struct {
	PayloadKey  string
	PixelWidth  int
	PixelHeight int
	ContentType string
	Bytes       []byte
}

func (t ThumbnailFile) wireKey() string {
	return fmt.Sprintf("%s-%dx%d", t.PayloadKey, t.PixelWidth, t.PixelHeight)
}

// UploadResult is the host's answer to an upload or patch.
type UploadResult struct {
	File            FileIdentifier                 `json:"file"`
	NewVersionTag   string                         `json:"newVersionTag"`
	RecipientStatus map[string]core.TransferStatus `json:"recipientStatus,omitempty"`

	// KeyHeader is the plaintext key header the file was encrypted under,
	// populated client-side so callers can decrypt what they just wrote.
	KeyHeader *keyheader.KeyHeader `json:"-"`
}

// VersionConflictFunc resolves a stale version tag: it receives the latest
// server-side header and returns the metadata to retry with (carrying the
// latest version tag and the reapplied change), or nil to give up.
type VersionConflictFunc func(ctx context.Context, latest *core.FileHeader) (*UploadFileMetadata, error)

// UploadOptions tunes UploadFile and PatchFile.
type UploadOptions struct {
	// OnVersionConflict, when set, is invoked on a stale version tag; the
	// upload is retried exactly once. When nil the conflict propagates as
	// core.ErrVersionConflict.
	OnVersionConflict VersionConflictFunc

	// KeyHeader forces reuse of existing key material instead of
	// generating a fresh header (required when updating encrypted files).
	KeyHeader *keyheader.KeyHeader
}

// UploadFile builds the multipart request for one file — encrypting
// metadata content, payloads and thumbnails with the file's key header when
// encrypt is set — and submits it.
func UploadFile(ctx context.Context, c *core.Client, instructions UploadInstructionSet,
	metadata UploadFileMetadata, payloads []PayloadFile, thumbnails []ThumbnailFile,
	encrypt bool, opts *UploadOptions) (*UploadResult, error) {

	if opts == nil {
		opts = &UploadOptions{}
	}
	if len(instructions.TransferIv) == 0 {
		instructions.TransferIv = cryptox.RandomBytes(16)
	}

	var kh *keyheader.KeyHeader
	if encrypt {
		if opts.KeyHeader != nil {
			kh = opts.KeyHeader
		} else {
			fresh := keyheader.New()
			kh = &fresh
		}
	}

	attempt := func(meta UploadFileMetadata) (*UploadResult, error) {
		parts, err := buildParts(c, instructions, instructions.TransferIv, meta, payloads, thumbnails, encrypt, kh)
		if err != nil {
			return nil, err
		}
		var result UploadResult
		if err := c.PostMultipart(ctx, "/drive/files/upload", parts, &result); err != nil {
			return nil, err
		}
		result.KeyHeader = kh
		return &result, nil
	}

	result, err := attempt(metadata)
	if err != nil {
		return retryOnConflict(ctx, c, instructions.StorageOptions.Drive,
			instructions.StorageOptions.OverwriteFileID, err, opts.OnVersionConflict, attempt)
	}
	return result, nil
}

// PatchFile partially updates an existing file: listed payloads are
// replaced, DeletePayloadKeys are removed, and metadata fields are merged
// server-side. The caller must supply the file's existing key header for
// encrypted files so new blocks stay decryptable alongside old ones.
func PatchFile(ctx context.Context, c *core.Client, kh *keyheader.KeyHeader,
	instructions UpdateInstructionSet, metadata UploadFileMetadata,
	payloads []PayloadFile, thumbnails []ThumbnailFile,
	onVersionConflict VersionConflictFunc) (*UploadResult, error) {

	if len(instructions.TransferIv) == 0 {
		instructions.TransferIv = cryptox.RandomBytes(16)
	}
	encrypt := metadata.IsEncrypted && kh != nil

	attempt := func(meta UploadFileMetadata) (*UploadResult, error) {
		parts, err := buildParts(c, instructions, instructions.TransferIv, meta, payloads, thumbnails, encrypt, kh)
		if err != nil {
			return nil, err
		}
		var result UploadResult
		if err := c.PostMultipart(ctx, "/drive/files/update", parts, &result); err != nil {
			return nil, err
		}
		result.KeyHeader = kh
		return &result, nil
	}

	result, err := attempt(metadata)
	if err != nil {
		return retryOnConflict(ctx, c, instructions.File.TargetDrive,
			instructions.File.FileID, err, onVersionConflict, attempt)
	}
	return result, nil
}

// retryOnConflict implements the single canonical conflict strategy:
// refetch the latest header, let the caller reapply its change on top, and
// retry exactly once.
func retryOnConflict(ctx context.Context, c *core.Client, drive core.TargetDrive, fileID string,
	err error, onConflict VersionConflictFunc,
	attempt func(UploadFileMetadata) (*UploadResult, error)) (*UploadResult, error) {

	if !errors.Is(err, core.ErrVersionConflict) || onConflict == nil || fileID == "" {
		return nil, err
	}

	latest, ferr := GetFileHeader(ctx, c, drive, fileID)
	if ferr != nil {
		return nil, fmt.Errorf("refetching after version conflict: %w", ferr)
	}
	if latest == nil {
		return nil, err
	}

	meta, cerr := onConflict(ctx, latest)
	if cerr != nil {
		return nil, cerr
	}
	if meta == nil {
		return nil, err
	}
	return attempt(*meta)
}

// buildParts assembles the multipart body shared by upload and patch.
func buildParts(c *core.Client, instructions any, transferIv []byte,
	metadata UploadFileMetadata, payloads []PayloadFile, thumbnails []ThumbnailFile,
	encrypt bool, kh *keyheader.KeyHeader) ([]core.MultipartPart, error) {

	metadata.IsEncrypted = encrypt
	if encrypt {
		if kh == nil {
			return nil, keyheader.ErrMissingSharedSecret
		}
		if metadata.AppData.JSONContent != "" {
			ciphertext, err := cryptox.EncryptCBC([]byte(metadata.AppData.JSONContent), kh.Iv, kh.AesKey)
			if err != nil {
				return nil, fmt.Errorf("encrypting inline content: %w", err)
			}
			metadata.AppData.JSONContent = base64.StdEncoding.EncodeToString(ciphertext)
		}
		wrapped, err := keyheader.Encrypt(c.SharedSecret(), *kh, transferIv)
		if err != nil {
			return nil, err
		}
		metadata.KeyHeader = wrapped
	} else {
		metadata.KeyHeader = nil
	}

	instructionsJSON, err := json.Marshal(instructions)
	if err != nil {
		return nil, err
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}

	parts := []core.MultipartPart{
		{Name: "instructions", ContentType: "application/json", Data: instructionsJSON},
		{Name: "metaData", ContentType: "application/json", Data: metadataJSON},
	}

	for _, p := range payloads {
		data := p.Bytes
		if encrypt {
			if data, err = cryptox.EncryptCBC(p.Bytes, kh.Iv, kh.AesKey); err != nil {
				return nil, fmt.Errorf("encrypting payload %s: %w", p.Key, err)
			}
		}
		parts = append(parts, core.MultipartPart{
			Name: "payload", FileName: p.Key, ContentType: p.ContentType, Data: data,
		})
	}

	for _, thumb := range thumbnails {
		data := thumb.Bytes
		if encrypt {
			if data, err = cryptox.EncryptCBC(thumb.Bytes, kh.Iv, kh.AesKey); err != nil {
				return nil, fmt.Errorf("encrypting thumbnail %s: %w", thumb.wireKey(), err)
			}
		}
		parts = append(parts, core.MultipartPart{
			Name: "thumbnail", FileName: thumb.wireKey(), ContentType: thumb.ContentType, Data: data,
		})
	}
	return parts, nil
}
