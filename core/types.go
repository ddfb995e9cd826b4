package core

import (
	"strings"

	"github.com/identhost/drivesync/keyheader"
)

const (
	// MaxHeaderContentBytes is the hard budget for content embedded inline
	// in a file header. Serialized content below this size travels in
	// jsonContent; anything at or above it becomes a separate payload
	// under DefaultPayloadKey. Every call site must use this constant.
	MaxHeaderContentBytes = 3000

	// DefaultPayloadKey is the payload key holding a file's main content
	// when it does not fit in the header.
	DefaultPayloadKey = "dflt_key"
)

// TargetDrive identifies a logical drive (a namespaced collection of files)
// on an identity. Immutable once a domain object is defined to use it.
type TargetDrive struct {
	Alias string `json:"alias"`
	Type  string `json:"type"`
}

// SecurityGroup is the access tier required to read a file.
type SecurityGroup string

const (
	SecurityGroupAnonymous     SecurityGroup = "anonymous"
	SecurityGroupAuthenticated SecurityGroup = "authenticated"
	SecurityGroupConnected     SecurityGroup = "connected"
	SecurityGroupOwner         SecurityGroup = "owner"
)

// RequiresEncryption reports whether files readable by this group must be
// encrypted at rest. Only anonymous and authenticated content is stored in
// the clear.
func (g SecurityGroup) RequiresEncryption() bool {
	switch SecurityGroup(strings.ToLower(string(g))) {
	case SecurityGroupAnonymous, SecurityGroupAuthenticated:
		return false
	default:
		return true
	}
}

// AccessControlList declares who may read a file.
type AccessControlList struct {
	RequiredSecurityGroup SecurityGroup `json:"requiredSecurityGroup"`
	CircleIDList          []string      `json:"circleIdList,omitempty"`
	OdinIDList            []string      `json:"odinIdList,omitempty"`
}

// ServerMetadata is the server-managed portion of a file header. It is only
// returned to the file's owner.
type ServerMetadata struct {
	AccessControlList AccessControlList `json:"accessControlList"`
	DoNotIndex        bool              `json:"doNotIndex"`
	AllowDistribution bool              `json:"allowDistribution"`
}

// EmbeddedThumb is a tiny inline preview image carried in the header.
type EmbeddedThumb struct {
	PixelWidth  int    `json:"pixelWidth"`
	PixelHeight int    `json:"pixelHeight"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"` // base64 image bytes
}

// ThumbnailDescriptor names one generated thumbnail size of a payload.
type ThumbnailDescriptor struct {
	PixelWidth  int    `json:"pixelWidth"`
	PixelHeight int    `json:"pixelHeight"`
	ContentType string `json:"contentType,omitempty"`
}

// PayloadDescriptor describes one stored payload block of a file.
type PayloadDescriptor struct {
	Key          string                `json:"key"`
	ContentType  string                `json:"contentType"`
	BytesWritten int64                 `json:"bytesWritten"`
	LastModified int64                 `json:"lastModified"`
	Thumbnails   []ThumbnailDescriptor `json:"thumbnails,omitempty"`
}

// TransferStatus is the per-recipient delivery state of a distributed file.
type TransferStatus string

const (
	TransferDelivered      TransferStatus = "delivered"
	TransferEnqueued       TransferStatus = "enqueued"
	TransferEnqueuedFailed TransferStatus = "enqueuedFailed"
	TransferFailed         TransferStatus = "failed"
)

// Failed reports whether the status is a terminal delivery failure.
func (s TransferStatus) Failed() bool {
	return s == TransferEnqueuedFailed || s == TransferFailed
}

// AppFileMetaData is the application-controlled portion of a file header.
type AppFileMetaData struct {
	FileType          int      `json:"fileType"`
	DataType          int      `json:"dataType"`
	GroupID           string   `json:"groupId,omitempty"`
	UniqueID          string   `json:"uniqueId,omitempty"`
	UserDate          *int64   `json:"userDate,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	ArchivalStatus    int      `json:"archivalStatus,omitempty"`
	ContentIsComplete bool     `json:"contentIsComplete"`

	// JSONContent holds the full serialized content when ContentIsComplete
	// is true: base64 ciphertext for encrypted files, the raw JSON string
	// otherwise.
	JSONContent string `json:"jsonContent,omitempty"`

	PreviewThumbnail     *EmbeddedThumb        `json:"previewThumbnail,omitempty"`
	AdditionalThumbnails []ThumbnailDescriptor `json:"additionalThumbnails,omitempty"`

	// DeliveryStatus records per-recipient transfer outcomes after a
	// partial delivery failure, so the annotation survives a reload.
	DeliveryStatus map[string]TransferStatus `json:"deliveryStatus,omitempty"`
}

// FileMetadata is the client-visible header of a file.
type FileMetadata struct {
	Created      int64               `json:"created,omitempty"`
	Updated      int64               `json:"updated,omitempty"`
	IsEncrypted  bool                `json:"isEncrypted"`
	SenderOdinID string              `json:"senderOdinId,omitempty"`
	VersionTag   string              `json:"versionTag,omitempty"`
	AppData      AppFileMetaData     `json:"appData"`
	Payloads     []PayloadDescriptor `json:"payloads,omitempty"`
}

// FileHeader is a file as returned by header and query endpoints.
type FileHeader struct {
	FileID                         string                        `json:"fileId"`
	TargetDrive                    TargetDrive                   `json:"targetDrive"`
	SharedSecretEncryptedKeyHeader *keyheader.EncryptedKeyHeader `json:"sharedSecretEncryptedKeyHeader,omitempty"`
	FileMetadata                   FileMetadata                  `json:"fileMetadata"`
	ServerMetadata                 *ServerMetadata               `json:"serverMetadata,omitempty"`
}

// DecryptKeyHeader unwraps the file's key header with the session's shared
// secret. It returns (nil, nil) for unencrypted files.
func (h *FileHeader) DecryptKeyHeader(sharedSecret []byte) (*keyheader.KeyHeader, error) {
	if !h.FileMetadata.IsEncrypted || h.SharedSecretEncryptedKeyHeader == nil {
		return nil, nil
	}
	return keyheader.Decrypt(sharedSecret, h.SharedSecretEncryptedKeyHeader)
}

// Payload returns the descriptor for the given payload key, or nil.
func (h *FileHeader) Payload(key string) *PayloadDescriptor {
	for i := range h.FileMetadata.Payloads {
		if h.FileMetadata.Payloads[i].Key == key {
			return &h.FileMetadata.Payloads[i]
		}
	}
	return nil
}
