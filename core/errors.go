package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound marks lookups for files, headers or payloads that do not
	// exist. Fetch helpers in drive/transit absorb it into nil results so
	// callers can branch without errors.Is; it only surfaces from the raw
	// request layer.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means the host rejected the session credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrVersionConflict means the host rejected an update because the
	// supplied version tag is stale. Recoverable by refetching the latest
	// header and retrying.
	ErrVersionConflict = errors.New("version tag conflict")
)

// ErrorCodeVersionTagMismatch is the wire error code a host returns when an
// update carries a stale version tag.
const ErrorCodeVersionTagMismatch = "versionTagMismatch"

// PartialDeliveryError reports that the local copy of a file was stored but
// delivery to one or more recipients failed. The file is not rolled back;
// its header carries the same status map.
type PartialDeliveryError struct {
	RecipientStatus map[string]TransferStatus
}

func (e *PartialDeliveryError) Error() string {
	return fmt.Sprintf("delivery failed for recipients: %s", strings.Join(e.FailedRecipients(), ", "))
}

// FailedRecipients lists the recipients whose delivery failed, sorted.
func (e *PartialDeliveryError) FailedRecipients() []string {
	var out []string
	for recipient, status := range e.RecipientStatus {
		if status.Failed() {
			out = append(out, recipient)
		}
	}
	sort.Strings(out)
	return out
}

// apiErrorBody is the JSON error shape hosts return on 4xx/5xx.
type apiErrorBody struct {
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}
