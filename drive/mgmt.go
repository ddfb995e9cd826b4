package drive

import (
	"context"
	"net/url"
	"strconv"

	"github.com/identhost/drivesync/core"
)

// DriveDefinition describes one provisioned drive on an identity.
type DriveDefinition struct {
	Name                string           `json:"name"`
	TargetDriveInfo     core.TargetDrive `json:"targetDriveInfo"`
	Metadata            string           `json:"metadata,omitempty"`
	AllowAnonymousReads bool             `json:"allowAnonymousReads"`
}

type pagedDrives struct {
	Results []DriveDefinition `json:"results"`
}

// GetDrives lists the identity's drives, paged.
func GetDrives(ctx context.Context, c *core.Client, pageNumber, pageSize int) ([]DriveDefinition, error) {
	if pageNumber <= 0 {
		pageNumber = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	query := url.Values{}
	query.Set("pageNumber", strconv.Itoa(pageNumber))
	query.Set("pageSize", strconv.Itoa(pageSize))

	var page pagedDrives
	if err := c.GetJSON(ctx, "/drive/mgmt", query, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// GetDrivesByType lists the identity's drives of one type.
func GetDrivesByType(ctx context.Context, c *core.Client, driveType string, pageNumber, pageSize int) ([]DriveDefinition, error) {
	if pageNumber <= 0 {
		pageNumber = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	query := url.Values{}
	query.Set("driveType", driveType)
	query.Set("pageNumber", strconv.Itoa(pageNumber))
	query.Set("pageSize", strconv.Itoa(pageSize))

	var page pagedDrives
	if err := c.GetJSON(ctx, "/drive/metadata/type", query, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

type createDriveRequest struct {
	Name                string           `json:"name"`
	TargetDrive         core.TargetDrive `json:"targetDrive"`
	Metadata            string           `json:"metadata,omitempty"`
	AllowAnonymousReads bool             `json:"allowAnonymousReads"`
}

// EnsureDrive provisions a drive if it does not already exist. Idempotent:
// an existing drive with the same alias and type is left untouched.
func EnsureDrive(ctx context.Context, c *core.Client, drive core.TargetDrive, name, metadata string, allowAnonymousReads bool) (bool, error) {
	existing, err := GetDrivesByType(ctx, c, drive.Type, 1, 1000)
	if err != nil {
		return false, err
	}
	for _, d := range existing {
		if d.TargetDriveInfo == drive {
			return true, nil
		}
	}

	req := createDriveRequest{
		Name:                name,
		TargetDrive:         drive,
		Metadata:            metadata,
		AllowAnonymousReads: allowAnonymousReads,
	}
	if err := c.PostJSON(ctx, "/drive/mgmt/create", req, nil); err != nil {
		return false, err
	}
	return true, nil
}
