package drive_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/drive"
)

func TestEnsureDrive_Idempotent(t *testing.T) {
	_, c := newHostAndClient(t, "alice.example.com")
	ctx := context.Background()

	photosDrive := core.TargetDrive{
		Alias: "6f1e2d3c4b5a69788796a5b4c3d2e1f0",
		Type:  "00112233445566778899aabbccddeeff",
	}

	ok, err := drive.EnsureDrive(ctx, c, photosDrive, "photos", "", false)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second call finds the existing drive instead of creating a duplicate.
	ok, err = drive.EnsureDrive(ctx, c, photosDrive, "photos", "", false)
	require.NoError(t, err)
	assert.True(t, ok)

	byType, err := drive.GetDrivesByType(ctx, c, photosDrive.Type, 1, 100)
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "photos", byType[0].Name)
	assert.Equal(t, photosDrive, byType[0].TargetDriveInfo)
}

func TestGetDrives(t *testing.T) {
	_, c := newHostAndClient(t, "alice.example.com")
	ctx := context.Background()

	all, err := drive.GetDrives(ctx, c, 1, 100)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, notesDrive, all[0].TargetDriveInfo)

	byType, err := drive.GetDrivesByType(ctx, c, "no-such-type", 1, 100)
	require.NoError(t, err)
	assert.Empty(t, byType)
}
