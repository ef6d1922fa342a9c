package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/types"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/fstab"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/mounttab"
)

func ownedEntry(mountPoint string) fstab.Entry {
	return fstab.Entry{
		Source:     "LABEL=" + VolumeLabel,
		MountPoint: mountPoint,
		FsType:     "ext4",
		Options:    "defaults,nofail," + fstab.OwnershipTag,
		Pass:       2,
	}
}

func TestInspectUnconfigured(t *testing.T) {
	inspection, err := InspectTarget("/mnt", false, nil, &mounttab.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, TargetUnconfigured, inspection.State)
}

func TestInspectNotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnt")
	require.NoError(t, os.WriteFile(path, []byte("file"), 0644))

	_, err := InspectTarget(path, false, nil, &mounttab.Snapshot{})
	require.Error(t, err)
	assert.IsType(t, &ValidationError{}, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestInspectSymlinkToNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	link := filepath.Join(dir, "mnt")
	require.NoError(t, os.Symlink(file, link))

	_, err := InspectTarget(link, false, nil, &mounttab.Snapshot{})
	assert.Error(t, err)
}

func TestInspectOwnedAndMounted(t *testing.T) {
	entries := []fstab.Entry{ownedEntry("/mnt")}
	mounts := &mounttab.Snapshot{Records: []mounttab.MountRecord{
		{Source: "/dev/nvme0n1", MountPoint: "/mnt", FsType: "ext4"},
	}}

	inspection, err := InspectTarget("/mnt", false, entries, mounts)
	require.NoError(t, err)
	assert.Equal(t, TargetOwnedMounted, inspection.State)
}

func TestInspectOwnedNotMounted(t *testing.T) {
	entries := []fstab.Entry{ownedEntry("/mnt")}

	inspection, err := InspectTarget("/mnt", false, entries, &mounttab.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, TargetOwnedUnmounted, inspection.State)
	require.NotNil(t, inspection.Entry)
	assert.Equal(t, "LABEL="+VolumeLabel, inspection.Entry.Source)
}

func TestInspectForeignCloudInitHandsOff(t *testing.T) {
	entries := []fstab.Entry{{
		Source:     types.CloudInitResourcePartLink,
		MountPoint: "/mnt",
		FsType:     "auto",
		Options:    "defaults,nofail,x-systemd.requires=cloud-init.service",
	}}

	inspection, err := InspectTarget("/mnt", false, entries, &mounttab.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, TargetForeignCloudInit, inspection.State)
}

func TestInspectForeignCloudInitConflictsWhenManaging(t *testing.T) {
	entries := []fstab.Entry{{
		Source:     types.CloudInitResourceLink,
		MountPoint: "/mnt",
		FsType:     "auto",
		Options:    "defaults",
	}}

	_, err := InspectTarget("/mnt", true, entries, &mounttab.Snapshot{})
	require.Error(t, err)
	assert.IsType(t, &ConflictError{}, err)
}

func TestInspectForeignUnknownAlwaysConflicts(t *testing.T) {
	entries := []fstab.Entry{{
		Source:     "/dev/sdc1",
		MountPoint: "/mnt",
		FsType:     "xfs",
		Options:    "noatime",
	}}

	for _, manage := range []bool{false, true} {
		_, err := InspectTarget("/mnt", manage, entries, &mounttab.Snapshot{})
		require.Error(t, err)
		assert.IsType(t, &ConflictError{}, err)
		assert.Contains(t, err.Error(), "/dev/sdc1")
		assert.Contains(t, err.Error(), "xfs")
		assert.Contains(t, err.Error(), "noatime")
	}
}
