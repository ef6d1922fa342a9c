package setup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/configuration"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/raid"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/types"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/fstab"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
)

func TestFormatTargetLocalSingle(t *testing.T) {
	sel := &raid.Selection{Device: "/dev/nvme0n1", Members: []string{"/dev/nvme0n1"}}
	device, force := FormatTarget(sel, nil)
	assert.Equal(t, "/dev/nvme0n1", device)
	assert.False(t, force)
}

func TestFormatTargetArray(t *testing.T) {
	sel := &raid.Selection{Device: "/dev/md/ephemeral_0", Members: []string{"/dev/nvme0n1", "/dev/nvme1n1"}}
	device, force := FormatTarget(sel, nil)
	assert.Equal(t, "/dev/md/ephemeral_0", device)
	assert.False(t, force)
}

func TestFormatTargetResourceDiskFactoryPartition(t *testing.T) {
	scratch := &types.DiskCandidate{
		Path:       "/dev/sdb",
		Bus:        types.BusScsiResource,
		Partitions: []types.PartitionInfo{{Path: "/dev/sdb1", Filesystem: "ntfs"}},
	}
	sel := &raid.Selection{Device: "/dev/sdb", Members: []string{"/dev/sdb"}}

	device, force := FormatTarget(sel, scratch)
	assert.Equal(t, "/dev/sdb1", device)
	assert.True(t, force)
}

func TestFormatTargetResourceDiskRaw(t *testing.T) {
	scratch := &types.DiskCandidate{Path: "/dev/sdb", Bus: types.BusScsiResource}
	sel := &raid.Selection{Device: "/dev/sdb", Members: []string{"/dev/sdb"}}

	device, force := FormatTarget(sel, scratch)
	assert.Equal(t, "/dev/sdb", device)
	assert.True(t, force)
}

func TestFormatRunsMkfs(t *testing.T) {
	executor := &exec.FakeExecutor{}
	o := NewOrchestrator(executor, fstab.NewTable(filepath.Join(t.TempDir(), "fstab")))
	cfg := &configuration.Config{FsType: configuration.FsExt4}

	require.NoError(t, o.Format(cfg, "/dev/nvme0n1", false))
	assert.Equal(t, []string{"mkfs.ext4 -q -L " + VolumeLabel + " /dev/nvme0n1"}, executor.Commands)
}

func TestFormatForcesOnlyWhenAsked(t *testing.T) {
	executor := &exec.FakeExecutor{}
	o := NewOrchestrator(executor, fstab.NewTable(filepath.Join(t.TempDir(), "fstab")))
	cfg := &configuration.Config{FsType: configuration.FsXfs}

	require.NoError(t, o.Format(cfg, "/dev/sdb1", true))
	assert.Equal(t, []string{"mkfs.xfs -q -L " + VolumeLabel + " -f /dev/sdb1"}, executor.Commands)
}

func TestPersistReplacesTaggedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fstab")
	existing := "UUID=root / ext4 defaults 0 1\n" +
		"LABEL=" + VolumeLabel + " /mnt ext4 defaults,nofail," + fstab.OwnershipTag + " 0 2\n"
	require.NoError(t, os.WriteFile(path, []byte(existing), 0644))

	o := NewOrchestrator(&exec.FakeExecutor{}, fstab.NewTable(path))
	cfg := &configuration.Config{FsType: configuration.FsXfs, MountPoint: "/mnt/scratch"}

	assert.True(t, o.Persist(cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "UUID=root / ext4 defaults 0 1")
	assert.Equal(t, 1, strings.Count(content, fstab.OwnershipTag))
	assert.Contains(t, content, "LABEL="+VolumeLabel+" /mnt/scratch xfs defaults,nofail,"+fstab.OwnershipTag+" 0 2")
}

func TestPersistUnwritableTableDowngrades(t *testing.T) {
	// a directory path cannot be written as a file
	o := NewOrchestrator(&exec.FakeExecutor{}, fstab.NewTable(t.TempDir()))
	cfg := &configuration.Config{FsType: configuration.FsExt4, MountPoint: "/mnt"}

	assert.False(t, o.Persist(cfg))
}
