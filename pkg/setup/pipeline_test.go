package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/configuration"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/catalog"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/partition"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/raid"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/types"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/fstab"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/mounttab"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/sysdunit"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
)

// harness assembles a pipeline whose every OS touchpoint is a fake: command
// execution, sysfs, the persistent table, the live mount table and the
// mounter.
type harness struct {
	pipeline   *Pipeline
	executor   *exec.FakeExecutor
	fstabPath  string
	mountPoint string
	sysfsNvme  string
	mounts     *mounttab.Snapshot
}

func pristineDiskPairs(device string) string {
	return fmt.Sprintf(`NAME="%s" FSTYPE="" LABEL="" MOUNTPOINT="" TYPE="disk" PKNAME=""`, device)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	h := &harness{
		executor:   &exec.FakeExecutor{},
		fstabPath:  filepath.Join(dir, "fstab"),
		mountPoint: filepath.Join(dir, "mnt"),
		sysfsNvme:  filepath.Join(dir, "sys", "class", "nvme"),
		mounts:     &mounttab.Snapshot{},
	}
	h.executor.Handler = func(command string, arg ...string) (string, error) {
		if command == "lsblk" {
			return pristineDiskPairs(arg[len(arg)-1]), nil
		}
		if command == "systemctl" && arg[0] == "is-active" {
			return "active", nil
		}
		return "", nil
	}

	cat := catalog.NewCatalog(h.executor)
	cat.SysfsNvme = h.sysfsNvme
	cat.ResourceLink = filepath.Join(dir, "azure", "resource")

	units := sysdunit.NewManager(h.executor)
	units.PollInterval = time.Millisecond

	mounter, _ := mounttab.NewFakeMounter()

	h.pipeline = &Pipeline{
		Config: &configuration.Config{
			Aggregation:              configuration.AggregationAuto,
			FsType:                   configuration.FsExt4,
			ChunkSize:                "512K",
			RaidName:                 "ephemeral",
			MountPoint:               h.mountPoint,
			ManageScsiResourceDisk:   false,
			UdevSettleTimeoutSeconds: 1,
			MountWaitTimeoutSeconds:  1,
		},
		Executor:   h.executor,
		Mounter:    mounter,
		Catalog:    cat,
		Table:      fstab.NewTable(h.fstabPath),
		Units:      units,
		Prober:     partition.NewProber(h.executor),
		Guard:      &ConflictGuard{WaagentConfPath: filepath.Join(dir, "waagent.conf")},
		Raid:       raid.NewManager(h.executor),
		LoadMounts: func() (*mounttab.Snapshot, error) { return h.mounts, nil },
	}
	h.pipeline.ValidatorFactory = func(mounts *mounttab.Snapshot) *Validator {
		return &Validator{
			Executor:      h.executor,
			Mounts:        mounts,
			IsBlockDevice: func(string) error { return nil },
			ProbeDir:      dir,
		}
	}
	return h
}

// addLocalNvme fakes one controller with one namespace in sysfs.
func (h *harness) addLocalNvme(t *testing.T, controller, namespace, model string) {
	t.Helper()
	dir := filepath.Join(h.sysfsNvme, controller)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, namespace), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model"), []byte(model+" \n"), 0644))
}

// addResourceDisk fakes the stable resource-disk symlink and returns the
// resolved device path.
func (h *harness) addResourceDisk(t *testing.T) string {
	t.Helper()
	link := h.pipeline.Catalog.ResourceLink
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0755))
	device := filepath.Join(filepath.Dir(link), "sdb")
	require.NoError(t, os.WriteFile(device, nil, 0644))
	require.NoError(t, os.Symlink(device, link))
	return device
}

func (h *harness) fstabContent(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(h.fstabPath)
	require.NoError(t, err)
	return string(data)
}

func TestPipelineAggregatesTwoLocalDisks(t *testing.T) {
	h := newHarness(t)
	h.addLocalNvme(t, "nvme0", "nvme0n1", types.NvmeDirectDiskModelV2)
	h.addLocalNvme(t, "nvme1", "nvme1n1", types.NvmeDirectDiskModelV2)

	outcome, err := h.pipeline.Run()
	require.NoError(t, err)
	assert.Equal(t,
		fmt.Sprintf("Mounted /dev/md/ephemeral_0 at %s with fs=ext4 chunk=512K count=2", h.mountPoint),
		outcome.Summary)

	assert.Contains(t, h.executor.Commands,
		"mdadm --create /dev/md/ephemeral_0 --run --level=0 --metadata=1.2 --bitmap=none --chunk=512K --raid-devices=2 /dev/nvme0n1 /dev/nvme1n1")
	assert.True(t, h.executor.CalledWith("udevadm settle"))
	assert.Contains(t, h.executor.Commands, "mkfs.ext4 -q -L "+VolumeLabel+" /dev/md/ephemeral_0")
	assert.Contains(t, h.fstabContent(t),
		fmt.Sprintf("LABEL=%s %s ext4 defaults,nofail,%s 0 2", VolumeLabel, h.mountPoint, fstab.OwnershipTag))
}

func TestPipelineSingleLocalDiskNoArray(t *testing.T) {
	h := newHarness(t)
	h.addLocalNvme(t, "nvme0", "nvme0n1", types.NvmeDirectDiskModel)

	outcome, err := h.pipeline.Run()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Mounted /dev/nvme0n1 at %s with fs=ext4", h.mountPoint), outcome.Summary)
	assert.False(t, h.executor.CalledWith("mdadm"))
	assert.Contains(t, h.executor.Commands, "mkfs.ext4 -q -L "+VolumeLabel+" /dev/nvme0n1")
}

func TestPipelineAggregationNoneUsesFirstDisk(t *testing.T) {
	h := newHarness(t)
	h.pipeline.Config.Aggregation = configuration.AggregationNone
	h.addLocalNvme(t, "nvme0", "nvme0n1", types.NvmeDirectDiskModelV2)
	h.addLocalNvme(t, "nvme1", "nvme1n1", types.NvmeDirectDiskModelV2)

	outcome, err := h.pipeline.Run()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Mounted /dev/nvme0n1 at %s with fs=ext4", h.mountPoint), outcome.Summary)
	assert.False(t, h.executor.CalledWith("mdadm"))
}

func TestPipelineMdadmRequiredButMissing(t *testing.T) {
	h := newHarness(t)
	h.pipeline.Config.Aggregation = configuration.AggregationMdadm
	h.executor.MissingBinaries = []string{"mdadm"}
	h.addLocalNvme(t, "nvme0", "nvme0n1", types.NvmeDirectDiskModelV2)
	h.addLocalNvme(t, "nvme1", "nvme1n1", types.NvmeDirectDiskModelV2)

	_, err := h.pipeline.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, raid.ErrMdadmMissing)
	assert.False(t, h.executor.CalledWith("mkfs"))
}

func TestPipelineAutoDowngradesWithoutMdadm(t *testing.T) {
	h := newHarness(t)
	h.executor.MissingBinaries = []string{"mdadm"}
	h.addLocalNvme(t, "nvme0", "nvme0n1", types.NvmeDirectDiskModelV2)
	h.addLocalNvme(t, "nvme1", "nvme1n1", types.NvmeDirectDiskModelV2)

	outcome, err := h.pipeline.Run()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Mounted /dev/nvme0n1 at %s with fs=ext4", h.mountPoint), outcome.Summary)
}

func TestPipelineNoDisksBenignExit(t *testing.T) {
	h := newHarness(t)

	outcome, err := h.pipeline.Run()
	require.NoError(t, err)
	assert.Equal(t, "No local NVMe disks detected, exiting without action", outcome.Summary)
	assert.False(t, h.executor.CalledWith("mkfs"))
	assert.False(t, h.executor.CalledWith("mdadm"))
}

func TestPipelineNoDisksAtAllBenignExit(t *testing.T) {
	h := newHarness(t)
	h.pipeline.Config.ManageScsiResourceDisk = true

	outcome, err := h.pipeline.Run()
	require.NoError(t, err)
	assert.Equal(t, "No local NVMe disks or SCSI resource disk detected, exiting without action", outcome.Summary)
}

func TestPipelineResourceDiskFactoryPartition(t *testing.T) {
	h := newHarness(t)
	h.pipeline.Config.ManageScsiResourceDisk = true
	device := h.addResourceDisk(t)
	part := device + "1"

	h.executor.Handler = func(command string, arg ...string) (string, error) {
		switch command {
		case "lsblk":
			return fmt.Sprintf(`NAME="%s" FSTYPE="" LABEL="" MOUNTPOINT="" TYPE="disk" PKNAME=""`+"\n"+
				`NAME="%s" FSTYPE="ntfs" LABEL="%s" MOUNTPOINT="" TYPE="part" PKNAME="%s"`,
				device, part, types.TemporaryStorageLabel, device), nil
		case "mount":
			// empty factory partition
			return "", nil
		}
		return "", nil
	}

	outcome, err := h.pipeline.Run()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Mounted %s at %s with fs=ext4", part, h.mountPoint), outcome.Summary)
	assert.Contains(t, h.executor.Commands, "mkfs.ext4 -q -L "+VolumeLabel+" -F "+part)
	assert.False(t, h.executor.CalledWith("mdadm"))
}

func TestPipelineResourceDiskRawReformatsWholeDevice(t *testing.T) {
	h := newHarness(t)
	h.pipeline.Config.ManageScsiResourceDisk = true
	device := h.addResourceDisk(t)

	outcome, err := h.pipeline.Run()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Mounted %s at %s with fs=ext4", device, h.mountPoint), outcome.Summary)
	assert.Contains(t, h.executor.Commands, "mkfs.ext4 -q -L "+VolumeLabel+" -F "+device)
	assert.True(t, h.executor.CalledWith("blockdev --rereadpt "+device))
}

func TestPipelineAlreadyMountedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.mountPoint, 0755))
	entry := fstab.Entry{
		Source:     "LABEL=" + VolumeLabel,
		MountPoint: h.mountPoint,
		FsType:     "ext4",
		Options:    "defaults,nofail," + fstab.OwnershipTag,
		Pass:       2,
	}
	require.NoError(t, os.WriteFile(h.fstabPath, []byte(entry.Line()+"\n"), 0644))
	h.mounts.Records = []mounttab.MountRecord{
		{Source: "/dev/nvme0n1", MountPoint: h.mountPoint, FsType: "ext4"},
	}

	outcome, err := h.pipeline.Run()
	require.NoError(t, err)
	assert.Equal(t,
		fmt.Sprintf("Ephemeral storage already mounted at %s, ready for use", h.mountPoint),
		outcome.Summary)
	assert.Empty(t, h.executor.Commands)
}

func TestPipelineRebootReconciliation(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.mountPoint, 0755))
	entry := fstab.Entry{
		Source:     "LABEL=" + VolumeLabel,
		MountPoint: h.mountPoint,
		FsType:     "ext4",
		Options:    "defaults,nofail," + fstab.OwnershipTag,
		Pass:       2,
	}
	require.NoError(t, os.WriteFile(h.fstabPath, []byte(entry.Line()+"\n"), 0644))

	outcome, err := h.pipeline.Run()
	require.NoError(t, err)
	assert.Equal(t,
		fmt.Sprintf("Mounted LABEL=%s at %s with fs=ext4", VolumeLabel, h.mountPoint),
		outcome.Summary)
	assert.True(t, h.executor.CalledWith("systemctl start --no-block"))
	assert.False(t, h.executor.CalledWith("mkfs"))
}

func TestPipelineCloudInitEntryHandsOff(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.mountPoint, 0755))
	line := fmt.Sprintf("%s %s auto defaults,nofail,x-systemd.requires=cloud-init.service,comment=cloudconfig 0 2\n",
		types.CloudInitResourcePartLink, h.mountPoint)
	require.NoError(t, os.WriteFile(h.fstabPath, []byte(line), 0644))

	outcome, err := h.pipeline.Run()
	require.NoError(t, err)
	assert.Equal(t,
		fmt.Sprintf("Resource disk at %s is managed by cloud-init, nothing to do", h.mountPoint),
		outcome.Summary)
	assert.Empty(t, h.executor.Commands)
}

func TestPipelineWaagentConflictBeatsEverything(t *testing.T) {
	h := newHarness(t)
	h.pipeline.Config.ManageScsiResourceDisk = true
	require.NoError(t, os.WriteFile(h.pipeline.Guard.WaagentConfPath, []byte("ResourceDisk.Format=y\n"), 0644))
	h.addLocalNvme(t, "nvme0", "nvme0n1", types.NvmeDirectDiskModelV2)

	_, err := h.pipeline.Run()
	require.Error(t, err)
	assert.IsType(t, &ConflictError{}, err)
	assert.Empty(t, h.executor.Commands)
}

func TestPipelineRefusesDataBearingLocalDisk(t *testing.T) {
	h := newHarness(t)
	h.addLocalNvme(t, "nvme0", "nvme0n1", types.NvmeDirectDiskModelV2)
	h.executor.Handler = func(command string, arg ...string) (string, error) {
		if command == "lsblk" {
			device := arg[len(arg)-1]
			return fmt.Sprintf(`NAME="%s" FSTYPE="ext4" LABEL="data" MOUNTPOINT="" TYPE="disk" PKNAME=""`, device), nil
		}
		return "", nil
	}

	_, err := h.pipeline.Run()
	require.Error(t, err)
	assert.IsType(t, &ValidationError{}, err)
	assert.False(t, h.executor.CalledWith("mkfs"))
	assert.False(t, h.executor.CalledWith("mdadm"))
}

func TestPipelineForeignMountAtUnconfiguredTarget(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.mountPoint, 0755))
	h.mounts.Records = []mounttab.MountRecord{
		{Source: "/dev/sdc1", MountPoint: h.mountPoint, FsType: "xfs"},
	}
	h.addLocalNvme(t, "nvme0", "nvme0n1", types.NvmeDirectDiskModelV2)

	_, err := h.pipeline.Run()
	require.Error(t, err)
	assert.IsType(t, &ConflictError{}, err)
	assert.False(t, h.executor.CalledWith("mkfs"))
	assert.False(t, h.executor.CalledWith("mdadm"))
}

func TestPipelineLabelFallbackWhenTableWasNeverWritable(t *testing.T) {
	h := newHarness(t)
	h.executor.Handler = func(command string, arg ...string) (string, error) {
		if command == "blkid" {
			for _, a := range arg {
				if a == "LABEL="+VolumeLabel {
					return "/dev/nvme0n1", nil
				}
			}
			return "ext4", nil
		}
		return "", nil
	}

	outcome, err := h.pipeline.Run()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Mounted /dev/nvme0n1 at %s", h.mountPoint), outcome.Summary)
	assert.False(t, h.executor.CalledWith("mkfs"))
}
