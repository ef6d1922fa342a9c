package setup

import (
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/configuration"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/raid"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/types"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/filesystem"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/fstab"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

// VolumeLabel is the fixed filesystem label. Persistence is keyed by it, not
// by device path, so device renumbering across reboots is tolerated.
const VolumeLabel = "azure-ephem"

// Orchestrator formats the planner's output device and repairs the
// persistent mount-table entry.
type Orchestrator struct {
	Executor exec.Executor
	Table    *fstab.Table
}

func NewOrchestrator(executor exec.Executor, table *fstab.Table) *Orchestrator {
	return &Orchestrator{Executor: executor, Table: table}
}

// FormatTarget resolves the actual device to format for a selection. For the
// resource disk the factory partition, not the raw disk, is the target.
// force is true only for resource disk media already validated as
// safe to erase; local disks are guaranteed pristine by the Safety Validator.
func FormatTarget(sel *raid.Selection, scratch *types.DiskCandidate) (device string, force bool) {
	if scratch == nil || sel.Device != scratch.Path {
		return sel.Device, false
	}
	if scratch.PartitionCount() == 1 {
		return scratch.Partitions[0].Path, true
	}
	return scratch.Path, true
}

// Format formats device with the configured filesystem kind.
func (o *Orchestrator) Format(cfg *configuration.Config, device string, force bool) error {
	fs, err := filesystem.New(cfg.FsType, o.Executor)
	if err != nil {
		return err
	}
	log.Infof("formatting %s as %s", device, fs.Name())
	if err := fs.Mkfs(device, VolumeLabel, force); err != nil {
		return &OperationError{Device: device, Err: err}
	}
	return nil
}

// Persist rewrites the persistent table: any prior tagged entry is removed,
// then a label-keyed entry is appended. An unwritable table downgrades to
// mount-only mode and is reported, not fatal.
func (o *Orchestrator) Persist(cfg *configuration.Config) (persisted bool) {
	entry := fstab.Entry{
		Source:     "LABEL=" + VolumeLabel,
		MountPoint: cfg.MountPoint,
		FsType:     cfg.FsType,
		Options:    "defaults,nofail," + fstab.OwnershipTag,
		Dump:       0,
		Pass:       2,
	}
	if err := o.Table.Replace(entry); err != nil {
		log.Warnf("persistent mount table is not writable, proceeding mount-only: %v", err)
		return false
	}
	log.Infof("persisted %s", entry.Line())
	return true
}
