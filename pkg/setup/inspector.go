package setup

import (
	"os"

	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/types"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/fstab"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/mounttab"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

// TargetState classifies the mount point before any disk is touched.
type TargetState int

const (
	// TargetUnconfigured has no persistent entry; proceed to discovery.
	TargetUnconfigured TargetState = iota
	// TargetOwnedMounted is our entry, live-mounted; nothing to do.
	TargetOwnedMounted
	// TargetOwnedUnmounted is our entry, not mounted; the post-reboot path.
	TargetOwnedUnmounted
	// TargetForeignCloudInit is cloud-init's entry with resource disk
	// management disabled; the foreign owner is responsible.
	TargetForeignCloudInit
)

// Inspection is the Mount-Target Inspector's verdict.
type Inspection struct {
	State TargetState
	// Entry is the persistent-table entry driving the verdict, if any.
	Entry *fstab.Entry
}

var cloudInitResourceSources = []string{
	types.CloudInitResourceLink,
	types.CloudInitResourcePartLink,
}

// InspectTarget evaluates the state machine over the target mount point.
func InspectTarget(mountPoint string, manageResourceDisk bool, entries []fstab.Entry, mounts *mounttab.Snapshot) (*Inspection, error) {
	info, err := os.Stat(mountPoint)
	if err == nil && !info.IsDir() {
		return nil, validationErrorf("mount point %s exists but is not a directory", mountPoint)
	}

	entry := fstab.FindByMountPoint(entries, mountPoint)
	if entry == nil {
		return &Inspection{State: TargetUnconfigured}, nil
	}

	if entry.Tagged() {
		if mounts.AtPath(mountPoint) != nil {
			return &Inspection{State: TargetOwnedMounted, Entry: entry}, nil
		}
		log.Infof("persistent entry for %s exists but is not mounted, reconciling", mountPoint)
		return &Inspection{State: TargetOwnedUnmounted, Entry: entry}, nil
	}

	if utils.ContainsString(cloudInitResourceSources, entry.Source) {
		if manageResourceDisk {
			return nil, conflictErrorf(
				"persistent entry for %s is owned by cloud-init (%s) while MANAGE_SCSI_RESOURCE_DISK=true; refusing to override stale configuration",
				mountPoint, entry.Source)
		}
		log.Infof("persistent entry for %s is owned by cloud-init, nothing to do", mountPoint)
		return &Inspection{State: TargetForeignCloudInit, Entry: entry}, nil
	}

	return nil, conflictErrorf(
		"persistent entry for %s is owned by another tool: source=%s fstype=%s options=%s",
		mountPoint, entry.Source, entry.FsType, entry.Options)
}
