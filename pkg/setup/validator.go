package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/devicemanager/types"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/mounttab"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

// Contents the platform leaves on a factory NTFS resource disk partition.
// Anything else means the partition carries data and must not be erased.
var allowedNtfsEntries = []string{
	"dataloss_warning_readme.txt",
	"system volume information",
}

// NTFS drivers tried for the read-only content probe, modern first.
var ntfsDrivers = []string{"ntfs3", "ntfs"}

// Validator guarantees no destructive operation runs against data-bearing
// media. Every check happens before the first mutation.
type Validator struct {
	Executor exec.Executor
	Mounts   *mounttab.Snapshot
	// IsBlockDevice is swappable so the machine is testable without device
	// nodes.
	IsBlockDevice func(path string) error
	// ProbeDir is where the read-only NTFS inspection mount lands.
	ProbeDir string
}

func NewValidator(executor exec.Executor, mounts *mounttab.Snapshot) *Validator {
	return &Validator{
		Executor:      executor,
		Mounts:        mounts,
		IsBlockDevice: isBlockDevice,
		ProbeDir:      os.TempDir(),
	}
}

// Validate checks every candidate and fails hard on the first violation.
func (v *Validator) Validate(candidates []*types.DiskCandidate) error {
	for _, candidate := range candidates {
		if err := v.validateOne(candidate); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateOne(d *types.DiskCandidate) error {
	if err := v.IsBlockDevice(d.Path); err != nil {
		return validationErrorf("%s is not a block device: %v", d.Path, err)
	}

	if d.MountPoint != "" {
		return validationErrorf("%s is already mounted at %s", d.Path, d.MountPoint)
	}
	for _, p := range d.Partitions {
		if p.MountPoint != "" {
			return validationErrorf("partition %s of %s is already mounted at %s", p.Path, d.Path, p.MountPoint)
		}
	}
	// catch mounts through another name of the same device
	if records := v.Mounts.ByDevice(d.Path); len(records) > 0 {
		return validationErrorf("%s is already mounted at %s", d.Path, records[0].MountPoint)
	}

	if d.Bus == types.BusScsiResource {
		return v.validateResourceDisk(d)
	}

	if n := d.PartitionCount(); n != 0 {
		return validationErrorf("local disk %s carries %d partition(s), refusing to touch it", d.Path, n)
	}
	if d.Filesystem != "" {
		return validationErrorf("local disk %s already carries a %s filesystem", d.Path, d.Filesystem)
	}
	return nil
}

// validateResourceDisk allows exactly one factory NTFS partition labeled
// "Temporary Storage" whose contents are the documented warning file and the
// OS metadata folder, or no partitions at all.
func (v *Validator) validateResourceDisk(d *types.DiskCandidate) error {
	switch d.PartitionCount() {
	case 0:
		if d.Filesystem != "" {
			return validationErrorf("resource disk %s already carries a %s filesystem", d.Path, d.Filesystem)
		}
		return nil
	case 1:
	default:
		return validationErrorf("resource disk %s carries %d partitions, expected at most 1", d.Path, d.PartitionCount())
	}

	p := d.Partitions[0]
	if !strings.HasPrefix(p.Filesystem, "ntfs") {
		return validationErrorf("resource disk partition %s carries a %s filesystem, expected NTFS", p.Path, p.Filesystem)
	}
	if p.Label != types.TemporaryStorageLabel {
		return validationErrorf("resource disk partition %s is labeled %q, expected %q", p.Path, p.Label, types.TemporaryStorageLabel)
	}
	return v.verifyNtfsEmpty(p.Path)
}

// verifyNtfsEmpty mounts the partition read-only and checks its contents.
// When no NTFS driver is available the partition is assumed empty; this is a
// deliberate, logged trade-off rather than a guess about content.
func (v *Validator) verifyNtfsEmpty(device string) error {
	dir, err := os.MkdirTemp(v.ProbeDir, "ntfs-probe-")
	if err != nil {
		return fmt.Errorf("failed to create probe directory: %v", err)
	}
	defer os.RemoveAll(dir)

	mounted := false
	for _, driver := range ntfsDrivers {
		out, err := v.Executor.ExecuteCommandWithCombinedOutput("mount", "-t", driver, "-o", "ro", device, dir)
		if err == nil {
			mounted = true
			break
		}
		if strings.Contains(out, "unknown filesystem type") {
			log.Debugf("NTFS driver %s unavailable for %s", driver, device)
			continue
		}
		return validationErrorf("failed to inspect resource disk partition %s: %v: %s", device, err, out)
	}

	if !mounted {
		log.Warnf("no NTFS driver available to inspect %s, assuming the factory partition is empty", device)
		return nil
	}
	defer func() {
		if _, err := v.Executor.ExecuteCommandWithCombinedOutput("umount", dir); err != nil {
			log.Warnf("failed to unmount probe of %s: %v", device, err)
		}
	}()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %v", dir, err)
	}
	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		allowed := false
		for _, a := range allowedNtfsEntries {
			if name == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return validationErrorf("resource disk partition %s is not empty: unexpected entry %q", device, entry.Name())
		}
	}
	return nil
}

func isBlockDevice(path string) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return err
	}
	var st unix.Stat_t
	if err := unix.Stat(resolved, &st); err != nil {
		return err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return fmt.Errorf("%s has mode %o", resolved, st.Mode)
	}
	return nil
}
