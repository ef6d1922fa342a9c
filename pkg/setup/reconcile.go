package setup

import (
	"os"
	"time"

	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/configuration"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/filesystem"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/mounttab"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/sysdunit"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

// Reconciler brings the target mount point to "mounted" state.
type Reconciler struct {
	Executor exec.Executor
	Mounter  *mounttab.Mounter
	Units    *sysdunit.Manager
	Mounts   *mounttab.Snapshot
}

func NewReconciler(executor exec.Executor, mounter *mounttab.Mounter, units *sysdunit.Manager, mounts *mounttab.Snapshot) *Reconciler {
	return &Reconciler{Executor: executor, Mounter: mounter, Units: units, Mounts: mounts}
}

// MountFresh mounts a newly formatted device directly; used right after
// formatting where no unit state exists yet.
func (r *Reconciler) MountFresh(device, mountPoint, fstype string) error {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return &OperationError{Device: device, Err: err}
	}
	if err := r.Mounter.MountDevice(device, mountPoint, fstype); err != nil {
		return &OperationError{Device: device, Err: err}
	}
	return nil
}

// Reconcile is the post-reboot path: the persistent entry exists but the
// target is not mounted. The managed unit is started and polled; on timeout
// or failure a direct mount by path causes the process manager to catch up.
func (r *Reconciler) Reconcile(cfg *configuration.Config) error {
	unitName := sysdunit.UnitForPath(cfg.MountPoint)
	timeout := time.Duration(cfg.MountWaitTimeoutSeconds) * time.Second

	if err := r.Units.Start(unitName); err != nil {
		log.Warnf("managed unit start failed, falling back to direct mount: %v", err)
		return r.mountByPath(cfg.MountPoint)
	}
	if err := r.Units.WaitActive(unitName, timeout); err != nil {
		log.Warnf("managed unit did not activate, falling back to direct mount: %v", err)
		return r.mountByPath(cfg.MountPoint)
	}
	log.Infof("managed unit %s is active", unitName)
	return nil
}

// mountByPath mounts by fstab lookup; the process manager picks the mount up.
func (r *Reconciler) mountByPath(mountPoint string) error {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return &OperationError{Device: mountPoint, Err: err}
	}
	out, err := r.Executor.ExecuteCommandWithCombinedOutput("mount", mountPoint)
	if err != nil {
		return &OperationError{Device: mountPoint, Err: errorWithOutput(err, out)}
	}
	log.Infof("mounted %s via direct mount call", mountPoint)
	return nil
}

// MountByLabel is the discovery-free fallback for runs where the table was
// never writable: a filesystem carrying the ownership label is searched for
// on the live block devices.
//
// Returns the mounted device path, or "" when no labeled filesystem exists
// and the target is free. A labeled filesystem mounted somewhere other than
// the target, or a foreign filesystem live-mounted at the target, is a hard
// failure: another process owns storage this tool would otherwise shadow.
func (r *Reconciler) MountByLabel(cfg *configuration.Config) (string, error) {
	device, err := filesystem.FindDeviceByLabel(r.Executor, VolumeLabel)
	if err != nil {
		return "", err
	}
	if device == "" {
		if err := r.targetFree(cfg.MountPoint); err != nil {
			return "", err
		}
		return "", nil
	}

	for _, record := range r.Mounts.ByDevice(device) {
		if record.MountPoint == cfg.MountPoint {
			return device, nil
		}
		return "", conflictErrorf("filesystem labeled %s on %s is already mounted at %s, expected %s",
			VolumeLabel, device, record.MountPoint, cfg.MountPoint)
	}

	// the labeled device is unmounted; the target must be free before it
	// can be mounted there
	if err := r.targetFree(cfg.MountPoint); err != nil {
		return "", err
	}

	fstype, err := filesystem.DetectFilesystem(r.Executor, device)
	if err != nil {
		return "", err
	}
	if err := r.MountFresh(device, cfg.MountPoint, fstype); err != nil {
		return "", err
	}
	log.Warnf("mounted %s at %s without a persistent entry; persistence was not established", device, cfg.MountPoint)
	return device, nil
}

// targetFree fails when a filesystem this tool does not own is live-mounted
// at the target path without any persistent entry gating it.
func (r *Reconciler) targetFree(mountPoint string) error {
	record := r.Mounts.AtPath(mountPoint)
	if record == nil {
		return nil
	}
	return conflictErrorf("%s is already mounted at %s (fstype=%s) but is not managed by this tool",
		record.Source, mountPoint, record.FsType)
}

func errorWithOutput(err error, out string) error {
	if out == "" {
		return err
	}
	return &outputError{err: err, out: out}
}

type outputError struct {
	err error
	out string
}

func (e *outputError) Error() string {
	return e.err.Error() + ": " + e.out
}

func (e *outputError) Unwrap() error {
	return e.err
}
