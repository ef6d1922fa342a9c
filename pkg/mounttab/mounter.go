package mounttab

import (
	"fmt"

	"k8s.io/mount-utils"

	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

// Mounter is the mount/unmount primitive. All other mount-state queries go
// through Snapshot; this type only mutates.
type Mounter struct {
	mount.Interface
}

func NewMounter() *Mounter {
	return &Mounter{Interface: mount.New("")}
}

func NewFakeMounter() (*Mounter, *mount.FakeMounter) {
	fake := &mount.FakeMounter{}
	return &Mounter{Interface: fake}, fake
}

// MountDevice mounts device at target with the given filesystem type.
func (m *Mounter) MountDevice(device, target, fstype string) error {
	if err := m.Mount(device, target, fstype, []string{"defaults"}); err != nil {
		return fmt.Errorf("failed to mount %s at %s: %v", device, target, err)
	}
	log.Infof("mounted %s at %s", device, target)
	return nil
}
