package filesystem

import (
	"fmt"

	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

const cmdMkfsXfs = "mkfs.xfs"

type xfs struct {
	executor exec.Executor
}

func init() {
	fsTypeMap["xfs"] = func(executor exec.Executor) Filesystem {
		return xfs{executor: executor}
	}
}

func (fs xfs) Name() string {
	return "xfs"
}

func (fs xfs) Mkfs(device, label string, force bool) error {
	args := []string{"-q", "-L", label}
	if force {
		args = append(args, "-f")
	}
	args = append(args, device)

	out, err := fs.executor.ExecuteCommandWithCombinedOutput(cmdMkfsXfs, args...)
	if err != nil {
		return fmt.Errorf("xfs: failed to format %s: %v: %s", device, err, out)
	}

	log.Infof("xfs: formatted device %s label=%s", device, label)
	return nil
}
