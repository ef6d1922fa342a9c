package filesystem

import (
	"fmt"

	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/exec"
	"github.com/azure-vm-tools/ephemeral-disk-setup/utils/log"
)

const cmdMkfsExt4 = "mkfs.ext4"

type ext4 struct {
	executor exec.Executor
}

func init() {
	fsTypeMap["ext4"] = func(executor exec.Executor) Filesystem {
		return ext4{executor: executor}
	}
}

func (fs ext4) Name() string {
	return "ext4"
}

func (fs ext4) Mkfs(device, label string, force bool) error {
	args := []string{"-q", "-L", label}
	if force {
		args = append(args, "-F")
	}
	args = append(args, device)

	out, err := fs.executor.ExecuteCommandWithCombinedOutput(cmdMkfsExt4, args...)
	if err != nil {
		return fmt.Errorf("ext4: failed to format %s: %v: %s", device, err, out)
	}

	log.Infof("ext4: formatted device %s label=%s", device, label)
	return nil
}
